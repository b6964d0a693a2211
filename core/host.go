package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"escrowauction/core/events"
	"escrowauction/core/state"
	"escrowauction/native/auction"
	"escrowauction/native/ledger"
	"escrowauction/native/oracle"
	"escrowauction/native/pricing"
	"escrowauction/observability"
)

var (
	// ErrUnauthorized is returned when a caller lacks the admin role for a
	// ledger administration command.
	ErrUnauthorized = errors.New("host: caller not permitted")
	// ErrUnknownPricing is returned for an unsupported pricing mode.
	ErrUnknownPricing = errors.New("host: unknown pricing mode")
	// ErrEscrowSender is returned when a send names an auction escrow as the
	// payer. Escrowed funds leave only through auction dispatch.
	ErrEscrowSender = errors.New("host: auction escrow cannot send")
)

// Pricing modes accepted by CreateAuction.
const (
	PricingScore = "score"
	PricingFixed = "fixed"
)

// Config wires the host collaborators. Zero values fall back to in-process
// defaults.
type Config struct {
	// CodeHash is the code hash auctions register with their token endpoints.
	CodeHash string
	// OracleOwner may add credit histories.
	OracleOwner [20]byte
	// Admin may register tokens and mint. A zero admin disables the check.
	Admin   [20]byte
	Journal *ledger.Journal
	Hub     *events.Hub
	Logger  *slog.Logger
	Now     func() time.Time
}

// Host binds the auction, ledger and oracle engines to persistent state. Every
// command runs against a single state transaction under the host lock, so a
// command and the transfers it produces commit together or not at all.
type Host struct {
	mu sync.Mutex

	state    *state.Manager
	auctions *auction.Engine
	ledger   *ledger.Engine
	oracle   *oracle.Engine

	admin   [20]byte
	journal *ledger.Journal
	hub     *events.Hub
	logger  *slog.Logger
	metrics *observability.AuctionMetrics
	nowFn   func() time.Time
}

// NewHost constructs a host over the provided state manager.
func NewHost(mgr *state.Manager, cfg Config) (*Host, error) {
	if mgr == nil {
		return nil, fmt.Errorf("host: state manager required")
	}
	h := &Host{
		state:    mgr,
		auctions: auction.NewEngine(),
		ledger:   ledger.NewEngine(),
		oracle:   oracle.NewEngine(cfg.OracleOwner),
		admin:    cfg.Admin,
		journal:  cfg.Journal,
		hub:      cfg.Hub,
		logger:   cfg.Logger,
		metrics:  observability.Auction(),
		nowFn:    cfg.Now,
	}
	if h.hub == nil {
		h.hub = events.NewHub()
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.nowFn == nil {
		h.nowFn = time.Now
	}
	h.auctions.SetCodeHash(cfg.CodeHash)
	h.auctions.SetNowFunc(func() int64 { return h.nowFn().Unix() })
	return h, nil
}

// Hub exposes the committed event stream.
func (h *Host) Hub() *events.Hub { return h.hub }

// Journal exposes the transfer journal. It may be nil.
func (h *Host) Journal() *ledger.Journal { return h.journal }

type requestIDKey struct{}

// ContextWithRequestID tags ctx with the transport request identifier so
// journal entries and logs can be correlated.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the request identifier stored in ctx.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// txLog accumulates what a command produced for post-commit bookkeeping.
type txLog struct {
	outcome string
	entries []ledger.Entry
	symbols []string
}

func (h *Host) bind(tx *state.Tx, emitter events.Emitter) {
	h.auctions.SetState(tx)
	h.ledger.SetState(tx)
	h.oracle.SetState(tx)
	h.auctions.SetEmitter(emitter)
	h.ledger.SetEmitter(emitter)
	h.oracle.SetEmitter(emitter)
}

func (h *Host) unbind() {
	h.auctions.SetState(nil)
	h.ledger.SetState(nil)
	h.oracle.SetState(nil)
	h.auctions.SetEmitter(nil)
	h.ledger.SetEmitter(nil)
	h.oracle.SetEmitter(nil)
}

// run executes fn inside a write transaction. The transaction commits only
// when fn succeeds; buffered events are published after the commit.
func (h *Host) run(ctx context.Context, op string, fn func(tx *state.Tx, log *txLog) error) error {
	start := time.Now()
	h.mu.Lock()
	defer h.mu.Unlock()

	tx := h.state.Begin()
	buf := &events.Buffer{}
	h.bind(tx, buf)
	defer h.unbind()

	log := &txLog{outcome: string(auction.StatusSuccess)}
	if err := fn(tx, log); err != nil {
		tx.Discard()
		h.metrics.RecordOperation(op, "error", time.Since(start))
		h.logger.Debug("command rejected", slog.String("operation", op), slog.String("error", err.Error()),
			slog.String("request_id", RequestIDFromContext(ctx)))
		return err
	}
	if err := tx.Commit(); err != nil {
		h.metrics.RecordOperation(op, "error", time.Since(start))
		return fmt.Errorf("commit %s: %w", op, err)
	}

	published := buf.Drain()
	h.hub.Publish(published...)
	for _, evt := range published {
		observability.Events().RecordEvent(evt.EventType())
	}
	for _, symbol := range log.symbols {
		h.metrics.RecordTransfer(symbol)
	}
	h.metrics.SetSubscribers(h.hub.Subscribers())
	h.metrics.RecordOperation(op, log.outcome, time.Since(start))

	if h.journal != nil && len(log.entries) > 0 {
		requestID := RequestIDFromContext(ctx)
		for i := range log.entries {
			log.entries[i].RequestID = requestID
		}
		if err := h.journal.Record(ctx, log.entries); err != nil {
			h.logger.Error("journal write failed", slog.String("operation", op), slog.String("error", err.Error()))
		}
	}
	return nil
}

// view runs fn against a read-only snapshot of the committed state.
func (h *Host) view(fn func(tx *state.Tx) error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	tx := h.state.View()
	defer tx.Discard()
	h.bind(tx, nil)
	defer h.unbind()
	return fn(tx)
}

func hex(addr [20]byte) string { return common.Address(addr).Hex() }

// dispatch executes outbound transfers paid from the auction escrow and
// records them in log.
func (h *Host) dispatch(escrow [20]byte, transfers []auction.Transfer, log *txLog) error {
	for _, tr := range transfers {
		if err := h.ledger.Dispatch(escrow, tr); err != nil {
			return fmt.Errorf("dispatch transfer to %s: %w", hex(tr.Recipient), err)
		}
		symbol := ""
		if info, err := h.ledger.TokenInfo(tr.Endpoint.Address); err == nil {
			symbol = info.Symbol
		}
		log.symbols = append(log.symbols, symbol)
		log.entries = append(log.entries, ledger.Entry{
			Kind:    ledger.EntryTransfer,
			Auction: hex(escrow),
			Token:   hex(tr.Endpoint.Address),
			From:    hex(escrow),
			To:      hex(tr.Recipient),
			Amount:  tr.Amount.String(),
		})
	}
	return nil
}

// PricingRequest selects and parameterises the pricing oracle consulted at
// creation.
type PricingRequest struct {
	Mode string
	// Payment and Expected drive the credit-score quote.
	Payment  *big.Int
	Expected *big.Int
	// Credits is the explicit request priced by the fixed quote.
	Credits []oracle.Credit
}

func (h *Host) quoter(req PricingRequest) (auction.PricingOracle, error) {
	switch strings.ToLower(strings.TrimSpace(req.Mode)) {
	case "", PricingScore:
		return &pricing.ScoreQuoter{Histories: h.oracle, Payment: req.Payment, Expected: req.Expected}, nil
	case PricingFixed:
		return &pricing.FixedQuoter{Credits: req.Credits}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPricing, req.Mode)
	}
}

// CreateRequest describes a new auction.
type CreateRequest struct {
	Seller      [20]byte
	SaleToken   [20]byte
	BidToken    [20]byte
	Pricing     PricingRequest
	Description string
	Direction   auction.Direction
	Ceiling     *auction.CeilingRule
	ZeroBid     auction.ZeroBidPolicy
	// Nonce defaults to the number of auctions already created.
	Nonce *uint64
}

// CreateAuction prices, persists and registers a new auction with both token
// endpoints.
func (h *Host) CreateAuction(ctx context.Context, req CreateRequest) (*auction.State, error) {
	var created *auction.State
	err := h.run(ctx, "create", func(tx *state.Tx, log *txLog) error {
		sale, err := h.tokenRef(tx, req.SaleToken)
		if err != nil {
			return err
		}
		bid, err := h.tokenRef(tx, req.BidToken)
		if err != nil {
			return err
		}
		quoter, err := h.quoter(req.Pricing)
		if err != nil {
			return err
		}
		var nonce uint64
		if req.Nonce != nil {
			nonce = *req.Nonce
		} else {
			index, err := tx.AuctionList()
			if err != nil {
				return err
			}
			nonce = uint64(len(index))
		}
		st, regs, err := h.auctions.Create(auction.CreateParams{
			Seller:       req.Seller,
			SaleContract: sale,
			BidContract:  bid,
			Pricing:      quoter,
			Description:  req.Description,
			Direction:    req.Direction,
			Ceiling:      req.Ceiling,
			ZeroBid:      req.ZeroBid,
			Nonce:        nonce,
		})
		if err != nil {
			return err
		}
		for _, reg := range regs {
			if err := h.ledger.ApplyRegistration(st.Address, reg); err != nil {
				return fmt.Errorf("register receive: %w", err)
			}
		}
		created = st
		return nil
	})
	if err != nil {
		return nil, err
	}
	h.logger.Info("auction created",
		slog.String("auction", hex(created.Address)),
		slog.String("seller", hex(created.Seller)),
		slog.String("required", created.RequiredAmount.String()),
		slog.String("request_id", RequestIDFromContext(ctx)))
	return created, nil
}

func (h *Host) tokenRef(tx *state.Tx, addr [20]byte) (auction.ContractRef, error) {
	tok, ok, err := tx.LedgerTokenGet(addr)
	if err != nil {
		return auction.ContractRef{}, err
	}
	if !ok {
		return auction.ContractRef{}, fmt.Errorf("%w: %s", ledger.ErrTokenNotFound, hex(addr))
	}
	return tok.Ref(), nil
}

// SendResult reports a ledger send and, when the recipient is an auction, the
// auction's answer to the deposit.
type SendResult struct {
	Deposit *ledger.Deposit
	Outcome *auction.Outcome
}

// Send moves amount of token from sender to recipient. Deposits into an
// auction are delivered to it in the same transaction and any transfers it
// answers with are dispatched before the commit. A hard rejection by the
// auction undoes the send.
func (h *Host) Send(ctx context.Context, token, from, to [20]byte, amount *big.Int) (*SendResult, error) {
	result := &SendResult{}
	err := h.run(ctx, "deposit", func(tx *state.Tx, log *txLog) error {
		if _, escrow, err := tx.AuctionGet(from); err != nil {
			return err
		} else if escrow {
			return fmt.Errorf("%w: %s", ErrEscrowSender, hex(from))
		}
		dep, err := h.ledger.Send(token, from, to, amount)
		if err != nil {
			return err
		}
		log.entries = append(log.entries, ledger.Entry{
			Kind:   ledger.EntryDeposit,
			Token:  hex(token),
			From:   hex(from),
			To:     hex(to),
			Amount: amount.String(),
		})
		if dep == nil {
			_, isAuction, err := tx.AuctionGet(to)
			if err != nil || !isAuction {
				return err
			}
			// The auction never registered for this token. Receive rejects
			// the sender and the whole send is discarded.
			dep = &ledger.Deposit{Token: token, Depositor: from, Receiver: to, Amount: new(big.Int).Set(amount)}
		}
		log.entries[0].Auction = hex(dep.Receiver)
		outcome, err := h.auctions.Receive(dep.Receiver, dep.Token, dep.Depositor, dep.Amount)
		if err != nil {
			return err
		}
		if err := h.dispatch(dep.Receiver, outcome.Transfers, log); err != nil {
			return err
		}
		log.outcome = string(outcome.Answer.Status)
		result.Deposit = dep
		result.Outcome = outcome
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Finalize closes the auction at addr on behalf of caller, who must be the
// seller.
func (h *Host) Finalize(ctx context.Context, addr, caller [20]byte, onlyIfBids bool) (*auction.Outcome, error) {
	var out *auction.Outcome
	err := h.run(ctx, "finalize", func(tx *state.Tx, log *txLog) error {
		outcome, err := h.auctions.Finalize(addr, caller, onlyIfBids)
		if err != nil {
			return err
		}
		if err := h.dispatch(addr, outcome.Transfers, log); err != nil {
			return err
		}
		log.outcome = string(outcome.Answer.Status)
		out = outcome
		return nil
	})
	if err != nil {
		return nil, err
	}
	h.logger.Info("auction finalized",
		slog.String("auction", hex(addr)),
		slog.Int("transfers", len(out.Transfers)),
		slog.String("request_id", RequestIDFromContext(ctx)))
	return out, nil
}

// ReturnAll drains every balance still held by a completed auction.
func (h *Host) ReturnAll(ctx context.Context, addr [20]byte) (*auction.Outcome, error) {
	var out *auction.Outcome
	err := h.run(ctx, "return_all", func(tx *state.Tx, log *txLog) error {
		outcome, err := h.auctions.ReturnAll(addr)
		if err != nil {
			return err
		}
		if err := h.dispatch(addr, outcome.Transfers, log); err != nil {
			return err
		}
		log.outcome = string(outcome.Answer.Status)
		out = outcome
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ViewBid returns the active bid of bidder in the auction at addr.
func (h *Host) ViewBid(addr, bidder [20]byte) (*auction.BidView, error) {
	var view *auction.BidView
	err := h.view(func(*state.Tx) error {
		var err error
		view, err = h.auctions.ViewBid(addr, bidder)
		return err
	})
	return view, err
}

// AuctionInfo returns the public description of the auction at addr,
// including live token metadata from the ledger.
func (h *Host) AuctionInfo(addr [20]byte) (*auction.Info, error) {
	var info *auction.Info
	err := h.view(func(*state.Tx) error {
		var err error
		info, err = h.auctions.Info(addr, h.ledger)
		return err
	})
	return info, err
}

// ListAuctions returns the info of every auction in creation order. When
// activeOnly is set completed auctions are skipped.
func (h *Host) ListAuctions(activeOnly bool) ([]*auction.Info, error) {
	var out []*auction.Info
	err := h.view(func(tx *state.Tx) error {
		index, err := tx.AuctionList()
		if err != nil {
			return err
		}
		out = make([]*auction.Info, 0, len(index))
		for _, addr := range index {
			info, err := h.auctions.Info(addr, h.ledger)
			if err != nil {
				return err
			}
			if activeOnly && info.StatusText != auction.StatusOpenConsigned && info.StatusText != auction.StatusOpenNotConsigned {
				continue
			}
			out = append(out, info)
		}
		return nil
	})
	return out, err
}

// AddHistory stores a credit history. Only the oracle owner may write.
func (h *Host) AddHistory(ctx context.Context, caller, user [20]byte, history *oracle.History) error {
	return h.run(ctx, "oracle_add", func(*state.Tx, *txLog) error {
		return h.oracle.AddHistory(caller, user, history)
	})
}

// GetHistory looks up the credit history of user.
func (h *Host) GetHistory(user [20]byte) (*oracle.Lookup, error) {
	var lookup *oracle.Lookup
	err := h.view(func(*state.Tx) error {
		var err error
		lookup, err = h.oracle.GetHistory(user)
		return err
	})
	return lookup, err
}

func (h *Host) authorize(caller [20]byte) error {
	if h.admin == ([20]byte{}) || caller == h.admin {
		return nil
	}
	return ErrUnauthorized
}

// RegisterToken adds a token to the ledger.
func (h *Host) RegisterToken(ctx context.Context, caller [20]byte, tok *ledger.Token) error {
	return h.run(ctx, "register_token", func(*state.Tx, *txLog) error {
		if err := h.authorize(caller); err != nil {
			return err
		}
		return h.ledger.RegisterToken(tok)
	})
}

// Mint credits amount of token to holder.
func (h *Host) Mint(ctx context.Context, caller, token, to [20]byte, amount *big.Int) error {
	return h.run(ctx, "mint", func(_ *state.Tx, log *txLog) error {
		if err := h.authorize(caller); err != nil {
			return err
		}
		if err := h.ledger.Mint(token, to, amount); err != nil {
			return err
		}
		log.entries = append(log.entries, ledger.Entry{
			Kind:   ledger.EntryMint,
			Token:  hex(token),
			To:     hex(to),
			Amount: amount.String(),
		})
		return nil
	})
}

// Balance returns the balance of holder in token.
func (h *Host) Balance(token, holder [20]byte) (*big.Int, error) {
	var balance *big.Int
	err := h.view(func(*state.Tx) error {
		var err error
		balance, err = h.ledger.BalanceOf(token, holder)
		return err
	})
	return balance, err
}

// Tokens lists the registered tokens.
func (h *Host) Tokens() ([]*ledger.Token, error) {
	var tokens []*ledger.Token
	err := h.view(func(*state.Tx) error {
		var err error
		tokens, err = h.ledger.Tokens()
		return err
	})
	return tokens, err
}
