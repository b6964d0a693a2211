package auction

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"escrowauction/core/events"
	"escrowauction/core/types"
)

var (
	errNilState = errors.New("auction engine: state not configured")

	ErrAuctionNotFound = errors.New("auction: auction not found")
	ErrAuctionExists   = errors.New("auction: auction already exists")
	ErrSameEndpoints   = errors.New("auction: sale and bid contracts must be different")
	ErrNoPricing       = errors.New("auction: pricing oracle not configured")
	ErrUnusableQuote   = errors.New("auction: pricing oracle returned no usable amount")
	ErrUnknownToken    = errors.New("auction: sender is not a token in this auction")
	ErrUnauthorized    = errors.New("auction: only the auction creator can finalize the sale")
	ErrNotCompleted    = errors.New("auction: return_all can only be executed after the auction has ended")
	ErrNoActiveBids    = errors.New("auction: did not close because there are no active bids")
	ErrZeroBid         = errors.New("auction: bid must be greater than 0")
	ErrInvalidAmount   = errors.New("auction: amount must not be negative")
)

type engineState interface {
	AuctionGet(addr [20]byte) (*State, bool, error)
	AuctionPut(*State) error
	AuctionBidGet(addr, bidder [20]byte) (*Bid, bool, error)
	AuctionBidPut(addr, bidder [20]byte, bid *Bid) error
	AuctionBidDelete(addr, bidder [20]byte) error
}

type auctionEvent struct {
	evt *types.Event
}

func (e auctionEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e auctionEvent) Event() *types.Event { return e.evt }

// Engine runs the consign/bid/finalize state machine. Every operation loads
// the AuctionState, works on a private copy and writes it back only on the
// branches that accept funds or settle the auction.
type Engine struct {
	state    engineState
	emitter  events.Emitter
	codeHash string
	nowFn    func() int64
}

// NewEngine creates an auction engine with a no-op emitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetCodeHash configures the code hash sent with receive registrations.
func (e *Engine) SetCodeHash(hash string) { e.codeHash = hash }

// SetNowFunc overrides the time source used for bid timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(auctionEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) load(addr [20]byte) (*State, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	st, ok, err := e.state.AuctionGet(addr)
	if err != nil {
		return nil, err
	}
	if !ok || st == nil {
		return nil, ErrAuctionNotFound
	}
	return st.Clone(), nil
}

// DeriveAddress computes the deterministic auction address for the creation
// tuple.
func DeriveAddress(seller [20]byte, sale, bid ContractRef, nonce uint64) [20]byte {
	var nonceBytes [8]byte
	binary.BigEndian.PutUint64(nonceBytes[:], nonce)
	hash := ethcrypto.Keccak256(seller[:], sale.Address[:], bid.Address[:], nonceBytes[:])
	var out [20]byte
	copy(out[:], hash[12:])
	return out
}

// CreateParams describes a new auction.
type CreateParams struct {
	Seller       [20]byte
	SaleContract ContractRef
	BidContract  ContractRef
	Pricing      PricingOracle
	Description  string
	Direction    Direction
	// Ceiling overrides the rule suggested by the pricing quote.
	Ceiling *CeilingRule
	ZeroBid ZeroBidPolicy
	Nonce   uint64
}

// Create validates the parameters, consults the pricing oracle and persists
// the initial state. The returned registrations must be delivered to both
// endpoints so deposits reach the auction.
func (e *Engine) Create(p CreateParams) (*State, []Registration, error) {
	if e == nil || e.state == nil {
		return nil, nil, errNilState
	}
	if p.SaleContract.Address == p.BidContract.Address {
		return nil, nil, ErrSameEndpoints
	}
	if p.Pricing == nil {
		return nil, nil, ErrNoPricing
	}
	quote, err := p.Pricing.Quote(p.Seller)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrUnusableQuote, err)
	}
	if quote == nil || !positive(quote.RequiredAmount) {
		return nil, nil, ErrUnusableQuote
	}
	if quote.BidCeiling != nil && quote.BidCeiling.Sign() <= 0 {
		return nil, nil, ErrUnusableQuote
	}
	rule := quote.Ceiling
	if p.Ceiling != nil {
		rule = *p.Ceiling
	}
	addr := DeriveAddress(p.Seller, p.SaleContract, p.BidContract, p.Nonce)
	if _, exists, err := e.state.AuctionGet(addr); err != nil {
		return nil, nil, err
	} else if exists {
		return nil, nil, ErrAuctionExists
	}
	var ceiling *big.Int
	if quote.BidCeiling != nil {
		ceiling = new(big.Int).Set(quote.BidCeiling)
	}
	st := &State{
		Address:            addr,
		Seller:             p.Seller,
		SaleContract:       p.SaleContract,
		BidContract:        p.BidContract,
		RequiredAmount:     new(big.Int).Set(quote.RequiredAmount),
		BidCeiling:         ceiling,
		CurrentlyConsigned: big.NewInt(0),
		WinningBid:         big.NewInt(0),
		Description:        p.Description,
		Policy:             Policy{Direction: p.Direction, Ceiling: rule, ZeroBid: p.ZeroBid},
		Nonce:              p.Nonce,
		CreatedAt:          e.now(),
	}
	if err := e.state.AuctionPut(st); err != nil {
		return nil, nil, err
	}
	regs := []Registration{
		st.SaleContract.RegisterReceiveMsg(e.codeHash),
		st.BidContract.RegisterReceiveMsg(e.codeHash),
	}
	e.emit(NewCreatedEvent(st))
	return st.Clone(), regs, nil
}

// Get returns a copy of the stored auction state.
func (e *Engine) Get(addr [20]byte) (*State, error) {
	return e.load(addr)
}

// Receive handles a verified deposit notification. sender is the token
// contract that custodied the deposit, from is the depositor.
func (e *Engine) Receive(addr, sender, from [20]byte, amount *big.Int) (*Outcome, error) {
	if amount == nil || amount.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	st, err := e.load(addr)
	if err != nil {
		return nil, err
	}
	switch sender {
	case st.SaleContract.Address:
		return e.consign(st, from, amount)
	case st.BidContract.Address:
		return e.bid(st, from, amount)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownToken, FormatAddress(sender))
	}
}

func returnTransfers(ep TokenEndpoint, recipient [20]byte, amount *big.Int) []Transfer {
	if !positive(amount) {
		return nil
	}
	return []Transfer{ep.TransferMsg(recipient, amount)}
}

func (e *Engine) consign(st *State, owner [20]byte, amount *big.Int) (*Outcome, error) {
	reject := func(reason string) *Outcome {
		e.emit(NewConsignReturnedEvent(st, owner, amount, reason))
		return &Outcome{
			Answer: Answer{
				Kind:           KindConsign,
				Status:         StatusFailure,
				Message:        reason,
				AmountReturned: cloneBigInt(amount),
			},
			Transfers: returnTransfers(st.SaleContract, owner, amount),
		}
	}
	if owner != st.Seller {
		return reject("Only auction creator can consign tokens for sale. Your tokens have been returned"), nil
	}
	if st.IsCompleted {
		return reject("Auction has ended. Your tokens have been returned"), nil
	}
	if st.TokensConsigned {
		return reject("Tokens to be sold have already been consigned. Your tokens have been returned"), nil
	}

	total := new(big.Int).Add(st.CurrentlyConsigned, amount)
	answer := Answer{Kind: KindConsign}
	var transfers []Transfer
	var excess *big.Int
	if total.Cmp(st.RequiredAmount) < 0 {
		st.CurrentlyConsigned = total
		answer.Status = StatusFailure
		answer.AmountNeeded = new(big.Int).Sub(st.RequiredAmount, total)
		answer.Message = "You have not consigned the full amount to be sold. You need to consign additional tokens"
	} else {
		st.TokensConsigned = true
		st.CurrentlyConsigned = new(big.Int).Set(st.RequiredAmount)
		answer.Status = StatusSuccess
		answer.Message = "Tokens to be sold have been consigned to the auction"
		if total.Cmp(st.RequiredAmount) > 0 {
			excess = new(big.Int).Sub(total, st.RequiredAmount)
			transfers = returnTransfers(st.SaleContract, owner, excess)
			answer.AmountReturned = excess
			answer.Message += ". Excess tokens have been returned"
		}
	}
	if err := e.state.AuctionPut(st); err != nil {
		return nil, err
	}
	answer.AmountConsigned = cloneBigInt(st.CurrentlyConsigned)
	e.emit(NewConsignedEvent(st, owner, amount, excess))
	return &Outcome{Answer: answer, Transfers: transfers}, nil
}

func (e *Engine) bid(st *State, bidder [20]byte, amount *big.Int) (*Outcome, error) {
	reject := func(reason string, previous *big.Int) *Outcome {
		e.emit(NewBidReturnedEvent(st, bidder, amount, reason))
		answer := Answer{
			Kind:           KindBid,
			Status:         StatusFailure,
			Message:        reason,
			AmountReturned: cloneBigInt(amount),
		}
		if previous != nil {
			answer.PreviousBid = cloneBigInt(previous)
			answer.AmountBid = cloneBigInt(amount)
		}
		return &Outcome{Answer: answer, Transfers: returnTransfers(st.BidContract, bidder, amount)}
	}
	if st.IsCompleted {
		return reject("Auction has ended. Bid tokens have been returned", nil), nil
	}
	if amount.Sign() == 0 {
		if st.Policy.ZeroBid == ZeroBidReject {
			return nil, ErrZeroBid
		}
		return &Outcome{Answer: Answer{
			Kind:    KindBid,
			Status:  StatusFailure,
			Message: "Bid must be greater than 0",
		}}, nil
	}
	if !st.Policy.Ceiling.allows(amount, st.BidCeiling) {
		return reject("Bid was greater than the allowed ceiling. Bid tokens have been returned", nil), nil
	}

	var previous *big.Int
	if st.HasBidder(bidder) {
		old, found, err := e.state.AuctionBidGet(st.Address, bidder)
		if err != nil {
			return nil, err
		}
		if found && old != nil {
			if !st.Policy.Direction.better(amount, old.Amount) {
				return reject(staleBidMessage(st.Policy.Direction), old.Amount), nil
			}
			previous = cloneBigInt(old.Amount)
		}
	} else {
		st.addBidder(bidder)
		if err := e.state.AuctionPut(st); err != nil {
			return nil, err
		}
	}
	record := &Bid{Amount: new(big.Int).Set(amount), Timestamp: e.now()}
	if err := e.state.AuctionBidPut(st.Address, bidder, record); err != nil {
		return nil, err
	}

	answer := Answer{
		Kind:      KindBid,
		Status:    StatusSuccess,
		Message:   "Bid accepted",
		AmountBid: cloneBigInt(amount),
	}
	var transfers []Transfer
	if previous != nil {
		transfers = returnTransfers(st.BidContract, bidder, previous)
		answer.AmountReturned = previous
		answer.Message += ". Previously bid tokens have been returned"
		e.emit(NewBidReplacedEvent(st, bidder, record, previous))
	} else {
		e.emit(NewBidPlacedEvent(st, bidder, record))
	}
	return &Outcome{Answer: answer, Transfers: transfers}, nil
}

func staleBidMessage(d Direction) string {
	if d == DirectionAscending {
		return "New bid less than or equal to previous bid. Newly bid tokens have been returned"
	}
	return "New bid greater than or equal to previous bid. Newly bid tokens have been returned"
}

// Finalize closes the auction on behalf of caller, which must be the seller.
// With onlyIfBids set an open auction without bids is left untouched.
func (e *Engine) Finalize(addr, caller [20]byte, onlyIfBids bool) (*Outcome, error) {
	return e.close(addr, caller, onlyIfBids, false)
}

// ReturnAll drains any residual escrow of a completed auction. Anyone may
// call it.
func (e *Engine) ReturnAll(addr [20]byte) (*Outcome, error) {
	return e.close(addr, [20]byte{}, false, true)
}

type ownedBid struct {
	bidder [20]byte
	bid    *Bid
}

// rankBids orders bids best-first: better amount, then earlier timestamp,
// then the smaller bidder address.
func rankBids(bids []ownedBid, d Direction) {
	sort.SliceStable(bids, func(i, j int) bool {
		a, b := bids[i], bids[j]
		if cmp := a.bid.Amount.Cmp(b.bid.Amount); cmp != 0 {
			return d.better(a.bid.Amount, b.bid.Amount)
		}
		if a.bid.Timestamp != b.bid.Timestamp {
			return a.bid.Timestamp < b.bid.Timestamp
		}
		return compareAddr(a.bidder, b.bidder) < 0
	})
}

func (e *Engine) close(addr, caller [20]byte, onlyIfBids, returnAll bool) (*Outcome, error) {
	st, err := e.load(addr)
	if err != nil {
		return nil, err
	}
	if returnAll && !st.IsCompleted {
		return nil, ErrNotCompleted
	}
	if !returnAll && caller != st.Seller {
		return nil, ErrUnauthorized
	}
	if !st.IsCompleted && onlyIfBids && len(st.Bidders) == 0 {
		return nil, ErrNoActiveBids
	}

	wasCompleted := st.IsCompleted
	noBids := len(st.Bidders) == 0
	changed := false
	var (
		transfers []Transfer
		winner    *[20]byte
		winning   *big.Int
		returned  *big.Int
	)

	if !noBids {
		bids := make([]ownedBid, 0, len(st.Bidders))
		for _, bidder := range append([][20]byte(nil), st.Bidders...) {
			record, found, err := e.state.AuctionBidGet(st.Address, bidder)
			if err != nil {
				return nil, err
			}
			if !found || record == nil {
				st.removeBidder(bidder)
				changed = true
				continue
			}
			bids = append(bids, ownedBid{bidder: bidder, bid: record})
		}
		if st.TokensConsigned && !st.IsCompleted && len(bids) > 0 {
			rankBids(bids, st.Policy.Direction)
			top := bids[0]
			bids = bids[1:]
			transfers = append(transfers,
				st.BidContract.TransferMsg(st.Seller, top.bid.Amount),
				st.SaleContract.TransferMsg(top.bidder, st.RequiredAmount),
			)
			st.CurrentlyConsigned = big.NewInt(0)
			st.WinningBid = new(big.Int).Set(top.bid.Amount)
			winning = cloneBigInt(top.bid.Amount)
			w := top.bidder
			winner = &w
			if err := e.state.AuctionBidDelete(st.Address, top.bidder); err != nil {
				return nil, err
			}
			st.removeBidder(top.bidder)
			changed = true
		}
		for _, losing := range bids {
			transfers = append(transfers, returnTransfers(st.BidContract, losing.bidder, losing.bid.Amount)...)
			if err := e.state.AuctionBidDelete(st.Address, losing.bidder); err != nil {
				return nil, err
			}
			st.removeBidder(losing.bidder)
			changed = true
		}
	}
	if positive(st.CurrentlyConsigned) {
		transfers = append(transfers, st.SaleContract.TransferMsg(st.Seller, st.CurrentlyConsigned))
		if !returnAll {
			returned = cloneBigInt(st.CurrentlyConsigned)
		}
		st.CurrentlyConsigned = big.NewInt(0)
		changed = true
	}
	if !st.IsCompleted {
		st.IsCompleted = true
		changed = true
	}
	if changed {
		if err := e.state.AuctionPut(st); err != nil {
			return nil, err
		}
	}

	answer := Answer{
		Kind:           KindClose,
		Status:         StatusSuccess,
		Message:        closeMessage(st, winning != nil, returned != nil, noBids, returnAll),
		WinningBid:     winning,
		AmountReturned: returned,
	}
	if !wasCompleted {
		e.emit(NewFinalizedEvent(st, winner, len(transfers)))
	} else if len(transfers) > 0 {
		e.emit(NewFundsReturnedEvent(st, len(transfers)))
	}
	return &Outcome{Answer: answer, Transfers: transfers}, nil
}

func closeMessage(st *State, won, consignReturned, noBids, returnAll bool) string {
	switch {
	case won:
		return "Sale finalized. You have been sent the winning bid tokens"
	case consignReturned:
		cause := ""
		if !st.TokensConsigned {
			cause = " because you did not consign the full sale amount"
		} else if noBids {
			cause = " because there were no active bids"
		}
		return "Auction closed. You have been returned the consigned tokens" + cause
	case returnAll:
		return "Outstanding funds have been returned"
	default:
		return "Auction has been closed"
	}
}

// ViewBid reports the caller's active bid, if any.
func (e *Engine) ViewBid(addr, bidder [20]byte) (*BidView, error) {
	st, err := e.load(addr)
	if err != nil {
		return nil, err
	}
	if st.HasBidder(bidder) {
		record, found, err := e.state.AuctionBidGet(addr, bidder)
		if err != nil {
			return nil, err
		}
		if found && record != nil {
			return &BidView{
				Found:     true,
				Amount:    cloneBigInt(record.Amount),
				Timestamp: record.Timestamp,
				Message:   "Bid placed " + time.Unix(record.Timestamp, 0).UTC().Format("2006-01-02 15:04:05") + " UTC",
			}, nil
		}
	}
	return &BidView{Message: "No active bid for address: " + FormatAddress(bidder)}, nil
}

// Info summarises the auction. Token metadata is included when q is set.
func (e *Engine) Info(addr [20]byte, q TokenQuerier) (*Info, error) {
	st, err := e.load(addr)
	if err != nil {
		return nil, err
	}
	out := &Info{
		Address:            st.Address,
		Seller:             st.Seller,
		SaleToken:          TokenDetails{Contract: st.SaleContract},
		BidToken:           TokenDetails{Contract: st.BidContract},
		RequiredAmount:     cloneBigInt(st.RequiredAmount),
		CurrentlyConsigned: cloneBigInt(st.CurrentlyConsigned),
		Description:        st.Description,
		StatusText:         st.StatusText(),
		ActiveBids:         len(st.Bidders),
		Policy:             st.Policy,
		CreatedAt:          st.CreatedAt,
	}
	if st.BidCeiling != nil {
		out.BidCeiling = cloneBigInt(st.BidCeiling)
	}
	if positive(st.WinningBid) {
		out.WinningBid = cloneBigInt(st.WinningBid)
	}
	if q != nil {
		saleInfo, err := st.SaleContract.TokenInfo(q)
		if err != nil {
			return nil, fmt.Errorf("auction: sale token info: %w", err)
		}
		bidInfo, err := st.BidContract.TokenInfo(q)
		if err != nil {
			return nil, fmt.Errorf("auction: bid token info: %w", err)
		}
		out.SaleToken.Info = &saleInfo
		out.BidToken.Info = &bidInfo
	}
	return out, nil
}
