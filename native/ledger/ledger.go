package ledger

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"escrowauction/core/events"
	"escrowauction/core/types"
	"escrowauction/native/auction"
)

const (
	EventTypeTokenRegistered = "ledger.token_registered"
	EventTypeMint            = "ledger.mint"
	EventTypeTransfer        = "ledger.transfer"
	EventTypeReceiver        = "ledger.receiver_registered"
)

var (
	errNilState = errors.New("ledger engine: state not configured")

	ErrTokenNotFound       = errors.New("ledger: token not registered")
	ErrTokenExists         = errors.New("ledger: token already registered")
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
	ErrInvalidAmount       = errors.New("ledger: amount must be positive")
	ErrCodeHashMismatch    = errors.New("ledger: endpoint code hash does not match token")
)

// Token is a registered token contract.
type Token struct {
	Address     [20]byte
	CodeHash    string
	Name        string
	Symbol      string
	Decimals    uint8
	TotalSupply *big.Int
}

// Ref returns the endpoint reference other contracts use for this token.
func (t *Token) Ref() auction.ContractRef {
	return auction.ContractRef{CodeHash: t.CodeHash, Address: t.Address}
}

// Deposit is the notification owed to a registered receiver after a send.
type Deposit struct {
	Token     [20]byte
	Depositor [20]byte
	Receiver  [20]byte
	Amount    *big.Int
}

type engineState interface {
	LedgerTokenGet(addr [20]byte) (*Token, bool, error)
	LedgerTokenPut(*Token) error
	LedgerTokenList() ([][20]byte, error)
	LedgerBalance(token, holder [20]byte) (*big.Int, error)
	LedgerSetBalance(token, holder [20]byte, amount *big.Int) error
	LedgerReceiverGet(token, contract [20]byte) (string, bool, error)
	LedgerReceiverPut(token, contract [20]byte, codeHash string) error
}

type ledgerEvent struct {
	evt *types.Event
}

func (e ledgerEvent) EventType() string   { return e.evt.Type }
func (e ledgerEvent) Event() *types.Event { return e.evt }

// Engine is a development stand-in for the external token contracts. It
// keeps balances per token and reports deposits made to registered
// receivers.
type Engine struct {
	state   engineState
	emitter events.Emitter
}

// NewEngine creates a ledger engine with a no-op emitter.
func NewEngine() *Engine {
	return &Engine{emitter: events.NoopEmitter{}}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(kind string, attrs map[string]string) {
	e.emitter.Emit(ledgerEvent{evt: &types.Event{Type: kind, Attributes: attrs}})
}

func (e *Engine) token(addr [20]byte) (*Token, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	tok, ok, err := e.state.LedgerTokenGet(addr)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTokenNotFound, common.Address(addr).Hex())
	}
	return tok, nil
}

// RegisterToken adds a token with zero supply.
func (e *Engine) RegisterToken(tok *Token) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if tok == nil || strings.TrimSpace(tok.Symbol) == "" {
		return fmt.Errorf("ledger: token symbol required")
	}
	if _, exists, err := e.state.LedgerTokenGet(tok.Address); err != nil {
		return err
	} else if exists {
		return ErrTokenExists
	}
	stored := *tok
	stored.TotalSupply = big.NewInt(0)
	if err := e.state.LedgerTokenPut(&stored); err != nil {
		return err
	}
	e.emit(EventTypeTokenRegistered, map[string]string{
		"token":  common.Address(tok.Address).Hex(),
		"symbol": tok.Symbol,
	})
	return nil
}

// Tokens returns every registered token.
func (e *Engine) Tokens() ([]*Token, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	addrs, err := e.state.LedgerTokenList()
	if err != nil {
		return nil, err
	}
	out := make([]*Token, 0, len(addrs))
	for _, addr := range addrs {
		tok, err := e.token(addr)
		if err != nil {
			return nil, err
		}
		out = append(out, tok)
	}
	return out, nil
}

// TokenInfo implements auction.TokenQuerier.
func (e *Engine) TokenInfo(addr [20]byte) (auction.TokenInfo, error) {
	tok, err := e.token(addr)
	if err != nil {
		return auction.TokenInfo{}, err
	}
	return auction.TokenInfo{
		Name:        tok.Name,
		Symbol:      tok.Symbol,
		Decimals:    tok.Decimals,
		TotalSupply: new(big.Int).Set(tok.TotalSupply),
	}, nil
}

// BalanceOf returns the balance of holder in token.
func (e *Engine) BalanceOf(token, holder [20]byte) (*big.Int, error) {
	if _, err := e.token(token); err != nil {
		return nil, err
	}
	return e.state.LedgerBalance(token, holder)
}

// Mint credits amount of token to holder and grows the supply.
func (e *Engine) Mint(token, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	tok, err := e.token(token)
	if err != nil {
		return err
	}
	balance, err := e.state.LedgerBalance(token, to)
	if err != nil {
		return err
	}
	if err := e.state.LedgerSetBalance(token, to, new(big.Int).Add(balance, amount)); err != nil {
		return err
	}
	tok.TotalSupply = new(big.Int).Add(tok.TotalSupply, amount)
	if err := e.state.LedgerTokenPut(tok); err != nil {
		return err
	}
	e.emit(EventTypeMint, map[string]string{
		"token":  common.Address(token).Hex(),
		"to":     common.Address(to).Hex(),
		"amount": amount.String(),
	})
	return nil
}

// Transfer moves amount of token between holders.
func (e *Engine) Transfer(token, from, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if _, err := e.token(token); err != nil {
		return err
	}
	fromBal, err := e.state.LedgerBalance(token, from)
	if err != nil {
		return err
	}
	if fromBal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s holds %s, needs %s", ErrInsufficientBalance, common.Address(from).Hex(), fromBal, amount)
	}
	if err := e.state.LedgerSetBalance(token, from, new(big.Int).Sub(fromBal, amount)); err != nil {
		return err
	}
	toBal, err := e.state.LedgerBalance(token, to)
	if err != nil {
		return err
	}
	if err := e.state.LedgerSetBalance(token, to, new(big.Int).Add(toBal, amount)); err != nil {
		return err
	}
	e.emit(EventTypeTransfer, map[string]string{
		"token":  common.Address(token).Hex(),
		"from":   common.Address(from).Hex(),
		"to":     common.Address(to).Hex(),
		"amount": amount.String(),
	})
	return nil
}

// RegisterReceive records that contract wants deposit notifications for
// token.
func (e *Engine) RegisterReceive(token, contract [20]byte, codeHash string) error {
	if _, err := e.token(token); err != nil {
		return err
	}
	if err := e.state.LedgerReceiverPut(token, contract, codeHash); err != nil {
		return err
	}
	e.emit(EventTypeReceiver, map[string]string{
		"token":    common.Address(token).Hex(),
		"contract": common.Address(contract).Hex(),
	})
	return nil
}

// ApplyRegistration executes a receive registration issued by contract.
func (e *Engine) ApplyRegistration(contract [20]byte, reg auction.Registration) error {
	if err := e.checkEndpoint(reg.Endpoint); err != nil {
		return err
	}
	return e.RegisterReceive(reg.Endpoint.Address, contract, reg.CodeHash)
}

// IsReceiver reports whether contract registered for deposits of token.
func (e *Engine) IsReceiver(token, contract [20]byte) (bool, error) {
	if e == nil || e.state == nil {
		return false, errNilState
	}
	_, ok, err := e.state.LedgerReceiverGet(token, contract)
	return ok, err
}

// Send transfers like Transfer and, when the recipient registered as a
// receiver, returns the deposit notification the caller must deliver. A zero
// amount moves nothing but still notifies the receiver.
func (e *Engine) Send(token, from, to [20]byte, amount *big.Int) (*Deposit, error) {
	if amount == nil || amount.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	if amount.Sign() == 0 {
		if _, err := e.token(token); err != nil {
			return nil, err
		}
	} else if err := e.Transfer(token, from, to, amount); err != nil {
		return nil, err
	}
	registered, err := e.IsReceiver(token, to)
	if err != nil || !registered {
		return nil, err
	}
	return &Deposit{Token: token, Depositor: from, Receiver: to, Amount: new(big.Int).Set(amount)}, nil
}

// Dispatch executes an outbound transfer instruction paid from escrow.
func (e *Engine) Dispatch(escrow [20]byte, tr auction.Transfer) error {
	if err := e.checkEndpoint(tr.Endpoint); err != nil {
		return err
	}
	return e.Transfer(tr.Endpoint.Address, escrow, tr.Recipient, tr.Amount)
}

func (e *Engine) checkEndpoint(ref auction.ContractRef) error {
	tok, err := e.token(ref.Address)
	if err != nil {
		return err
	}
	if tok.CodeHash != "" && ref.CodeHash != "" && tok.CodeHash != ref.CodeHash {
		return fmt.Errorf("%w: %s", ErrCodeHashMismatch, tok.Symbol)
	}
	return nil
}
