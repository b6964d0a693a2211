package auction

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ContractRef identifies one of the two token contracts an auction trades
// against. It is the concrete TokenEndpoint used by the engine.
type ContractRef struct {
	CodeHash string
	Address  [20]byte
}

// TokenInfo mirrors the metadata exposed by a token contract.
type TokenInfo struct {
	Name        string
	Symbol      string
	Decimals    uint8
	TotalSupply *big.Int
}

// TokenQuerier answers token metadata queries against the ledger.
type TokenQuerier interface {
	TokenInfo(token [20]byte) (TokenInfo, error)
}

// TokenEndpoint is the capability shared by the sale and bid token
// contracts. Messages are declarative: the engine never moves funds itself.
type TokenEndpoint interface {
	TransferMsg(recipient [20]byte, amount *big.Int) Transfer
	RegisterReceiveMsg(codeHash string) Registration
	TokenInfo(q TokenQuerier) (TokenInfo, error)
}

var _ TokenEndpoint = ContractRef{}

// Transfer instructs the ledger to move Amount of the endpoint's token out of
// escrow to Recipient.
type Transfer struct {
	Endpoint  ContractRef
	Recipient [20]byte
	Amount    *big.Int
}

// Registration asks the endpoint to notify the auction about deposits.
type Registration struct {
	Endpoint ContractRef
	CodeHash string
}

// TransferMsg builds a transfer instruction against this endpoint.
func (c ContractRef) TransferMsg(recipient [20]byte, amount *big.Int) Transfer {
	return Transfer{Endpoint: c, Recipient: recipient, Amount: cloneBigInt(amount)}
}

// RegisterReceiveMsg builds a receive registration against this endpoint.
func (c ContractRef) RegisterReceiveMsg(codeHash string) Registration {
	return Registration{Endpoint: c, CodeHash: codeHash}
}

// TokenInfo queries the endpoint's metadata.
func (c ContractRef) TokenInfo(q TokenQuerier) (TokenInfo, error) {
	if q == nil {
		return TokenInfo{}, fmt.Errorf("auction: token querier not configured")
	}
	return q.TokenInfo(c.Address)
}

// Direction selects which side of the book wins.
type Direction uint8

const (
	// DirectionDescending: lower bids are better (credit / reverse auction).
	DirectionDescending Direction = iota
	// DirectionAscending: higher bids are better (standard auction).
	DirectionAscending
)

func (d Direction) String() string {
	switch d {
	case DirectionAscending:
		return "ascending"
	case DirectionDescending:
		return "descending"
	default:
		return fmt.Sprintf("direction(%d)", uint8(d))
	}
}

// ParseDirection accepts "ascending" or "descending" (case-insensitive). An
// empty string selects the descending default.
func ParseDirection(raw string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "descending", "desc":
		return DirectionDescending, nil
	case "ascending", "asc":
		return DirectionAscending, nil
	default:
		return 0, fmt.Errorf("auction: unknown direction %q", raw)
	}
}

// better reports whether a strictly beats b.
func (d Direction) better(a, b *big.Int) bool {
	if d == DirectionAscending {
		return a.Cmp(b) > 0
	}
	return a.Cmp(b) < 0
}

// CeilingRule decides how a bid is compared against the auction ceiling.
type CeilingRule uint8

const (
	// CeilingAtMost accepts amount <= ceiling.
	CeilingAtMost CeilingRule = iota
	// CeilingBelow accepts amount < ceiling.
	CeilingBelow
)

func (r CeilingRule) String() string {
	switch r {
	case CeilingAtMost:
		return "at_most"
	case CeilingBelow:
		return "below"
	default:
		return fmt.Sprintf("ceiling(%d)", uint8(r))
	}
}

// ParseCeilingRule accepts "at_most" or "below".
func ParseCeilingRule(raw string) (CeilingRule, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "at_most", "at-most", "lte":
		return CeilingAtMost, nil
	case "below", "lt":
		return CeilingBelow, nil
	default:
		return 0, fmt.Errorf("auction: unknown ceiling rule %q", raw)
	}
}

func (r CeilingRule) allows(amount, ceiling *big.Int) bool {
	if ceiling == nil {
		return true
	}
	if r == CeilingBelow {
		return amount.Cmp(ceiling) < 0
	}
	return amount.Cmp(ceiling) <= 0
}

// ZeroBidPolicy decides what happens to a zero-value bid notification.
type ZeroBidPolicy uint8

const (
	// ZeroBidDecline answers with a failure status. Nothing was custodied so
	// no transfer is emitted.
	ZeroBidDecline ZeroBidPolicy = iota
	// ZeroBidReject surfaces a hard error.
	ZeroBidReject
)

func (p ZeroBidPolicy) String() string {
	if p == ZeroBidReject {
		return "reject"
	}
	return "decline"
}

// ParseZeroBidPolicy accepts "decline" or "reject". Empty selects decline.
func ParseZeroBidPolicy(raw string) (ZeroBidPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "decline", "refund":
		return ZeroBidDecline, nil
	case "reject", "error":
		return ZeroBidReject, nil
	default:
		return 0, fmt.Errorf("auction: unknown zero bid policy %q", raw)
	}
}

// Policy bundles the per-deployment configuration points of an auction.
type Policy struct {
	Direction Direction
	Ceiling   CeilingRule
	ZeroBid   ZeroBidPolicy
}

// Quote is the pricing oracle's answer for a seller.
type Quote struct {
	RequiredAmount *big.Int
	BidCeiling     *big.Int
	Ceiling        CeilingRule
}

// PricingOracle derives the sale quantity and bid ceiling once, at creation.
type PricingOracle interface {
	Quote(seller [20]byte) (*Quote, error)
}

// State is the singleton record describing one auction instance.
type State struct {
	Address            [20]byte
	Seller             [20]byte
	SaleContract       ContractRef
	BidContract        ContractRef
	RequiredAmount     *big.Int
	BidCeiling         *big.Int
	CurrentlyConsigned *big.Int
	TokensConsigned    bool
	// Bidders is kept sorted so persisted state is deterministic.
	Bidders     [][20]byte
	IsCompleted bool
	WinningBid  *big.Int
	Description string
	Policy      Policy
	Nonce       uint64
	CreatedAt   int64
}

// Bid is a single standing offer, stored apart from State.
type Bid struct {
	Amount    *big.Int
	Timestamp int64
}

// Clone returns a deep copy of the state so callers can safely mutate the
// copy without affecting the stored instance.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	clone := *s
	clone.RequiredAmount = cloneBigInt(s.RequiredAmount)
	if s.BidCeiling != nil {
		clone.BidCeiling = new(big.Int).Set(s.BidCeiling)
	}
	clone.CurrentlyConsigned = cloneBigInt(s.CurrentlyConsigned)
	clone.WinningBid = cloneBigInt(s.WinningBid)
	clone.Bidders = append([][20]byte(nil), s.Bidders...)
	return &clone
}

// Clone returns a deep copy of the bid.
func (b *Bid) Clone() *Bid {
	if b == nil {
		return nil
	}
	return &Bid{Amount: cloneBigInt(b.Amount), Timestamp: b.Timestamp}
}

// HasBidder reports whether addr has an active bid.
func (s *State) HasBidder(addr [20]byte) bool {
	_, found := s.bidderIndex(addr)
	return found
}

func (s *State) bidderIndex(addr [20]byte) (int, bool) {
	lo, hi := 0, len(s.Bidders)
	for lo < hi {
		mid := (lo + hi) / 2
		if compareAddr(s.Bidders[mid], addr) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo, lo < len(s.Bidders) && s.Bidders[lo] == addr
}

func (s *State) addBidder(addr [20]byte) {
	idx, found := s.bidderIndex(addr)
	if found {
		return
	}
	s.Bidders = append(s.Bidders, [20]byte{})
	copy(s.Bidders[idx+1:], s.Bidders[idx:])
	s.Bidders[idx] = addr
}

func (s *State) removeBidder(addr [20]byte) {
	idx, found := s.bidderIndex(addr)
	if !found {
		return
	}
	s.Bidders = append(s.Bidders[:idx], s.Bidders[idx+1:]...)
}

// Status texts reported by AuctionInfo.
const (
	StatusOpenNotConsigned = "open, not yet consigned"
	StatusOpenConsigned    = "open, consigned"
	StatusClosed           = "closed"
	StatusClosedWithFunds  = "closed with outstanding balances"
)

// StatusText summarises the lifecycle position of the auction.
func (s *State) StatusText() string {
	if s.IsCompleted {
		if len(s.Bidders) > 0 || positive(s.CurrentlyConsigned) {
			return StatusClosedWithFunds
		}
		return StatusClosed
	}
	if s.TokensConsigned {
		return StatusOpenConsigned
	}
	return StatusOpenNotConsigned
}

// FormatAddress renders an identity as 0x-prefixed checksummed hex.
func FormatAddress(addr [20]byte) string {
	return common.Address(addr).Hex()
}

// ParseAddress parses a 0x-prefixed hex identity.
func ParseAddress(raw string) ([20]byte, error) {
	trimmed := strings.TrimSpace(raw)
	if !common.IsHexAddress(trimmed) {
		return [20]byte{}, fmt.Errorf("auction: invalid address %q", raw)
	}
	return common.HexToAddress(trimmed), nil
}

func compareAddr(a, b [20]byte) int {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func positive(v *big.Int) bool {
	return v != nil && v.Sign() > 0
}
