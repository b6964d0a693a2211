package auction

import (
	"bytes"
	"errors"
	"math/big"
	"math/rand"
	"strings"
	"testing"

	"escrowauction/core/events"
)

type mockState struct {
	auctions map[[20]byte]*State
	bids     map[[20]byte]map[[20]byte]*Bid
	puts     int
}

func newMockState() *mockState {
	return &mockState{
		auctions: make(map[[20]byte]*State),
		bids:     make(map[[20]byte]map[[20]byte]*Bid),
	}
}

func (m *mockState) AuctionGet(addr [20]byte) (*State, bool, error) {
	st, ok := m.auctions[addr]
	if !ok {
		return nil, false, nil
	}
	return st.Clone(), true, nil
}

func (m *mockState) AuctionPut(st *State) error {
	m.puts++
	m.auctions[st.Address] = st.Clone()
	return nil
}

func (m *mockState) AuctionBidGet(addr, bidder [20]byte) (*Bid, bool, error) {
	bid, ok := m.bids[addr][bidder]
	if !ok {
		return nil, false, nil
	}
	return bid.Clone(), true, nil
}

func (m *mockState) AuctionBidPut(addr, bidder [20]byte, bid *Bid) error {
	if m.bids[addr] == nil {
		m.bids[addr] = make(map[[20]byte]*Bid)
	}
	m.bids[addr][bidder] = bid.Clone()
	return nil
}

func (m *mockState) AuctionBidDelete(addr, bidder [20]byte) error {
	delete(m.bids[addr], bidder)
	return nil
}

type stubPricing struct {
	quote *Quote
	err   error
}

func (s stubPricing) Quote([20]byte) (*Quote, error) { return s.quote, s.err }

type recordingEmitter struct {
	types []string
}

func (r *recordingEmitter) Emit(evt events.Event) { r.types = append(r.types, evt.EventType()) }

func (r *recordingEmitter) has(kind string) bool {
	for _, t := range r.types {
		if t == kind {
			return true
		}
	}
	return false
}

func newTestAddress(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

// escrowBook tracks every unit deposited to and transferred out of the
// auction, per token.
type escrowBook struct {
	deposited map[[20]byte]*big.Int
	withdrawn map[[20]byte]*big.Int
}

func newEscrowBook() *escrowBook {
	return &escrowBook{deposited: map[[20]byte]*big.Int{}, withdrawn: map[[20]byte]*big.Int{}}
}

func (b *escrowBook) add(m map[[20]byte]*big.Int, token [20]byte, amount *big.Int) {
	if m[token] == nil {
		m[token] = big.NewInt(0)
	}
	m[token].Add(m[token], amount)
}

func (b *escrowBook) get(m map[[20]byte]*big.Int, token [20]byte) *big.Int {
	if m[token] == nil {
		return big.NewInt(0)
	}
	return m[token]
}

type fixture struct {
	t       *testing.T
	engine  *Engine
	state   *mockState
	emitter *recordingEmitter
	book    *escrowBook
	clock   int64
	addr    [20]byte
	seller  [20]byte
	sale    ContractRef
	bid     ContractRef
}

func newFixture(t *testing.T, required, ceiling int64, rule CeilingRule, dir Direction) *fixture {
	t.Helper()
	f := &fixture{
		t:       t,
		engine:  NewEngine(),
		state:   newMockState(),
		emitter: &recordingEmitter{},
		book:    newEscrowBook(),
		clock:   1_700_000_000,
		seller:  newTestAddress(0x11),
		sale:    ContractRef{CodeHash: "sale-hash", Address: newTestAddress(0xA1)},
		bid:     ContractRef{CodeHash: "bid-hash", Address: newTestAddress(0xB1)},
	}
	f.engine.SetState(f.state)
	f.engine.SetEmitter(f.emitter)
	f.engine.SetCodeHash("auction-hash")
	f.engine.SetNowFunc(func() int64 { return f.clock })
	quote := &Quote{RequiredAmount: big.NewInt(required), Ceiling: rule}
	if ceiling > 0 {
		quote.BidCeiling = big.NewInt(ceiling)
	}
	st, regs, err := f.engine.Create(CreateParams{
		Seller:       f.seller,
		SaleContract: f.sale,
		BidContract:  f.bid,
		Pricing:      stubPricing{quote: quote},
		Description:  "test lot",
		Direction:    dir,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(regs) != 2 || regs[0].Endpoint != f.sale || regs[1].Endpoint != f.bid || regs[0].CodeHash != "auction-hash" {
		t.Fatalf("unexpected registrations: %+v", regs)
	}
	f.addr = st.Address
	return f
}

func (f *fixture) deposit(token ContractRef, from [20]byte, amount int64) *Outcome {
	f.t.Helper()
	out, err := f.engine.Receive(f.addr, token.Address, from, big.NewInt(amount))
	if err != nil {
		f.t.Fatalf("receive %d from %x: %v", amount, from[:1], err)
	}
	f.book.add(f.book.deposited, token.Address, big.NewInt(amount))
	f.record(out)
	return out
}

func (f *fixture) record(out *Outcome) {
	for _, tr := range out.Transfers {
		if tr.Amount.Sign() <= 0 {
			f.t.Fatalf("zero or negative transfer emitted: %+v", tr)
		}
		f.book.add(f.book.withdrawn, tr.Endpoint.Address, tr.Amount)
	}
	f.checkConservation()
}

func (f *fixture) finalize(onlyIfBids bool) *Outcome {
	f.t.Helper()
	out, err := f.engine.Finalize(f.addr, f.seller, onlyIfBids)
	if err != nil {
		f.t.Fatalf("finalize: %v", err)
	}
	f.record(out)
	return out
}

func (f *fixture) current() *State {
	f.t.Helper()
	st, ok, _ := f.state.AuctionGet(f.addr)
	if !ok {
		f.t.Fatalf("auction state missing")
	}
	return st
}

func (f *fixture) checkConservation() {
	f.t.Helper()
	st := f.current()
	saleHeld := new(big.Int).Add(f.book.get(f.book.withdrawn, f.sale.Address), st.CurrentlyConsigned)
	if saleHeld.Cmp(f.book.get(f.book.deposited, f.sale.Address)) != 0 {
		f.t.Fatalf("sale token conservation broken: deposited %s, withdrawn+held %s",
			f.book.get(f.book.deposited, f.sale.Address), saleHeld)
	}
	bidHeld := new(big.Int).Set(f.book.get(f.book.withdrawn, f.bid.Address))
	for _, bidder := range st.Bidders {
		bid, ok := f.state.bids[f.addr][bidder]
		if !ok {
			f.t.Fatalf("bidder %x listed without a bid record", bidder[:1])
		}
		bidHeld.Add(bidHeld, bid.Amount)
	}
	if len(f.state.bids[f.addr]) != len(st.Bidders) {
		f.t.Fatalf("bid store holds %d records for %d bidders", len(f.state.bids[f.addr]), len(st.Bidders))
	}
	if bidHeld.Cmp(f.book.get(f.book.deposited, f.bid.Address)) != 0 {
		f.t.Fatalf("bid token conservation broken: deposited %s, withdrawn+held %s",
			f.book.get(f.book.deposited, f.bid.Address), bidHeld)
	}
}

func expectTransfer(t *testing.T, tr Transfer, endpoint ContractRef, recipient [20]byte, amount int64) {
	t.Helper()
	if tr.Endpoint != endpoint || tr.Recipient != recipient || tr.Amount.Cmp(big.NewInt(amount)) != 0 {
		t.Fatalf("unexpected transfer %+v (want %d to %x via %x)", tr, amount, recipient[:1], endpoint.Address[:1])
	}
}

func TestCreateRejectsInvalidParameters(t *testing.T) {
	engine := NewEngine()
	engine.SetState(newMockState())
	seller := newTestAddress(0x01)
	token := ContractRef{Address: newTestAddress(0x02)}
	other := ContractRef{Address: newTestAddress(0x03)}

	if _, _, err := engine.Create(CreateParams{Seller: seller, SaleContract: token, BidContract: token, Pricing: stubPricing{quote: &Quote{RequiredAmount: big.NewInt(1)}}}); !errors.Is(err, ErrSameEndpoints) {
		t.Fatalf("expected ErrSameEndpoints, got %v", err)
	}
	if _, _, err := engine.Create(CreateParams{Seller: seller, SaleContract: token, BidContract: other}); !errors.Is(err, ErrNoPricing) {
		t.Fatalf("expected ErrNoPricing, got %v", err)
	}
	cases := []stubPricing{
		{quote: nil},
		{quote: &Quote{RequiredAmount: big.NewInt(0)}},
		{quote: &Quote{RequiredAmount: big.NewInt(10), BidCeiling: big.NewInt(0)}},
		{err: errors.New("no history")},
	}
	for i, pricing := range cases {
		if _, _, err := engine.Create(CreateParams{Seller: seller, SaleContract: token, BidContract: other, Pricing: pricing}); !errors.Is(err, ErrUnusableQuote) {
			t.Fatalf("case %d: expected ErrUnusableQuote, got %v", i, err)
		}
	}

	params := CreateParams{Seller: seller, SaleContract: token, BidContract: other, Pricing: stubPricing{quote: &Quote{RequiredAmount: big.NewInt(5)}}, Nonce: 7}
	st, _, err := engine.Create(params)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if st.Address != DeriveAddress(seller, token, other, 7) {
		t.Fatalf("unexpected auction address %x", st.Address)
	}
	if _, _, err := engine.Create(params); !errors.Is(err, ErrAuctionExists) {
		t.Fatalf("expected ErrAuctionExists, got %v", err)
	}
}

func TestCreateOverridesCeilingRule(t *testing.T) {
	engine := NewEngine()
	engine.SetState(newMockState())
	below := CeilingBelow
	st, _, err := engine.Create(CreateParams{
		Seller:       newTestAddress(0x01),
		SaleContract: ContractRef{Address: newTestAddress(0x02)},
		BidContract:  ContractRef{Address: newTestAddress(0x03)},
		Pricing:      stubPricing{quote: &Quote{RequiredAmount: big.NewInt(5), Ceiling: CeilingAtMost}},
		Ceiling:      &below,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if st.Policy.Ceiling != CeilingBelow || st.BidCeiling != nil {
		t.Fatalf("unexpected policy %+v ceiling %v", st.Policy, st.BidCeiling)
	}
}

func TestConsignPartial(t *testing.T) {
	f := newFixture(t, 304, 0, CeilingAtMost, DirectionDescending)
	out := f.deposit(f.sale, f.seller, 2)
	if out.Answer.Status != StatusFailure || out.Answer.AmountNeeded.Int64() != 302 {
		t.Fatalf("unexpected answer %+v", out.Answer)
	}
	if out.Answer.AmountConsigned.Int64() != 2 || len(out.Transfers) != 0 {
		t.Fatalf("expected 2 consigned and no transfers, got %+v", out)
	}
	st := f.current()
	if st.TokensConsigned || st.CurrentlyConsigned.Int64() != 2 {
		t.Fatalf("unexpected state consigned=%v amount=%s", st.TokensConsigned, st.CurrentlyConsigned)
	}
	if st.StatusText() != StatusOpenNotConsigned {
		t.Fatalf("unexpected status %q", st.StatusText())
	}
}

func TestConsignExcessReturned(t *testing.T) {
	f := newFixture(t, 304, 0, CeilingAtMost, DirectionDescending)
	out := f.deposit(f.sale, f.seller, 310)
	if out.Answer.Status != StatusSuccess {
		t.Fatalf("expected success, got %+v", out.Answer)
	}
	if len(out.Transfers) != 1 {
		t.Fatalf("expected one excess transfer, got %d", len(out.Transfers))
	}
	expectTransfer(t, out.Transfers[0], f.sale, f.seller, 6)
	if out.Answer.AmountReturned.Int64() != 6 || out.Answer.AmountConsigned.Int64() != 304 {
		t.Fatalf("unexpected answer amounts %+v", out.Answer)
	}
	if !strings.Contains(out.Answer.Message, "Excess tokens have been returned") {
		t.Fatalf("unexpected message %q", out.Answer.Message)
	}
	st := f.current()
	if !st.TokensConsigned || st.CurrentlyConsigned.Int64() != 304 {
		t.Fatalf("expected full consignment, got %+v", st)
	}
	if st.StatusText() != StatusOpenConsigned {
		t.Fatalf("unexpected status %q", st.StatusText())
	}
}

func TestConsignCompletesAcrossDeposits(t *testing.T) {
	f := newFixture(t, 304, 0, CeilingAtMost, DirectionDescending)
	f.deposit(f.sale, f.seller, 300)
	out := f.deposit(f.sale, f.seller, 4)
	if out.Answer.Status != StatusSuccess || len(out.Transfers) != 0 {
		t.Fatalf("expected exact completion, got %+v", out)
	}
	if !f.current().TokensConsigned {
		t.Fatalf("expected tokens consigned")
	}
}

func TestConsignSoftRejectionsLeaveStateUntouched(t *testing.T) {
	f := newFixture(t, 304, 0, CeilingAtMost, DirectionDescending)
	stranger := newTestAddress(0x99)
	puts := f.state.puts
	out := f.deposit(f.sale, stranger, 50)
	if out.Answer.Status != StatusFailure || len(out.Transfers) != 1 {
		t.Fatalf("expected refund, got %+v", out)
	}
	expectTransfer(t, out.Transfers[0], f.sale, stranger, 50)
	if f.state.puts != puts {
		t.Fatalf("rejected consignment persisted state")
	}
	if !f.emitter.has(EventTypeAuctionConsignReturned) {
		t.Fatalf("expected consign_returned event")
	}

	f.deposit(f.sale, f.seller, 304)
	puts = f.state.puts
	out = f.deposit(f.sale, f.seller, 10)
	if out.Answer.Status != StatusFailure || !strings.Contains(out.Answer.Message, "already been consigned") {
		t.Fatalf("expected already-consigned refund, got %+v", out.Answer)
	}
	expectTransfer(t, out.Transfers[0], f.sale, f.seller, 10)
	if f.state.puts != puts {
		t.Fatalf("rejected consignment persisted state")
	}
}

func TestReceiveRejectsUnknownEndpoint(t *testing.T) {
	f := newFixture(t, 304, 0, CeilingAtMost, DirectionDescending)
	_, err := f.engine.Receive(f.addr, newTestAddress(0xEE), f.seller, big.NewInt(10))
	if !errors.Is(err, ErrUnknownToken) {
		t.Fatalf("expected ErrUnknownToken, got %v", err)
	}
	if _, err := f.engine.Receive(f.addr, f.sale.Address, f.seller, big.NewInt(-1)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, err := f.engine.Receive(newTestAddress(0x42), f.sale.Address, f.seller, big.NewInt(1)); !errors.Is(err, ErrAuctionNotFound) {
		t.Fatalf("expected ErrAuctionNotFound, got %v", err)
	}
}

func TestEqualBidRejectedDescending(t *testing.T) {
	f := newFixture(t, 304, 1000, CeilingAtMost, DirectionDescending)
	bidder := newTestAddress(0x21)
	first := f.deposit(f.bid, bidder, 100)
	if first.Answer.Status != StatusSuccess || len(first.Transfers) != 0 {
		t.Fatalf("expected first bid accepted, got %+v", first)
	}
	second := f.deposit(f.bid, bidder, 100)
	if second.Answer.Status != StatusFailure || len(second.Transfers) != 1 {
		t.Fatalf("expected equal bid rejected, got %+v", second)
	}
	expectTransfer(t, second.Transfers[0], f.bid, bidder, 100)
	if second.Answer.PreviousBid.Int64() != 100 || second.Answer.AmountBid.Int64() != 100 {
		t.Fatalf("unexpected answer %+v", second.Answer)
	}
	view, err := f.engine.ViewBid(f.addr, bidder)
	if err != nil {
		t.Fatalf("view bid: %v", err)
	}
	if !view.Found || view.Amount.Int64() != 100 {
		t.Fatalf("expected original bid of 100 active, got %+v", view)
	}
}

func TestImprovingBidReplacesAscending(t *testing.T) {
	f := newFixture(t, 304, 1000, CeilingAtMost, DirectionAscending)
	bidder := newTestAddress(0x21)
	f.deposit(f.bid, bidder, 100)
	f.clock += 10
	out := f.deposit(f.bid, bidder, 250)
	if out.Answer.Status != StatusSuccess || len(out.Transfers) != 1 {
		t.Fatalf("expected replacement, got %+v", out)
	}
	expectTransfer(t, out.Transfers[0], f.bid, bidder, 100)
	if !strings.HasSuffix(out.Answer.Message, "Previously bid tokens have been returned") {
		t.Fatalf("unexpected message %q", out.Answer.Message)
	}
	view, _ := f.engine.ViewBid(f.addr, bidder)
	if view.Amount.Int64() != 250 || view.Timestamp != f.clock {
		t.Fatalf("expected active bid of 250 at %d, got %+v", f.clock, view)
	}
	if !f.emitter.has(EventTypeAuctionBidReplaced) {
		t.Fatalf("expected bid_replaced event")
	}

	out = f.deposit(f.bid, bidder, 200)
	if out.Answer.Status != StatusFailure || !strings.Contains(out.Answer.Message, "less than or equal") {
		t.Fatalf("expected lower bid rejected in ascending auction, got %+v", out.Answer)
	}
}

func TestBidMonotonicityDescending(t *testing.T) {
	f := newFixture(t, 304, 1000, CeilingAtMost, DirectionDescending)
	bidder := newTestAddress(0x21)
	f.deposit(f.bid, bidder, 300)
	if out := f.deposit(f.bid, bidder, 250); out.Answer.Status != StatusSuccess {
		t.Fatalf("expected lower bid accepted, got %+v", out.Answer)
	}
	if out := f.deposit(f.bid, bidder, 260); out.Answer.Status != StatusFailure {
		t.Fatalf("expected higher bid rejected, got %+v", out.Answer)
	}
	view, _ := f.engine.ViewBid(f.addr, bidder)
	if view.Amount.Int64() != 250 {
		t.Fatalf("expected 250 active, got %s", view.Amount)
	}
}

func TestBidCeilingRules(t *testing.T) {
	atMost := newFixture(t, 304, 500, CeilingAtMost, DirectionDescending)
	if out := atMost.deposit(atMost.bid, newTestAddress(0x21), 500); out.Answer.Status != StatusSuccess {
		t.Fatalf("expected bid at ceiling accepted, got %+v", out.Answer)
	}
	out := atMost.deposit(atMost.bid, newTestAddress(0x22), 501)
	if out.Answer.Status != StatusFailure || len(out.Transfers) != 1 {
		t.Fatalf("expected bid above ceiling refunded, got %+v", out)
	}
	if atMost.current().HasBidder(newTestAddress(0x22)) {
		t.Fatalf("refunded bidder recorded")
	}

	below := newFixture(t, 304, 304, CeilingBelow, DirectionDescending)
	if out := below.deposit(below.bid, newTestAddress(0x21), 304); out.Answer.Status != StatusFailure {
		t.Fatalf("expected bid equal to strict ceiling refunded, got %+v", out.Answer)
	}
	if out := below.deposit(below.bid, newTestAddress(0x21), 303); out.Answer.Status != StatusSuccess {
		t.Fatalf("expected bid under strict ceiling accepted, got %+v", out.Answer)
	}
}

func TestZeroBidPolicies(t *testing.T) {
	f := newFixture(t, 304, 0, CeilingAtMost, DirectionDescending)
	out := f.deposit(f.bid, newTestAddress(0x21), 0)
	if out.Answer.Status != StatusFailure || len(out.Transfers) != 0 {
		t.Fatalf("expected declined zero bid without transfers, got %+v", out)
	}

	st := f.current()
	st.Policy.ZeroBid = ZeroBidReject
	_ = f.state.AuctionPut(st)
	if _, err := f.engine.Receive(f.addr, f.bid.Address, newTestAddress(0x21), big.NewInt(0)); !errors.Is(err, ErrZeroBid) {
		t.Fatalf("expected ErrZeroBid, got %v", err)
	}
	if len(f.current().Bidders) != 0 {
		t.Fatalf("zero bid recorded")
	}
}

func TestFinalizeSelectsWinnerByDirection(t *testing.T) {
	for _, tc := range []struct {
		dir    Direction
		winner byte
		amount int64
		loser  byte
		refund int64
	}{
		{dir: DirectionDescending, winner: 0x21, amount: 100, loser: 0x22, refund: 250},
		{dir: DirectionAscending, winner: 0x22, amount: 250, loser: 0x21, refund: 100},
	} {
		t.Run(tc.dir.String(), func(t *testing.T) {
			f := newFixture(t, 304, 1000, CeilingAtMost, tc.dir)
			f.deposit(f.sale, f.seller, 304)
			f.deposit(f.bid, newTestAddress(0x21), 100)
			f.clock++
			f.deposit(f.bid, newTestAddress(0x22), 250)

			out := f.finalize(false)
			if len(out.Transfers) != 3 {
				t.Fatalf("expected 3 transfers, got %+v", out.Transfers)
			}
			expectTransfer(t, out.Transfers[0], f.bid, f.seller, tc.amount)
			expectTransfer(t, out.Transfers[1], f.sale, newTestAddress(tc.winner), 304)
			expectTransfer(t, out.Transfers[2], f.bid, newTestAddress(tc.loser), tc.refund)
			if out.Answer.WinningBid.Int64() != tc.amount || out.Answer.AmountReturned != nil {
				t.Fatalf("unexpected answer %+v", out.Answer)
			}
			st := f.current()
			if !st.IsCompleted || st.WinningBid.Int64() != tc.amount || len(st.Bidders) != 0 || st.CurrentlyConsigned.Sign() != 0 {
				t.Fatalf("unexpected final state %+v", st)
			}
			if st.StatusText() != StatusClosed {
				t.Fatalf("unexpected status %q", st.StatusText())
			}
			if !f.emitter.has(EventTypeAuctionFinalized) {
				t.Fatalf("expected finalized event")
			}
		})
	}
}

func TestFinalizeTieBreakPrefersEarlierBid(t *testing.T) {
	f := newFixture(t, 10, 0, CeilingAtMost, DirectionDescending)
	f.deposit(f.sale, f.seller, 10)
	early := newTestAddress(0x50)
	late := newTestAddress(0x05)
	f.deposit(f.bid, early, 7)
	f.clock += 5
	f.deposit(f.bid, late, 7)

	out := f.finalize(false)
	expectTransfer(t, out.Transfers[1], f.sale, early, 10)
	expectTransfer(t, out.Transfers[2], f.bid, late, 7)
}

func TestFinalizeTieBreakSameTimestampUsesAddress(t *testing.T) {
	f := newFixture(t, 10, 0, CeilingAtMost, DirectionAscending)
	f.deposit(f.sale, f.seller, 10)
	high := newTestAddress(0x70)
	low := newTestAddress(0x07)
	f.deposit(f.bid, high, 9)
	f.deposit(f.bid, low, 9)

	out := f.finalize(false)
	expectTransfer(t, out.Transfers[1], f.sale, low, 10)
}

func TestFinalizeIsIdempotent(t *testing.T) {
	f := newFixture(t, 304, 1000, CeilingAtMost, DirectionDescending)
	f.deposit(f.sale, f.seller, 304)
	f.deposit(f.bid, newTestAddress(0x21), 100)
	f.finalize(false)
	puts := f.state.puts

	out := f.finalize(false)
	if len(out.Transfers) != 0 || out.Answer.WinningBid != nil {
		t.Fatalf("second finalize emitted %+v", out)
	}
	if out.Answer.Message != "Auction has been closed" {
		t.Fatalf("unexpected message %q", out.Answer.Message)
	}
	if f.state.puts != puts {
		t.Fatalf("second finalize persisted state")
	}
	if f.current().WinningBid.Int64() != 100 {
		t.Fatalf("winning bid changed")
	}
	ret, err := f.engine.ReturnAll(f.addr)
	if err != nil || len(ret.Transfers) != 0 {
		t.Fatalf("expected empty drain, got %+v (%v)", ret, err)
	}
}

func TestFinalizeUnderConsignedRefundsEveryone(t *testing.T) {
	f := newFixture(t, 304, 1000, CeilingAtMost, DirectionDescending)
	f.deposit(f.sale, f.seller, 100)
	f.deposit(f.bid, newTestAddress(0x21), 50)
	f.deposit(f.bid, newTestAddress(0x22), 60)

	out := f.finalize(false)
	if len(out.Transfers) != 3 {
		t.Fatalf("expected two bid refunds and a consignment return, got %+v", out.Transfers)
	}
	expectTransfer(t, out.Transfers[2], f.sale, f.seller, 100)
	if out.Answer.WinningBid != nil || out.Answer.AmountReturned.Int64() != 100 {
		t.Fatalf("unexpected answer %+v", out.Answer)
	}
	if !strings.HasSuffix(out.Answer.Message, "because you did not consign the full sale amount") {
		t.Fatalf("unexpected message %q", out.Answer.Message)
	}
	if f.current().WinningBid.Sign() != 0 {
		t.Fatalf("winning bid recorded without a winner")
	}
}

func TestFinalizeNoBidsReturnsConsignment(t *testing.T) {
	f := newFixture(t, 304, 0, CeilingAtMost, DirectionDescending)
	f.deposit(f.sale, f.seller, 304)
	out := f.finalize(false)
	expectTransfer(t, out.Transfers[0], f.sale, f.seller, 304)
	if !strings.HasSuffix(out.Answer.Message, "because there were no active bids") {
		t.Fatalf("unexpected message %q", out.Answer.Message)
	}
}

func TestFinalizeHardRejections(t *testing.T) {
	f := newFixture(t, 304, 0, CeilingAtMost, DirectionDescending)
	puts := f.state.puts
	if _, err := f.engine.Finalize(f.addr, newTestAddress(0x99), false); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := f.engine.Finalize(f.addr, f.seller, true); !errors.Is(err, ErrNoActiveBids) {
		t.Fatalf("expected ErrNoActiveBids, got %v", err)
	}
	if _, err := f.engine.ReturnAll(f.addr); !errors.Is(err, ErrNotCompleted) {
		t.Fatalf("expected ErrNotCompleted, got %v", err)
	}
	if f.state.puts != puts || f.current().IsCompleted {
		t.Fatalf("hard rejection mutated state")
	}
}

func TestBidAfterCompletionRefunded(t *testing.T) {
	f := newFixture(t, 304, 0, CeilingAtMost, DirectionDescending)
	f.finalize(false)
	out := f.deposit(f.bid, newTestAddress(0x21), 40)
	if out.Answer.Status != StatusFailure || !strings.Contains(out.Answer.Message, "Auction has ended") {
		t.Fatalf("unexpected answer %+v", out.Answer)
	}
	expectTransfer(t, out.Transfers[0], f.bid, newTestAddress(0x21), 40)
	out = f.deposit(f.sale, f.seller, 40)
	if out.Answer.Status != StatusFailure || len(out.Transfers) != 1 {
		t.Fatalf("expected consignment refund after completion, got %+v", out)
	}
}

func TestReturnAllDrainsResidue(t *testing.T) {
	f := newFixture(t, 304, 0, CeilingAtMost, DirectionDescending)
	f.deposit(f.sale, f.seller, 304)
	stranded := newTestAddress(0x21)
	f.deposit(f.bid, stranded, 90)

	// Simulate residue left behind by an interrupted settlement.
	st := f.current()
	st.IsCompleted = true
	_ = f.state.AuctionPut(st)
	if got := f.current().StatusText(); got != StatusClosedWithFunds {
		t.Fatalf("unexpected status %q", got)
	}

	out, err := f.engine.ReturnAll(f.addr)
	if err != nil {
		t.Fatalf("return all: %v", err)
	}
	f.record(out)
	if len(out.Transfers) != 2 {
		t.Fatalf("expected two drain transfers, got %+v", out.Transfers)
	}
	expectTransfer(t, out.Transfers[0], f.bid, stranded, 90)
	expectTransfer(t, out.Transfers[1], f.sale, f.seller, 304)
	if out.Answer.Message != "Outstanding funds have been returned" || out.Answer.AmountReturned != nil {
		t.Fatalf("unexpected answer %+v", out.Answer)
	}
	if f.current().StatusText() != StatusClosed {
		t.Fatalf("expected clean closure")
	}
	if !f.emitter.has(EventTypeAuctionFundsReturned) {
		t.Fatalf("expected funds_returned event")
	}
}

func TestFinalizeDropsBidderWithoutRecord(t *testing.T) {
	f := newFixture(t, 10, 0, CeilingAtMost, DirectionDescending)
	f.deposit(f.sale, f.seller, 10)
	ghost := newTestAddress(0x33)
	st := f.current()
	st.addBidder(ghost)
	_ = f.state.AuctionPut(st)

	out, err := f.engine.Finalize(f.addr, f.seller, false)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if len(out.Transfers) != 1 || out.Answer.WinningBid != nil {
		t.Fatalf("expected only the consignment return, got %+v", out)
	}
	if f.current().HasBidder(ghost) {
		t.Fatalf("ghost bidder kept")
	}
}

func TestViewBidAndInfo(t *testing.T) {
	f := newFixture(t, 304, 400, CeilingAtMost, DirectionDescending)
	bidder := newTestAddress(0x21)
	view, err := f.engine.ViewBid(f.addr, bidder)
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if view.Found || !strings.HasPrefix(view.Message, "No active bid for address: 0x") {
		t.Fatalf("unexpected empty view %+v", view)
	}
	f.deposit(f.bid, bidder, 120)
	view, _ = f.engine.ViewBid(f.addr, bidder)
	if !view.Found || view.Message != "Bid placed 2023-11-14 22:13:20 UTC" {
		t.Fatalf("unexpected view %+v", view)
	}

	info, err := f.engine.Info(f.addr, nil)
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if info.StatusText != StatusOpenNotConsigned || info.RequiredAmount.Int64() != 304 || info.BidCeiling.Int64() != 400 {
		t.Fatalf("unexpected info %+v", info)
	}
	if info.WinningBid != nil || info.Description != "test lot" || info.ActiveBids != 1 || info.SaleToken.Info != nil {
		t.Fatalf("unexpected info details %+v", info)
	}
}

type staticQuerier map[[20]byte]TokenInfo

func (q staticQuerier) TokenInfo(token [20]byte) (TokenInfo, error) {
	info, ok := q[token]
	if !ok {
		return TokenInfo{}, errors.New("unknown token")
	}
	return info, nil
}

func TestInfoQueriesTokens(t *testing.T) {
	f := newFixture(t, 304, 0, CeilingAtMost, DirectionDescending)
	q := staticQuerier{
		f.sale.Address: {Name: "Sale", Symbol: "SALE", Decimals: 6, TotalSupply: big.NewInt(1000)},
		f.bid.Address:  {Name: "Bid", Symbol: "BID", Decimals: 6, TotalSupply: big.NewInt(1000)},
	}
	info, err := f.engine.Info(f.addr, q)
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if info.SaleToken.Info.Symbol != "SALE" || info.BidToken.Info.Symbol != "BID" {
		t.Fatalf("unexpected token info %+v %+v", info.SaleToken, info.BidToken)
	}
	delete(q, f.bid.Address)
	if _, err := f.engine.Info(f.addr, q); err == nil {
		t.Fatalf("expected token query error")
	}
}

func TestConservationUnderRandomSequences(t *testing.T) {
	for _, dir := range []Direction{DirectionDescending, DirectionAscending} {
		rng := rand.New(rand.NewSource(42))
		f := newFixture(t, 500, 400, CeilingAtMost, dir)
		bidders := [][20]byte{newTestAddress(0x21), newTestAddress(0x22), newTestAddress(0x23), newTestAddress(0x24)}
		for step := 0; step < 300; step++ {
			f.clock += int64(rng.Intn(3))
			switch rng.Intn(5) {
			case 0:
				f.deposit(f.sale, f.seller, int64(rng.Intn(200)))
			case 1:
				f.deposit(f.sale, bidders[rng.Intn(len(bidders))], int64(rng.Intn(50)+1))
			default:
				f.deposit(f.bid, bidders[rng.Intn(len(bidders))], int64(rng.Intn(450)))
			}
		}
		out := f.finalize(false)
		st := f.current()
		if !st.IsCompleted || len(st.Bidders) != 0 || st.CurrentlyConsigned.Sign() != 0 {
			t.Fatalf("%s: escrow not drained: %+v", dir, st)
		}
		if st.TokensConsigned != (out.Answer.WinningBid != nil) {
			t.Fatalf("%s: winner selection inconsistent with consignment", dir)
		}
	}
}
