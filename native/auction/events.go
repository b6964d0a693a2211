package auction

import (
	"math/big"
	"strconv"

	"escrowauction/core/types"
)

const (
	EventTypeAuctionCreated         = "auction.created"
	EventTypeAuctionConsigned       = "auction.consigned"
	EventTypeAuctionConsignReturned = "auction.consign_returned"
	EventTypeAuctionBidPlaced       = "auction.bid_placed"
	EventTypeAuctionBidReplaced     = "auction.bid_replaced"
	EventTypeAuctionBidReturned     = "auction.bid_returned"
	EventTypeAuctionFinalized       = "auction.finalized"
	EventTypeAuctionFundsReturned   = "auction.funds_returned"
)

// NewCreatedEvent returns the canonical payload for a newly created auction.
func NewCreatedEvent(s *State) *types.Event {
	evt := newAuctionEvent(EventTypeAuctionCreated, s)
	if s != nil {
		evt.Attributes["saleToken"] = FormatAddress(s.SaleContract.Address)
		evt.Attributes["bidToken"] = FormatAddress(s.BidContract.Address)
		evt.Attributes["requiredAmount"] = formatAmount(s.RequiredAmount)
		evt.Attributes["bidCeiling"] = formatAmount(s.BidCeiling)
		evt.Attributes["direction"] = s.Policy.Direction.String()
		evt.Attributes["ceilingRule"] = s.Policy.Ceiling.String()
	}
	return evt
}

// NewConsignedEvent is emitted when sale tokens are accepted into escrow,
// whether or not the required amount has been reached.
func NewConsignedEvent(s *State, depositor [20]byte, amount, excess *big.Int) *types.Event {
	evt := newAuctionEvent(EventTypeAuctionConsigned, s)
	evt.Attributes["depositor"] = FormatAddress(depositor)
	evt.Attributes["amount"] = formatAmount(amount)
	if s != nil {
		evt.Attributes["consigned"] = formatAmount(s.CurrentlyConsigned)
		evt.Attributes["tokensConsigned"] = strconv.FormatBool(s.TokensConsigned)
	}
	if positive(excess) {
		evt.Attributes["returned"] = formatAmount(excess)
	}
	return evt
}

// NewConsignReturnedEvent is emitted when a consignment is refunded in full.
func NewConsignReturnedEvent(s *State, depositor [20]byte, amount *big.Int, reason string) *types.Event {
	evt := newAuctionEvent(EventTypeAuctionConsignReturned, s)
	evt.Attributes["depositor"] = FormatAddress(depositor)
	evt.Attributes["amount"] = formatAmount(amount)
	evt.Attributes["reason"] = reason
	return evt
}

// NewBidPlacedEvent is emitted for a bidder's first active bid.
func NewBidPlacedEvent(s *State, bidder [20]byte, bid *Bid) *types.Event {
	evt := newAuctionEvent(EventTypeAuctionBidPlaced, s)
	evt.Attributes["bidder"] = FormatAddress(bidder)
	if bid != nil {
		evt.Attributes["amount"] = formatAmount(bid.Amount)
		evt.Attributes["timestamp"] = strconv.FormatInt(bid.Timestamp, 10)
	}
	return evt
}

// NewBidReplacedEvent is emitted when an improving bid supersedes the old one.
func NewBidReplacedEvent(s *State, bidder [20]byte, bid *Bid, previous *big.Int) *types.Event {
	evt := NewBidPlacedEvent(s, bidder, bid)
	evt.Type = EventTypeAuctionBidReplaced
	evt.Attributes["previous"] = formatAmount(previous)
	return evt
}

// NewBidReturnedEvent is emitted when a bid deposit is refunded in full.
func NewBidReturnedEvent(s *State, bidder [20]byte, amount *big.Int, reason string) *types.Event {
	evt := newAuctionEvent(EventTypeAuctionBidReturned, s)
	evt.Attributes["bidder"] = FormatAddress(bidder)
	evt.Attributes["amount"] = formatAmount(amount)
	evt.Attributes["reason"] = reason
	return evt
}

// NewFinalizedEvent is emitted by the closing finalize.
func NewFinalizedEvent(s *State, winner *[20]byte, transfers int) *types.Event {
	evt := newAuctionEvent(EventTypeAuctionFinalized, s)
	if winner != nil {
		evt.Attributes["winner"] = FormatAddress(*winner)
	}
	if s != nil && positive(s.WinningBid) {
		evt.Attributes["winningBid"] = formatAmount(s.WinningBid)
	}
	evt.Attributes["transfers"] = strconv.Itoa(transfers)
	return evt
}

// NewFundsReturnedEvent is emitted when a call against a completed auction
// drained residual escrow.
func NewFundsReturnedEvent(s *State, transfers int) *types.Event {
	evt := newAuctionEvent(EventTypeAuctionFundsReturned, s)
	evt.Attributes["transfers"] = strconv.Itoa(transfers)
	return evt
}

func newAuctionEvent(eventType string, s *State) *types.Event {
	attrs := make(map[string]string)
	if s == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["auction"] = FormatAddress(s.Address)
	attrs["seller"] = FormatAddress(s.Seller)
	return &types.Event{Type: eventType, Attributes: attrs}
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
