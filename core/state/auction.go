package state

import (
	"fmt"
	"math/big"

	"escrowauction/native/auction"
)

func auctionStateKey(addr [20]byte) []byte {
	return prefixedKey(auctionStatePrefix, addr[:])
}

func auctionBidKey(addr, bidder [20]byte) []byte {
	return prefixedKey(auctionBidPrefix, addr[:], bidder[:])
}

type storedContractRef struct {
	CodeHash string
	Address  [20]byte
}

type storedAuction struct {
	Address            [20]byte
	Seller             [20]byte
	SaleContract       storedContractRef
	BidContract        storedContractRef
	RequiredAmount     *big.Int
	HasCeiling         bool
	BidCeiling         *big.Int
	CurrentlyConsigned *big.Int
	TokensConsigned    bool
	Bidders            [][20]byte
	IsCompleted        bool
	WinningBid         *big.Int
	Description        string
	Direction          uint8
	CeilingRule        uint8
	ZeroBid            uint8
	Nonce              uint64
	CreatedAt          *big.Int
}

func newStoredAuction(s *auction.State) *storedAuction {
	out := &storedAuction{
		Address:            s.Address,
		Seller:             s.Seller,
		SaleContract:       storedContractRef{CodeHash: s.SaleContract.CodeHash, Address: s.SaleContract.Address},
		BidContract:        storedContractRef{CodeHash: s.BidContract.CodeHash, Address: s.BidContract.Address},
		RequiredAmount:     nonNil(s.RequiredAmount),
		BidCeiling:         big.NewInt(0),
		CurrentlyConsigned: nonNil(s.CurrentlyConsigned),
		TokensConsigned:    s.TokensConsigned,
		Bidders:            append([][20]byte{}, s.Bidders...),
		IsCompleted:        s.IsCompleted,
		WinningBid:         nonNil(s.WinningBid),
		Description:        s.Description,
		Direction:          uint8(s.Policy.Direction),
		CeilingRule:        uint8(s.Policy.Ceiling),
		ZeroBid:            uint8(s.Policy.ZeroBid),
		Nonce:              s.Nonce,
		CreatedAt:          big.NewInt(s.CreatedAt),
	}
	if s.BidCeiling != nil {
		out.HasCeiling = true
		out.BidCeiling = new(big.Int).Set(s.BidCeiling)
	}
	return out
}

func (s *storedAuction) toState() *auction.State {
	out := &auction.State{
		Address:            s.Address,
		Seller:             s.Seller,
		SaleContract:       auction.ContractRef{CodeHash: s.SaleContract.CodeHash, Address: s.SaleContract.Address},
		BidContract:        auction.ContractRef{CodeHash: s.BidContract.CodeHash, Address: s.BidContract.Address},
		RequiredAmount:     nonNil(s.RequiredAmount),
		CurrentlyConsigned: nonNil(s.CurrentlyConsigned),
		TokensConsigned:    s.TokensConsigned,
		IsCompleted:        s.IsCompleted,
		WinningBid:         nonNil(s.WinningBid),
		Description:        s.Description,
		Policy: auction.Policy{
			Direction: auction.Direction(s.Direction),
			Ceiling:   auction.CeilingRule(s.CeilingRule),
			ZeroBid:   auction.ZeroBidPolicy(s.ZeroBid),
		},
		Nonce: s.Nonce,
	}
	if len(s.Bidders) > 0 {
		out.Bidders = append([][20]byte(nil), s.Bidders...)
	}
	if s.HasCeiling {
		out.BidCeiling = nonNil(s.BidCeiling)
	}
	if s.CreatedAt != nil {
		out.CreatedAt = s.CreatedAt.Int64()
	}
	return out
}

type storedBid struct {
	Amount    *big.Int
	Timestamp *big.Int
}

func nonNil(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// AuctionGet loads the auction state stored at addr.
func (tx *Tx) AuctionGet(addr [20]byte) (*auction.State, bool, error) {
	var stored storedAuction
	ok, err := tx.KVGet(auctionStateKey(addr), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return stored.toState(), true, nil
}

// AuctionPut persists the auction state. New auctions are appended to the
// auction index.
func (tx *Tx) AuctionPut(s *auction.State) error {
	if s == nil {
		return fmt.Errorf("auction: nil state")
	}
	key := auctionStateKey(s.Address)
	exists, err := tx.KVGet(key, nil)
	if err != nil {
		return err
	}
	if err := tx.KVPut(key, newStoredAuction(s)); err != nil {
		return err
	}
	if exists {
		return nil
	}
	index, err := tx.AuctionList()
	if err != nil {
		return err
	}
	index = append(index, s.Address)
	return tx.KVPut(auctionIndexKey, index)
}

// AuctionList returns every auction address in creation order.
func (tx *Tx) AuctionList() ([][20]byte, error) {
	var index [][20]byte
	if _, err := tx.KVGet(auctionIndexKey, &index); err != nil {
		return nil, err
	}
	return index, nil
}

// AuctionBidGet loads the bid record of bidder in the auction at addr.
func (tx *Tx) AuctionBidGet(addr, bidder [20]byte) (*auction.Bid, bool, error) {
	var stored storedBid
	ok, err := tx.KVGet(auctionBidKey(addr, bidder), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	bid := &auction.Bid{Amount: nonNil(stored.Amount)}
	if stored.Timestamp != nil {
		bid.Timestamp = stored.Timestamp.Int64()
	}
	return bid, true, nil
}

// AuctionBidPut creates or overwrites the bid record of bidder.
func (tx *Tx) AuctionBidPut(addr, bidder [20]byte, bid *auction.Bid) error {
	if bid == nil {
		return fmt.Errorf("auction: nil bid")
	}
	return tx.KVPut(auctionBidKey(addr, bidder), &storedBid{
		Amount:    nonNil(bid.Amount),
		Timestamp: big.NewInt(bid.Timestamp),
	})
}

// AuctionBidDelete removes the bid record of bidder.
func (tx *Tx) AuctionBidDelete(addr, bidder [20]byte) error {
	return tx.KVDelete(auctionBidKey(addr, bidder))
}
