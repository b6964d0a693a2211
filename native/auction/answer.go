package auction

import "math/big"

// ResponseStatus reports whether a command achieved what the caller asked.
// A failure status is not an error: deposits are still accounted for through
// the accompanying transfers.
type ResponseStatus string

const (
	StatusSuccess ResponseStatus = "success"
	StatusFailure ResponseStatus = "failure"
)

// AnswerKind names the command that produced an Answer.
type AnswerKind string

const (
	KindConsign AnswerKind = "consign"
	KindBid     AnswerKind = "bid"
	KindClose   AnswerKind = "close"
)

// Answer is the structured response of a state-changing command. Optional
// amounts are nil when not applicable.
type Answer struct {
	Kind            AnswerKind
	Status          ResponseStatus
	Message         string
	AmountConsigned *big.Int
	AmountNeeded    *big.Int
	AmountReturned  *big.Int
	PreviousBid     *big.Int
	AmountBid       *big.Int
	WinningBid      *big.Int
}

// Outcome pairs the answer with the outbound transfers the host must dispatch
// atomically with the state commit.
type Outcome struct {
	Answer    Answer
	Transfers []Transfer
}

// BidView is the answer to a ViewBid query.
type BidView struct {
	Found     bool
	Amount    *big.Int
	Timestamp int64
	Message   string
}

// TokenDetails pairs an endpoint with its queried metadata. Info is nil when
// no querier was supplied.
type TokenDetails struct {
	Contract ContractRef
	Info     *TokenInfo
}

// Info is the answer to an AuctionInfo query.
type Info struct {
	Address            [20]byte
	Seller             [20]byte
	SaleToken          TokenDetails
	BidToken           TokenDetails
	RequiredAmount     *big.Int
	BidCeiling         *big.Int
	CurrentlyConsigned *big.Int
	Description        string
	StatusText         string
	WinningBid         *big.Int
	ActiveBids         int
	Policy             Policy
	CreatedAt          int64
}
