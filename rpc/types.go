package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"escrowauction/core"
	"escrowauction/native/auction"
	"escrowauction/native/ledger"
	"escrowauction/native/oracle"
)

// answerJSON is the wire form of an auction answer. Optional amounts are
// omitted when the command did not produce them.
type answerJSON struct {
	Kind            string  `json:"kind"`
	Status          string  `json:"status"`
	Message         string  `json:"message"`
	AmountConsigned *string `json:"amountConsigned,omitempty"`
	AmountNeeded    *string `json:"amountNeeded,omitempty"`
	AmountReturned  *string `json:"amountReturned,omitempty"`
	PreviousBid     *string `json:"previousBid,omitempty"`
	AmountBid       *string `json:"amountBid,omitempty"`
	WinningBid      *string `json:"winningBid,omitempty"`
}

type transferJSON struct {
	Token     string `json:"token"`
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
}

type outcomeJSON struct {
	Answer    answerJSON     `json:"answer"`
	Transfers []transferJSON `json:"transfers"`
}

type tokenJSON struct {
	Address     string `json:"address"`
	CodeHash    string `json:"codeHash"`
	Name        string `json:"name,omitempty"`
	Symbol      string `json:"symbol,omitempty"`
	Decimals    uint8  `json:"decimals"`
	TotalSupply string `json:"totalSupply,omitempty"`
}

type policyJSON struct {
	Direction string `json:"direction"`
	Ceiling   string `json:"ceiling"`
	ZeroBid   string `json:"zeroBid"`
}

type auctionJSON struct {
	Address            string     `json:"address"`
	Seller             string     `json:"seller"`
	SaleToken          tokenJSON  `json:"saleToken"`
	BidToken           tokenJSON  `json:"bidToken"`
	RequiredAmount     string     `json:"requiredAmount"`
	BidCeiling         *string    `json:"bidCeiling,omitempty"`
	CurrentlyConsigned string     `json:"currentlyConsigned"`
	Description        string     `json:"description,omitempty"`
	Status             string     `json:"status"`
	WinningBid         *string    `json:"winningBid,omitempty"`
	ActiveBids         int        `json:"activeBids"`
	Policy             policyJSON `json:"policy"`
	CreatedAt          int64      `json:"createdAt"`
}

type bidViewJSON struct {
	Found     bool    `json:"found"`
	Amount    *string `json:"amount,omitempty"`
	Timestamp int64   `json:"timestamp,omitempty"`
	Message   string  `json:"message"`
}

type creditJSON struct {
	Sum          string `json:"sum"`
	InterestRate string `json:"interestRate"`
	Time         string `json:"time"`
	IsClosed     bool   `json:"isClosed"`
}

type historyJSON struct {
	Debts   *string      `json:"debts,omitempty"`
	Credits []creditJSON `json:"credits"`
}

type historyLookupJSON struct {
	Found   bool         `json:"found"`
	Message string       `json:"message,omitempty"`
	History *historyJSON `json:"history,omitempty"`
}

type journalEntryJSON struct {
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	Auction   string `json:"auction,omitempty"`
	Token     string `json:"token"`
	From      string `json:"from,omitempty"`
	To        string `json:"to"`
	Amount    string `json:"amount"`
	RequestID string `json:"requestId,omitempty"`
	CreatedAt int64  `json:"createdAt"`
}

func optionalAmount(v *big.Int) *string {
	if v == nil {
		return nil
	}
	s := v.String()
	return &s
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func formatAnswer(a auction.Answer) answerJSON {
	return answerJSON{
		Kind:            string(a.Kind),
		Status:          string(a.Status),
		Message:         a.Message,
		AmountConsigned: optionalAmount(a.AmountConsigned),
		AmountNeeded:    optionalAmount(a.AmountNeeded),
		AmountReturned:  optionalAmount(a.AmountReturned),
		PreviousBid:     optionalAmount(a.PreviousBid),
		AmountBid:       optionalAmount(a.AmountBid),
		WinningBid:      optionalAmount(a.WinningBid),
	}
}

func formatOutcome(out *auction.Outcome) *outcomeJSON {
	if out == nil {
		return nil
	}
	result := &outcomeJSON{Answer: formatAnswer(out.Answer), Transfers: make([]transferJSON, 0, len(out.Transfers))}
	for _, tr := range out.Transfers {
		result.Transfers = append(result.Transfers, transferJSON{
			Token:     auction.FormatAddress(tr.Endpoint.Address),
			Recipient: auction.FormatAddress(tr.Recipient),
			Amount:    amountString(tr.Amount),
		})
	}
	return result
}

func formatTokenDetails(d auction.TokenDetails) tokenJSON {
	out := tokenJSON{Address: auction.FormatAddress(d.Contract.Address), CodeHash: d.Contract.CodeHash}
	if d.Info != nil {
		out.Name = d.Info.Name
		out.Symbol = d.Info.Symbol
		out.Decimals = d.Info.Decimals
		out.TotalSupply = amountString(d.Info.TotalSupply)
	}
	return out
}

func formatToken(tok *ledger.Token) tokenJSON {
	return tokenJSON{
		Address:     auction.FormatAddress(tok.Address),
		CodeHash:    tok.CodeHash,
		Name:        tok.Name,
		Symbol:      tok.Symbol,
		Decimals:    tok.Decimals,
		TotalSupply: amountString(tok.TotalSupply),
	}
}

func formatAuction(info *auction.Info) auctionJSON {
	out := auctionJSON{
		Address:            auction.FormatAddress(info.Address),
		Seller:             auction.FormatAddress(info.Seller),
		SaleToken:          formatTokenDetails(info.SaleToken),
		BidToken:           formatTokenDetails(info.BidToken),
		RequiredAmount:     amountString(info.RequiredAmount),
		BidCeiling:         optionalAmount(info.BidCeiling),
		CurrentlyConsigned: amountString(info.CurrentlyConsigned),
		Description:        info.Description,
		Status:             info.StatusText,
		ActiveBids:         info.ActiveBids,
		Policy: policyJSON{
			Direction: info.Policy.Direction.String(),
			Ceiling:   info.Policy.Ceiling.String(),
			ZeroBid:   info.Policy.ZeroBid.String(),
		},
		CreatedAt: info.CreatedAt,
	}
	if info.WinningBid != nil && info.WinningBid.Sign() > 0 {
		out.WinningBid = optionalAmount(info.WinningBid)
	}
	return out
}

func formatHistory(h *oracle.History) *historyJSON {
	if h == nil {
		return nil
	}
	out := &historyJSON{Debts: optionalAmount(h.Debts), Credits: make([]creditJSON, 0, len(h.Credits))}
	for _, c := range h.Credits {
		out.Credits = append(out.Credits, creditJSON{
			Sum:          amountString(c.Sum),
			InterestRate: amountString(c.InterestRate),
			Time:         amountString(c.Time),
			IsClosed:     c.IsClosed,
		})
	}
	return out
}

func parseHistory(raw historyJSON) (*oracle.History, error) {
	h := &oracle.History{Credits: make([]oracle.Credit, 0, len(raw.Credits))}
	if raw.Debts != nil {
		debts, err := parseAmount(*raw.Debts, "debts", true)
		if err != nil {
			return nil, err
		}
		h.Debts = debts
	}
	for i, c := range raw.Credits {
		sum, err := parseAmount(c.Sum, fmt.Sprintf("credits[%d].sum", i), true)
		if err != nil {
			return nil, err
		}
		rate, err := parseAmount(c.InterestRate, fmt.Sprintf("credits[%d].interestRate", i), true)
		if err != nil {
			return nil, err
		}
		term, err := parseAmount(c.Time, fmt.Sprintf("credits[%d].time", i), true)
		if err != nil {
			return nil, err
		}
		h.Credits = append(h.Credits, oracle.Credit{Sum: sum, InterestRate: rate, Time: term, IsClosed: c.IsClosed})
	}
	return h, nil
}

// decodeParams unmarshals the single object parameter of req into dst.
func decodeParams(req *RPCRequest, dst interface{}) *RPCError {
	if len(req.Params) != 1 {
		return &RPCError{Code: codeInvalidParams, Message: "expected a single parameter object"}
	}
	if err := json.Unmarshal(req.Params[0], dst); err != nil {
		return &RPCError{Code: codeInvalidParams, Message: "invalid parameter object", Data: err.Error()}
	}
	return nil
}

func parseAddressParam(raw, field string) ([20]byte, *RPCError) {
	if strings.TrimSpace(raw) == "" {
		return [20]byte{}, &RPCError{Code: codeInvalidParams, Message: fmt.Sprintf("%s is required", field)}
	}
	addr, err := auction.ParseAddress(raw)
	if err != nil {
		return [20]byte{}, &RPCError{Code: codeInvalidParams, Message: fmt.Sprintf("invalid %s", field), Data: err.Error()}
	}
	return addr, nil
}

// parseAmount parses a base-10 integer. Zero is only accepted when allowZero
// is set; negative values are always rejected.
func parseAmount(raw, field string, allowZero bool) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("%s is required", field)
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid %s: %q", field, raw)
	}
	if value.Sign() < 0 || (!allowZero && value.Sign() == 0) {
		return nil, fmt.Errorf("%s must not be negative", field)
	}
	return value, nil
}

func parseAmountParam(raw, field string, allowZero bool) (*big.Int, *RPCError) {
	value, err := parseAmount(raw, field, allowZero)
	if err != nil {
		return nil, &RPCError{Code: codeInvalidParams, Message: err.Error()}
	}
	return value, nil
}

// toRPCError maps host and engine errors onto JSON-RPC error codes.
func toRPCError(err error) *RPCError {
	if err == nil {
		return nil
	}
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	code := codeServerError
	switch {
	case errors.Is(err, auction.ErrAuctionNotFound):
		code = codeAuctionNotFound
	case errors.Is(err, auction.ErrUnauthorized),
		errors.Is(err, oracle.ErrUnauthorized),
		errors.Is(err, core.ErrUnauthorized),
		errors.Is(err, core.ErrEscrowSender):
		code = codeAuctionForbidden
	case errors.Is(err, auction.ErrNotCompleted),
		errors.Is(err, auction.ErrNoActiveBids),
		errors.Is(err, auction.ErrAuctionExists),
		errors.Is(err, auction.ErrZeroBid),
		errors.Is(err, auction.ErrUnknownToken),
		errors.Is(err, ledger.ErrInsufficientBalance),
		errors.Is(err, ledger.ErrTokenExists),
		errors.Is(err, ledger.ErrCodeHashMismatch):
		code = codeAuctionConflict
	case errors.Is(err, auction.ErrSameEndpoints),
		errors.Is(err, auction.ErrUnusableQuote),
		errors.Is(err, auction.ErrNoPricing),
		errors.Is(err, auction.ErrInvalidAmount),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrTokenNotFound),
		errors.Is(err, core.ErrUnknownPricing),
		errors.Is(err, oracle.ErrInvalidHistory):
		code = codeInvalidParams
	}
	return &RPCError{Code: code, Message: err.Error()}
}
