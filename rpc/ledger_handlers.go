package rpc

import (
	"context"

	"escrowauction/native/auction"
)

const defaultJournalLimit = 100

type ledgerSendParams struct {
	Token  string `json:"token"`
	From   string `json:"from"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

type ledgerSendResult struct {
	Token   string       `json:"token"`
	From    string       `json:"from"`
	To      string       `json:"to"`
	Amount  string       `json:"amount"`
	Auction string       `json:"auction,omitempty"`
	Outcome *outcomeJSON `json:"outcome,omitempty"`
}

type ledgerBalanceParams struct {
	Token  string `json:"token"`
	Holder string `json:"holder"`
}

type ledgerMintParams struct {
	Caller string `json:"caller"`
	Token  string `json:"token"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

type ledgerJournalParams struct {
	Auction string `json:"auction,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

// handleLedgerSend is how bidders and sellers reach an auction: sending sale
// tokens consigns, sending bid tokens places a bid.
func (s *Server) handleLedgerSend(ctx context.Context, caller callerInfo, req *RPCRequest) (interface{}, *RPCError) {
	var params ledgerSendParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	token, rpcErr := parseAddressParam(params.Token, "token")
	if rpcErr != nil {
		return nil, rpcErr
	}
	from, rpcErr := actingAddress(caller, params.From, "from")
	if rpcErr != nil {
		return nil, rpcErr
	}
	to, rpcErr := parseAddressParam(params.To, "to")
	if rpcErr != nil {
		return nil, rpcErr
	}
	amount, rpcErr := parseAmountParam(params.Amount, "amount", true)
	if rpcErr != nil {
		return nil, rpcErr
	}
	result, err := s.host.Send(ctx, token, from, to, amount)
	if err != nil {
		return nil, toRPCError(err)
	}
	out := ledgerSendResult{
		Token:  auction.FormatAddress(token),
		From:   auction.FormatAddress(from),
		To:     auction.FormatAddress(to),
		Amount: amount.String(),
	}
	if result.Deposit != nil {
		out.Auction = auction.FormatAddress(result.Deposit.Receiver)
		out.Outcome = formatOutcome(result.Outcome)
	}
	return out, nil
}

func (s *Server) handleLedgerBalance(_ context.Context, _ callerInfo, req *RPCRequest) (interface{}, *RPCError) {
	var params ledgerBalanceParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	token, rpcErr := parseAddressParam(params.Token, "token")
	if rpcErr != nil {
		return nil, rpcErr
	}
	holder, rpcErr := parseAddressParam(params.Holder, "holder")
	if rpcErr != nil {
		return nil, rpcErr
	}
	balance, err := s.host.Balance(token, holder)
	if err != nil {
		return nil, toRPCError(err)
	}
	return map[string]string{
		"token":   auction.FormatAddress(token),
		"holder":  auction.FormatAddress(holder),
		"balance": amountString(balance),
	}, nil
}

func (s *Server) handleLedgerMint(ctx context.Context, caller callerInfo, req *RPCRequest) (interface{}, *RPCError) {
	var params ledgerMintParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	from, rpcErr := actingAddress(caller, params.Caller, "caller")
	if rpcErr != nil {
		return nil, rpcErr
	}
	token, rpcErr := parseAddressParam(params.Token, "token")
	if rpcErr != nil {
		return nil, rpcErr
	}
	to, rpcErr := parseAddressParam(params.To, "to")
	if rpcErr != nil {
		return nil, rpcErr
	}
	amount, rpcErr := parseAmountParam(params.Amount, "amount", false)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.host.Mint(ctx, from, token, to, amount); err != nil {
		return nil, toRPCError(err)
	}
	balance, err := s.host.Balance(token, to)
	if err != nil {
		return nil, toRPCError(err)
	}
	return map[string]string{
		"token":   auction.FormatAddress(token),
		"holder":  auction.FormatAddress(to),
		"balance": amountString(balance),
	}, nil
}

func (s *Server) handleLedgerTokens(_ context.Context, _ callerInfo, _ *RPCRequest) (interface{}, *RPCError) {
	tokens, err := s.host.Tokens()
	if err != nil {
		return nil, toRPCError(err)
	}
	out := make([]tokenJSON, 0, len(tokens))
	for _, tok := range tokens {
		out = append(out, formatToken(tok))
	}
	return out, nil
}

func (s *Server) handleLedgerJournal(ctx context.Context, _ callerInfo, req *RPCRequest) (interface{}, *RPCError) {
	journal := s.host.Journal()
	if journal == nil {
		return nil, &RPCError{Code: codeServerError, Message: "journal not configured"}
	}
	var params ledgerJournalParams
	if len(req.Params) > 0 {
		if rpcErr := decodeParams(req, &params); rpcErr != nil {
			return nil, rpcErr
		}
	}
	filter := ""
	if params.Auction != "" {
		addr, rpcErr := parseAddressParam(params.Auction, "auction")
		if rpcErr != nil {
			return nil, rpcErr
		}
		filter = auction.FormatAddress(addr)
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultJournalLimit
	}
	entries, err := journal.List(ctx, filter, limit)
	if err != nil {
		return nil, toRPCError(err)
	}
	out := make([]journalEntryJSON, 0, len(entries))
	for _, entry := range entries {
		out = append(out, journalEntryJSON{
			ID:        entry.ID.String(),
			Kind:      entry.Kind,
			Auction:   entry.Auction,
			Token:     entry.Token,
			From:      entry.From,
			To:        entry.To,
			Amount:    entry.Amount,
			RequestID: entry.RequestID,
			CreatedAt: entry.CreatedAt.Unix(),
		})
	}
	return out, nil
}
