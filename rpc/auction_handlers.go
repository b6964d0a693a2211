package rpc

import (
	"context"
	"strings"

	"escrowauction/core"
	"escrowauction/native/auction"
)

type pricingParams struct {
	Mode     string       `json:"mode"`
	Payment  string       `json:"payment,omitempty"`
	Expected string       `json:"expected,omitempty"`
	Credits  []creditJSON `json:"credits,omitempty"`
}

type auctionCreateParams struct {
	Seller      string        `json:"seller"`
	SaleToken   string        `json:"saleToken"`
	BidToken    string        `json:"bidToken"`
	Description string        `json:"description,omitempty"`
	Direction   string        `json:"direction,omitempty"`
	Ceiling     string        `json:"ceiling,omitempty"`
	ZeroBid     string        `json:"zeroBid,omitempty"`
	Nonce       *uint64       `json:"nonce,omitempty"`
	Pricing     pricingParams `json:"pricing"`
}

type auctionAddressParams struct {
	Auction string `json:"auction"`
}

type auctionListParams struct {
	ActiveOnly bool `json:"activeOnly"`
}

type auctionViewBidParams struct {
	Auction string `json:"auction"`
	Bidder  string `json:"bidder"`
}

type auctionFinalizeParams struct {
	Auction    string `json:"auction"`
	Caller     string `json:"caller"`
	OnlyIfBids bool   `json:"onlyIfBids"`
}

func invalidParam(err error) *RPCError {
	return &RPCError{Code: codeInvalidParams, Message: err.Error()}
}

func (s *Server) pricingRequest(p pricingParams) (core.PricingRequest, *RPCError) {
	req := core.PricingRequest{Mode: p.Mode}
	switch strings.ToLower(strings.TrimSpace(p.Mode)) {
	case "", core.PricingScore:
		payment, rpcErr := parseAmountParam(p.Payment, "pricing.payment", false)
		if rpcErr != nil {
			return req, rpcErr
		}
		expected, rpcErr := parseAmountParam(p.Expected, "pricing.expected", false)
		if rpcErr != nil {
			return req, rpcErr
		}
		req.Payment, req.Expected = payment, expected
	case core.PricingFixed:
		history, err := parseHistory(historyJSON{Credits: p.Credits})
		if err != nil {
			return req, invalidParam(err)
		}
		req.Credits = history.Credits
	}
	return req, nil
}

func (s *Server) handleAuctionCreate(ctx context.Context, caller callerInfo, req *RPCRequest) (interface{}, *RPCError) {
	var params auctionCreateParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	seller, rpcErr := actingAddress(caller, params.Seller, "seller")
	if rpcErr != nil {
		return nil, rpcErr
	}
	saleToken, rpcErr := parseAddressParam(params.SaleToken, "saleToken")
	if rpcErr != nil {
		return nil, rpcErr
	}
	bidToken, rpcErr := parseAddressParam(params.BidToken, "bidToken")
	if rpcErr != nil {
		return nil, rpcErr
	}
	direction, err := auction.ParseDirection(params.Direction)
	if err != nil {
		return nil, invalidParam(err)
	}
	zeroBid, err := auction.ParseZeroBidPolicy(params.ZeroBid)
	if err != nil {
		return nil, invalidParam(err)
	}
	var ceiling *auction.CeilingRule
	if strings.TrimSpace(params.Ceiling) != "" {
		rule, err := auction.ParseCeilingRule(params.Ceiling)
		if err != nil {
			return nil, invalidParam(err)
		}
		ceiling = &rule
	}
	pricingReq, rpcErr := s.pricingRequest(params.Pricing)
	if rpcErr != nil {
		return nil, rpcErr
	}
	st, err := s.host.CreateAuction(ctx, core.CreateRequest{
		Seller:      seller,
		SaleToken:   saleToken,
		BidToken:    bidToken,
		Pricing:     pricingReq,
		Description: params.Description,
		Direction:   direction,
		Ceiling:     ceiling,
		ZeroBid:     zeroBid,
		Nonce:       params.Nonce,
	})
	if err != nil {
		return nil, toRPCError(err)
	}
	info, err := s.host.AuctionInfo(st.Address)
	if err != nil {
		return nil, toRPCError(err)
	}
	return formatAuction(info), nil
}

func (s *Server) auctionParam(req *RPCRequest) ([20]byte, *RPCError) {
	var params auctionAddressParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return [20]byte{}, rpcErr
	}
	return parseAddressParam(params.Auction, "auction")
}

func (s *Server) handleAuctionInfo(_ context.Context, _ callerInfo, req *RPCRequest) (interface{}, *RPCError) {
	addr, rpcErr := s.auctionParam(req)
	if rpcErr != nil {
		return nil, rpcErr
	}
	info, err := s.host.AuctionInfo(addr)
	if err != nil {
		return nil, toRPCError(err)
	}
	return formatAuction(info), nil
}

func (s *Server) handleAuctionList(_ context.Context, _ callerInfo, req *RPCRequest) (interface{}, *RPCError) {
	var params auctionListParams
	if len(req.Params) > 0 {
		if rpcErr := decodeParams(req, &params); rpcErr != nil {
			return nil, rpcErr
		}
	}
	infos, err := s.host.ListAuctions(params.ActiveOnly)
	if err != nil {
		return nil, toRPCError(err)
	}
	out := make([]auctionJSON, 0, len(infos))
	for _, info := range infos {
		out = append(out, formatAuction(info))
	}
	return out, nil
}

func (s *Server) handleAuctionViewBid(_ context.Context, caller callerInfo, req *RPCRequest) (interface{}, *RPCError) {
	var params auctionViewBidParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	addr, rpcErr := parseAddressParam(params.Auction, "auction")
	if rpcErr != nil {
		return nil, rpcErr
	}
	bidder, rpcErr := actingAddress(caller, params.Bidder, "bidder")
	if rpcErr != nil {
		return nil, rpcErr
	}
	view, err := s.host.ViewBid(addr, bidder)
	if err != nil {
		return nil, toRPCError(err)
	}
	out := bidViewJSON{Found: view.Found, Message: view.Message}
	if view.Found {
		out.Amount = optionalAmount(view.Amount)
		out.Timestamp = view.Timestamp
	}
	return out, nil
}

func (s *Server) handleAuctionFinalize(ctx context.Context, caller callerInfo, req *RPCRequest) (interface{}, *RPCError) {
	var params auctionFinalizeParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	addr, rpcErr := parseAddressParam(params.Auction, "auction")
	if rpcErr != nil {
		return nil, rpcErr
	}
	from, rpcErr := actingAddress(caller, params.Caller, "caller")
	if rpcErr != nil {
		return nil, rpcErr
	}
	outcome, err := s.host.Finalize(ctx, addr, from, params.OnlyIfBids)
	if err != nil {
		return nil, toRPCError(err)
	}
	return formatOutcome(outcome), nil
}

func (s *Server) handleAuctionReturnAll(ctx context.Context, _ callerInfo, req *RPCRequest) (interface{}, *RPCError) {
	addr, rpcErr := s.auctionParam(req)
	if rpcErr != nil {
		return nil, rpcErr
	}
	outcome, err := s.host.ReturnAll(ctx, addr)
	if err != nil {
		return nil, toRPCError(err)
	}
	return formatOutcome(outcome), nil
}
