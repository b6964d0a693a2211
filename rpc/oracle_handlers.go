package rpc

import (
	"context"

	"escrowauction/native/oracle"
)

type oracleAddHistoryParams struct {
	Caller  string      `json:"caller"`
	User    string      `json:"user"`
	History historyJSON `json:"history"`
}

type oracleGetHistoryParams struct {
	User string `json:"user"`
}

func (s *Server) handleOracleAddHistory(ctx context.Context, caller callerInfo, req *RPCRequest) (interface{}, *RPCError) {
	var params oracleAddHistoryParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	from, rpcErr := actingAddress(caller, params.Caller, "caller")
	if rpcErr != nil {
		return nil, rpcErr
	}
	user, rpcErr := parseAddressParam(params.User, "user")
	if rpcErr != nil {
		return nil, rpcErr
	}
	history, err := parseHistory(params.History)
	if err != nil {
		return nil, invalidParam(err)
	}
	if err := s.host.AddHistory(ctx, from, user, history); err != nil {
		return nil, toRPCError(err)
	}
	return map[string]bool{"ok": true}, nil
}

func (s *Server) handleOracleGetHistory(_ context.Context, _ callerInfo, req *RPCRequest) (interface{}, *RPCError) {
	var params oracleGetHistoryParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	user, rpcErr := parseAddressParam(params.User, "user")
	if rpcErr != nil {
		return nil, rpcErr
	}
	lookup, err := s.host.GetHistory(user)
	if err != nil {
		return nil, toRPCError(err)
	}
	return formatLookup(lookup), nil
}

func formatLookup(lookup *oracle.Lookup) historyLookupJSON {
	if lookup == nil {
		return historyLookupJSON{Message: "no history"}
	}
	return historyLookupJSON{Found: lookup.Found, Message: lookup.Message, History: formatHistory(lookup.History)}
}
