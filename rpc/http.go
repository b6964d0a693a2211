package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"escrowauction/core"
	"escrowauction/observability"
	"escrowauction/observability/logging"
	telemetry "escrowauction/observability/otel"
)

const (
	jsonRPCVersion         = "2.0"
	defaultMaxRequestBytes = 1 << 20 // 1 MiB
	requestIDHeader        = "X-Request-ID"
)

const (
	codeParseError       = -32700
	codeInvalidRequest   = -32600
	codeMethodNotFound   = -32601
	codeInvalidParams    = -32602
	codeUnauthorized     = -32001
	codeServerError      = -32000
	codeRateLimited      = -32020
	codeAuctionNotFound  = -32030
	codeAuctionForbidden = -32031
	codeAuctionConflict  = -32032
)

// JWTConfig controls bearer token authentication. When disabled callers
// identify themselves with the "caller" parameter.
type JWTConfig struct {
	Enable    bool
	Secret    string
	Issuer    string
	ClockSkew time.Duration
}

// ServerConfig captures the HTTP server settings.
type ServerConfig struct {
	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxBodyBytes      int64
	RateLimitPerSec   float64
	RateLimitBurst    int
	JWT               JWTConfig
	Logger            *slog.Logger
}

type handlerFunc func(ctx context.Context, caller callerInfo, req *RPCRequest) (interface{}, *RPCError)

type method struct {
	module  string
	handler handlerFunc
}

// Server exposes the auction host over JSON-RPC 2.0.
type Server struct {
	host    *core.Host
	cfg     ServerConfig
	logger  *slog.Logger
	auth    *authenticator
	limiter *rateLimiter
	methods map[string]method
	httpSrv *http.Server
}

// NewServer wires the JSON-RPC server around host.
func NewServer(host *core.Host, cfg ServerConfig) (*Server, error) {
	if host == nil {
		return nil, fmt.Errorf("rpc: host required")
	}
	if cfg.JWT.Enable && strings.TrimSpace(cfg.JWT.Secret) == "" {
		return nil, fmt.Errorf("rpc: jwt enabled without a secret")
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxRequestBytes
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		host:    host,
		cfg:     cfg,
		logger:  logger,
		auth:    newAuthenticator(cfg.JWT),
		limiter: newRateLimiter(cfg.RateLimitPerSec, cfg.RateLimitBurst),
	}
	s.methods = map[string]method{
		"auction_create":    {"auction", s.handleAuctionCreate},
		"auction_info":      {"auction", s.handleAuctionInfo},
		"auction_list":      {"auction", s.handleAuctionList},
		"auction_viewBid":   {"auction", s.handleAuctionViewBid},
		"auction_finalize":  {"auction", s.handleAuctionFinalize},
		"auction_returnAll": {"auction", s.handleAuctionReturnAll},
		"ledger_send":       {"ledger", s.handleLedgerSend},
		"ledger_balance":    {"ledger", s.handleLedgerBalance},
		"ledger_mint":       {"ledger", s.handleLedgerMint},
		"ledger_tokens":     {"ledger", s.handleLedgerTokens},
		"ledger_journal":    {"ledger", s.handleLedgerJournal},
		"oracle_addHistory": {"oracle", s.handleOracleAddHistory},
		"oracle_getHistory": {"oracle", s.handleOracleGetHistory},
	}
	return s, nil
}

// Handler returns the HTTP routes served by the node.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws/events", s.handleEventsWS)
	r.Post("/", s.handle)
	return otelhttp.NewHandler(r, "auction-rpc")
}

// Start serves the handler on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       s.cfg.IdleTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("json-rpc server listening", slog.String("addr", addr))
		errCh <- s.httpSrv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(core.ContextWithRequestID(r.Context(), id)))
	})
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *RPCError) Error() string { return e.Message }

func writeError(w http.ResponseWriter, status int, id interface{}, rpcErr *RPCError) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: rpcErr}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

// httpStatus maps an RPC error code to the HTTP status of the response.
func httpStatus(code int) int {
	switch code {
	case codeParseError, codeInvalidRequest, codeInvalidParams:
		return http.StatusBadRequest
	case codeMethodNotFound, codeAuctionNotFound:
		return http.StatusNotFound
	case codeUnauthorized:
		return http.StatusUnauthorized
	case codeAuctionForbidden:
		return http.StatusForbidden
	case codeAuctionConflict:
		return http.StatusConflict
	case codeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// handle is the main request handler that routes to specific handlers.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", s.cfg.MaxBodyBytes)
		}
		writeError(w, status, nil, &RPCError{Code: codeInvalidRequest, Message: message, Data: err.Error()})
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, &RPCError{Code: codeInvalidRequest, Message: "request body required"})
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, &RPCError{Code: codeParseError, Message: "invalid JSON payload", Data: err.Error()})
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, &RPCError{Code: codeInvalidRequest, Message: "unsupported jsonrpc version", Data: req.JSONRPC})
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, &RPCError{Code: codeInvalidRequest, Message: "method required"})
		return
	}
	m, ok := s.methods[req.Method]
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, &RPCError{Code: codeMethodNotFound, Message: fmt.Sprintf("unknown method %s", req.Method)})
		return
	}

	start := time.Now()
	metrics := observability.ModuleMetrics()
	if !s.limiter.Allow(clientSource(r)) {
		metrics.RecordThrottle(m.module, "rate_limit")
		writeError(w, http.StatusTooManyRequests, req.ID, &RPCError{Code: codeRateLimited, Message: "rate limit exceeded"})
		return
	}

	ctx, span := telemetry.Tracer().Start(r.Context(), req.Method, trace.WithAttributes(
		attribute.String("rpc.system", "jsonrpc"),
		attribute.String("rpc.method", req.Method),
	))
	defer span.End()

	caller, authErr := s.auth.resolve(r)
	if authErr != nil {
		span.SetStatus(codes.Error, authErr.Message)
		s.logger.Warn("rpc authentication failed",
			slog.String("method", req.Method),
			slog.String("reason", authErr.Message),
			logging.MaskField("authorization", r.Header.Get("Authorization")),
			slog.String("request_id", core.RequestIDFromContext(ctx)))
		metrics.Observe(m.module, req.Method, authErr.Code, time.Since(start))
		writeError(w, http.StatusUnauthorized, req.ID, authErr)
		return
	}

	result, rpcErr := m.handler(ctx, caller, req)
	metrics.Observe(m.module, req.Method, errorCode(rpcErr), time.Since(start))
	if rpcErr != nil {
		span.SetStatus(codes.Error, rpcErr.Message)
		span.SetAttributes(attribute.Int("rpc.jsonrpc.error_code", rpcErr.Code))
		if rpcErr.Code == codeServerError {
			s.logger.Error("rpc handler failed",
				slog.String("method", req.Method),
				slog.String("error", rpcErr.Message),
				slog.String("request_id", core.RequestIDFromContext(ctx)))
		}
		writeError(w, httpStatus(rpcErr.Code), req.ID, rpcErr)
		return
	}
	writeResult(w, req.ID, result)
}

func errorCode(err *RPCError) int {
	if err == nil {
		return 0
	}
	return err.Code
}
