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
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"datalayr/config"
	"datalayr/core"
	"datalayr/observability"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB

	requestIDHeader = "X-Request-ID"
)

type requestIDKey struct{}

type handlerFunc func(ctx context.Context, params []json.RawMessage) (interface{}, error)

type method struct {
	module  string
	handler handlerFunc
	admin   bool
}

// Server exposes the coordinator over JSON-RPC 2.0.
type Server struct {
	coord     *core.Coordinator
	logger    *slog.Logger
	limiter   *rateLimiter
	maxBody   int64
	auth      authenticator
	methods   map[string]method
	index     EventIndex
	feed      EventFeed
	tracer    trace.Tracer
}

// NewServer builds a server for coord using the RPC admission settings of
// cfg.
func NewServer(coord *core.Coordinator, cfg config.RPC, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = maxRequestBytes
	}
	s := &Server{
		coord:     coord,
		logger:    logger,
		limiter:   newRateLimiter(cfg.RequestsPerSecond, cfg.Burst),
		maxBody:   maxBody,
		auth:      newAuthenticator(os.Getenv(AuthTokenEnv), os.Getenv(JWTSecretEnv)),
		tracer:    otel.Tracer("datalayr/rpc"),
	}
	// Methods that spend or lock another account's funds, or rewrite stake,
	// are admin only.
	s.methods = map[string]method{
		"registry_registerOperator": {module: "registry", handler: s.handleRegisterOperator},
		"registry_recordStake":      {module: "registry", handler: s.handleRecordStake, admin: true},
		"registry_weightAt":         {module: "registry", handler: s.handleWeightAt},
		"registry_totalWeightAt":    {module: "registry", handler: s.handleTotalWeightAt},
		"registry_history":          {module: "registry", handler: s.handleHistory},

		"datastore_init":    {module: "datastore", handler: s.handleDataStoreInit, admin: true},
		"datastore_confirm": {module: "datastore", handler: s.handleDataStoreConfirm},
		"datastore_expire":  {module: "datastore", handler: s.handleDataStoreExpire},
		"datastore_get":     {module: "datastore", handler: s.handleDataStoreGet},

		"dispute_commitPayment": {module: "dispute", handler: s.handleCommitPayment, admin: true},
		"dispute_openChallenge": {module: "dispute", handler: s.handleOpenChallenge, admin: true},
		"dispute_resolve":       {module: "dispute", handler: s.handleResolve, admin: true},
		"dispute_redeem":        {module: "dispute", handler: s.handleRedeem},
		"dispute_get":           {module: "dispute", handler: s.handleDisputeGet},

		"payout_create":             {module: "payout", handler: s.handlePayoutCreate, admin: true},
		"payout_claim":              {module: "payout", handler: s.handlePayoutClaim},
		"payout_setWithdrawalDelay": {module: "payout", handler: s.handleSetWithdrawalDelay, admin: true},
		"payout_list":               {module: "payout", handler: s.handlePayoutList},

		"chain_commit":     {module: "chain", handler: s.handleCommit, admin: true},
		"chain_getBalance": {module: "chain", handler: s.handleGetBalance},
		"chain_height":     {module: "chain", handler: s.handleHeight},

		"events_query": {module: "events", handler: s.handleEventsQuery},
	}
	return s
}

// SetEventIndex enables events_query. A nil index disables it.
func (s *Server) SetEventIndex(index EventIndex) { s.index = index }

// SetEventFeed enables the /ws/events stream. A nil feed disables it.
func (s *Server) SetEventFeed(feed EventFeed) { s.feed = feed }

// Handler returns the HTTP routes served by the node.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestID)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.With(s.limiter.Middleware).Post("/rpc", s.handle)
	r.With(s.limiter.Middleware).Get("/ws/events", s.handleEventsWS)
	return r
}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, s.maxBody)
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
			message = fmt.Sprintf("request body exceeds %d bytes", s.maxBody)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}
	m, ok := s.methods[req.Method]
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method not found", req.Method)
		return
	}
	if m.admin {
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
	}

	ctx, span := s.tracer.Start(r.Context(), req.Method,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("rpc.system", "jsonrpc"),
			attribute.String("rpc.method", req.Method),
			attribute.String("datalayr.module", m.module),
		))
	defer span.End()

	start := time.Now()
	result, err := m.handler(ctx, req.Params)
	rpcErr, status := toRPCError(err)
	code := 0
	if rpcErr != nil {
		code = rpcErr.Code
		span.SetAttributes(attribute.Int("rpc.jsonrpc.error_code", code))
		span.SetStatus(codes.Error, rpcErr.Message)
	}
	observability.ModuleMetrics().Observe(m.module, req.Method, code, time.Since(start))
	if rpcErr != nil {
		s.logger.Debug("rpc request failed",
			slog.String("requestId", requestIDFrom(r.Context())),
			slog.String("method", req.Method),
			slog.Int("code", rpcErr.Code),
			slog.String("error", rpcErr.Message))
		writeError(w, status, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	writeResult(w, req.ID, result)
}

// decodeParams expects exactly one parameter object and decodes it into out,
// rejecting unknown fields.
func decodeParams(params []json.RawMessage, out interface{}) error {
	if len(params) != 1 {
		return invalidParams("exactly one parameter object required", nil)
	}
	dec := json.NewDecoder(bytes.NewReader(params[0]))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return invalidParams("invalid parameter object", err.Error())
	}
	return nil
}
