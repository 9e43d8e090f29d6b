package rpc

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"farmnet/core"
	"farmnet/core/state"
	"farmnet/native/common"
	"farmnet/native/farming"
	"farmnet/observability"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB

	// Per-source budget for mutating methods.
	mutationsPerSecond = 2
	mutationBurst      = 10
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
	codeUnauthorized   = -32001
	codeModulePaused   = -32011
	codeInsufficient   = -32012
	codeRateLimited    = -32020
)

// Farming-specific error codes, one block so clients can pattern-match.
const (
	codeFarmNotFound     = -32080
	codePositionNotFound = -32081
	codeFarmNotStarted   = -32082
	codeFarmEnded        = -32083
	codeFeeGateClosed    = -32084
	codeFeeTooLow        = -32085
	codeNothingStaked    = -32086
	codeFarmValidation   = -32087
	codeFarmUnauthorized = -32088
	codeFarmArithmetic   = -32089
)

// TokenEnv names the environment variable carrying the bearer token required
// by mutating methods. An empty value disables authentication (dev only).
const TokenEnv = "FARMNET_RPC_TOKEN"

// Server is the JSON-RPC 2.0 front door of a farmnet node. It also exposes
// the Prometheus scrape endpoint and the websocket event stream.
type Server struct {
	node      *core.Node
	authToken string
	logger    *slog.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewServer wires a server around the node. The auth token is read from
// FARMNET_RPC_TOKEN.
func NewServer(node *core.Node, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		node:      node,
		authToken: strings.TrimSpace(os.Getenv(TokenEnv)),
		logger:    logger,
		limiters:  make(map[string]*rate.Limiter),
	}
}

// Handler returns the full HTTP surface: JSON-RPC on /, metrics on /metrics,
// the event stream on /ws/events.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ws/events", s.handleEventsWS)
	return mux
}

// Start serves the handler on addr until the listener fails.
func (s *Server) Start(addr string) error {
	s.logger.Info("json-rpc server listening", slog.String("addr", addr))
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return server.ListenAndServe()
}

// RPCRequest is a JSON-RPC 2.0 request envelope.
type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

// RPCResponse is a JSON-RPC 2.0 response envelope.
type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

// RPCError carries a JSON-RPC error object.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
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
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj})
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result})
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
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
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
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

	s.dispatch(w, r, req)
}

type handlerFunc func(w http.ResponseWriter, r *http.Request, req *RPCRequest)

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var (
		handler  handlerFunc
		mutating bool
	)
	switch req.Method {
	case "farm_create":
		handler, mutating = s.handleFarmCreate, true
	case "farm_addRewards":
		handler, mutating = s.handleFarmAddRewards, true
	case "farm_deposit":
		handler, mutating = s.handleFarmDeposit, true
	case "farm_withdraw":
		handler, mutating = s.handleFarmWithdraw, true
	case "farm_payFee":
		handler, mutating = s.handleFarmPayFee, true
	case "farm_drain":
		handler, mutating = s.handleFarmDrain, true
	case "farm_pendingRewards":
		handler = s.handleFarmPendingRewards
	case "farm_get":
		handler = s.handleFarmGet
	case "farm_list":
		handler = s.handleFarmList
	case "farm_getPosition":
		handler = s.handleFarmGetPosition
	case "farm_roleMembers":
		handler = s.handleFarmRoleMembers
	case "token_getBalance":
		handler = s.handleTokenGetBalance
	case "token_list":
		handler = s.handleTokenList
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("method %s not found", req.Method), nil)
		return
	}

	if mutating {
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		if !s.allowSource(clientSource(r)) {
			observability.RPC().Observe(req.Method, "error", strconv.Itoa(codeRateLimited), 0)
			writeError(w, http.StatusTooManyRequests, req.ID, codeRateLimited, "rate limit exceeded", nil)
			return
		}
	}

	started := time.Now()
	rw := &statusRecorder{inner: w}
	handler(rw, r, req)
	outcome := "ok"
	code := ""
	if rw.errCode != 0 {
		outcome = "error"
		code = strconv.Itoa(rw.errCode)
	}
	observability.RPC().Observe(req.Method, outcome, code, time.Since(started))
}

// statusRecorder sniffs the JSON-RPC error code out of the written response
// so the dispatch wrapper can label metrics without re-parsing bodies in
// every handler.
type statusRecorder struct {
	inner   http.ResponseWriter
	errCode int
}

func (r *statusRecorder) Header() http.Header { return r.inner.Header() }

func (r *statusRecorder) WriteHeader(status int) { r.inner.WriteHeader(status) }

func (r *statusRecorder) Write(p []byte) (int, error) {
	var resp struct {
		Error *RPCError `json:"error"`
	}
	if err := json.Unmarshal(p, &resp); err == nil && resp.Error != nil {
		r.errCode = resp.Error.Code
	}
	return r.inner.Write(p)
}

func (s *Server) requireAuth(r *http.Request) *RPCError {
	if s.authToken == "" {
		return nil
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return &RPCError{Code: codeUnauthorized, Message: "missing bearer token"}
	}
	provided := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if subtle.ConstantTimeCompare([]byte(provided), []byte(s.authToken)) != 1 {
		return &RPCError{Code: codeUnauthorized, Message: "invalid bearer token"}
	}
	return nil
}

func clientSource(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) allowSource(source string) bool {
	s.mu.Lock()
	limiter, ok := s.limiters[source]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(mutationsPerSecond), mutationBurst)
		s.limiters[source] = limiter
	}
	s.mu.Unlock()
	return limiter.Allow()
}

// writeEngineError maps ledger sentinels onto the JSON-RPC error code block
// so clients distinguish validation failures from configuration and
// arithmetic ones without string matching.
func writeEngineError(w http.ResponseWriter, id interface{}, err error) {
	status := http.StatusBadRequest
	code := codeServerError
	switch {
	case errors.Is(err, farming.ErrFarmNotFound):
		status, code = http.StatusNotFound, codeFarmNotFound
	case errors.Is(err, farming.ErrPositionNotFound):
		status, code = http.StatusNotFound, codePositionNotFound
	case errors.Is(err, farming.ErrNotStarted):
		code = codeFarmNotStarted
	case errors.Is(err, farming.ErrEnded):
		code = codeFarmEnded
	case errors.Is(err, farming.ErrFeeGateClosed):
		code = codeFeeGateClosed
	case errors.Is(err, farming.ErrFeeTooLow):
		code = codeFeeTooLow
	case errors.Is(err, farming.ErrNothingStaked):
		code = codeNothingStaked
	case errors.Is(err, farming.ErrInvalidAmount),
		errors.Is(err, farming.ErrInvalidWindow),
		errors.Is(err, farming.ErrInvalidParams),
		errors.Is(err, farming.ErrTokenUnknown),
		errors.Is(err, farming.ErrFarmMismatch):
		code = codeFarmValidation
	case errors.Is(err, farming.ErrUnauthorized):
		status, code = http.StatusForbidden, codeFarmUnauthorized
	case errors.Is(err, farming.ErrArithmetic):
		status, code = http.StatusInternalServerError, codeFarmArithmetic
	case errors.Is(err, state.ErrInsufficientBalance):
		code = codeInsufficient
	case errors.Is(err, common.ErrModulePaused):
		status, code = http.StatusServiceUnavailable, codeModulePaused
	default:
		status = http.StatusInternalServerError
	}
	writeError(w, status, id, code, err.Error(), nil)
}
