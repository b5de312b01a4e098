// Package rpc provides a JSON-RPC 2.0 server for walletlinkd.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/onchain-portfolio/walletlink/internal/storage"
	"github.com/onchain-portfolio/walletlink/internal/wallet"
	"github.com/onchain-portfolio/walletlink/pkg/logging"
)

// Server is a JSON-RPC 2.0 server.
type Server struct {
	machine *wallet.Machine
	store   *storage.Storage
	log     *logging.Logger
	wsHub   *WSHub
	started time.Time

	// writeTimeout outlasts the slowest wallet_connect.
	writeTimeout time.Duration

	server   *http.Server
	listener net.Listener

	handlers map[string]Handler
	mu       sync.RWMutex
}

// Options configures a Server. Store and Hub are optional.
type Options struct {
	Machine *wallet.Machine
	Store   *storage.Storage
	Hub     *WSHub
	Logger  *logging.Logger
}

// Handler is a JSON-RPC method handler.
type Handler func(ctx context.Context, params json.RawMessage) (interface{}, error)

// Request represents a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      interface{}     `json:"id,omitempty"`
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *Error      `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

// Error represents a JSON-RPC 2.0 error.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Standard error codes.
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603

	// WalletError is returned for connection and contract failures; Data
	// carries the stable kind.
	WalletError = -32000
)

// ErrorData is attached to WalletError responses.
type ErrorData struct {
	Kind  string           `json:"kind"`
	State *wallet.Snapshot `json:"state,omitempty"`
}

const (
	minWriteTimeout = 30 * time.Second
	// writeSlack covers contract binding and encoding after the wallet answers.
	writeSlack = 15 * time.Second
)

// NewServer creates a new JSON-RPC server.
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = logging.GetDefault().Component("rpc")
	}
	if opts.Hub == nil {
		opts.Hub = NewWSHub(opts.Logger.Component("ws"))
	}

	s := &Server{
		machine:      opts.Machine,
		store:        opts.Store,
		log:          opts.Logger,
		wsHub:        opts.Hub,
		started:      time.Now(),
		writeTimeout: minWriteTimeout,
		handlers:     make(map[string]Handler),
	}
	if opts.Machine != nil {
		if d := opts.Machine.Config().ConnectBudget() + writeSlack; d > s.writeTimeout {
			s.writeTimeout = d
		}
	}

	s.registerHandlers()

	return s
}

// registerHandlers registers all JSON-RPC method handlers.
func (s *Server) registerHandlers() {
	// Daemon methods
	s.handlers["daemon_status"] = s.daemonStatus

	// Connection methods
	s.handlers["wallet_connect"] = s.walletConnect
	s.handlers["wallet_disconnect"] = s.walletDisconnect
	s.handlers["wallet_state"] = s.walletState
	s.handlers["wallet_resync"] = s.walletResync
	s.handlers["wallet_switchNetwork"] = s.walletSwitchNetwork

	// Network registry methods
	s.handlers["networks_list"] = s.networksList
	s.handlers["networks_get"] = s.networksGet

	// Portfolio contract reads
	s.handlers["portfolio_info"] = s.portfolioInfo
	s.handlers["portfolio_stats"] = s.portfolioStats

	// Session journal
	s.handlers["session_history"] = s.sessionHistory
}

// Handler returns the HTTP handler serving the API and the websocket hub.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /", s.handleRPC)
	mux.HandleFunc("POST /{$}", s.handleRPC)
	mux.HandleFunc("OPTIONS /", s.handleCORS)
	mux.HandleFunc("OPTIONS /{$}", s.handleCORS)
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.HandleFunc("GET /ws/", s.handleWS)
	return corsMiddleware(mux)
}

// Start starts the RPC server. The websocket hub must be running.
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener

	s.server = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: s.writeTimeout,
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.log.Error("RPC server error", "error", err)
		}
	}()

	s.log.Info("RPC server started", "addr", listener.Addr().String(), "ws", "ws://"+listener.Addr().String()+"/ws")
	return nil
}

// Addr returns the address the server listens on, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop stops the RPC server.
func (s *Server) Stop() error {
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(ctx)
	}
	return nil
}

// handleRPC handles incoming JSON-RPC requests.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, nil, ParseError, "Parse error", nil)
		return
	}

	if req.JSONRPC != "2.0" {
		s.writeError(w, req.ID, InvalidRequest, "Invalid Request", nil)
		return
	}

	s.mu.RLock()
	handler, ok := s.handlers[req.Method]
	s.mu.RUnlock()

	if !ok {
		s.writeError(w, req.ID, MethodNotFound, "Method not found", req.Method)
		return
	}

	result, err := handler(r.Context(), req.Params)
	if err != nil {
		code, data := classifyError(err)
		if code != InvalidParams {
			s.log.Debug("RPC call failed", "method", req.Method, "error", err)
		}
		s.writeError(w, req.ID, code, err.Error(), data)
		return
	}

	s.writeResult(w, req.ID, result)
}

// classifyError maps a handler error to a JSON-RPC code and data payload.
func classifyError(err error) (int, interface{}) {
	var pe *paramsError
	if errors.As(err, &pe) {
		return InvalidParams, nil
	}

	data := &ErrorData{Kind: errorKind(err)}
	var se *stateError
	if errors.As(err, &se) {
		snap := se.state
		data.State = &snap
	}
	return WalletError, data
}

// writeResult writes a successful response.
func (s *Server) writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := Response{
		JSONRPC: "2.0",
		Result:  result,
		ID:      id,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// writeError writes an error response.
func (s *Server) writeError(w http.ResponseWriter, id interface{}, code int, message string, data interface{}) {
	resp := Response{
		JSONRPC: "2.0",
		Error: &Error{
			Code:    code,
			Message: message,
			Data:    data,
		},
		ID: id,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// handleCORS handles CORS preflight requests.
func (s *Server) handleCORS(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// corsMiddleware adds CORS headers to all responses.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The frontend may be served from anywhere, including file://.
		origin := r.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
