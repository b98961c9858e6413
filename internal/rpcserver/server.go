// Package rpcserver exposes the ledger over a Solana-style JSON-RPC HTTP API
// and a logsSubscribe WebSocket endpoint.
package rpcserver

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"solana-pda-mint/internal/ledger"
	"solana-pda-mint/internal/observability"
	"solana-pda-mint/internal/storage"
)

// Defaults.
const (
	DefaultMaxAirdrop   = 10_000_000_000 // 10 SOL
	maxRequestBodyBytes = 64 << 10
)

// Server serves JSON-RPC requests against a ledger.
type Server struct {
	ledger     *ledger.Ledger
	txs        storage.TransactionStore // optional history for getTransaction
	hub        *hub
	logger     *log.Logger
	maxAirdrop uint64
	started    time.Time
	methods    map[string]methodFunc
}

// Option configures Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// WithMaxAirdrop caps a single requestAirdrop. Zero disables airdrops.
func WithMaxAirdrop(lamports uint64) Option {
	return func(s *Server) {
		s.maxAirdrop = lamports
	}
}

// New creates a server for l. txs backs getTransaction and
// getSignaturesForAddress and should be the store the ledger records into.
func New(l *ledger.Ledger, txs storage.TransactionStore, opts ...Option) *Server {
	s := &Server{
		ledger:     l,
		txs:        txs,
		logger:     log.New(os.Stdout, "[rpc] ", log.LstdFlags),
		maxAirdrop: DefaultMaxAirdrop,
		started:    time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.hub = newHub(s.logger)
	s.methods = s.methodTable()

	l.Runtime().Subscribe(s.hub.broadcast)
	return s
}

// Handler returns the HTTP handler: JSON-RPC on "/", WebSocket on "/ws",
// plus "/health", "/status" and "/metrics".
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", s.handleRPC)
	mux.HandleFunc("/ws", s.hub.serveWS)

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("/status", s.handleStatus)

	mux.Handle("/metrics", observability.Handler())

	return mux
}

// Close disconnects every WebSocket subscriber.
func (s *Server) Close() {
	s.hub.close()
}

// handleRPC serves one JSON-RPC 2.0 request.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodyBytes))
	if err != nil {
		writeJSON(w, errorResponse{JSONRPC: "2.0", Error: &rpcError{Code: CodeParseError, Message: "Parse error"}})
		return
	}

	var req rpcRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, errorResponse{JSONRPC: "2.0", Error: &rpcError{Code: CodeParseError, Message: "Parse error"}})
		return
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		writeJSON(w, errorResponse{JSONRPC: "2.0", ID: req.ID, Error: &rpcError{Code: CodeInvalidRequest, Message: "Invalid request"}})
		return
	}

	start := time.Now()
	result, rpcErr := s.call(r, &req)

	status := "success"
	if rpcErr != nil {
		status = "error"
	}
	observability.RecordRPCRequest(s.metricMethod(req.Method), status, time.Since(start).Seconds())

	if rpcErr != nil {
		writeJSON(w, errorResponse{JSONRPC: "2.0", ID: req.ID, Error: rpcErr})
		return
	}
	writeJSON(w, rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: result})
}

func (s *Server) call(r *http.Request, req *rpcRequest) (interface{}, *rpcError) {
	method, ok := s.methods[req.Method]
	if !ok {
		return nil, &rpcError{Code: CodeMethodNotFound, Message: "Method not found"}
	}

	result, err := method(r.Context(), req.Params)
	if err != nil {
		rpcErr := toRPCError(err)
		if rpcErr.Code == CodeInternalError {
			s.logger.Printf("%s: %v", req.Method, err)
		}
		return nil, rpcErr
	}
	return result, nil
}

// metricMethod bounds the label set to known methods.
func (s *Server) metricMethod(method string) string {
	if _, ok := s.methods[method]; ok {
		return method
	}
	return "unknown"
}

// StatusResponse is the JSON response for the /status endpoint.
type StatusResponse struct {
	Status    string `json:"status"`
	Uptime    string `json:"uptime"`
	Slot      int64  `json:"slot"`
	ProgramID string `json:"program_id"`
	Mint      string `json:"mint"`
	MintState string `json:"mint_state"`
	WSClients int    `json:"ws_clients"`
}

// handleStatus returns server status as JSON.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	cfg := s.ledger.Config()
	resp := StatusResponse{
		Status:    "running",
		Uptime:    time.Since(s.started).Round(time.Second).String(),
		Slot:      s.ledger.Runtime().Slot(),
		ProgramID: cfg.ProgramID().String(),
		Mint:      cfg.MintAddress().String(),
		WSClients: s.hub.clients(),
	}

	state, err := s.ledger.MintState(r.Context())
	if err != nil {
		s.logger.Printf("status: mint state: %v", err)
		resp.Status = "degraded"
	} else {
		resp.MintState = string(state)
	}

	writeJSON(w, resp)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
