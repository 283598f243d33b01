package api

import (
	"log/slog"
	"net/http"

	"github.com/Mindburn-Labs/attest/pkg/lifecycle"
	"github.com/Mindburn-Labs/attest/pkg/pipeline"
	"github.com/Mindburn-Labs/attest/pkg/store"
)

// ServerConfig carries the optional pieces of the HTTP surface. Nil or zero
// fields disable the corresponding middleware.
type ServerConfig struct {
	// MaxBodyBytes caps request bodies on mutating endpoints. Defaults to 1MB.
	MaxBodyBytes int64
	// Tokens enables gate-decision token enforcement when non-nil.
	Tokens *GateTokens
	// Limiter enables per-IP rate limiting when non-nil.
	Limiter *GlobalRateLimiter
	// Keys enables Idempotency-Key handling when non-nil.
	Keys lifecycle.KeyStore
	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// Server exposes the run pipeline over HTTP: starting runs, reading their
// state, resuming, and posting gate decisions.
type Server struct {
	seq    *pipeline.Sequencer
	runs   store.RunStore
	cfg    ServerConfig
	logger *slog.Logger
}

// NewServer wires the HTTP surface over a sequencer and its run store.
func NewServer(seq *pipeline.Sequencer, runs store.RunStore, cfg ServerConfig) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{seq: seq, runs: runs, cfg: cfg, logger: logger}
}

// Handler assembles the route table and middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/v1/runs", s.handleRuns)
	mux.HandleFunc("/v1/runs/", s.handleRunSubroutes)

	var h http.Handler = mux
	if s.cfg.Keys != nil {
		h = IdempotencyMiddleware(s.cfg.Keys)(h)
	}
	if s.cfg.Limiter != nil {
		h = s.cfg.Limiter.Middleware(h)
	}
	return RequestIDMiddleware(h)
}
