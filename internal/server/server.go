// Package server implements the HTTP API of the marketplace matcher.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/mekiki/internal/ratelimit"
)

// Server is the mekiki HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a Server.
// Optional fields (nil-safe): Limiter, Searcher, MCPServer, OpenAPISpec.
type ServerConfig struct {
	// Required dependencies.
	DB         Pinger
	MatchSvc   Matcher
	BacklogSvc Backlogger
	Logger     *slog.Logger

	// Optional dependencies (nil = disabled).
	Limiter   ratelimit.Limiter
	Searcher  SearchHealth
	MCPServer *mcpserver.MCPServer

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64

	// Optional embedded assets.
	OpenAPISpec []byte
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		DB:                  cfg.DB,
		MatchSvc:            cfg.MatchSvc,
		BacklogSvc:          cfg.BacklogSvc,
		Searcher:            cfg.Searcher,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		OpenAPISpec:         cfg.OpenAPISpec,
	})

	// Request ID extractor for rate limit error responses.
	reqIDFunc := func(r *http.Request) string {
		return RequestIDFromContext(r.Context())
	}

	// Rate limit rules, keyed by client IP. Match endpoints fan out to the
	// chat and embedding providers, so they get the tighter budget.
	matchRL := ratelimit.Middleware(cfg.Limiter, "match", ratelimit.IPKeyFunc, reqIDFunc)
	ingestRL := ratelimit.Middleware(cfg.Limiter, "ingest", ratelimit.IPKeyFunc, reqIDFunc)
	listRL := ratelimit.Middleware(cfg.Limiter, "list", ratelimit.IPKeyFunc, reqIDFunc)

	mux := http.NewServeMux()

	// Interactive matching.
	mux.Handle("POST /match/interactive/start", matchRL(http.HandlerFunc(h.HandleMatchStart)))
	mux.Handle("POST /match/interactive/continue", matchRL(http.HandlerFunc(h.HandleMatchContinue)))
	mux.Handle("POST /match/interactive/finalize", matchRL(http.HandlerFunc(h.HandleMatchFinalize)))

	// One-shot profile matching.
	mux.Handle("POST /match", matchRL(http.HandlerFunc(h.HandleMatchProfile)))

	// Backlog deduplication.
	mux.Handle("POST /backlog/ingest", ingestRL(http.HandlerFunc(h.HandleBacklogIngest)))
	mux.Handle("GET /backlog/cards", listRL(http.HandlerFunc(h.HandleBacklogCards)))

	// MCP StreamableHTTP transport.
	if cfg.MCPServer != nil {
		mux.Handle("/mcp", mcpserver.NewStreamableHTTPServer(cfg.MCPServer))
	}

	// OpenAPI spec (no rate limit).
	mux.HandleFunc("GET /openapi.yaml", h.HandleOpenAPISpec)

	// Health (no rate limit).
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID → security headers → tracing → logging → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// Handlers returns the underlying Handlers.
func (s *Server) Handlers() *Handlers {
	return s.handlers
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
