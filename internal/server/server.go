package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/sanonone/jsonqueryflow/internal/config"
	"github.com/sanonone/jsonqueryflow/pkg/engine"
)

// Options holds the components the HTTP interface is built on.
type Options struct {
	Config config.ServerConfig
	Engine *engine.Engine

	// Generator serves POST /query. Nil disables AI generation.
	Generator engine.Generator

	// MCP, when set, is mounted at /mcp over streamable HTTP, behind the
	// origin allow-list.
	MCP *mcp.Server

	// Limiter bounds the model-backed routes. Nil builds one from
	// Config.RateLimit.
	Limiter *rate.Limiter

	Logger *slog.Logger
}

// Server holds the HTTP interface of one graph session.
type Server struct {
	cfg       config.ServerConfig
	engine    *engine.Engine
	generator engine.Generator
	logger    *slog.Logger

	// origins is the normalized allow-list; empty disables the check.
	origins map[string]struct{}
	limiter *rate.Limiter

	querySchema *jsonschema.Resolved

	handler    http.Handler
	httpServer *http.Server
}

// NewServer wires routes and middlewares. The engine is owned by the caller.
func NewServer(opts Options) (*Server, error) {
	if opts.Engine == nil {
		return nil, errors.New("server: engine is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:       opts.Config,
		engine:    opts.Engine,
		generator: opts.Generator,
		logger:    logger,
		origins:   map[string]struct{}{},
	}

	for _, o := range opts.Config.AllowedOrigins {
		normalized, err := config.NormalizeOrigin(o)
		if err != nil {
			return nil, fmt.Errorf("server: allowed origin: %w", err)
		}
		s.origins[normalized] = struct{}{}
	}

	s.limiter = opts.Limiter
	if s.limiter == nil {
		s.limiter = opts.Config.RateLimit.NewLimiter()
	}

	resolved, err := queryRequestSchema().Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("server: query schema: %w", err)
	}
	s.querySchema = resolved

	// Setup HTTP
	mux := http.NewServeMux()
	s.registerHTTPHandlers(mux)

	// Chain middlewares: Recovery -> Logging -> [metrics] | Origin -> [mcp] | CORS -> Mux
	// Order matters! Recovery must be outer-most to catch everything.

	var handler http.Handler = mux

	// 1. CORS (Inner) - Answers preflight for allowed callers
	handler = s.CORSMiddleware(handler)

	// 2. Origin allow-list
	handler = s.OriginMiddleware(handler)

	// Metrics scrapers send no Origin header. MCP clients must.
	rootMux := http.NewServeMux()
	rootMux.Handle("GET /metrics", promhttp.Handler())
	if opts.MCP != nil {
		server := opts.MCP
		rootMux.Handle("/mcp", s.OriginMiddleware(mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
			return server
		}, nil)))
	}
	rootMux.Handle("/", handler)

	var root http.Handler = rootMux

	// 3. Logging - Logs duration and status
	root = s.LoggingMiddleware(root)

	// 4. Recovery (Outer) - Catches panics
	root = s.RecoveryMiddleware(root)

	s.handler = root
	s.httpServer = &http.Server{
		Addr:         opts.Config.Addr,
		Handler:      root,
		ReadTimeout:  opts.Config.ReadTimeout,
		WriteTimeout: opts.Config.WriteTimeout,
	}

	return s, nil
}

// Handler returns the fully wrapped handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run starts the HTTP server and blocks until it stops.
func (s *Server) Run() error {
	s.logger.Info("HTTP server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server startup failed: %w", err)
	}
	return nil
}

// Shutdown stops the HTTP server, waiting up to 5 seconds for in-flight
// requests.
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown of HTTP Server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}
}
