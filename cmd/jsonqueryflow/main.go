package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/sanonone/jsonqueryflow/internal/config"
	jqfmcp "github.com/sanonone/jsonqueryflow/internal/mcp"
	"github.com/sanonone/jsonqueryflow/internal/server"
	"github.com/sanonone/jsonqueryflow/pkg/engine"
	"github.com/sanonone/jsonqueryflow/pkg/graph"
	"github.com/sanonone/jsonqueryflow/pkg/llm"
	"github.com/sanonone/jsonqueryflow/pkg/orchestrator"
)

func main() {
	configPath := flag.String("config", "", "Path to the YAML configuration file (optional)")
	httpAddr := flag.String("http-addr", "", "HTTP listen address, overrides the config (e.g. :8787)")
	logFormat := flag.String("log-format", "json", "Log output format: json or text")

	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}
	if *httpAddr != "" {
		cfg.Server.Addr = *httpAddr
	}

	// 1. Logger
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	handlerOpts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	if *logFormat == "text" {
		handler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	// 2. Model backends
	gateway, err := llm.NewGatewayClient(cfg.Gateway)
	if err != nil {
		logger.Error("Invalid gateway configuration", "error", err)
		os.Exit(1)
	}

	orchCfg := orchestrator.Config{
		Gateway:    gateway,
		Candidates: gateway.Candidates(),
		Retry:      cfg.Retry,
		Logger:     logger,
	}
	if cfg.Local.Enabled {
		orchCfg.Local = llm.NewLocalClient(cfg.Local)
		logger.Info("Local model enabled", "url", cfg.Local.BaseURL, "model", cfg.Local.Model)
	}
	orch := orchestrator.New(orchCfg)
	logger.Info("Model candidates", "models", orch.Candidates())

	// 3. Graph session
	store := graph.New(graph.WithLogger(logger))
	eng := engine.New(store, engine.WithGenerator(orch), engine.WithLogger(logger))

	// One budget for /query, node generation and the generate_query tool.
	limiter := cfg.Server.RateLimit.NewLimiter()

	var mcpServer *mcp.Server
	if cfg.Server.EnableMCP {
		mcpServer = jqfmcp.NewMCPServer(eng, orch, jqfmcp.WithLimiter(limiter))
	}

	srv, err := server.NewServer(server.Options{
		Config:    cfg.Server,
		Engine:    eng,
		Generator: orch,
		MCP:       mcpServer,
		Limiter:   limiter,
		Logger:    logger,
	})
	if err != nil {
		logger.Error("Failed to create the server", "error", err)
		os.Exit(1)
	}

	// 4. Run until a signal arrives or the listener fails.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Run)
	g.Go(func() error {
		<-gctx.Done()
		srv.Shutdown()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("Shutdown complete")
}
