// Command aigate runs the AI gateway: an HTTP server fronting multiple
// model providers with streaming chat, knowledge retrieval and document
// ingestion.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/time/rate"

	"github.com/libreai/aigate/internal/api"
	"github.com/libreai/aigate/internal/catalog"
	"github.com/libreai/aigate/internal/chat"
	"github.com/libreai/aigate/internal/config"
	"github.com/libreai/aigate/internal/conversation"
	"github.com/libreai/aigate/internal/database"
	"github.com/libreai/aigate/internal/ingest"
	"github.com/libreai/aigate/internal/knowledge"
	"github.com/libreai/aigate/internal/log"
	"github.com/libreai/aigate/internal/observability"
	"github.com/libreai/aigate/internal/provider"
	"github.com/libreai/aigate/internal/vector"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := log.New(log.Config{Level: log.ParseLevel(cfg.LogLevel), JSON: cfg.LogJSON})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := observability.Setup(ctx, cfg.Tracing, logger)
	if err != nil {
		return fmt.Errorf("setting up tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("trace shutdown error", "error", err)
		}
	}()

	dsn := cfg.DatabaseDSN()
	if err := database.Migrate(dsn); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	pool, err := database.Open(ctx, dsn)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer pool.Close()

	store := catalog.NewStore(pool)

	// Registries rebuild from the catalog; an initial rebuild makes the
	// configured models and stores available before the first request.
	providers := provider.NewRegistry(store, []provider.Adapter{
		provider.NewOpenAIAdapter(),
		provider.NewGeminiAdapter(),
		provider.NewOllamaAdapter(),
	}, logger)
	stores := vector.NewRegistry(store, vector.DefaultFactory, logger)
	bindings := knowledge.NewRegistry(store, logger)

	if err := providers.Rebuild(ctx); err != nil {
		return fmt.Errorf("building provider registry: %w", err)
	}
	if err := stores.Rebuild(ctx); err != nil {
		return fmt.Errorf("building vector store registry: %w", err)
	}
	if err := bindings.Rebuild(ctx); err != nil {
		return fmt.Errorf("building knowledge registry: %w", err)
	}
	defer stores.Close()

	refresher := catalog.NewRefresher(logger, providers, stores, bindings)
	go refresher.Run(ctx)

	router := knowledge.NewRouter(bindings, providers, stores)
	pipeline := ingest.New(ingest.NewSplitter(cfg.SegmentTokens), router, store, store, logger)

	msgLog := conversation.NewLog(pool, logger)
	orchestrator := chat.NewOrchestrator(
		providers,
		router,
		conversation.NewMemoryStore(),
		msgLog,
		rate.NewLimiter(rate.Limit(10), 20),
		cfg.TopK,
		logger,
	)

	server, err := api.NewServer(api.ServerConfig{
		Logger:       logger,
		Orchestrator: orchestrator,
		Ingestor:     pipeline,
		Documents:    store,
		Refresher:    refresher,
		Pool:         pool,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	logger.Info("gateway starting", "addr", cfg.ListenAddr)
	return server.Run(ctx, cfg.ListenAddr)
}
