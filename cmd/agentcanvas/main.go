// AgentCanvas server: HTTP API for authoring agent hierarchies and
// executing runs with SSE streaming.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/agentcanvas/agentcanvas/pkg/api"
	"github.com/agentcanvas/agentcanvas/pkg/cleanup"
	"github.com/agentcanvas/agentcanvas/pkg/config"
	"github.com/agentcanvas/agentcanvas/pkg/database"
	"github.com/agentcanvas/agentcanvas/pkg/executor"
	"github.com/agentcanvas/agentcanvas/pkg/llm"
	"github.com/agentcanvas/agentcanvas/pkg/router"
	"github.com/agentcanvas/agentcanvas/pkg/run"
	"github.com/agentcanvas/agentcanvas/pkg/store"
	"github.com/agentcanvas/agentcanvas/pkg/treecache"
	"github.com/agentcanvas/agentcanvas/pkg/version"
)

func main() {
	// Load .env before reading any configuration
	if err := godotenv.Load(); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment", "error", err)
	}

	// 1. Configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	slog.Info("Starting AgentCanvas", "version", version.Full(), "http_port", cfg.HTTPPort)

	ctx := context.Background()

	// 2. Database (connect + migrate)
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load database config", "error", err)
		os.Exit(1)
	}
	db, err := database.Open(ctx, dbConfig)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := db.Close(); err != nil {
			slog.Error("Error closing database", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL database")

	repo := store.NewPostgres(db)

	// 3. LLM client
	llmClient := llm.NewGemini(llm.GeminiOptions{
		DefaultAPIKey:  cfg.DefaultAPIKey,
		LegacyModelMap: cfg.LegacyModelMap,
		MaxConcurrent:  cfg.GlobalLLMConcurrency,
		Logger:         logger,
	})
	defer func() {
		if err := llmClient.Close(); err != nil {
			slog.Error("Error closing LLM client", "error", err)
		}
	}()

	// 4. Capability cache, router, executor, coordinator
	cache := treecache.New(repo, treecache.NewLLMDiscoverer(llmClient, logger), logger)
	exec := executor.New(repo, llmClient, router.New(cfg.SelectionThreshold), executor.Options{
		MaxDepth:      cfg.MaxDepth,
		MaxParallel:   cfg.MaxParallelPerRun,
		AgentTimeout:  cfg.AgentTimeout,
		HistoryWindow: cfg.HistoryWindow,
	}, logger)
	coordinator := run.NewCoordinator(repo, cache, exec, llmClient, run.Options{
		RunTimeout:      cfg.RunTimeout,
		ChannelCapacity: cfg.ChannelCapacity,
	}, logger)

	// 5. Session retention sweeper (optional)
	if cfg.SessionRetention > 0 {
		sweeper := cleanup.NewService(repo, cache, cleanup.Options{
			Retention: cfg.SessionRetention,
			Interval:  cfg.CleanupInterval,
		}, logger)
		sweeper.Start(ctx)
		defer sweeper.Stop()
	}

	// 6. HTTP server (non-blocking)
	server := api.NewServer(repo, cache, coordinator, db, cfg, logger)
	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			errCh <- err
		}
	}()

	// 7. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 8. Graceful shutdown. Active run producers persist their terminal
	// state on their own contexts.
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
