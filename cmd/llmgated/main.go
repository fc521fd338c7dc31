package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/biava/llmgate/internal/admission"
	"github.com/biava/llmgate/internal/config"
	"github.com/biava/llmgate/internal/registry"
	"github.com/biava/llmgate/internal/repository"
	"github.com/biava/llmgate/internal/repository/postgres"
	"github.com/biava/llmgate/internal/server"
	"github.com/biava/llmgate/internal/upstream"
)

func main() {
	// Set up structured logging
	logLevel := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("failed to run gateway", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	slog.Info("starting LLM gateway",
		"http_port", cfg.HTTPPort,
		"environment", cfg.Environment,
		"upstream_mode", cfg.UpstreamMode,
		"upstream_url", cfg.UpstreamURL,
	)

	// Initialize the request audit log when a database is configured
	var requestLogs repository.RequestLogRepository
	if cfg.DatabaseURL != "" {
		db, err := postgres.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer db.Close()
		requestLogs = postgres.NewRequestLogRepo(db)
		slog.Info("connected to PostgreSQL, request audit log enabled")
	} else {
		slog.Info("no DATABASE_URL configured, request audit log disabled")
	}

	// Initialize the upstream adapter
	var adapter upstream.Adapter
	switch cfg.UpstreamMode {
	case config.ModeStream:
		adapter = upstream.NewStreamClient(
			upstream.WithStreamBaseURL(cfg.UpstreamURL),
			upstream.WithStreamModel(cfg.UpstreamModel),
			upstream.WithChunkTimeout(cfg.ChunkTimeout),
			upstream.WithStreamLogger(slog.Default()),
		)
	case config.ModeBatch:
		adapter = upstream.NewCompletionClient(
			upstream.WithCompletionBaseURL(cfg.UpstreamURL),
			upstream.WithCompletionModel(cfg.UpstreamModel),
		)
	}
	slog.Info("initialized upstream adapter", "mode", cfg.UpstreamMode, "model", cfg.UpstreamModel)

	// Admission control with periodic window cleanup
	limiter := admission.NewLimiter(
		admission.WithQuota(cfg.RateLimit),
		admission.WithWindow(cfg.RateWindow),
	)
	limiter.StartSweeper(cfg.RateWindow)
	defer limiter.StopSweeper()

	// In-flight request registry
	reg := registry.New()

	chat := server.NewChatHandler(server.ChatHandlerConfig{
		Adapter:         adapter,
		Limiter:         limiter,
		Registry:        reg,
		RequestLogs:     requestLogs,
		Logger:          slog.Default(),
		Model:           cfg.UpstreamModel,
		MaxMessages:     cfg.MaxMessages,
		MaxContentChars: cfg.MaxContentChars,
	})

	httpServer, err := server.NewHTTPServer(server.HTTPServerConfig{
		Port:           cfg.HTTPPort,
		Logger:         slog.Default(),
		AllowedOrigins: cfg.AllowedOrigins,
		Chat:           chat,
	})
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting HTTP server", "port", cfg.HTTPPort)
		if err := httpServer.Start(); err != nil {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		slog.Info("received shutdown signal", "signal", sig)
	}

	// Graceful shutdown: abort in-flight upstream exchanges first so their
	// handlers unwind, then drain the listener.
	slog.Info("shutting down gateway...")
	reg.CancelAll()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to shutdown HTTP server", "error", err)
	}

	slog.Info("gateway stopped")
	return nil
}

// Ensure interfaces are satisfied at compile time
var (
	_ upstream.Adapter                = (*upstream.StreamClient)(nil)
	_ upstream.Adapter                = (*upstream.CompletionClient)(nil)
	_ repository.RequestLogRepository = (*postgres.RequestLogRepo)(nil)
)
