package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"streamindexer/internal/api"
	"streamindexer/internal/config"
	"streamindexer/internal/reconcile"
	"streamindexer/internal/retry"
	"streamindexer/internal/storage"

	"github.com/joho/godotenv"
)

func main() {
	// 1. Load configuration
	_ = godotenv.Load()
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// 2. Configure logger
	var logLevel slog.Level
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("Configuration loaded",
		"api_port", cfg.APIPort,
		"log_level", cfg.LogLevel,
	)

	// 3. Initialize database connection and schema
	ctx := context.Background()
	repository, err := storage.NewPostgresRepository(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer repository.Close()

	if err := repository.Migrate(ctx); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}
	slog.Info("Database connected successfully")

	// 4. Create the reconciler that webhook deliveries flow through
	retrier := retry.NewStrategy(retry.LoadConfig())
	reconciler := reconcile.New(repository, retrier)

	// 5. Start the API server (webhook + read endpoints)
	server := api.NewServer(cfg.APIPort, cfg.ChainhookSecret, cfg.CORSOrigins, repository, reconciler)
	if err := server.Start(); err != nil {
		log.Fatalf("Failed to start API server: %v", err)
	}

	// 6. Wait for interrupt, then drain in-flight deliveries
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Warn("Interrupt received, shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Error shutting down API server", "error", err)
	}

	slog.Info("Indexer stopped")
}
