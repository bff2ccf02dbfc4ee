package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/nikhilbhutani/promptcraft/internal/audit"
	"github.com/nikhilbhutani/promptcraft/internal/config"
	"github.com/nikhilbhutani/promptcraft/internal/database"
	"github.com/nikhilbhutani/promptcraft/internal/queue"
	"github.com/nikhilbhutani/promptcraft/internal/queue/workers"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	// The worker only persists records, so it needs the database.
	db, err := database.NewPool(ctx, cfg.Database)
	if err != nil {
		slog.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := database.RunMigrations(ctx, db, cfg.Database.MigrationsPath); err != nil {
		slog.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	registry := queue.NewRegistry()
	workers.NewAuditWorker(audit.NewService(db)).Register(registry)

	srv := queue.NewServer(cfg.Redis, cfg.Worker.Concurrency)

	slog.Info("starting worker", "concurrency", cfg.Worker.Concurrency, "task_types", registry.Types())
	if err := srv.Run(registry.Mux()); err != nil {
		slog.Error("worker error", "error", err)
		os.Exit(1)
	}
}
