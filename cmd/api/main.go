package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nikhilbhutani/promptcraft/internal/api"
	"github.com/nikhilbhutani/promptcraft/internal/config"
	"github.com/nikhilbhutani/promptcraft/internal/database"
	"github.com/nikhilbhutani/promptcraft/internal/queue"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Warn("persistence routes disabled", "error", err)
	}

	ctx := context.Background()
	var deps api.Deps

	// Generation routes work without a database; saved prompts and history
	// answer 503 until one is configured.
	db, err := database.NewPool(ctx, cfg.Database)
	switch {
	case errors.Is(err, database.ErrNotConfigured):
		slog.Warn("running without database")
	case err != nil:
		slog.Warn("database unavailable, running without DB", "error", err)
	default:
		defer db.Close()
		if err := database.RunMigrations(ctx, db, cfg.Database.MigrationsPath); err != nil {
			slog.Error("migrations failed", "error", err)
			os.Exit(1)
		}
		deps.DB = db
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	err = rdb.Ping(pingCtx).Err()
	cancel()
	if err != nil {
		slog.Warn("redis unavailable, running without cache and queue", "error", err)
	} else {
		deps.Redis = rdb
		qc := queue.NewClient(cfg.Redis)
		defer qc.Close()
		deps.Queue = qc
	}

	slog.Info("backends", "database", deps.DB != nil, "redis", deps.Redis != nil)

	router := api.NewRouter(cfg, deps)
	defer router.Close()

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router.Setup(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("starting API server", "addr", cfg.Addr())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced shutdown", "error", err)
	}
	slog.Info("server stopped")
}

