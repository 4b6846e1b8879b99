// Package main is the entrypoint for the channelintel API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/channelintel/channelintel/internal/api"
	"github.com/channelintel/channelintel/internal/api/handler"
	mw "github.com/channelintel/channelintel/internal/api/middleware"
	"github.com/channelintel/channelintel/internal/cache"
	"github.com/channelintel/channelintel/internal/config"
	"github.com/channelintel/channelintel/internal/credits"
	"github.com/channelintel/channelintel/internal/queue"
	"github.com/channelintel/channelintel/internal/ratelimit"
	"github.com/channelintel/channelintel/internal/store"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "env", cfg.Server.Env, "port", cfg.Server.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	pgStore := store.NewPostgresStore(pool)
	ledger := credits.NewLedger(pool)
	limiter := ratelimit.New(redisCache, slog.Default())
	taskQueue := queue.New(redisCache)

	deps := api.Dependencies{
		Auth:      mw.NewAuth(pgStore),
		RateLimit: mw.NewRateLimit(limiter),

		HealthHandler: handler.NewHealthHandler(pgStore, redisCache),

		BulkAddChannels: handler.NewBulkAddChannelsHandler(pgStore),
		ListChannels:    handler.NewListChannelsHandler(pgStore, ledger, limiter),
		GetChannel:      handler.NewGetChannelHandler(pgStore),

		SubmitJob: handler.NewSubmitJobHandler(pgStore, ledger, limiter, taskQueue),
		ListJobs:  handler.NewListJobsHandler(pgStore),
		GetJob:    handler.NewGetJobHandler(pgStore),

		UsageHandler:   handler.NewUsageHandler(limiter),
		CreditsHandler: handler.NewCreditsHandler(ledger),

		ListCredentials:  handler.NewListCredentialsHandler(pgStore),
		CreateCredential: handler.NewCreateCredentialHandler(pgStore),
		CreateKeyHandler: handler.NewCreateKeyHandler(pgStore),
		ListKeysHandler:  handler.NewListKeysHandler(pgStore),
		RevokeKeyHandler: handler.NewRevokeKeyHandler(pgStore),
		GrantCredits:     handler.NewGrantCreditsHandler(ledger),
	}

	router := api.NewRouter(deps)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}
