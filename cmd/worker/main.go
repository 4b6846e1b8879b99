// Package main is the entrypoint for the channelintel background worker. It
// consumes queued jobs and runs the janitor alongside.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/channelintel/channelintel/internal/cache"
	"github.com/channelintel/channelintel/internal/config"
	"github.com/channelintel/channelintel/internal/credits"
	"github.com/channelintel/channelintel/internal/discovery"
	"github.com/channelintel/channelintel/internal/extcall"
	"github.com/channelintel/channelintel/internal/keypool"
	"github.com/channelintel/channelintel/internal/queue"
	"github.com/channelintel/channelintel/internal/store"
	"github.com/channelintel/channelintel/internal/worker"
	"github.com/channelintel/channelintel/internal/youtube"
	"github.com/channelintel/channelintel/pkg/models"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("worker failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "env", cfg.Server.Env,
		"chunk_size", cfg.Worker.ChunkSize, "poll_timeout", cfg.Worker.PollTimeout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

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
	taskQueue := queue.New(redisCache)

	ytClient := youtube.NewClient(cfg.YouTube.BaseURL, cfg.YouTube.Timeout)
	scraper := discovery.NewScraper(cfg.Discovery.Timeout, cfg.Discovery.UserAgent)
	credPool := keypool.New(pgStore, models.ServiceYouTube, slog.Default())
	executor := extcall.New(credPool, slog.Default())
	engine := discovery.NewEngine(pgStore, executor, ytClient, scraper, slog.Default())

	processor := worker.NewProcessor(pgStore, redisCache, slog.Default(),
		cfg.Worker.ChunkSize, cfg.Worker.MinChunkDelay, cfg.Worker.MaxChunkDelay)
	migrator := worker.NewMigrator(pgStore, redisCache, slog.Default(), cfg.Worker.ChunkSize)

	w := worker.New(pgStore, redisCache, taskQueue, processor, executor,
		ytClient, engine, migrator, slog.Default(),
		cfg.Worker.PollTimeout, cfg.Worker.DefaultItemLimit)

	janitor := worker.NewJanitor(pgStore, ledger, slog.Default())
	go janitor.Run(ctx)

	if err := w.Run(ctx); err != nil {
		return fmt.Errorf("worker run: %w", err)
	}

	slog.Info("worker stopped gracefully")
	return nil
}
