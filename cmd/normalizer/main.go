// The normalizer consumes alert.raw: vendor-format normalization, IOC
// extraction and fingerprint deduplication, forwarding survivors to
// alert.normalized.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/hive-corporation/aegis/internal/adapter/broker"
	"github.com/hive-corporation/aegis/internal/adapter/cache"
	"github.com/hive-corporation/aegis/internal/adapter/handler"
	"github.com/hive-corporation/aegis/internal/adapter/repository"
	"github.com/hive-corporation/aegis/internal/config"
	"github.com/hive-corporation/aegis/internal/metrics"
	"github.com/hive-corporation/aegis/internal/stage"
)

// Parsing and a couple of store round-trips fit comfortably here.
const stageSLA = 5 * time.Second

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("configuration error", "error", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel})).
		With("component", "normalizer")
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("normalizer exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := repository.NewPool(ctx, cfg.DatabaseURL, cfg.PoolSize())
	if err != nil {
		return err
	}
	defer pool.Close()
	if err := repository.EnsureSchema(ctx, pool); err != nil {
		return err
	}
	repo := repository.NewPostgresRepository(pool)

	kv, err := cache.New(cfg.CacheURL, 0)
	if err != nil {
		return err
	}
	defer kv.Close()

	b, err := broker.Dial(cfg.BrokerURL)
	if err != nil {
		return err
	}
	defer b.Close()
	if err := b.DeclareTopology(); err != nil {
		return err
	}
	publisher, err := broker.NewPublisher(b)
	if err != nil {
		return err
	}
	defer publisher.Close()
	consumer, err := broker.NewConsumer(b, broker.QueueRaw, cfg.Prefetch)
	if err != nil {
		return err
	}
	defer consumer.Close()

	srv := handler.OpsServer(cfg.ListenAddr, map[string]handler.HealthCheck{
		"database": func(ctx context.Context) error { return pool.Ping(ctx) },
		"message_queue": func(context.Context) error {
			if !b.Healthy() {
				return fmt.Errorf("broker connection closed")
			}
			return nil
		},
	})
	go handler.ServeOps(ctx, srv, logger)

	runner := &stage.Runner{
		Name:     "normalizer",
		Consumer: consumer,
		Handler: &stage.Normalizer{
			Alerts:      repo,
			Audit:       repo,
			Cache:       kv,
			Publisher:   publisher,
			Logger:      logger,
			DedupWindow: cfg.DedupWindow,
		},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		SLA:         stageSLA,
		DrainGrace:  cfg.ShutdownGrace,
	}

	logger.Info("normalizer consuming", "queue", broker.QueueRaw, "concurrency", cfg.WorkerConcurrency)
	return runner.Run(ctx)
}
