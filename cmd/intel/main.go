// The intel service consumes alert.enriched and fans every IOC out to
// the configured threat-intelligence sources, attaching the weighted
// verdict summary before forwarding to alert.contextualized.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/hive-corporation/aegis/internal/adapter/broker"
	"github.com/hive-corporation/aegis/internal/adapter/cache"
	"github.com/hive-corporation/aegis/internal/adapter/handler"
	"github.com/hive-corporation/aegis/internal/adapter/intel"
	"github.com/hive-corporation/aegis/internal/adapter/repository"
	"github.com/hive-corporation/aegis/internal/config"
	"github.com/hive-corporation/aegis/internal/core/ports"
	"github.com/hive-corporation/aegis/internal/metrics"
	"github.com/hive-corporation/aegis/internal/stage"
)

// Source weights; disabled sources are simply absent and the
// aggregation renormalizes over the rest.
const (
	vtWeight      = 0.40
	otxWeight     = 0.30
	abuseChWeight = 0.30
)

// The aggregation deadline is 10s; the SLA covers retries around it.
const stageSLA = 15 * time.Second

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("configuration error", "error", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel})).
		With("component", "intel")
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("intel exited with error", "error", err)
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
	consumer, err := broker.NewConsumer(b, broker.QueueEnriched, cfg.Prefetch)
	if err != nil {
		return err
	}
	defer consumer.Close()

	httpClient := &http.Client{Timeout: 10 * time.Second}
	var sources []ports.ThreatSource
	if cfg.VirusTotalKey != "" {
		sources = append(sources, intel.NewResilientSource(
			intel.NewVirusTotalSource(httpClient, cfg.VirusTotalKey, vtWeight),
			intel.DefaultResilientSourceConfig()))
	}
	if cfg.OTXKey != "" {
		sources = append(sources, intel.NewResilientSource(
			intel.NewOTXSource(httpClient, cfg.OTXKey, otxWeight),
			intel.DefaultResilientSourceConfig()))
	}
	if cfg.AbuseChKey != "" {
		sources = append(sources, intel.NewResilientSource(
			intel.NewAbuseChSource(httpClient, cfg.AbuseChKey, abuseChWeight),
			intel.DefaultResilientSourceConfig()))
	}
	if len(sources) == 0 {
		logger.Warn("no threat-intel source configured, alerts will carry empty summaries")
	}

	aggregator := intel.NewAggregator(sources, kv, repo, logger, intel.AggregatorConfig{
		Deadline: cfg.IntelDeadline,
		CacheTTL: cfg.ThreatIntelTTL,
	})

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
		Name:     "intel",
		Consumer: consumer,
		Handler: &stage.Intel{
			Aggregator: aggregator,
			Publisher:  publisher,
			Logger:     logger,
		},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		SLA:         stageSLA,
		DrainGrace:  cfg.ShutdownGrace,
	}

	logger.Info("intel consuming",
		"queue", broker.QueueEnriched, "sources", len(sources), "concurrency", cfg.WorkerConcurrency)
	return runner.Run(ctx)
}
