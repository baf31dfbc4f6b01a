// The collector consumes alert.normalized and gathers network, asset
// and user context concurrently, degrading to partial rows when a
// provider is slow or down.
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
	"github.com/hive-corporation/aegis/internal/adapter/provider"
	"github.com/hive-corporation/aegis/internal/adapter/repository"
	"github.com/hive-corporation/aegis/internal/config"
	"github.com/hive-corporation/aegis/internal/core/ports"
	"github.com/hive-corporation/aegis/internal/metrics"
	"github.com/hive-corporation/aegis/internal/stage"
)

// The joint provider timeout is 3s; the SLA leaves room for the store
// round-trips around it.
const stageSLA = 5 * time.Second

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("configuration error", "error", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel})).
		With("component", "collector")
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("collector exited with error", "error", err)
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
	consumer, err := broker.NewConsumer(b, broker.QueueNormalized, cfg.Prefetch)
	if err != nil {
		return err
	}
	defer consumer.Close()

	internalNets, err := stage.ParseCIDRs(cfg.InternalCIDRs)
	if err != nil {
		return err
	}

	httpClient := &http.Client{Timeout: cfg.EnrichTimeout}
	var geo ports.GeoIPProvider = &provider.StaticGeoIP{}
	if cfg.GeoIPURL != "" {
		geo = provider.NewGeoIPProvider(httpClient, cfg.GeoIPURL)
	}
	var assets ports.AssetProvider = &provider.StaticCMDB{}
	if cfg.CMDBURL != "" {
		assets = provider.NewCMDBProvider(httpClient, cfg.CMDBURL, cfg.CMDBKey)
	}
	var users ports.UserProvider = &provider.StaticDirectory{}
	if cfg.DirectoryURL != "" {
		users = provider.NewDirectoryProvider(httpClient, cfg.DirectoryURL, cfg.DirectoryKey)
	}

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
		Name:     "collector",
		Consumer: consumer,
		Handler: &stage.Collector{
			GeoIP:         geo,
			Assets:        assets,
			Users:         users,
			Contexts:      repo,
			Cache:         kv,
			Publisher:     publisher,
			Logger:        logger,
			Timeout:       cfg.EnrichTimeout,
			CacheTTL:      cfg.EnrichmentTTL,
			InternalCIDRs: internalNets,
		},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		SLA:         stageSLA,
		DrainGrace:  cfg.ShutdownGrace,
	}

	logger.Info("collector consuming", "queue", broker.QueueNormalized, "concurrency", cfg.WorkerConcurrency)
	return runner.Run(ctx)
}
