// The triage service consumes alert.contextualized: deterministic risk
// scoring plus LLM analysis through the model router, with similarity
// context from the search service, emitting final results onto
// alert.result.
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
	"github.com/hive-corporation/aegis/internal/adapter/handler"
	"github.com/hive-corporation/aegis/internal/adapter/llm"
	"github.com/hive-corporation/aegis/internal/adapter/repository"
	"github.com/hive-corporation/aegis/internal/adapter/vector"
	"github.com/hive-corporation/aegis/internal/config"
	"github.com/hive-corporation/aegis/internal/core/ports"
	"github.com/hive-corporation/aegis/internal/metrics"
	"github.com/hive-corporation/aegis/internal/stage"
)

// The LLM call alone may take 30s; the SLA bounds the whole attempt.
const stageSLA = 45 * time.Second

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("configuration error", "error", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel})).
		With("component", "triage")
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("triage exited with error", "error", err)
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
	consumer, err := broker.NewConsumer(b, broker.QueueContextualized, cfg.Prefetch)
	if err != nil {
		return err
	}
	defer consumer.Close()

	// Direct-provider route used when the router service is down.
	fallback := ports.ModelRoute{
		ModelID:  cfg.LLMModel,
		Endpoint: cfg.LLMEndpoint,
	}
	router := llm.NewRouterClient(cfg.RouterURL, fallback, logger)
	completer := llm.NewChatCompleter(cfg.LLMAPIKey, cfg.LLMTimeout)

	var similarity ports.SimilarityClient
	if cfg.SimilaritySvcURL != "" {
		similarity = vector.NewSearchClient(cfg.SimilaritySvcURL, cfg.SimSearchTimeout)
	} else {
		logger.Warn("SIMILARITY_URL not set, triage runs without historical context")
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
		Name:     "triage",
		Consumer: consumer,
		Handler: &stage.Triage{
			Alerts:     repo,
			Results:    repo,
			Audit:      repo,
			Similarity: similarity,
			Router:     router,
			Completer:  completer,
			Publisher:  publisher,
			Logger:     logger,
			LLMTimeout: cfg.LLMTimeout,
			SimTimeout: cfg.SimSearchTimeout,
		},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		SLA:         stageSLA,
		DrainGrace:  cfg.ShutdownGrace,
	}

	logger.Info("triage consuming", "queue", broker.QueueContextualized, "concurrency", cfg.WorkerConcurrency)
	return runner.Run(ctx)
}
