// The ingestor is the pipeline head: it accepts alerts over HTTP,
// persists them and emits them onto alert.raw. A reconciler loop
// re-emits alerts whose publish was lost to a broker outage.
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

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"

	"github.com/hive-corporation/aegis/internal/adapter/broker"
	"github.com/hive-corporation/aegis/internal/adapter/handler"
	"github.com/hive-corporation/aegis/internal/adapter/repository"
	"github.com/hive-corporation/aegis/internal/config"
	"github.com/hive-corporation/aegis/internal/metrics"
	"github.com/hive-corporation/aegis/internal/stage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("configuration error", "error", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel})).
		With("component", "ingestor")
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("ingestor exited with error", "error", err)
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

	h := &handler.IngestHandler{
		Alerts:      repo,
		Audit:       repo,
		Publisher:   publisher,
		Logger:      logger,
		DedupWindow: cfg.DedupWindow,
		Checks: map[string]handler.HealthCheck{
			"database": func(ctx context.Context) error { return pool.Ping(ctx) },
			"message_queue": func(context.Context) error {
				if !b.Healthy() {
					return fmt.Errorf("broker connection closed")
				}
				return nil
			},
		},
	}

	router := mux.NewRouter()
	h.Routes(router, handler.NewRateLimiter(cfg.RateLimitPerMin))

	reconciler := &stage.Reconciler{Alerts: repo, Publisher: publisher, Logger: logger}
	go reconciler.Loop(ctx, 5*time.Minute)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler.Logging(logger, router),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("ingestion API listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down", "grace", cfg.ShutdownGrace)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
