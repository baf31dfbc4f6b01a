// The simsearch service answers top-K similarity queries over historical
// alert embeddings and keeps the index current by consuming the final
// result queue.
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
	"github.com/hive-corporation/aegis/internal/adapter/vector"
	"github.com/hive-corporation/aegis/internal/config"
	"github.com/hive-corporation/aegis/internal/core/domain"
	"github.com/hive-corporation/aegis/internal/core/ports"
	"github.com/hive-corporation/aegis/internal/metrics"
	"github.com/hive-corporation/aegis/internal/search"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("configuration error", "error", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel})).
		With("component", "simsearch")
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("simsearch exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var embedder ports.Embedder
	if cfg.EmbedEndpoint != "" {
		embedder = vector.NewHTTPEmbedder(cfg.EmbedEndpoint, cfg.EmbedAPIKey, "", domain.EmbeddingDim)
	} else {
		logger.Warn("EMBED_API_URL not set, using the deterministic local embedder")
		embedder = vector.NewLocalEmbedder(domain.EmbeddingDim)
	}

	index, err := vector.NewQdrantIndex(vector.QdrantConfig{
		URL:        cfg.VectorStoreURL,
		APIKey:     cfg.VectorAPIKey,
		Collection: cfg.VectorColl,
		Dims:       embedder.Dim(),
	}, logger)
	if err != nil {
		return err
	}
	if err := index.EnsureCollection(ctx); err != nil {
		return err
	}

	service := search.NewService(embedder, index, logger)

	b, err := broker.Dial(cfg.BrokerURL)
	if err != nil {
		return err
	}
	defer b.Close()
	if err := b.DeclareTopology(); err != nil {
		return err
	}
	consumer, err := broker.NewConsumer(b, broker.QueueResult, cfg.Prefetch)
	if err != nil {
		return err
	}
	defer consumer.Close()

	h := &handler.SearchHandler{
		Service: service,
		Logger:  logger,
		Checks: map[string]handler.HealthCheck{
			"vector_store": func(ctx context.Context) error { return index.Healthy(ctx) },
			"message_queue": func(context.Context) error {
				if !b.Healthy() {
					return fmt.Errorf("broker connection closed")
				}
				return nil
			},
		},
	}
	r := mux.NewRouter()
	h.Routes(r)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler.Logging(logger, r),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("similarity search listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		indexer := search.NewIndexer(consumer, service, logger)
		if err := indexer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
