// The llmrouter service picks an LLM for a task descriptor, probes the
// registered models and optionally proxies completions.
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

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"

	"github.com/hive-corporation/aegis/internal/adapter/handler"
	"github.com/hive-corporation/aegis/internal/adapter/llm"
	"github.com/hive-corporation/aegis/internal/config"
	"github.com/hive-corporation/aegis/internal/metrics"
	"github.com/hive-corporation/aegis/internal/router"
)

const probeInterval = 30 * time.Second

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("configuration error", "error", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel})).
		With("component", "llmrouter")
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("llmrouter exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := router.NewRegistry(router.DefaultModels(cfg.LLMEndpoint), logger)
	go router.NewProber(registry, probeInterval).Start(ctx)

	h := &handler.RouterHandler{
		Registry:  registry,
		Completer: llm.NewChatCompleter(cfg.LLMAPIKey, cfg.LLMTimeout),
		Logger:    logger,
	}
	r := mux.NewRouter()
	h.Routes(r)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler.Logging(logger, r),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("model router listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
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
