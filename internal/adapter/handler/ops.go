package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// OpsServer is the health and metrics endpoint carried by the worker
// services that have no API surface of their own.
func OpsServer(addr string, checks map[string]HealthCheck) *http.Server {
	r := mux.NewRouter()
	r.HandleFunc("/health", Health(checks)).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// ServeOps runs the ops server until ctx is done, then shuts it down.
// Serve errors are logged, not fatal: a worker without its health
// endpoint is degraded, not broken.
func ServeOps(ctx context.Context, srv *http.Server, logger *slog.Logger) {
	go func() {
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("ops server failed", "addr", srv.Addr, "error", err)
		}
	}()
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}
