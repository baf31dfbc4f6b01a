package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hive-corporation/aegis/internal/core/domain"
	"github.com/hive-corporation/aegis/internal/core/ports"
	"github.com/hive-corporation/aegis/internal/router"
)

// RouterHandler exposes the model-routing service: pick a model for a
// task, optionally proxy the completion, and report registry state.
type RouterHandler struct {
	Registry  *router.Registry
	Completer ports.Completer
	Logger    *slog.Logger
	Timeout   time.Duration
}

func (h *RouterHandler) Routes(r *mux.Router) {
	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/route", h.RouteModel).Methods(http.MethodPost)
	api.HandleFunc("/complete", h.Complete).Methods(http.MethodPost)
	api.HandleFunc("/models", h.ListModels).Methods(http.MethodGet)
	r.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
}

type routeRequest struct {
	TaskType   string `json:"task_type"`
	Complexity string `json:"complexity"`
}

func (h *RouterHandler) RouteModel(w http.ResponseWriter, r *http.Request) {
	var req routeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeValidation, "malformed route request", err.Error())
		return
	}
	if req.TaskType == "" {
		writeError(w, http.StatusBadRequest, CodeValidation, "task_type is required", nil)
		return
	}

	route, err := h.Registry.Route(req.TaskType, req.Complexity)
	if err != nil {
		if errors.Is(err, domain.ErrNoModelAvailable) {
			writeError(w, http.StatusServiceUnavailable, "NO_MODEL_AVAILABLE",
				"no healthy model in any tier", nil)
			return
		}
		h.Logger.Error("routing failed", "task", req.TaskType, "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "routing failed", nil)
		return
	}
	writeData(w, http.StatusOK, route)
}

type completeRequest struct {
	TaskType   string `json:"task_type"`
	Complexity string `json:"complexity"`
	System     string `json:"system,omitempty"`
	Prompt     string `json:"prompt"`
}

type completeResponse struct {
	ModelID string `json:"model_id"`
	Content string `json:"content"`
}

// Complete proxies a completion through the routed model. Failures are
// reported to the registry so a flapping provider drops out of rotation
// without waiting for the next probe cycle.
func (h *RouterHandler) Complete(w http.ResponseWriter, r *http.Request) {
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	var req completeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeValidation, "malformed completion request", err.Error())
		return
	}
	if req.Prompt == "" {
		writeError(w, http.StatusBadRequest, CodeValidation, "prompt is required", nil)
		return
	}

	route, err := h.Registry.Route(req.TaskType, req.Complexity)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "NO_MODEL_AVAILABLE",
			"no healthy model in any tier", nil)
		return
	}

	content, err := h.Completer.Complete(ctx, route, req.System, req.Prompt)
	if err != nil {
		h.Registry.ReportFailure(route.ModelID)
		h.Logger.Error("completion failed", "model", route.ModelID, "error", err)
		writeError(w, http.StatusBadGateway, "UPSTREAM_ERROR",
			"model completion failed", map[string]string{"model_id": route.ModelID})
		return
	}
	h.Registry.ReportSuccess(route.ModelID)

	writeData(w, http.StatusOK, completeResponse{ModelID: route.ModelID, Content: content})
}

func (h *RouterHandler) ListModels(w http.ResponseWriter, _ *http.Request) {
	writeData(w, http.StatusOK, map[string]any{"models": h.Registry.List()})
}

func (h *RouterHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if !h.Registry.Healthy(r.Context()) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "degraded",
			"checks": map[string]string{"models": "unhealthy: no routable model"},
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"checks": map[string]string{"models": "ok"},
	})
}
