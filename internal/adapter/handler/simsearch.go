package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hive-corporation/aegis/internal/core/domain"
	"github.com/hive-corporation/aegis/internal/search"
)

// SearchHandler exposes the similarity-search service over HTTP.
type SearchHandler struct {
	Service *search.Service
	Logger  *slog.Logger
	Timeout time.Duration
	Checks  map[string]HealthCheck
}

func (h *SearchHandler) Routes(r *mux.Router) {
	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/search", h.Search).Methods(http.MethodPost)
	api.HandleFunc("/index", h.Index).Methods(http.MethodPost)
	api.HandleFunc("/index/{id}", h.Delete).Methods(http.MethodDelete)
	api.HandleFunc("/stats", h.Stats).Methods(http.MethodGet)
	r.HandleFunc("/health", Health(h.Checks)).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
}

type searchRequest struct {
	Text         string  `json:"text"`
	K            int     `json:"k"`
	MinScore     float64 `json:"min_score,omitempty"`
	ExcludeAlert string  `json:"exclude_alert,omitempty"`
}

func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.opCtx(r)
	defer cancel()

	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeValidation, "malformed search request", err.Error())
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, CodeValidation, "text is required", nil)
		return
	}
	var exclude uuid.UUID
	if req.ExcludeAlert != "" {
		id, err := uuid.Parse(req.ExcludeAlert)
		if err != nil {
			writeError(w, http.StatusBadRequest, CodeValidation, "exclude_alert is not a UUID", nil)
			return
		}
		exclude = id
	}

	hits, err := h.Service.SearchText(ctx, req.Text, req.K, req.MinScore, exclude)
	if err != nil {
		h.Logger.Error("similarity search failed", "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "search failed", nil)
		return
	}
	if hits == nil {
		hits = []domain.SimilarityHit{}
	}
	writeJSON(w, http.StatusOK, apiResponse{
		Success: true,
		Data:    hits,
		Meta:    map[string]int{"count": len(hits)},
	})
}

type indexRequest struct {
	Alert     *domain.Alert `json:"alert"`
	RiskLevel string        `json:"risk_level"`
}

func (h *SearchHandler) Index(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.opCtx(r)
	defer cancel()

	var req indexRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeValidation, "malformed index request", err.Error())
		return
	}
	if req.Alert == nil || req.Alert.ID == uuid.Nil {
		writeError(w, http.StatusBadRequest, CodeValidation, "alert with id is required", nil)
		return
	}

	if err := h.Service.IndexAlert(ctx, req.Alert, req.RiskLevel); err != nil {
		h.Logger.Error("index failed", "alert", req.Alert.ID, "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "index failed", nil)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"id": req.Alert.ID.String(), "status": "indexed"})
}

func (h *SearchHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.opCtx(r)
	defer cancel()

	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeValidation, "id is not a UUID", nil)
		return
	}
	if err := h.Service.Remove(ctx, id); err != nil {
		h.Logger.Error("delete failed", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "delete failed", nil)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"id": id.String(), "status": "deleted"})
}

func (h *SearchHandler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.opCtx(r)
	defer cancel()

	count, dim, err := h.Service.Stats(ctx)
	if err != nil {
		h.Logger.Error("stats failed", "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "stats unavailable", nil)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"points": count, "dimensions": dim})
}

func (h *SearchHandler) opCtx(r *http.Request) (context.Context, context.CancelFunc) {
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return context.WithTimeout(r.Context(), timeout)
}
