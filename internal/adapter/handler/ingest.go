package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hive-corporation/aegis/internal/adapter/broker"
	"github.com/hive-corporation/aegis/internal/core/domain"
	"github.com/hive-corporation/aegis/internal/core/ports"
	"github.com/hive-corporation/aegis/internal/metrics"
)

// MaxBatchSize is the hard cap on a single batch submission.
const MaxBatchSize = 100

// HealthCheck probes one dependency. A nil error means healthy.
type HealthCheck func(ctx context.Context) error

// IngestHandler accepts alerts over HTTP, persists them and emits them
// onto alert.raw. Persist happens before publish so a broker outage
// never loses an accepted alert; the reconciler re-emits stragglers.
type IngestHandler struct {
	Alerts      ports.AlertRepository
	Audit       ports.AuditRepository
	Publisher   ports.Publisher
	Logger      *slog.Logger
	DedupWindow time.Duration
	Timeout     time.Duration
	Checks      map[string]HealthCheck
}

// Routes registers the ingestion endpoints on r.
func (h *IngestHandler) Routes(r *mux.Router, limiter *RateLimiter) {
	api := r.PathPrefix("/api/v1").Subrouter()
	if limiter != nil {
		api.Use(limiter.Middleware)
	}
	api.HandleFunc("/alerts", h.SubmitAlert).Methods(http.MethodPost)
	api.HandleFunc("/alerts/batch", h.SubmitBatch).Methods(http.MethodPost)
	api.HandleFunc("/alerts/{alert_id}", h.GetAlert).Methods(http.MethodGet)
	r.HandleFunc("/health", Health(h.Checks)).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
}

type ingestReceipt struct {
	IngestionID string `json:"ingestion_id"`
	AlertID     string `json:"alert_id"`
	Status      string `json:"status"`
}

func (h *IngestHandler) SubmitAlert(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout())
	defer cancel()

	var alert domain.Alert
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&alert); err != nil {
		metrics.RecordIngest("400")
		writeError(w, http.StatusBadRequest, CodeValidation, "malformed alert JSON", err.Error())
		return
	}

	receipt, err := h.ingest(ctx, &alert)
	if err != nil {
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			metrics.RecordIngest("400")
			writeError(w, http.StatusBadRequest, CodeValidation, verr.Error(),
				map[string]string{"field": verr.Field})
			return
		}
		metrics.RecordIngest("500")
		h.Logger.Error("ingest failed", "alert_id", alert.AlertID, "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to accept alert", nil)
		return
	}

	metrics.RecordIngest("200")
	writeData(w, http.StatusOK, receipt)
}

// ingest validates, persists and publishes one alert. It mutates the
// alert in place (surrogate ID, status, fingerprint, timestamp default).
func (h *IngestHandler) ingest(ctx context.Context, alert *domain.Alert) (*ingestReceipt, error) {
	if err := alert.Validate(time.Now()); err != nil {
		return nil, err
	}
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now().UTC()
	}
	alert.ID = uuid.New()
	alert.Status = domain.StatusNew
	alert.Fingerprint = domain.Fingerprint(alert, h.DedupWindow)

	if err := h.Alerts.Insert(ctx, alert); err != nil {
		return nil, fmt.Errorf("persist alert: %w", err)
	}
	h.audit(ctx, alert.ID, "ingested", alert.Source)

	ingestionID := uuid.NewString()
	env := &domain.Envelope{Alert: *alert}
	if err := h.Publisher.Publish(ctx, broker.QueueRaw, env, alert.Severity.Priority(), ingestionID); err != nil {
		// The row is persisted; the reconciler will pick it up.
		h.Logger.Warn("publish after persist failed, deferring to reconciler",
			"alert_id", alert.AlertID, "error", err)
	}

	return &ingestReceipt{
		IngestionID: ingestionID,
		AlertID:     alert.AlertID,
		Status:      "queued",
	}, nil
}

type batchRequest struct {
	BatchID string         `json:"batch_id,omitempty"`
	Alerts  []domain.Alert `json:"alerts"`
}

type batchItemError struct {
	Index   int    `json:"index"`
	AlertID string `json:"alert_id,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type batchReceipt struct {
	BatchID      string           `json:"batch_id"`
	Total        int              `json:"total"`
	Successful   int              `json:"successful"`
	Failed       int              `json:"failed"`
	IngestionIDs []string         `json:"ingestion_ids"`
	Errors       []batchItemError `json:"errors,omitempty"`
}

func (h *IngestHandler) SubmitBatch(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout())
	defer cancel()

	var req batchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 16<<20)).Decode(&req); err != nil {
		metrics.RecordIngest("400")
		writeError(w, http.StatusBadRequest, CodeValidation, "malformed batch JSON", err.Error())
		return
	}
	if len(req.Alerts) == 0 {
		metrics.RecordIngest("400")
		writeError(w, http.StatusBadRequest, CodeValidation, "batch contains no alerts", nil)
		return
	}
	if len(req.Alerts) > MaxBatchSize {
		metrics.RecordIngest("413")
		writeError(w, http.StatusRequestEntityTooLarge, CodePayloadTooLarge,
			fmt.Sprintf("batch exceeds %d alerts", MaxBatchSize),
			map[string]int{"size": len(req.Alerts), "limit": MaxBatchSize})
		return
	}
	if req.BatchID == "" {
		req.BatchID = uuid.NewString()
	}

	receipt := batchReceipt{
		BatchID:      req.BatchID,
		Total:        len(req.Alerts),
		IngestionIDs: make([]string, 0, len(req.Alerts)),
	}
	for i := range req.Alerts {
		item, err := h.ingest(ctx, &req.Alerts[i])
		if err != nil {
			receipt.Failed++
			code, msg := CodeInternal, "failed to accept alert"
			var verr *domain.ValidationError
			if errors.As(err, &verr) {
				code, msg = CodeValidation, verr.Error()
			} else {
				h.Logger.Error("batch item failed",
					"batch_id", req.BatchID, "index", i, "error", err)
			}
			receipt.Errors = append(receipt.Errors, batchItemError{
				Index:   i,
				AlertID: req.Alerts[i].AlertID,
				Code:    code,
				Message: msg,
			})
			continue
		}
		receipt.Successful++
		receipt.IngestionIDs = append(receipt.IngestionIDs, item.IngestionID)
	}

	metrics.RecordIngest("200")
	writeData(w, http.StatusOK, receipt)
}

func (h *IngestHandler) GetAlert(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout())
	defer cancel()

	alertID := mux.Vars(r)["alert_id"]
	alert, err := h.Alerts.GetByAlertID(ctx, alertID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, CodeNotFound,
				fmt.Sprintf("alert %s not found", alertID), nil)
			return
		}
		h.Logger.Error("alert lookup failed", "alert_id", alertID, "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "lookup failed", nil)
		return
	}
	writeData(w, http.StatusOK, alert)
}

func (h *IngestHandler) audit(ctx context.Context, id uuid.UUID, action, actor string) {
	if h.Audit == nil {
		return
	}
	entry := domain.AuditEntry{AlertID: id, Action: action, Actor: actor, CreatedAt: time.Now().UTC()}
	if err := h.Audit.Append(ctx, entry); err != nil {
		h.Logger.Warn("audit append failed", "alert_id", id, "action", action, "error", err)
	}
}

func (h *IngestHandler) timeout() time.Duration {
	if h.Timeout <= 0 {
		return 10 * time.Second
	}
	return h.Timeout
}

// Health builds the /health endpoint from named dependency checks.
// Any failing check turns the whole response 503.
func Health(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := http.StatusOK
		results := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				results[name] = "unhealthy: " + err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			results[name] = "ok"
		}
		body := map[string]any{"status": "ok", "checks": results}
		if status != http.StatusOK {
			body["status"] = "degraded"
		}
		writeJSON(w, status, body)
	}
}
