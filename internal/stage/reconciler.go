package stage

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hive-corporation/aegis/internal/adapter/broker"
	"github.com/hive-corporation/aegis/internal/core/domain"
	"github.com/hive-corporation/aegis/internal/core/ports"
)

// Reconciler re-emits alerts that were persisted but never made it onto
// alert.raw, typically because the broker was down at ingestion time.
// The pipeline dedupes by fingerprint so a double emission is harmless.
type Reconciler struct {
	Alerts    ports.AlertRepository
	Publisher ports.Publisher
	Logger    *slog.Logger

	// MinAge keeps freshly inserted rows out of a reconcile pass while
	// their original publish may still be in flight.
	MinAge    time.Duration
	BatchSize int
}

const (
	defaultReconcileMinAge = 2 * time.Minute
	defaultReconcileBatch  = 500
)

// Run performs one reconcile pass and returns the number of re-emitted
// alerts. Called on startup and optionally on a timer.
func (r *Reconciler) Run(ctx context.Context) (int, error) {
	minAge := r.MinAge
	if minAge <= 0 {
		minAge = defaultReconcileMinAge
	}
	batch := r.BatchSize
	if batch <= 0 {
		batch = defaultReconcileBatch
	}

	stuck, err := r.Alerts.ListUnemitted(ctx, minAge, batch)
	if err != nil {
		return 0, err
	}
	if len(stuck) == 0 {
		return 0, nil
	}

	emitted := 0
	for i := range stuck {
		alert := stuck[i]
		env := &domain.Envelope{Alert: alert}
		err := r.Publisher.Publish(ctx, broker.QueueRaw, env,
			alert.Severity.Priority(), uuid.NewString())
		if err != nil {
			r.Logger.Warn("reconcile publish failed", "alert_id", alert.AlertID, "error", err)
			continue
		}
		emitted++
	}
	r.Logger.Info("reconciled unemitted alerts", "found", len(stuck), "emitted", emitted)
	return emitted, nil
}

// Loop runs reconcile passes on a fixed interval until ctx is done. The
// first pass runs immediately.
func (r *Reconciler) Loop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if _, err := r.Run(ctx); err != nil {
		r.Logger.Error("reconcile pass failed", "error", err)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Run(ctx); err != nil {
				r.Logger.Error("reconcile pass failed", "error", err)
			}
		}
	}
}
