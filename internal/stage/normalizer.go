package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hive-corporation/aegis/internal/adapter/broker"
	"github.com/hive-corporation/aegis/internal/core/domain"
	"github.com/hive-corporation/aegis/internal/core/ports"
	"github.com/hive-corporation/aegis/internal/metrics"
)

// Normalizer is the S2 handler: vendor-shape normalization, IOC
// extraction, fingerprint dedup, and forward to alert.normalized.
type Normalizer struct {
	Alerts      ports.AlertRepository
	Audit       ports.AuditRepository
	Cache       ports.Cache
	Publisher   ports.Publisher
	Logger      *slog.Logger
	DedupWindow time.Duration

	// parseRetryDelay is the single-retry pause for unparseable
	// payloads before they dead-letter.
	ParseRetryDelay time.Duration
}

func (n *Normalizer) window() time.Duration {
	if n.DedupWindow <= 0 {
		return domain.DefaultDedupWindow
	}
	return n.DedupWindow
}

func (n *Normalizer) Handle(ctx context.Context, d ports.Delivery) error {
	env := d.Envelope
	alert := &env.Alert

	if err := n.normalize(ctx, alert); err != nil {
		return err
	}

	// Typed observables plus whatever the free text mentions.
	env.IOCs = domain.DedupIOCs(append(alert.Observables(),
		domain.ScanIOCs(alert.Description, alert.ProcessName)...))

	alert.Fingerprint = domain.Fingerprint(alert, n.window())

	dup, err := n.isDuplicate(ctx, alert)
	if err != nil {
		return err
	}
	if dup {
		metrics.RecordDuplicate(alert.Source)
		n.Logger.Debug("duplicate alert dropped",
			"alert_id", alert.AlertID, "fingerprint", alert.Fingerprint)
		if err := n.Alerts.UpdateStatus(ctx, alert.ID, domain.StatusDuplicate); err != nil {
			n.Logger.Warn("duplicate status update failed", "alert_id", alert.AlertID, "error", err)
		}
		n.audit(ctx, alert, "marked_duplicate")
		return ErrDrop
	}

	if err := n.Publisher.Publish(ctx, broker.QueueNormalized, env, d.Priority, d.CorrelationID); err != nil {
		return fmt.Errorf("publish normalized: %w", err)
	}
	return nil
}

// normalize runs the vendor handler, retrying an unparseable payload
// once after a short delay before letting it dead-letter.
func (n *Normalizer) normalize(ctx context.Context, alert *domain.Alert) error {
	handler := FormatFor(alert.Source)
	err := handler(alert)
	if err == nil {
		return nil
	}
	if !domain.Permanent(err) {
		return err
	}

	delay := n.ParseRetryDelay
	if delay <= 0 {
		delay = 5 * time.Second
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
	}
	if err := handler(alert); err != nil {
		return fmt.Errorf("normalize %s payload: %w", alert.Source, err)
	}
	return nil
}

// isDuplicate consults the fingerprint cache first and falls back to
// the DB when the cache is unavailable, so dedup stays correct on a
// cold cache.
func (n *Normalizer) isDuplicate(ctx context.Context, alert *domain.Alert) (bool, error) {
	key := "fp:" + alert.Fingerprint
	stored, err := n.Cache.SetNX(ctx, key, alert.ID.String(), n.window())
	if err == nil {
		return !stored, nil
	}
	n.Logger.Warn("dedup cache unavailable, using database", "error", err)

	seen, dbErr := n.Alerts.SeenFingerprint(ctx, alert.Fingerprint, alert.ID)
	if dbErr != nil {
		return false, fmt.Errorf("fingerprint lookup: %w", dbErr)
	}
	return seen, nil
}

func (n *Normalizer) audit(ctx context.Context, alert *domain.Alert, action string) {
	detail, _ := json.Marshal(map[string]string{"fingerprint": alert.Fingerprint})
	entry := domain.AuditEntry{
		AlertID:   alert.ID,
		Action:    action,
		Actor:     "normalizer",
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	}
	if err := n.Audit.Append(ctx, entry); err != nil {
		n.Logger.Warn("audit append failed", "alert_id", alert.AlertID, "error", err)
	}
}
