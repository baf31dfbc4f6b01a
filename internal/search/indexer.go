package search

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/hive-corporation/aegis/internal/core/ports"
	"github.com/hive-corporation/aegis/internal/metrics"
)

// Indexer consumes triage results off the broker and indexes each alert
// in the background, so the vector store catches up without sitting on
// the triage hot path. Indexing failures are logged and acked; the
// reconciliation endpoint can re-index later.
type Indexer struct {
	consumer ports.Consumer
	service  *Service
	logger   *slog.Logger
}

func NewIndexer(consumer ports.Consumer, service *Service, logger *slog.Logger) *Indexer {
	return &Indexer{consumer: consumer, service: service, logger: logger}
}

// Run consumes until ctx is cancelled or the delivery channel closes.
func (i *Indexer) Run(ctx context.Context) error {
	deliveries, err := i.consumer.Consume(ctx)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			i.handle(ctx, d)
		}
	}
}

func (i *Indexer) handle(ctx context.Context, d ports.Delivery) {
	env := d.Envelope
	if env == nil || env.Triage == nil || env.Alert.ID == uuid.Nil {
		i.logger.Warn("result message missing alert or triage section",
			"correlation_id", d.CorrelationID)
		if err := d.Ack(); err != nil {
			i.logger.Error("ack failed", "error", err)
		}
		return
	}

	if err := i.service.IndexAlert(ctx, &env.Alert, env.Triage.RiskLevel); err != nil {
		metrics.RecordError("simsearch", "index")
		i.logger.Warn("background index failed",
			"alert_id", env.Alert.AlertID, "error", err)
	} else {
		metrics.RecordMessage("simsearch", "indexed")
	}
	if err := d.Ack(); err != nil {
		i.logger.Error("ack failed", "error", err)
	}
}
