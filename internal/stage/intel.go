package stage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hive-corporation/aegis/internal/adapter/broker"
	"github.com/hive-corporation/aegis/internal/core/domain"
	"github.com/hive-corporation/aegis/internal/core/ports"
)

// ThreatLookup aggregates threat intel for an IOC set. Implemented by
// intel.Aggregator.
type ThreatLookup interface {
	Lookup(ctx context.Context, iocs []domain.IOC) domain.ThreatSummary
}

// Intel is the S4 handler: fan out to the configured threat sources,
// attach the summary, forward. A fully-unavailable source set still
// forwards with a clean zero-confidence summary.
type Intel struct {
	Aggregator ThreatLookup
	Publisher  ports.Publisher
	Logger     *slog.Logger
}

func (s *Intel) Handle(ctx context.Context, d ports.Delivery) error {
	env := d.Envelope

	iocs := env.IOCs
	if len(iocs) == 0 {
		iocs = env.Alert.Observables()
	}

	summary := s.Aggregator.Lookup(ctx, iocs)
	env.ThreatSummary = &summary

	if summary.Score > 0 {
		s.Logger.Debug("threat intel attached",
			"alert_id", env.Alert.AlertID,
			"threat_level", summary.ThreatLevel,
			"score", summary.Score,
			"sources_hit", summary.SourcesHit)
	}

	if err := s.Publisher.Publish(ctx, broker.QueueContextualized, env, d.Priority, d.CorrelationID); err != nil {
		return fmt.Errorf("publish contextualized: %w", err)
	}
	return nil
}
