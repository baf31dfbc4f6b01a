package stage

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/hive-corporation/aegis/internal/adapter/broker"
	"github.com/hive-corporation/aegis/internal/core/domain"
)

type fakeLookup struct {
	summary domain.ThreatSummary
	got     []domain.IOC
}

func (f *fakeLookup) Lookup(_ context.Context, iocs []domain.IOC) domain.ThreatSummary {
	f.got = iocs
	return f.summary
}

func TestIntelAttachesSummaryAndForwards(t *testing.T) {
	lookup := &fakeLookup{summary: domain.ThreatSummary{
		Score:       85,
		ThreatLevel: domain.ThreatCritical,
		Confidence:  1,
		SourcesHit:  []string{"virustotal"},
	}}
	pub := &fakePublisher{}
	s := &Intel{Aggregator: lookup, Publisher: pub, Logger: testLogger()}

	env := &domain.Envelope{
		Alert: domain.Alert{
			ID:       uuid.New(),
			AlertID:  "ALT-100",
			SourceIP: "203.0.113.4",
			Severity: domain.SeverityHigh,
		},
		IOCs: []domain.IOC{{Type: domain.IOCTypeIP, Value: "203.0.113.4"}},
	}

	if err := s.Handle(context.Background(), delivery(env)); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(lookup.got) != 1 || lookup.got[0].Value != "203.0.113.4" {
		t.Fatalf("lookup received %v, want the envelope IOC set", lookup.got)
	}
	if env.ThreatSummary == nil || env.ThreatSummary.ThreatLevel != domain.ThreatCritical {
		t.Fatalf("summary not attached: %+v", env.ThreatSummary)
	}
	if len(pub.published) != 1 || pub.published[0].routingKey != broker.QueueContextualized {
		t.Fatalf("published = %+v, want one message on %s", pub.published, broker.QueueContextualized)
	}
}

func TestIntelFallsBackToObservables(t *testing.T) {
	lookup := &fakeLookup{}
	s := &Intel{Aggregator: lookup, Publisher: &fakePublisher{}, Logger: testLogger()}

	env := &domain.Envelope{
		Alert: domain.Alert{
			ID:       uuid.New(),
			AlertID:  "ALT-101",
			SourceIP: "198.51.100.7",
			TargetIP: "203.0.113.9",
			Severity: domain.SeverityMedium,
		},
	}

	if err := s.Handle(context.Background(), delivery(env)); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(lookup.got) != 2 {
		t.Fatalf("lookup received %d IOCs, want both alert IPs", len(lookup.got))
	}
}

func TestIntelZeroSourcesStillForwards(t *testing.T) {
	lookup := &fakeLookup{summary: domain.ThreatSummary{ThreatLevel: domain.ThreatClean, SourcesHit: []string{}}}
	pub := &fakePublisher{}
	s := &Intel{Aggregator: lookup, Publisher: pub, Logger: testLogger()}

	env := &domain.Envelope{Alert: domain.Alert{ID: uuid.New(), AlertID: "ALT-102", Severity: domain.SeverityLow}}

	if err := s.Handle(context.Background(), delivery(env)); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if env.ThreatSummary == nil || env.ThreatSummary.Score != 0 {
		t.Fatalf("want clean zero-score summary, got %+v", env.ThreatSummary)
	}
	if len(pub.published) != 1 {
		t.Fatalf("message not forwarded")
	}
}
