package intel

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/hive-corporation/aegis/internal/core/domain"
	"github.com/hive-corporation/aegis/internal/core/ports"
)

type fakeSource struct {
	name    string
	weight  float64
	delay   time.Duration
	verdict *domain.SourceVerdict
}

func (f *fakeSource) Name() string    { return f.name }
func (f *fakeSource) Weight() float64 { return f.weight }

func (f *fakeSource) Query(ctx context.Context, _ domain.IOC) (*domain.SourceVerdict, error) {
	select {
	case <-time.After(f.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return f.verdict, nil
}

type recordingRepo struct {
	mu      sync.Mutex
	records []domain.ThreatIntelRecord
}

func (r *recordingRepo) UpsertRecord(ctx context.Context, rec domain.ThreatIntelRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

func (r *recordingRepo) GetRecord(context.Context, string, domain.IOCType) (*domain.ThreatIntelRecord, error) {
	return nil, domain.ErrNotFound
}

func (r *recordingRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAggregatorFoldsResponses(t *testing.T) {
	sources := []domain.SourceVerdict{
		{Source: "virustotal", Weight: 0.40, Detected: true, Score: 90},
		{Source: "otx", Weight: 0.30, Detected: true, Score: 60},
	}
	a := NewAggregator([]ports.ThreatSource{
		&fakeSource{name: "virustotal", weight: 0.40, verdict: &sources[0]},
		&fakeSource{name: "otx", weight: 0.30, verdict: &sources[1]},
	}, nil, &recordingRepo{}, quietLogger(), AggregatorConfig{Deadline: time.Second})

	sum := a.Lookup(context.Background(), []domain.IOC{{Type: domain.IOCTypeIP, Value: "203.0.113.4"}})

	if len(sum.SourcesHit) != 2 {
		t.Fatalf("sources hit = %v, want both", sum.SourcesHit)
	}
	if sum.Confidence != 1 {
		t.Errorf("confidence = %v, want 1 with every source responding", sum.Confidence)
	}
	if sum.Score <= 0 {
		t.Errorf("score = %v, want positive", sum.Score)
	}
}

func TestAggregatorPersistsAfterDeadlineExhausted(t *testing.T) {
	repo := &recordingRepo{}
	slow := &fakeSource{name: "virustotal", weight: 0.40, delay: time.Minute}
	a := NewAggregator([]ports.ThreatSource{slow}, nil, repo, quietLogger(),
		AggregatorConfig{Deadline: 50 * time.Millisecond})

	sum := a.Lookup(context.Background(), []domain.IOC{
		{Type: domain.IOCTypeIP, Value: "203.0.113.4"},
		{Type: domain.IOCTypeDomain, Value: "c2.badguys.net"},
	})

	if sum.Confidence != 0 {
		t.Errorf("confidence = %v, want 0 with every source timing out", sum.Confidence)
	}
	if repo.count() != 2 {
		t.Fatalf("persisted %d records, want 2: upserts must not run on the spent lookup deadline", repo.count())
	}
}

func TestAggregatorZeroSourcesOrIOCs(t *testing.T) {
	a := NewAggregator(nil, nil, &recordingRepo{}, quietLogger(), AggregatorConfig{})
	sum := a.Lookup(context.Background(), []domain.IOC{{Type: domain.IOCTypeIP, Value: "203.0.113.4"}})
	if sum.Score != 0 || sum.ThreatLevel != domain.ThreatClean {
		t.Errorf("want clean summary with no sources, got %+v", sum)
	}
}
