package stage

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hive-corporation/aegis/internal/core/domain"
	"github.com/hive-corporation/aegis/internal/core/ports"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type published struct {
	routingKey    string
	env           *domain.Envelope
	priority      uint8
	correlationID string
}

type fakePublisher struct {
	mu        sync.Mutex
	published []published
	err       error
}

func (f *fakePublisher) Publish(_ context.Context, routingKey string, env *domain.Envelope, priority uint8, correlationID string) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, published{routingKey, env, priority, correlationID})
	return nil
}

type fakeCache struct {
	mu   sync.Mutex
	data map[string][]byte
	nx   map[string]bool
	err  error
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: make(map[string][]byte), nx: make(map[string]bool)}
}

func (f *fakeCache) GetJSON(_ context.Context, key string, v any) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.data[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(b, v)
}

func (f *fakeCache) SetJSON(_ context.Context, key string, v any, _ time.Duration) error {
	if f.err != nil {
		return f.err
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = b
	return nil
}

func (f *fakeCache) SetNX(_ context.Context, key, _ string, _ time.Duration) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.nx[key] {
		return false, nil
	}
	f.nx[key] = true
	return true, nil
}

type fakeAlertRepo struct {
	mu           sync.Mutex
	statuses     map[uuid.UUID]domain.Status
	fingerprints map[string]bool
	similarHigh  int
}

func newFakeAlertRepo() *fakeAlertRepo {
	return &fakeAlertRepo{
		statuses:     make(map[uuid.UUID]domain.Status),
		fingerprints: make(map[string]bool),
	}
}

func (f *fakeAlertRepo) Insert(context.Context, *domain.Alert) error { return nil }

func (f *fakeAlertRepo) GetByID(context.Context, uuid.UUID) (*domain.Alert, error) {
	return nil, domain.ErrNotFound
}

func (f *fakeAlertRepo) GetByAlertID(context.Context, string) (*domain.Alert, error) {
	return nil, domain.ErrNotFound
}

func (f *fakeAlertRepo) UpdateStatus(_ context.Context, id uuid.UUID, status domain.Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[id] = status
	return nil
}

func (f *fakeAlertRepo) ListUnemitted(context.Context, time.Duration, int) ([]domain.Alert, error) {
	return nil, nil
}

func (f *fakeAlertRepo) SeenFingerprint(_ context.Context, fp string, _ uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := f.fingerprints[fp]
	f.fingerprints[fp] = true
	return seen, nil
}

func (f *fakeAlertRepo) CountSimilarHighRisk(context.Context, string, string, time.Duration) (int, error) {
	return f.similarHigh, nil
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

func (f *fakeAudit) Append(_ context.Context, e domain.AuditEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, e)
	return nil
}

type fakeContextRepo struct {
	mu   sync.Mutex
	rows []domain.EnrichmentContext
}

func (f *fakeContextRepo) UpsertContext(_ context.Context, ec domain.EnrichmentContext) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = append(f.rows, ec)
	return nil
}

type fakeTriageRepo struct {
	mu      sync.Mutex
	results []*domain.TriageResult
	version int
}

func (f *fakeTriageRepo) UpsertResult(_ context.Context, res *domain.TriageResult) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.version++
	copied := *res
	copied.ResultVersion = f.version
	f.results = append(f.results, &copied)
	return f.version, nil
}

func (f *fakeTriageRepo) GetResult(context.Context, uuid.UUID) (*domain.TriageResult, error) {
	return nil, domain.ErrNotFound
}

type fakeSimilarity struct {
	hits    []domain.SimilarityHit
	err     error
	indexed []string
	mu      sync.Mutex
}

func (f *fakeSimilarity) Similar(context.Context, *domain.Alert, int) ([]domain.SimilarityHit, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.hits, nil
}

func (f *fakeSimilarity) Index(_ context.Context, a *domain.Alert, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, a.AlertID)
	return nil
}

type fakeRouter struct {
	route *ports.ModelRoute
	err   error
}

func (f *fakeRouter) Route(context.Context, string, string) (*ports.ModelRoute, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.route, nil
}

type fakeCompleter struct {
	response string
	err      error
}

func (f *fakeCompleter) Complete(context.Context, *ports.ModelRoute, string, string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func delivery(env *domain.Envelope) ports.Delivery {
	return ports.Delivery{
		Envelope:      env,
		CorrelationID: uuid.NewString(),
		Priority:      env.Alert.Severity.Priority(),
		Ack:           func() error { return nil },
		Reject:        func(bool) error { return nil },
	}
}
