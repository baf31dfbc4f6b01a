package search

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hive-corporation/aegis/internal/core/domain"
)

type fakeEmbedder struct{}

func (fakeEmbedder) Dim() int { return 4 }

func (fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	// One fixed axis per text length class keeps the math predictable.
	vec := make([]float32, 4)
	vec[len(text)%4] = 1
	return vec, nil
}

type fakeIndex struct {
	entries map[uuid.UUID]domain.SimilarityEntry
	hits    []domain.SimilarityHit
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{entries: make(map[uuid.UUID]domain.SimilarityEntry)}
}

func (f *fakeIndex) Upsert(_ context.Context, e domain.SimilarityEntry) error {
	f.entries[e.ID] = e
	return nil
}

func (f *fakeIndex) Search(_ context.Context, _ []float32, k int, minScore float64, _ domain.SimilarityFilter) ([]domain.SimilarityHit, error) {
	var out []domain.SimilarityHit
	for _, h := range f.hits {
		if h.Score >= minScore {
			out = append(out, h)
		}
		if len(out) == k {
			break
		}
	}
	return out, nil
}

func (f *fakeIndex) Delete(_ context.Context, id uuid.UUID) error {
	delete(f.entries, id)
	return nil
}

func (f *fakeIndex) Count(context.Context) (int64, error) {
	return int64(len(f.entries)), nil
}

func testService(index *fakeIndex) *Service {
	return NewService(fakeEmbedder{}, index, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestIndexAlert(t *testing.T) {
	index := newFakeIndex()
	svc := testService(index)

	alert := &domain.Alert{
		ID:          uuid.New(),
		AlertID:     "EDR-1",
		AlertType:   domain.TypeMalware,
		Severity:    domain.SeverityHigh,
		Description: "test",
		Timestamp:   time.Now().UTC(),
	}
	if err := svc.IndexAlert(context.Background(), alert, "high"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	entry, ok := index.entries[alert.ID]
	if !ok {
		t.Fatal("alert not indexed")
	}
	if entry.RiskLevel != "high" || entry.AlertType != domain.TypeMalware {
		t.Errorf("entry metadata = %+v", entry)
	}
}

func TestIndexAlertRequiresSurrogateID(t *testing.T) {
	svc := testService(newFakeIndex())
	err := svc.IndexAlert(context.Background(), &domain.Alert{AlertID: "X"}, "low")
	if err == nil {
		t.Fatal("expected error for missing surrogate id")
	}
}

func TestSearchTextExcludesQueryAlert(t *testing.T) {
	self := uuid.New()
	other := uuid.New()
	index := newFakeIndex()
	index.hits = []domain.SimilarityHit{
		{ID: self, Score: 0.99},
		{ID: other, Score: 0.85},
		{ID: uuid.New(), Score: 0.5}, // below default threshold
	}
	svc := testService(index)

	hits, err := svc.SearchText(context.Background(), "query text", 5, 0, self)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("got %d hits, want 1", len(hits))
	}
	if hits[0].ID != other {
		t.Errorf("hit ID = %s, want %s", hits[0].ID, other)
	}
}

func TestSearchTextCapsAtK(t *testing.T) {
	index := newFakeIndex()
	for i := 0; i < 5; i++ {
		index.hits = append(index.hits, domain.SimilarityHit{ID: uuid.New(), Score: 0.9})
	}
	svc := testService(index)

	hits, err := svc.SearchText(context.Background(), "q", 3, 0.7, uuid.Nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hits) != 3 {
		t.Errorf("got %d hits, want 3", len(hits))
	}
}
