// Package search implements the similarity-search service: embedding
// alerts into the vector index and answering top-K queries over it.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hive-corporation/aegis/internal/core/domain"
	"github.com/hive-corporation/aegis/internal/core/ports"
)

type Service struct {
	embedder ports.Embedder
	index    ports.VectorIndex
	logger   *slog.Logger
}

func NewService(embedder ports.Embedder, index ports.VectorIndex, logger *slog.Logger) *Service {
	return &Service{embedder: embedder, index: index, logger: logger}
}

// SearchText embeds the query text and returns up to k hits at or above
// minScore, excluding the alert the query came from.
func (s *Service) SearchText(ctx context.Context, text string, k int, minScore float64, exclude uuid.UUID) ([]domain.SimilarityHit, error) {
	if k <= 0 {
		k = 10
	}
	if minScore <= 0 {
		minScore = domain.DefaultMinSimilarity
	}

	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("search: embed: %w", err)
	}

	// Ask for one extra so excluding the query alert still fills k.
	hits, err := s.index.Search(ctx, vec, k+1, minScore, domain.SimilarityFilter{})
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	out := make([]domain.SimilarityHit, 0, len(hits))
	for _, h := range hits {
		if exclude != uuid.Nil && h.ID == exclude {
			continue
		}
		out = append(out, h)
		if len(out) == k {
			break
		}
	}
	return out, nil
}

// IndexAlert embeds the alert's canonical text projection and upserts it
// into the vector store. Re-indexing the same alert overwrites the
// previous point.
func (s *Service) IndexAlert(ctx context.Context, a *domain.Alert, riskLevel string) error {
	if a.ID == uuid.Nil {
		return fmt.Errorf("index: alert has no surrogate id")
	}
	vec, err := s.embedder.Embed(ctx, domain.SimilarityText(a))
	if err != nil {
		return fmt.Errorf("index: embed: %w", err)
	}

	ts := a.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	entry := domain.SimilarityEntry{
		ID:        a.ID,
		Embedding: vec,
		AlertType: a.AlertType,
		Severity:  a.Severity,
		RiskLevel: riskLevel,
		Timestamp: ts,
	}
	if err := s.index.Upsert(ctx, entry); err != nil {
		return fmt.Errorf("index: %w", err)
	}
	return nil
}

func (s *Service) Remove(ctx context.Context, id uuid.UUID) error {
	return s.index.Delete(ctx, id)
}

// Stats reports the index size and embedding dimensionality.
func (s *Service) Stats(ctx context.Context) (int64, int, error) {
	count, err := s.index.Count(ctx)
	if err != nil {
		return 0, 0, err
	}
	return count, s.embedder.Dim(), nil
}
