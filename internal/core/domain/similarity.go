package domain

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EmbeddingDim is the default dimensionality of the alert embedding.
const EmbeddingDim = 384

// SimilarityEntry is one record in the vector store, keyed by the alert
// surrogate UUID.
type SimilarityEntry struct {
	ID        uuid.UUID `json:"id"`
	Embedding []float32 `json:"embedding"`
	AlertType AlertType `json:"alert_type"`
	Severity  Severity  `json:"severity"`
	RiskLevel string    `json:"risk_level"`
	Timestamp time.Time `json:"timestamp"`
}

// SimilarityFilter narrows a top-K query by metadata.
type SimilarityFilter struct {
	AlertType AlertType
	Severity  Severity
	RiskLevel string
	Since     time.Time
	Until     time.Time
}

// SimilarityHit is one scored query result.
type SimilarityHit struct {
	ID        uuid.UUID `json:"id"`
	Score     float64   `json:"score"`
	AlertType AlertType `json:"alert_type"`
	Severity  Severity  `json:"severity"`
	RiskLevel string    `json:"risk_level"`
	Timestamp time.Time `json:"timestamp"`
}

// DefaultMinSimilarity filters weak matches out of query results.
const DefaultMinSimilarity = 0.7

// SimilarityText is the canonical text projection an alert is embedded
// from. Keeping the projection stable keeps historical embeddings
// comparable.
func SimilarityText(a *Alert) string {
	parts := []string{
		string(a.AlertType),
		string(a.Severity),
		a.Description,
	}
	for _, obs := range []string{a.SourceIP, a.TargetIP, a.FileHash, a.URL, a.ProcessName} {
		if obs != "" {
			parts = append(parts, obs)
		}
	}
	return strings.Join(parts, " ")
}

// CosineSimilarity computes the cosine of two equal-length vectors.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("dimension mismatch: %d vs %d", len(a), len(b))
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), nil
}
