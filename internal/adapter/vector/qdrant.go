// Package vector holds the similarity-search building blocks: the
// Qdrant-backed index, the embedding providers, and the HTTP client the
// triage stage uses to reach the search service.
package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/hive-corporation/aegis/internal/core/domain"
)

// QdrantIndex stores alert embeddings in a Qdrant collection over its
// REST API. Points are keyed by the alert surrogate UUID; the metadata
// used for filtered search rides in the point payload.
type QdrantIndex struct {
	baseURL    string
	apiKey     string
	collection string
	dims       int
	client     *http.Client
	logger     *slog.Logger
}

type QdrantConfig struct {
	URL        string
	APIKey     string
	Collection string
	Dims       int
}

func NewQdrantIndex(cfg QdrantConfig, logger *slog.Logger) (*QdrantIndex, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("qdrant URL is required")
	}
	if cfg.Collection == "" {
		cfg.Collection = "alerts"
	}
	if cfg.Dims <= 0 {
		cfg.Dims = domain.EmbeddingDim
	}
	return &QdrantIndex{
		baseURL:    cfg.URL,
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		dims:       cfg.Dims,
		client:     &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}, nil
}

// EnsureCollection creates the collection if it does not exist. Creation
// is idempotent; an already-exists conflict is not an error.
func (q *QdrantIndex) EnsureCollection(ctx context.Context) error {
	body := map[string]any{
		"vectors": map[string]any{
			"size":     q.dims,
			"distance": "Cosine",
		},
	}
	status, _, err := q.do(ctx, http.MethodPut, "/collections/"+q.collection, body)
	if err != nil {
		return err
	}
	if status == http.StatusConflict {
		return nil
	}
	if status >= 400 {
		return fmt.Errorf("qdrant create collection: HTTP %d", status)
	}
	return nil
}

type qdrantPayload struct {
	AlertType string `json:"alert_type"`
	Severity  string `json:"severity"`
	RiskLevel string `json:"risk_level"`
	Timestamp int64  `json:"timestamp"`
}

func (q *QdrantIndex) Upsert(ctx context.Context, entry domain.SimilarityEntry) error {
	if len(entry.Embedding) != q.dims {
		return fmt.Errorf("embedding dimension %d, collection expects %d", len(entry.Embedding), q.dims)
	}
	body := map[string]any{
		"points": []map[string]any{{
			"id":     entry.ID.String(),
			"vector": entry.Embedding,
			"payload": qdrantPayload{
				AlertType: string(entry.AlertType),
				Severity:  string(entry.Severity),
				RiskLevel: entry.RiskLevel,
				Timestamp: entry.Timestamp.Unix(),
			},
		}},
	}
	status, respBody, err := q.do(ctx, http.MethodPut, "/collections/"+q.collection+"/points?wait=true", body)
	if err != nil {
		return err
	}
	if status >= 400 {
		return fmt.Errorf("qdrant upsert: HTTP %d: %s", status, respBody)
	}
	return nil
}

func (q *QdrantIndex) Search(ctx context.Context, vector []float32, k int, minScore float64, filter domain.SimilarityFilter) ([]domain.SimilarityHit, error) {
	body := map[string]any{
		"vector":          vector,
		"limit":           k,
		"score_threshold": minScore,
		"with_payload":    true,
	}
	if f := buildFilter(filter); f != nil {
		body["filter"] = f
	}

	status, respBody, err := q.do(ctx, http.MethodPost, "/collections/"+q.collection+"/points/search", body)
	if err != nil {
		return nil, err
	}
	if status >= 400 {
		return nil, fmt.Errorf("qdrant search: HTTP %d: %s", status, respBody)
	}

	var response struct {
		Result []struct {
			ID      string        `json:"id"`
			Score   float64       `json:"score"`
			Payload qdrantPayload `json:"payload"`
		} `json:"result"`
	}
	if err := json.Unmarshal(respBody, &response); err != nil {
		return nil, fmt.Errorf("qdrant search: decode: %w", err)
	}

	hits := make([]domain.SimilarityHit, 0, len(response.Result))
	for _, r := range response.Result {
		id, err := uuid.Parse(r.ID)
		if err != nil {
			q.logger.Warn("qdrant returned non-UUID point id", "id", r.ID)
			continue
		}
		hits = append(hits, domain.SimilarityHit{
			ID:        id,
			Score:     r.Score,
			AlertType: domain.AlertType(r.Payload.AlertType),
			Severity:  domain.Severity(r.Payload.Severity),
			RiskLevel: r.Payload.RiskLevel,
			Timestamp: time.Unix(r.Payload.Timestamp, 0).UTC(),
		})
	}
	return hits, nil
}

func (q *QdrantIndex) Delete(ctx context.Context, id uuid.UUID) error {
	body := map[string]any{
		"points": []string{id.String()},
	}
	status, respBody, err := q.do(ctx, http.MethodPost, "/collections/"+q.collection+"/points/delete?wait=true", body)
	if err != nil {
		return err
	}
	if status >= 400 {
		return fmt.Errorf("qdrant delete: HTTP %d: %s", status, respBody)
	}
	return nil
}

func (q *QdrantIndex) Count(ctx context.Context) (int64, error) {
	status, respBody, err := q.do(ctx, http.MethodPost, "/collections/"+q.collection+"/points/count", map[string]any{"exact": true})
	if err != nil {
		return 0, err
	}
	if status >= 400 {
		return 0, fmt.Errorf("qdrant count: HTTP %d: %s", status, respBody)
	}
	var response struct {
		Result struct {
			Count int64 `json:"count"`
		} `json:"result"`
	}
	if err := json.Unmarshal(respBody, &response); err != nil {
		return 0, fmt.Errorf("qdrant count: decode: %w", err)
	}
	return response.Result.Count, nil
}

// Healthy probes the collection endpoint.
func (q *QdrantIndex) Healthy(ctx context.Context) error {
	status, _, err := q.do(ctx, http.MethodGet, "/collections/"+q.collection, nil)
	if err != nil {
		return err
	}
	if status >= 400 {
		return fmt.Errorf("qdrant: HTTP %d", status)
	}
	return nil
}

func buildFilter(f domain.SimilarityFilter) map[string]any {
	var must []map[string]any
	if f.AlertType != "" {
		must = append(must, matchCondition("alert_type", string(f.AlertType)))
	}
	if f.Severity != "" {
		must = append(must, matchCondition("severity", string(f.Severity)))
	}
	if f.RiskLevel != "" {
		must = append(must, matchCondition("risk_level", f.RiskLevel))
	}
	if !f.Since.IsZero() || !f.Until.IsZero() {
		rng := map[string]any{}
		if !f.Since.IsZero() {
			rng["gte"] = f.Since.Unix()
		}
		if !f.Until.IsZero() {
			rng["lte"] = f.Until.Unix()
		}
		must = append(must, map[string]any{
			"key":   "timestamp",
			"range": rng,
		})
	}
	if len(must) == 0 {
		return nil
	}
	return map[string]any{"must": must}
}

func matchCondition(key, value string) map[string]any {
	return map[string]any{
		"key":   key,
		"match": map[string]any{"value": value},
	}
}

func (q *QdrantIndex) do(ctx context.Context, method, path string, body any) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("qdrant: marshal: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, q.baseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("qdrant: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}

	resp, err := q.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("qdrant: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("qdrant: read response: %w", err)
	}
	return resp.StatusCode, respBody, nil
}
