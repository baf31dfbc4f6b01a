package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hive-corporation/aegis/internal/core/domain"
)

// SearchClient is the triage stage's client for the similarity-search
// service. Queries carry a tight timeout because they sit on the hot
// path; a miss is degraded context, not a failure.
type SearchClient struct {
	baseURL string
	client  *http.Client
}

func NewSearchClient(baseURL string, timeout time.Duration) *SearchClient {
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	return &SearchClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type searchRequest struct {
	Text         string  `json:"text"`
	K            int     `json:"k"`
	MinScore     float64 `json:"min_score,omitempty"`
	ExcludeAlert string  `json:"exclude_alert,omitempty"`
}

func (c *SearchClient) Similar(ctx context.Context, a *domain.Alert, k int) ([]domain.SimilarityHit, error) {
	body, err := json.Marshal(searchRequest{
		Text:         domain.SimilarityText(a),
		K:            k,
		MinScore:     domain.DefaultMinSimilarity,
		ExcludeAlert: a.ID.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("similarity search: marshal: %w", err)
	}

	respBody, err := c.post(ctx, "/api/v1/search", body)
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Success bool                   `json:"success"`
		Data    []domain.SimilarityHit `json:"data"`
	}
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return nil, fmt.Errorf("similarity search: decode: %w", err)
	}
	if !envelope.Success {
		return nil, fmt.Errorf("similarity search: service reported failure")
	}
	return envelope.Data, nil
}

type indexRequest struct {
	Alert     *domain.Alert `json:"alert"`
	RiskLevel string        `json:"risk_level"`
}

func (c *SearchClient) Index(ctx context.Context, a *domain.Alert, riskLevel string) error {
	body, err := json.Marshal(indexRequest{Alert: a, RiskLevel: riskLevel})
	if err != nil {
		return fmt.Errorf("similarity index: marshal: %w", err)
	}
	if _, err := c.post(ctx, "/api/v1/index", body); err != nil {
		return err
	}
	return nil
}

func (c *SearchClient) post(ctx context.Context, path string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("similarity: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("similarity: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("similarity: read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("similarity: HTTP %d: %s", resp.StatusCode, respBody)
	}
	return respBody, nil
}
