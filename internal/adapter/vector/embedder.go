package vector

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/hive-corporation/aegis/internal/core/domain"
)

// HTTPEmbedder calls an OpenAI-compatible embeddings endpoint.
type HTTPEmbedder struct {
	endpoint string
	apiKey   string
	model    string
	dims     int
	client   *http.Client
}

func NewHTTPEmbedder(endpoint, apiKey, model string, dims int) *HTTPEmbedder {
	if dims <= 0 {
		dims = domain.EmbeddingDim
	}
	if model == "" {
		model = "text-embedding-3-small"
	}
	return &HTTPEmbedder{
		endpoint: endpoint,
		apiKey:   apiKey,
		model:    model,
		dims:     dims,
		client:   &http.Client{Timeout: 15 * time.Second},
	}
}

func (e *HTTPEmbedder) Dim() int { return e.dims }

func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(map[string]any{
		"model":      e.model,
		"input":      text,
		"dimensions": e.dims,
	})
	if err != nil {
		return nil, fmt.Errorf("embed: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("embed: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("embed: HTTP %d: %s", resp.StatusCode, b)
	}

	var response struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("embed: decode: %w", err)
	}
	if len(response.Data) == 0 {
		return nil, fmt.Errorf("embed: empty response")
	}
	vec := response.Data[0].Embedding
	if len(vec) != e.dims {
		return nil, fmt.Errorf("embed: got %d dimensions, want %d", len(vec), e.dims)
	}
	return vec, nil
}

// LocalEmbedder is the no-dependency fallback used when no embedding
// endpoint is configured. It projects token hashes into a fixed-size
// vector, so identical texts embed identically and texts sharing tokens
// land near each other. Not a semantic model; good enough for
// dedup-adjacent similarity and for tests.
type LocalEmbedder struct {
	dims int
}

func NewLocalEmbedder(dims int) *LocalEmbedder {
	if dims <= 0 {
		dims = domain.EmbeddingDim
	}
	return &LocalEmbedder{dims: dims}
}

func (e *LocalEmbedder) Dim() int { return e.dims }

func (e *LocalEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dims)
	for _, token := range strings.Fields(strings.ToLower(text)) {
		sum := sha256.Sum256([]byte(token))
		// Each token contributes to four buckets with signs drawn from
		// its hash, a cheap random projection.
		for i := 0; i < 4; i++ {
			idx := binary.BigEndian.Uint32(sum[i*8:]) % uint32(e.dims)
			sign := float32(1)
			if sum[i*8+4]&1 == 1 {
				sign = -1
			}
			vec[idx] += sign
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec, nil
}
