package intel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/hive-corporation/aegis/internal/core/domain"
)

const threatFoxURL = "https://threatfox-api.abuse.ch/api/v1/"

// AbuseChSource queries the abuse.ch ThreatFox API, which answers for
// IPs, URLs, domains and file hashes through one search endpoint.
type AbuseChSource struct {
	client *http.Client
	apiKey string
	weight float64
}

func NewAbuseChSource(client *http.Client, apiKey string, weight float64) *AbuseChSource {
	if client == nil {
		client = http.DefaultClient
	}
	return &AbuseChSource{client: client, apiKey: apiKey, weight: weight}
}

func (s *AbuseChSource) Name() string    { return "abusech" }
func (s *AbuseChSource) Weight() float64 { return s.weight }

type threatFoxResponse struct {
	QueryStatus string `json:"query_status"`
	Data        []struct {
		ThreatType      string `json:"threat_type"`
		ConfidenceLevel int    `json:"confidence_level"`
	} `json:"data"`
}

func (s *AbuseChSource) Query(ctx context.Context, ioc domain.IOC) (*domain.SourceVerdict, error) {
	var body string
	if ioc.Type == domain.IOCTypeFileHash {
		body = fmt.Sprintf(`{"query":"search_hash","hash":%q}`, ioc.Value)
	} else {
		body = fmt.Sprintf(`{"query":"search_ioc","search_term":%q}`, ioc.Value)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", threatFoxURL, strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Auth-Key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ThreatFox API error: status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var data threatFoxResponse
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to decode ThreatFox json: %w", err)
	}

	if data.QueryStatus != "ok" || len(data.Data) == 0 {
		return &domain.SourceVerdict{Source: s.Name(), Weight: s.weight}, nil
	}

	// Use the strongest confidence among matches.
	var score float64
	for _, d := range data.Data {
		if c := float64(d.ConfidenceLevel); c > score {
			score = c
		}
	}

	return &domain.SourceVerdict{
		Source:   s.Name(),
		Weight:   s.weight,
		Detected: true,
		Score:    score,
		Raw:      raw,
	}, nil
}
