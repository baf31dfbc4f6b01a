// Package intel implements the threat-intelligence sources queried per
// IOC and the weighted aggregation across them.
package intel

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/hive-corporation/aegis/internal/core/domain"
)

const vtBaseURL = "https://www.virustotal.com/api/v3"

// VirusTotalSource queries the VirusTotal v3 API for one IOC at a time.
type VirusTotalSource struct {
	client *http.Client
	apiKey string
	weight float64
}

func NewVirusTotalSource(client *http.Client, apiKey string, weight float64) *VirusTotalSource {
	if client == nil {
		client = http.DefaultClient
	}
	return &VirusTotalSource{client: client, apiKey: apiKey, weight: weight}
}

func (s *VirusTotalSource) Name() string    { return "virustotal" }
func (s *VirusTotalSource) Weight() float64 { return s.weight }

type vtResponse struct {
	Data struct {
		Attributes struct {
			LastAnalysisStats struct {
				Malicious  int `json:"malicious"`
				Suspicious int `json:"suspicious"`
				Harmless   int `json:"harmless"`
				Undetected int `json:"undetected"`
			} `json:"last_analysis_stats"`
		} `json:"attributes"`
	} `json:"data"`
}

func (s *VirusTotalSource) Query(ctx context.Context, ioc domain.IOC) (*domain.SourceVerdict, error) {
	if s.apiKey == "" {
		return nil, fmt.Errorf("VirusTotal API key is missing")
	}

	var path string
	switch ioc.Type {
	case domain.IOCTypeIP:
		path = "/ip_addresses/" + url.PathEscape(ioc.Value)
	case domain.IOCTypeFileHash:
		path = "/files/" + url.PathEscape(ioc.Value)
	case domain.IOCTypeDomain:
		path = "/domains/" + url.PathEscape(ioc.Value)
	case domain.IOCTypeURL:
		path = "/urls/" + vtURLID(ioc.Value)
	default:
		return nil, fmt.Errorf("unsupported IOC type %q", ioc.Type)
	}

	req, err := http.NewRequestWithContext(ctx, "GET", vtBaseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-apikey", s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		// Unknown to VirusTotal: a clean verdict, not an error.
		return &domain.SourceVerdict{Source: s.Name(), Weight: s.weight}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("VirusTotal API error: status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var data vtResponse
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to decode VirusTotal json: %w", err)
	}

	stats := data.Data.Attributes.LastAnalysisStats
	total := stats.Malicious + stats.Suspicious + stats.Harmless + stats.Undetected
	var score float64
	if total > 0 {
		score = 100 * float64(stats.Malicious*2+stats.Suspicious) / float64(total*2)
		if score > 100 {
			score = 100
		}
	}

	return &domain.SourceVerdict{
		Source:   s.Name(),
		Weight:   s.weight,
		Detected: stats.Malicious > 0,
		Score:    score,
		Raw:      raw,
	}, nil
}

// vtURLID is the VirusTotal URL identifier: unpadded base64url of the URL.
func vtURLID(u string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(u))
}
