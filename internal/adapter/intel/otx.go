package intel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/hive-corporation/aegis/internal/core/domain"
)

const otxBaseURL = "https://otx.alienvault.com/api/v1/indicators"

// OTXSource queries AlienVault OTX for per-IOC pulse counts. The pulse
// count drives the score: more community pulses referencing an
// indicator means stronger evidence.
type OTXSource struct {
	client *http.Client
	apiKey string
	weight float64
}

func NewOTXSource(client *http.Client, apiKey string, weight float64) *OTXSource {
	if client == nil {
		client = http.DefaultClient
	}
	return &OTXSource{client: client, apiKey: apiKey, weight: weight}
}

func (s *OTXSource) Name() string    { return "alienvault-otx" }
func (s *OTXSource) Weight() float64 { return s.weight }

type otxGeneral struct {
	PulseInfo struct {
		Count int `json:"count"`
	} `json:"pulse_info"`
}

func (s *OTXSource) Query(ctx context.Context, ioc domain.IOC) (*domain.SourceVerdict, error) {
	if s.apiKey == "" {
		return nil, fmt.Errorf("OTX API key is missing")
	}

	var section string
	switch ioc.Type {
	case domain.IOCTypeIP:
		section = "IPv4"
	case domain.IOCTypeDomain:
		section = "domain"
	case domain.IOCTypeFileHash:
		section = "file"
	case domain.IOCTypeURL:
		section = "url"
	default:
		return nil, fmt.Errorf("unsupported IOC type %q", ioc.Type)
	}

	endpoint := fmt.Sprintf("%s/%s/%s/general", otxBaseURL, section, url.PathEscape(ioc.Value))
	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-OTX-API-KEY", s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return &domain.SourceVerdict{Source: s.Name(), Weight: s.weight}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("OTX API error: status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var data otxGeneral
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to decode OTX json: %w", err)
	}

	score := float64(data.PulseInfo.Count * 10)
	if score > 100 {
		score = 100
	}

	return &domain.SourceVerdict{
		Source:   s.Name(),
		Weight:   s.weight,
		Detected: data.PulseInfo.Count > 0,
		Score:    score,
		Raw:      raw,
	}, nil
}
