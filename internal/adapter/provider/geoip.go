// Package provider implements the pluggable context providers consulted
// by the context collector: GeoIP, CMDB and the user directory. Each
// ships an HTTP implementation plus a static in-core version for
// environments without the real backend.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/hive-corporation/aegis/internal/core/domain"
)

// GeoIPProvider resolves public IPs against an ip-api style endpoint.
type GeoIPProvider struct {
	client  *http.Client
	baseURL string
}

func NewGeoIPProvider(client *http.Client, baseURL string) *GeoIPProvider {
	if client == nil {
		client = http.DefaultClient
	}
	return &GeoIPProvider{client: client, baseURL: baseURL}
}

func (p *GeoIPProvider) Name() string {
	return "geoip"
}

type geoIPResponse struct {
	Country    string `json:"country"`
	ASN        string `json:"as"`
	Reputation int    `json:"reputation"`
	Status     string `json:"status"`
}

func (p *GeoIPProvider) Lookup(ctx context.Context, ip string) (*domain.IPObservation, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", p.baseURL+"/"+url.PathEscape(ip), nil)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geoip error: status %d", resp.StatusCode)
	}

	var data geoIPResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("failed to decode geoip json: %w", err)
	}
	if data.Status == "fail" {
		return nil, fmt.Errorf("geoip lookup failed for %s", ip)
	}

	return &domain.IPObservation{
		IP:         ip,
		Country:    data.Country,
		ASN:        data.ASN,
		Reputation: data.Reputation,
	}, nil
}

// StaticGeoIP serves fixed observations, used in tests and when no
// GeoIP endpoint is configured.
type StaticGeoIP struct {
	Entries map[string]domain.IPObservation
}

func (s *StaticGeoIP) Name() string { return "geoip-static" }

func (s *StaticGeoIP) Lookup(ctx context.Context, ip string) (*domain.IPObservation, error) {
	if obs, ok := s.Entries[ip]; ok {
		obs.IP = ip
		return &obs, nil
	}
	return nil, domain.ErrNotFound
}
