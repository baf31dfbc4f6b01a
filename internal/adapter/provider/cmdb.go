package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/hive-corporation/aegis/internal/core/domain"
)

// CMDBProvider looks up asset records from the configuration management
// database over its REST surface.
type CMDBProvider struct {
	client  *http.Client
	baseURL string
	apiKey  string
}

func NewCMDBProvider(client *http.Client, baseURL, apiKey string) *CMDBProvider {
	if client == nil {
		client = http.DefaultClient
	}
	return &CMDBProvider{client: client, baseURL: baseURL, apiKey: apiKey}
}

func (p *CMDBProvider) Name() string {
	return "cmdb"
}

func (p *CMDBProvider) Lookup(ctx context.Context, assetID string) (*domain.AssetContext, error) {
	req, err := http.NewRequestWithContext(ctx, "GET",
		p.baseURL+"/assets/"+url.PathEscape(assetID), nil)
	if err != nil {
		return nil, err
	}
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, domain.ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("cmdb error: status %d", resp.StatusCode)
	}

	var asset domain.AssetContext
	if err := json.NewDecoder(resp.Body).Decode(&asset); err != nil {
		return nil, fmt.Errorf("failed to decode cmdb json: %w", err)
	}
	asset.AssetID = assetID
	return &asset, nil
}

// StaticCMDB serves fixed asset records.
type StaticCMDB struct {
	Assets map[string]domain.AssetContext
}

func (s *StaticCMDB) Name() string { return "cmdb-static" }

func (s *StaticCMDB) Lookup(ctx context.Context, assetID string) (*domain.AssetContext, error) {
	if asset, ok := s.Assets[assetID]; ok {
		asset.AssetID = assetID
		return &asset, nil
	}
	return nil, domain.ErrNotFound
}
