package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/hive-corporation/aegis/internal/core/domain"
)

// DirectoryProvider looks up user records from the directory service
// (LDAP/AD behind a REST facade).
type DirectoryProvider struct {
	client  *http.Client
	baseURL string
	apiKey  string
}

func NewDirectoryProvider(client *http.Client, baseURL, apiKey string) *DirectoryProvider {
	if client == nil {
		client = http.DefaultClient
	}
	return &DirectoryProvider{client: client, baseURL: baseURL, apiKey: apiKey}
}

func (p *DirectoryProvider) Name() string {
	return "directory"
}

func (p *DirectoryProvider) Lookup(ctx context.Context, userID string) (*domain.UserContext, error) {
	req, err := http.NewRequestWithContext(ctx, "GET",
		p.baseURL+"/users/"+url.PathEscape(userID), nil)
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
		return nil, fmt.Errorf("directory error: status %d", resp.StatusCode)
	}

	var user domain.UserContext
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("failed to decode directory json: %w", err)
	}
	user.UserID = userID
	return &user, nil
}

// StaticDirectory serves fixed user records.
type StaticDirectory struct {
	Users map[string]domain.UserContext
}

func (s *StaticDirectory) Name() string { return "directory-static" }

func (s *StaticDirectory) Lookup(ctx context.Context, userID string) (*domain.UserContext, error) {
	if user, ok := s.Users[userID]; ok {
		user.UserID = userID
		return &user, nil
	}
	return nil, domain.ErrNotFound
}
