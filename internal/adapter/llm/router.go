package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hive-corporation/aegis/internal/core/ports"
)

// RouterClient asks the routing service which model should handle a
// task. When the router is unreachable it falls back to the statically
// configured provider so triage keeps flowing.
type RouterClient struct {
	baseURL  string
	client   *ResilientClient
	logger   *slog.Logger
	fallback ports.ModelRoute
}

func NewRouterClient(baseURL string, fallback ports.ModelRoute, logger *slog.Logger) *RouterClient {
	cfg := DefaultResilientClientConfig()
	cfg.MaxRetries = 1
	return &RouterClient{
		baseURL:  baseURL,
		client:   NewResilientClient("llm-router", 5*time.Second, cfg),
		logger:   logger,
		fallback: fallback,
	}
}

type routeRequest struct {
	TaskType   string `json:"task_type"`
	Complexity string `json:"complexity"`
}

func (r *RouterClient) Route(ctx context.Context, task, complexity string) (*ports.ModelRoute, error) {
	if r.baseURL == "" {
		route := r.fallback
		return &route, nil
	}

	body, err := json.Marshal(routeRequest{TaskType: task, Complexity: complexity})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal route request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/api/v1/route", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create route request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Warn("model router unreachable, using fallback route",
			"task", task, "error", err)
		route := r.fallback
		return &route, nil
	}
	defer resp.Body.Close()

	var envelope struct {
		Success bool             `json:"success"`
		Data    ports.ModelRoute `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("failed to decode route response: %w", err)
	}
	if !envelope.Success || envelope.Data.ModelID == "" {
		route := r.fallback
		return &route, nil
	}
	return &envelope.Data, nil
}
