// Package router implements the model-routing service core: a registry
// of configured models, the tier-based routing policy, and background
// health probing of provider endpoints.
package router

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Tier orders models by reasoning capability. Routing walks down from
// the tier the policy picks, so a degraded tier falls through to the
// next one instead of failing the request.
type Tier string

const (
	TierHighReasoning Tier = "high_reasoning"
	TierBalanced      Tier = "balanced"
	TierFast          Tier = "fast"
)

// Model is one registered provider model plus its routing traits.
type Model struct {
	ID         string  `json:"id"`
	Tier       Tier    `json:"tier"`
	Endpoint   string  `json:"endpoint"`
	APIKeyRef  string  `json:"api_key_ref,omitempty"`
	MaxContext int     `json:"max_context"`
	CostPer1K  float64 `json:"cost_per_1k"`
	Speed      int     `json:"speed"`     // 1-10, higher is faster
	Reasoning  int     `json:"reasoning"` // 1-10, higher is better
}

// ModelStatus is the health view of one model.
type ModelStatus struct {
	Model     Model     `json:"model"`
	Healthy   bool      `json:"healthy"`
	Failures  int       `json:"consecutive_failures"`
	LastProbe time.Time `json:"last_probe,omitempty"`
}

// Registry holds the configured models and their health state.
type Registry struct {
	mu     sync.RWMutex
	models []Model
	health map[string]*healthState
	logger *slog.Logger
}

type healthState struct {
	healthy   bool
	failures  int
	lastProbe time.Time
}

// maxProbeFailures marks a model unhealthy after this many consecutive
// failed probes or completions.
const maxProbeFailures = 3

func NewRegistry(models []Model, logger *slog.Logger) *Registry {
	health := make(map[string]*healthState, len(models))
	for _, m := range models {
		health[m.ID] = &healthState{healthy: true}
	}
	return &Registry{models: models, health: health, logger: logger}
}

// DefaultModels is the registry shipped when no model file is
// configured: one model per tier against an OpenAI-compatible gateway.
func DefaultModels(endpoint string) []Model {
	return []Model{
		{
			ID: "deepseek-r1", Tier: TierHighReasoning, Endpoint: endpoint,
			MaxContext: 65536, CostPer1K: 0.0055, Speed: 3, Reasoning: 10,
		},
		{
			ID: "qwen-plus", Tier: TierBalanced, Endpoint: endpoint,
			MaxContext: 131072, CostPer1K: 0.0008, Speed: 6, Reasoning: 7,
		},
		{
			ID: "qwen-turbo", Tier: TierFast, Endpoint: endpoint,
			MaxContext: 131072, CostPer1K: 0.0003, Speed: 9, Reasoning: 4,
		},
	}
}

// List returns every model with its current health.
func (r *Registry) List() []ModelStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ModelStatus, 0, len(r.models))
	for _, m := range r.models {
		h := r.health[m.ID]
		out = append(out, ModelStatus{
			Model:     m,
			Healthy:   h.healthy,
			Failures:  h.failures,
			LastProbe: h.lastProbe,
		})
	}
	return out
}

// HealthyInTier returns the healthy models of one tier.
func (r *Registry) HealthyInTier(tier Tier) []Model {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Model
	for _, m := range r.models {
		if m.Tier == tier && r.health[m.ID].healthy {
			out = append(out, m)
		}
	}
	return out
}

// ReportFailure counts a failed probe or completion against the model.
func (r *Registry) ReportFailure(modelID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.health[modelID]
	if !ok {
		return
	}
	h.failures++
	if h.failures >= maxProbeFailures && h.healthy {
		h.healthy = false
		r.logger.Warn("model marked unhealthy", "model", modelID, "failures", h.failures)
	}
}

// ReportSuccess resets the failure count and restores the model.
func (r *Registry) ReportSuccess(modelID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.health[modelID]
	if !ok {
		return
	}
	if !h.healthy {
		r.logger.Info("model recovered", "model", modelID)
	}
	h.failures = 0
	h.healthy = true
}

func (r *Registry) markProbed(modelID string, t time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.health[modelID]; ok {
		h.lastProbe = t
	}
}

// Healthy reports whether at least one model is routable.
func (r *Registry) Healthy(context.Context) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, h := range r.health {
		if h.healthy {
			return true
		}
	}
	return false
}
