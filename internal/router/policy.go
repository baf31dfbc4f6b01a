package router

import (
	"github.com/hive-corporation/aegis/internal/core/domain"
	"github.com/hive-corporation/aegis/internal/core/ports"
)

// tierOrder is the fallthrough sequence per requested complexity: start
// at the matching tier, degrade toward faster models before giving up.
var tierOrder = map[string][]Tier{
	"high":   {TierHighReasoning, TierBalanced, TierFast},
	"medium": {TierBalanced, TierFast, TierHighReasoning},
	"low":    {TierFast, TierBalanced, TierHighReasoning},
}

// Route picks a model for the task. Within a tier the cheapest healthy
// model wins; when a whole tier is down the next tier in the
// fallthrough order is tried. With no healthy model anywhere it
// returns ErrNoModelAvailable.
func (r *Registry) Route(task, complexity string) (*ports.ModelRoute, error) {
	order, ok := tierOrder[complexity]
	if !ok {
		order = tierOrder["medium"]
	}

	// Triage of critical alerts always starts at the reasoning tier;
	// classification is cheap enough for the fast tier regardless of
	// reported complexity.
	switch task {
	case "triage_critical":
		order = tierOrder["high"]
	case "classification":
		order = tierOrder["low"]
	}

	for _, tier := range order {
		candidates := r.HealthyInTier(tier)
		if len(candidates) == 0 {
			continue
		}
		best := candidates[0]
		for _, m := range candidates[1:] {
			if m.CostPer1K < best.CostPer1K {
				best = m
			}
		}
		return &ports.ModelRoute{
			ModelID:   best.ID,
			Endpoint:  best.Endpoint,
			APIKeyRef: best.APIKeyRef,
			ModelParams: map[string]any{
				"max_tokens": maxTokensFor(best),
			},
		}, nil
	}
	return nil, domain.ErrNoModelAvailable
}

func maxTokensFor(m Model) int {
	if m.Tier == TierHighReasoning {
		return 4096
	}
	return 1500
}
