package domain

import (
	"time"

	"github.com/google/uuid"
)

// RecommendedAction is one ordered remediation step in a triage result.
type RecommendedAction struct {
	Action      string `json:"action"`
	Priority    int    `json:"priority"` // 1 = highest
	Automatable bool   `json:"automatable"`
	Owner       string `json:"owner,omitempty"`
}

// TriageResult is the final output of the pipeline, at most one per
// alert (upsert on alert_id). ResultVersion increments on every write so
// downstream consumers can be idempotent on (alert_id, result_version).
type TriageResult struct {
	AlertID             uuid.UUID           `json:"alert_id"`
	RiskScore           float64             `json:"risk_score"`
	RiskLevel           string              `json:"risk_level"`
	Confidence          float64             `json:"confidence"`
	AnalysisText        string              `json:"analysis_text,omitempty"`
	KeyFindings         []string            `json:"key_findings,omitempty"`
	RecommendedActions  []RecommendedAction `json:"recommended_actions,omitempty"`
	IOCsExtracted       []string            `json:"iocs_extracted,omitempty"`
	ModelUsed           string              `json:"model_used"`
	ProcessingMS        int64               `json:"processing_ms"`
	ResultVersion       int                 `json:"result_version,omitempty"`
	RequiresHumanReview bool                `json:"requires_human_review"`
	CreatedAt           time.Time           `json:"created_at,omitempty"`
}

// ModelFallback marks a result built from the deterministic baseline
// alone, with no usable LLM analysis.
const ModelFallback = "fallback"

// MergeActions unions the template defaults with LLM-proposed actions,
// deduplicating on the action text and keeping template ordering first.
func MergeActions(template, llm []RecommendedAction) []RecommendedAction {
	seen := make(map[string]bool, len(template)+len(llm))
	out := make([]RecommendedAction, 0, len(template)+len(llm))
	for _, a := range append(append([]RecommendedAction{}, template...), llm...) {
		if a.Action == "" || seen[a.Action] {
			continue
		}
		seen[a.Action] = true
		out = append(out, a)
	}
	return out
}

// UnionStrings merges string lists preserving first-seen order.
func UnionStrings(lists ...[]string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, list := range lists {
		for _, s := range list {
			if s == "" || seen[s] {
				continue
			}
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
