package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hive-corporation/aegis/internal/adapter/broker"
	"github.com/hive-corporation/aegis/internal/adapter/llm"
	"github.com/hive-corporation/aegis/internal/core/domain"
	"github.com/hive-corporation/aegis/internal/core/ports"
	"github.com/hive-corporation/aegis/internal/metrics"
)

// similarHistoryWindow bounds the lookback for the repeat-offender
// multiplier.
const similarHistoryWindow = 30 * 24 * time.Hour

// topKSimilar is how many historical cases feed the prompt.
const topKSimilar = 3

// Triage is the S5 handler. The deterministic baseline is always
// computed and owns the numeric risk score; the LLM adds qualitative
// analysis when it is reachable and parseable, and degrades to the
// baseline-only fallback when not.
type Triage struct {
	Alerts     ports.AlertRepository
	Results    ports.TriageRepository
	Audit      ports.AuditRepository
	Similarity ports.SimilarityClient
	Router     ports.ModelRouter
	Completer  ports.Completer
	Publisher  ports.Publisher
	Logger     *slog.Logger

	LLMTimeout time.Duration
	SimTimeout time.Duration
}

func (t *Triage) llmTimeout() time.Duration {
	if t.LLMTimeout <= 0 {
		return 30 * time.Second
	}
	return t.LLMTimeout
}

func (t *Triage) simTimeout() time.Duration {
	if t.SimTimeout <= 0 {
		return 500 * time.Millisecond
	}
	return t.SimTimeout
}

func (t *Triage) Handle(ctx context.Context, d ports.Delivery) error {
	started := time.Now()
	env := d.Envelope
	alert := &env.Alert

	hits, historyOK := t.similarHistory(ctx, alert)
	similarHigh := t.countSimilarHighRisk(ctx, alert)

	in := t.riskInputs(env, similarHigh, historyOK)
	score := domain.RiskScore(in)
	confidence := domain.RiskConfidence(in)
	level := domain.RiskLevelFor(score)

	result := &domain.TriageResult{
		AlertID:            alert.ID,
		RiskScore:          score,
		RiskLevel:          level,
		Confidence:         confidence,
		RecommendedActions: llm.DefaultActions(alert.AlertType),
		IOCsExtracted:      iocValues(env.IOCs),
		ModelUsed:          domain.ModelFallback,
	}

	assessment, modelID := t.analyze(ctx, env, hits, score, level)
	if assessment != nil {
		result.ModelUsed = modelID
		result.RiskLevel = assessment.RiskLevel
		result.AnalysisText = assessment.Reasoning
		result.KeyFindings = assessment.KeyFindings
		result.RecommendedActions = domain.MergeActions(
			llm.DefaultActions(alert.AlertType),
			actionsFrom(assessment.RecommendedActions))
		result.IOCsExtracted = domain.UnionStrings(result.IOCsExtracted, assessment.IOCs)
	} else {
		// The qualitative signal is missing, so certainty in the
		// result drops below the review threshold.
		result.Confidence = confidence * 0.4
	}

	result.RequiresHumanReview = domain.RequiresHumanReview(
		result.RiskScore, result.Confidence, alert.AlertType)
	result.ProcessingMS = time.Since(started).Milliseconds()

	version, err := t.Results.UpsertResult(ctx, result)
	if err != nil {
		return fmt.Errorf("upsert triage result: %w", err)
	}
	result.ResultVersion = version

	t.audit(ctx, alert, result)
	metrics.RecordTriage(result.Confidence, result.RiskLevel)

	env.Triage = result
	if err := t.Publisher.Publish(ctx, broker.QueueResult, env, d.Priority, d.CorrelationID); err != nil {
		return fmt.Errorf("publish result: %w", err)
	}

	// Best-effort synchronous index; the simsearch service also
	// consumes alert.result, so a miss here self-heals.
	t.indexAlert(ctx, alert, result.RiskLevel)
	return nil
}

func (t *Triage) riskInputs(env *domain.Envelope, similarHigh int, historyOK bool) domain.RiskInputs {
	in := domain.RiskInputs{
		Severity:         env.Alert.Severity,
		AlertType:        env.Alert.AlertType,
		SimilarHighCount: similarHigh,
		HistoryAvailable: historyOK,
	}
	if ts := env.ThreatSummary; ts != nil && ts.Confidence > 0 {
		score := ts.Score
		in.ThreatScore = &score
	}
	if e := env.Enrichment; e != nil {
		if e.Asset != nil {
			in.HasAssetContext = true
			in.AssetCriticality = e.Asset.Criticality
			exploit := domain.ExploitabilityFromVulns(e.Asset.Vulnerabilities)
			in.Exploitability = &exploit
		}
		in.HasUserContext = e.User != nil
	}
	return in
}

// similarHistory queries the similarity service under its own short
// timeout. Unavailability degrades the confidence signal, nothing more.
func (t *Triage) similarHistory(ctx context.Context, alert *domain.Alert) ([]domain.SimilarityHit, bool) {
	if t.Similarity == nil {
		return nil, false
	}
	sctx, cancel := context.WithTimeout(ctx, t.simTimeout())
	defer cancel()

	hits, err := t.Similarity.Similar(sctx, alert, topKSimilar)
	if err != nil {
		t.Logger.Debug("similarity lookup unavailable",
			"alert_id", alert.AlertID, "error", err)
		return nil, false
	}
	return hits, true
}

func (t *Triage) countSimilarHighRisk(ctx context.Context, alert *domain.Alert) int {
	if alert.AssetID == "" && alert.SourceIP == "" {
		return 0
	}
	n, err := t.Alerts.CountSimilarHighRisk(ctx, alert.AssetID, alert.SourceIP, similarHistoryWindow)
	if err != nil {
		t.Logger.Warn("similar high-risk count failed",
			"alert_id", alert.AlertID, "error", err)
		return 0
	}
	return n
}

// analyze runs the LLM path: derive complexity, route, complete, parse.
// Any failure returns nil and the caller falls back to the baseline.
func (t *Triage) analyze(ctx context.Context, env *domain.Envelope, hits []domain.SimilarityHit, baseline float64, baseLevel string) (*llm.Assessment, string) {
	if t.Router == nil || t.Completer == nil {
		return nil, ""
	}

	route, err := t.Router.Route(ctx, "triage", t.complexity(env))
	if err != nil {
		t.Logger.Warn("model routing failed, using deterministic fallback",
			"alert_id", env.Alert.AlertID, "error", err)
		return nil, ""
	}

	system, prompt := llm.BuildPrompt(llm.PromptInput{
		Alert:       &env.Alert,
		IOCs:        env.IOCs,
		Enrichment:  env.Enrichment,
		Threat:      env.ThreatSummary,
		SimilarHits: hits,
		Baseline:    baseline,
		BaseLevel:   baseLevel,
	})

	lctx, cancel := context.WithTimeout(ctx, t.llmTimeout())
	defer cancel()

	response, err := t.Completer.Complete(lctx, route, system, prompt)
	if err != nil {
		t.Logger.Warn("LLM completion failed, using deterministic fallback",
			"alert_id", env.Alert.AlertID, "model", route.ModelID, "error", err)
		return nil, ""
	}

	assessment, err := llm.ParseAssessment(response)
	if err != nil {
		t.Logger.Warn("LLM response unparseable, using deterministic fallback",
			"alert_id", env.Alert.AlertID, "model", route.ModelID, "error", err)
		return nil, ""
	}
	return assessment, route.ModelID
}

// complexity picks the routing complexity from the strongest available
// signal.
func (t *Triage) complexity(env *domain.Envelope) string {
	if ts := env.ThreatSummary; ts != nil && ts.Score >= 70 {
		return "high"
	}
	if e := env.Enrichment; e != nil && e.Asset != nil && e.Asset.Criticality == domain.CriticalityCritical {
		return "high"
	}
	switch env.Alert.Severity {
	case domain.SeverityCritical, domain.SeverityHigh:
		return "high"
	case domain.SeverityLow, domain.SeverityInfo:
		return "low"
	default:
		return "medium"
	}
}

func (t *Triage) audit(ctx context.Context, alert *domain.Alert, result *domain.TriageResult) {
	detail, _ := json.Marshal(map[string]any{
		"risk_score":     result.RiskScore,
		"risk_level":     result.RiskLevel,
		"model_used":     result.ModelUsed,
		"result_version": result.ResultVersion,
	})
	entry := domain.AuditEntry{
		AlertID:   alert.ID,
		Action:    "triage_completed",
		Actor:     "triage",
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	}
	if err := t.Audit.Append(ctx, entry); err != nil {
		t.Logger.Warn("audit append failed", "alert_id", alert.AlertID, "error", err)
	}
}

func (t *Triage) indexAlert(ctx context.Context, alert *domain.Alert, riskLevel string) {
	if t.Similarity == nil {
		return
	}
	sctx, cancel := context.WithTimeout(ctx, t.simTimeout())
	defer cancel()
	if err := t.Similarity.Index(sctx, alert, riskLevel); err != nil {
		t.Logger.Debug("synchronous index skipped",
			"alert_id", alert.AlertID, "error", err)
	}
}

func iocValues(iocs []domain.IOC) []string {
	if len(iocs) == 0 {
		return nil
	}
	out := make([]string, 0, len(iocs))
	for _, ioc := range iocs {
		out = append(out, ioc.Value)
	}
	return out
}

func actionsFrom(texts []string) []domain.RecommendedAction {
	out := make([]domain.RecommendedAction, 0, len(texts))
	for i, text := range texts {
		if text == "" {
			continue
		}
		out = append(out, domain.RecommendedAction{
			Action:   text,
			Priority: i + 1,
			Owner:    "soc",
		})
	}
	return out
}
