package stage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hive-corporation/aegis/internal/adapter/broker"
	"github.com/hive-corporation/aegis/internal/core/domain"
	"github.com/hive-corporation/aegis/internal/core/ports"
)

func contextualizedInput() *domain.Envelope {
	threatScore := 80.0
	return &domain.Envelope{
		Alert: domain.Alert{
			ID:          uuid.New(),
			AlertID:     "ALT-001",
			Source:      "splunk",
			AlertType:   domain.TypeMalware,
			Severity:    domain.SeverityHigh,
			Description: "EICAR detected",
			SourceIP:    "192.168.1.100",
			FileHash:    "44d88612fea8a8f36de82e1278abb02f",
			AssetID:     "SRV-001",
			Timestamp:   time.Now().UTC(),
		},
		IOCs: []domain.IOC{
			{Value: "192.168.1.100", Type: domain.IOCTypeIP},
			{Value: "44d88612fea8a8f36de82e1278abb02f", Type: domain.IOCTypeFileHash},
		},
		Enrichment: &domain.EnrichmentSet{
			Asset: &domain.AssetContext{
				AssetID:     "SRV-001",
				Criticality: domain.CriticalityCritical,
			},
			User: &domain.UserContext{UserID: "jdoe"},
		},
		ThreatSummary: &domain.ThreatSummary{
			Score:       threatScore,
			ThreatLevel: domain.ThreatCritical,
			Confidence:  1.0,
			SourcesHit:  []string{"virustotal"},
		},
	}
}

func testTriage(results *fakeTriageRepo, pub *fakePublisher, sim *fakeSimilarity, router *fakeRouter, completer *fakeCompleter) *Triage {
	return &Triage{
		Alerts:     newFakeAlertRepo(),
		Results:    results,
		Audit:      &fakeAudit{},
		Similarity: sim,
		Router:     router,
		Completer:  completer,
		Publisher:  pub,
		Logger:     testLogger(),
	}
}

func goodRoute() *fakeRouter {
	return &fakeRouter{route: &ports.ModelRoute{ModelID: "qwen-plus", Endpoint: "http://gw/v1/chat/completions"}}
}

func TestTriageWithLLM(t *testing.T) {
	results, pub := &fakeTriageRepo{}, &fakePublisher{}
	sim := &fakeSimilarity{hits: []domain.SimilarityHit{{ID: uuid.New(), Score: 0.9, RiskLevel: "high"}}}
	completer := &fakeCompleter{
		response: `{"risk_level":"critical","confidence":0.9,"reasoning":"known-bad hash on a critical server","key_findings":["hash flagged by virustotal"],"recommended_actions":["Rebuild the host"],"iocs":["44d88612fea8a8f36de82e1278abb02f"]}`,
	}
	tr := testTriage(results, pub, sim, goodRoute(), completer)

	env := contextualizedInput()
	if err := tr.Handle(context.Background(), delivery(env)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(results.results) != 1 {
		t.Fatalf("persisted %d results, want 1", len(results.results))
	}
	res := env.Triage
	if res == nil {
		t.Fatal("triage not attached to envelope")
	}
	if res.ModelUsed != "qwen-plus" {
		t.Errorf("ModelUsed = %q", res.ModelUsed)
	}
	if res.RiskLevel != "critical" {
		t.Errorf("RiskLevel = %q, want the LLM's critical", res.RiskLevel)
	}
	if res.RiskScore < 70 {
		t.Errorf("RiskScore = %v, want >= 70 for this input", res.RiskScore)
	}
	if !res.RequiresHumanReview {
		t.Error("RequiresHumanReview = false, want true at risk >= 70")
	}
	if res.ResultVersion != 1 {
		t.Errorf("ResultVersion = %d, want 1", res.ResultVersion)
	}
	if res.AnalysisText == "" || len(res.KeyFindings) != 1 {
		t.Errorf("analysis = %q, findings = %v", res.AnalysisText, res.KeyFindings)
	}

	// Template defaults come first, then the LLM's novel action.
	foundLLMAction := false
	for _, a := range res.RecommendedActions {
		if a.Action == "Rebuild the host" {
			foundLLMAction = true
		}
	}
	if !foundLLMAction {
		t.Errorf("LLM action missing from %+v", res.RecommendedActions)
	}

	if len(pub.published) != 1 || pub.published[0].routingKey != broker.QueueResult {
		t.Fatalf("published = %+v", pub.published)
	}
	if len(sim.indexed) != 1 {
		t.Errorf("indexed %d alerts, want 1", len(sim.indexed))
	}
}

func TestTriageLLMFailureFallsBack(t *testing.T) {
	results, pub := &fakeTriageRepo{}, &fakePublisher{}
	sim := &fakeSimilarity{}
	completer := &fakeCompleter{response: "Sorry, I can't."}
	tr := testTriage(results, pub, sim, goodRoute(), completer)

	env := contextualizedInput()
	if err := tr.Handle(context.Background(), delivery(env)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	res := env.Triage
	if res.ModelUsed != domain.ModelFallback {
		t.Errorf("ModelUsed = %q, want %q", res.ModelUsed, domain.ModelFallback)
	}
	if res.Confidence >= 0.5 {
		t.Errorf("Confidence = %v, want < 0.5 after LLM failure", res.Confidence)
	}
	if !res.RequiresHumanReview {
		t.Error("RequiresHumanReview = false, want true on low confidence")
	}
	if len(res.RecommendedActions) == 0 {
		t.Error("template default actions missing")
	}
	if len(pub.published) != 1 {
		t.Errorf("published %d, want 1 even on fallback", len(pub.published))
	}
}

func TestTriageNoModelAvailableFallsBack(t *testing.T) {
	results, pub := &fakeTriageRepo{}, &fakePublisher{}
	router := &fakeRouter{err: domain.ErrNoModelAvailable}
	tr := testTriage(results, pub, &fakeSimilarity{}, router, &fakeCompleter{})

	env := contextualizedInput()
	if err := tr.Handle(context.Background(), delivery(env)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if env.Triage.ModelUsed != domain.ModelFallback {
		t.Errorf("ModelUsed = %q, want fallback when no model routable", env.Triage.ModelUsed)
	}
}

func TestTriageDeterministicScoreIsAuthoritative(t *testing.T) {
	results, pub := &fakeTriageRepo{}, &fakePublisher{}
	// LLM claims info-level; the numeric score must stay deterministic.
	completer := &fakeCompleter{response: `{"risk_level":"info","confidence":0.9,"reasoning":"looks fine"}`}
	tr := testTriage(results, pub, &fakeSimilarity{}, goodRoute(), completer)

	env := contextualizedInput()
	if err := tr.Handle(context.Background(), delivery(env)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := domain.RiskScore(domain.RiskInputs{
		Severity:         domain.SeverityHigh,
		AlertType:        domain.TypeMalware,
		ThreatScore:      floatPtr(80),
		AssetCriticality: domain.CriticalityCritical,
		HasAssetContext:  true,
		HasUserContext:   true,
		HistoryAvailable: true,
		Exploitability:   floatPtr(20),
	})
	if env.Triage.RiskScore != want {
		t.Errorf("RiskScore = %v, want deterministic %v", env.Triage.RiskScore, want)
	}
	if env.Triage.RiskLevel != "info" {
		t.Errorf("RiskLevel = %q, want the LLM's qualitative level", env.Triage.RiskLevel)
	}
}

func TestTriageReprocessingIsIdempotentOnScore(t *testing.T) {
	results, pub := &fakeTriageRepo{}, &fakePublisher{}
	tr := testTriage(results, pub, &fakeSimilarity{}, goodRoute(),
		&fakeCompleter{err: errors.New("llm down")})

	env1 := contextualizedInput()
	env2 := contextualizedInput()
	env2.Alert.ID = env1.Alert.ID

	if err := tr.Handle(context.Background(), delivery(env1)); err != nil {
		t.Fatalf("first: %v", err)
	}
	if err := tr.Handle(context.Background(), delivery(env2)); err != nil {
		t.Fatalf("second: %v", err)
	}

	if len(results.results) != 2 {
		t.Fatalf("persisted %d results, want 2 writes", len(results.results))
	}
	first, second := results.results[0], results.results[1]
	if first.RiskScore != second.RiskScore || first.RiskLevel != second.RiskLevel {
		t.Errorf("deterministic fields differ: %v/%v vs %v/%v",
			first.RiskScore, first.RiskLevel, second.RiskScore, second.RiskLevel)
	}
	if second.ResultVersion != 2 {
		t.Errorf("ResultVersion = %d, want 2 on rewrite", second.ResultVersion)
	}
}

func TestTriageSimilarityUnavailable(t *testing.T) {
	results, pub := &fakeTriageRepo{}, &fakePublisher{}
	sim := &fakeSimilarity{err: errors.New("vector store down")}
	tr := testTriage(results, pub, sim, goodRoute(),
		&fakeCompleter{err: errors.New("llm down")})

	env := contextualizedInput()
	if err := tr.Handle(context.Background(), delivery(env)); err != nil {
		t.Fatalf("stage must proceed without similarity: %v", err)
	}
	if len(pub.published) != 1 {
		t.Errorf("published %d, want 1", len(pub.published))
	}
}

func TestComplexityDerivation(t *testing.T) {
	tr := &Triage{Logger: testLogger()}
	tests := []struct {
		name string
		env  *domain.Envelope
		want string
	}{
		{
			name: "high threat score",
			env: &domain.Envelope{
				Alert:         domain.Alert{Severity: domain.SeverityLow},
				ThreatSummary: &domain.ThreatSummary{Score: 75},
			},
			want: "high",
		},
		{
			name: "critical asset",
			env: &domain.Envelope{
				Alert: domain.Alert{Severity: domain.SeverityLow},
				Enrichment: &domain.EnrichmentSet{
					Asset: &domain.AssetContext{Criticality: domain.CriticalityCritical},
				},
			},
			want: "high",
		},
		{
			name: "high severity",
			env:  &domain.Envelope{Alert: domain.Alert{Severity: domain.SeverityHigh}},
			want: "high",
		},
		{
			name: "low severity",
			env:  &domain.Envelope{Alert: domain.Alert{Severity: domain.SeverityInfo}},
			want: "low",
		},
		{
			name: "medium otherwise",
			env:  &domain.Envelope{Alert: domain.Alert{Severity: domain.SeverityMedium}},
			want: "medium",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tr.complexity(tt.env); got != tt.want {
				t.Errorf("complexity = %q, want %q", got, tt.want)
			}
		})
	}
}

func floatPtr(v float64) *float64 { return &v }
