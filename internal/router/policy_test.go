package router

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/hive-corporation/aegis/internal/core/domain"
)

func testRegistry() *Registry {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRegistry(DefaultModels("http://gateway/v1/chat/completions"), logger)
}

func TestRoutePicksMatchingTier(t *testing.T) {
	tests := []struct {
		name       string
		complexity string
		wantModel  string
	}{
		{"high complexity", "high", "deepseek-r1"},
		{"medium complexity", "medium", "qwen-plus"},
		{"low complexity", "low", "qwen-turbo"},
		{"unknown complexity defaults to balanced", "weird", "qwen-plus"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := testRegistry()
			route, err := r.Route("triage", tt.complexity)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if route.ModelID != tt.wantModel {
				t.Errorf("ModelID = %q, want %q", route.ModelID, tt.wantModel)
			}
		})
	}
}

func TestRouteFallsThroughUnhealthyTier(t *testing.T) {
	r := testRegistry()
	for i := 0; i < maxProbeFailures; i++ {
		r.ReportFailure("deepseek-r1")
	}

	route, err := r.Route("triage", "high")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if route.ModelID != "qwen-plus" {
		t.Errorf("ModelID = %q, want qwen-plus after reasoning tier down", route.ModelID)
	}
}

func TestRouteNoModelAvailable(t *testing.T) {
	r := testRegistry()
	for _, id := range []string{"deepseek-r1", "qwen-plus", "qwen-turbo"} {
		for i := 0; i < maxProbeFailures; i++ {
			r.ReportFailure(id)
		}
	}

	_, err := r.Route("triage", "medium")
	if !errors.Is(err, domain.ErrNoModelAvailable) {
		t.Errorf("error = %v, want ErrNoModelAvailable", err)
	}
}

func TestRouteCriticalTaskForcesReasoningTier(t *testing.T) {
	r := testRegistry()
	route, err := r.Route("triage_critical", "low")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if route.ModelID != "deepseek-r1" {
		t.Errorf("ModelID = %q, want deepseek-r1 for critical task", route.ModelID)
	}
}

func TestHealthRecovery(t *testing.T) {
	r := testRegistry()
	for i := 0; i < maxProbeFailures; i++ {
		r.ReportFailure("qwen-turbo")
	}
	if models := r.HealthyInTier(TierFast); len(models) != 0 {
		t.Fatalf("fast tier should be empty, got %d models", len(models))
	}

	r.ReportSuccess("qwen-turbo")
	if models := r.HealthyInTier(TierFast); len(models) != 1 {
		t.Errorf("fast tier should recover after success, got %d models", len(models))
	}
}

func TestFailuresBelowThresholdStayHealthy(t *testing.T) {
	r := testRegistry()
	r.ReportFailure("qwen-plus")
	r.ReportFailure("qwen-plus")
	if models := r.HealthyInTier(TierBalanced); len(models) != 1 {
		t.Errorf("two failures should not mark unhealthy, got %d models", len(models))
	}
}
