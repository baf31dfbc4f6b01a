package domain

import (
	"testing"
	"time"
)

func TestAggregateVerdicts(t *testing.T) {
	now := time.Now().UTC()
	ioc := IOC{Value: "203.0.113.99", Type: IOCTypeIP}
	queried := []string{"virustotal", "alienvault-otx", "abusech"}

	t.Run("renormalizes over responding sources", func(t *testing.T) {
		verdicts := []SourceVerdict{
			{Source: "virustotal", Weight: 0.40, Detected: true, Score: 90},
			{Source: "alienvault-otx", Weight: 0.30, Detected: true, Score: 60},
		}
		rec, confidence := AggregateVerdicts(ioc, queried, verdicts, now)

		// (.4*90 + .3*60) / .7
		want := 54.0 / 0.7
		if !almostEqual(rec.ThreatScore, want) {
			t.Errorf("ThreatScore = %v, want %v", rec.ThreatScore, want)
		}
		if rec.ThreatLevel != ThreatCritical {
			t.Errorf("ThreatLevel = %s, want critical", rec.ThreatLevel)
		}
		if len(rec.SourcesHit) != 2 {
			t.Errorf("SourcesHit = %v", rec.SourcesHit)
		}
		if !almostEqual(confidence, 2.0/3.0) {
			t.Errorf("confidence = %v, want 2/3", confidence)
		}
	})

	t.Run("all sources timed out", func(t *testing.T) {
		rec, confidence := AggregateVerdicts(ioc, queried, nil, now)
		if rec.ThreatScore != 0 || rec.ThreatLevel != ThreatClean {
			t.Errorf("record = %+v, want clean zero score", rec)
		}
		if confidence != 0 {
			t.Errorf("confidence = %v, want 0", confidence)
		}
	})

	t.Run("clean responses count toward confidence", func(t *testing.T) {
		verdicts := []SourceVerdict{
			{Source: "virustotal", Weight: 0.40, Detected: false, Score: 0},
			{Source: "alienvault-otx", Weight: 0.30, Detected: false, Score: 0},
			{Source: "abusech", Weight: 0.30, Detected: false, Score: 0},
		}
		rec, confidence := AggregateVerdicts(ioc, queried, verdicts, now)
		if rec.ThreatLevel != ThreatClean || len(rec.SourcesHit) != 0 {
			t.Errorf("record = %+v, want clean with no hits", rec)
		}
		if confidence != 1 {
			t.Errorf("confidence = %v, want 1", confidence)
		}
	})
}

func TestBandThreatScore(t *testing.T) {
	tests := []struct {
		score float64
		want  ThreatLevel
	}{
		{90, ThreatCritical},
		{75, ThreatCritical},
		{74, ThreatHigh},
		{50, ThreatHigh},
		{30, ThreatMedium},
		{10, ThreatLow},
		{0, ThreatClean},
	}
	for _, tt := range tests {
		if got := BandThreatScore(tt.score); got != tt.want {
			t.Errorf("BandThreatScore(%v) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestSummarizeThreat(t *testing.T) {
	queried := []string{"virustotal", "abusech"}
	records := []ThreatIntelRecord{
		{IOC: "203.0.113.1", ThreatScore: 30, SourcesHit: []string{"abusech"}},
		{IOC: "deadbeef", ThreatScore: 85, SourcesHit: []string{"virustotal", "abusech"}},
	}

	sum := SummarizeThreat(queried, records, []float64{1, 0.5})

	// The worst IOC dominates the alert-level score.
	if sum.Score != 85 {
		t.Errorf("Score = %v, want 85", sum.Score)
	}
	if sum.ThreatLevel != ThreatCritical {
		t.Errorf("ThreatLevel = %s, want critical", sum.ThreatLevel)
	}
	if len(sum.SourcesHit) != 2 {
		t.Errorf("SourcesHit = %v, want deduplicated pair", sum.SourcesHit)
	}
	if !almostEqual(sum.Confidence, 0.75) {
		t.Errorf("Confidence = %v, want 0.75", sum.Confidence)
	}
}

func TestSummarizeThreatEmpty(t *testing.T) {
	sum := SummarizeThreat([]string{"virustotal"}, nil, nil)
	if sum.Score != 0 || sum.ThreatLevel != ThreatClean || sum.Confidence != 0 {
		t.Errorf("summary = %+v, want clean zero-confidence", sum)
	}
	if sum.SourcesHit == nil {
		t.Error("SourcesHit should be empty, not nil, for JSON stability")
	}
}
