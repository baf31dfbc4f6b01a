package domain

import "strings"

// Deterministic risk baseline. This score is always available, even when
// the LLM path fails, and is authoritative for the numeric risk field.

const (
	weightSeverity       = 0.30
	weightThreatIntel    = 0.30
	weightAsset          = 0.20
	weightExploitability = 0.20

	// Neutral value used when a component signal is absent.
	defaultAssetComponent   = 20.0
	defaultExploitComponent = 20.0
)

// RiskInputs carries the signals the deterministic scorer consumes.
// Pointer fields are nil when the signal was not populated.
type RiskInputs struct {
	Severity         Severity
	AlertType        AlertType
	ThreatScore      *float64 // aggregate threat_summary.score
	AssetCriticality Criticality
	HasAssetContext  bool
	HasUserContext   bool
	Exploitability   *float64
	SimilarHighCount int // similar risk_level>=high alerts within 30d
	HistoryAvailable bool
}

func severityComponent(s Severity) float64 {
	switch s {
	case SeverityCritical:
		return 100
	case SeverityHigh:
		return 80
	case SeverityMedium:
		return 50
	case SeverityLow:
		return 30
	default:
		return 10
	}
}

func assetComponent(c Criticality) float64 {
	switch c {
	case CriticalityCritical:
		return 100
	case CriticalityHigh:
		return 80
	case CriticalityMedium:
		return 50
	case CriticalityLow:
		return 30
	default:
		return defaultAssetComponent
	}
}

func typeMultiplier(t AlertType) float64 {
	switch t {
	case TypeMalware:
		return 1.2
	case TypeDataExfiltration:
		return 1.3
	case TypeRansomware:
		return 1.4
	case TypePolicyViolation:
		return 0.9
	default:
		return 1.0
	}
}

// RiskScore computes the deterministic baseline in [0, 100].
func RiskScore(in RiskInputs) float64 {
	threat := 0.0
	if in.ThreatScore != nil {
		threat = *in.ThreatScore
	}
	exploit := defaultExploitComponent
	if in.Exploitability != nil {
		exploit = *in.Exploitability
	}

	score := weightSeverity*severityComponent(in.Severity) +
		weightThreatIntel*threat +
		weightAsset*assetComponent(in.AssetCriticality) +
		weightExploitability*exploit

	score *= typeMultiplier(in.AlertType)

	// Repeated high-risk history for the same asset or source IP bumps
	// the score.
	if in.SimilarHighCount >= 3 {
		score *= 1.1
	}

	return clamp(score, 0, 100)
}

// RiskConfidence is the fraction of expected input signals that were
// populated, in [0, 1].
func RiskConfidence(in RiskInputs) float64 {
	const expected = 5.0
	var present float64
	if validSeverities[in.Severity] {
		present++
	}
	if in.ThreatScore != nil {
		present++
	}
	if in.HasAssetContext {
		present++
	}
	if in.HasUserContext {
		present++
	}
	if in.HistoryAvailable {
		present++
	}
	return present / expected
}

// RiskLevelFor bands the numeric score into the result risk level.
func RiskLevelFor(score float64) string {
	switch {
	case score >= 75:
		return "critical"
	case score >= 50:
		return "high"
	case score >= 25:
		return "medium"
	case score > 10:
		return "low"
	default:
		return "info"
	}
}

// RequiresHumanReview implements the review gate: high risk, low
// confidence, or an inherently destructive alert type.
func RequiresHumanReview(riskScore, confidence float64, t AlertType) bool {
	if riskScore >= 70 {
		return true
	}
	if confidence < 0.5 {
		return true
	}
	return t == TypeDataExfiltration || t == TypeRansomware
}

// ExploitabilityFromVulns derives the exploitability component from the
// asset's known vulnerabilities: CVE presence raises it, an exploit
// marker raises it further.
func ExploitabilityFromVulns(vulns []string) float64 {
	if len(vulns) == 0 {
		return defaultExploitComponent
	}
	score := defaultExploitComponent
	for _, v := range vulns {
		upper := strings.ToUpper(v)
		if strings.HasPrefix(upper, "CVE-") && score < 50 {
			score = 50
		}
		if strings.Contains(strings.ToLower(v), "exploit") && score < 80 {
			score = 80
		}
	}
	return score
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
