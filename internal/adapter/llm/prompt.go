package llm

import (
	"fmt"
	"strings"

	"github.com/hive-corporation/aegis/internal/core/domain"
)

const systemPrompt = "You are an expert SOC analyst. Analyze security alerts using the " +
	"provided enrichment and threat intelligence, and respond with a structured JSON assessment only."

// PromptInput is everything the analysis prompt is built from.
type PromptInput struct {
	Alert       *domain.Alert
	IOCs        []domain.IOC
	Enrichment  *domain.EnrichmentSet
	Threat      *domain.ThreatSummary
	SimilarHits []domain.SimilarityHit
	Baseline    float64
	BaseLevel   string
}

// BuildPrompt renders the per-alert-type analysis prompt. Each template
// shares the same output contract; the guidance section is what varies.
func BuildPrompt(in PromptInput) (system, user string) {
	var sb strings.Builder

	sb.WriteString(templateIntro(in.Alert.AlertType))
	sb.WriteString("\n\n")

	a := in.Alert
	sb.WriteString(fmt.Sprintf("**Alert ID:** %s\n", a.AlertID))
	sb.WriteString(fmt.Sprintf("**Type:** %s\n", a.AlertType))
	sb.WriteString(fmt.Sprintf("**Severity (vendor):** %s\n", a.Severity))
	sb.WriteString(fmt.Sprintf("**Source:** %s\n", a.Source))
	sb.WriteString(fmt.Sprintf("**Description:** %s\n", a.Description))
	if a.ProcessName != "" {
		sb.WriteString(fmt.Sprintf("**Process:** %s\n", a.ProcessName))
	}
	sb.WriteString(fmt.Sprintf("**Deterministic baseline:** risk %.1f (%s)\n\n", in.Baseline, in.BaseLevel))

	writeIOCs(&sb, in.IOCs, in.Threat)
	writeEnrichment(&sb, in.Enrichment)
	writeSimilar(&sb, in.SimilarHits)

	sb.WriteString("\n**Task:**\n")
	sb.WriteString("Provide your assessment in the following JSON format:\n")
	sb.WriteString("```json\n")
	sb.WriteString("{\n")
	sb.WriteString("  \"risk_level\": \"critical|high|medium|low|info\",\n")
	sb.WriteString("  \"confidence\": 0.0-1.0,\n")
	sb.WriteString("  \"reasoning\": \"Detailed analysis of the alert\",\n")
	sb.WriteString("  \"key_findings\": [\"finding1\", \"finding2\"],\n")
	sb.WriteString("  \"recommended_actions\": [\"action1\", \"action2\"],\n")
	sb.WriteString("  \"iocs\": [\"observable1\"],\n")
	sb.WriteString("  \"references\": [\"optional links or ATT&CK IDs\"]\n")
	sb.WriteString("}\n")
	sb.WriteString("```\n\n")
	sb.WriteString(templateGuidance(in.Alert.AlertType))

	return systemPrompt, sb.String()
}

func writeIOCs(sb *strings.Builder, iocs []domain.IOC, threat *domain.ThreatSummary) {
	if len(iocs) == 0 {
		return
	}
	intel := make(map[string]domain.ThreatIntelRecord)
	if threat != nil {
		for _, rec := range threat.Records {
			intel[rec.IOC] = rec
		}
	}
	sb.WriteString("**Observables:**\n")
	for i, ioc := range iocs {
		sb.WriteString(fmt.Sprintf("%d. %s: %s\n", i+1, ioc.Type, ioc.Value))
		if rec, ok := intel[ioc.Value]; ok {
			sb.WriteString(fmt.Sprintf("   - Threat intel: level %s, score %.0f\n", rec.ThreatLevel, rec.ThreatScore))
			if len(rec.SourcesHit) > 0 {
				sb.WriteString(fmt.Sprintf("   - Flagged by: %s\n", strings.Join(rec.SourcesHit, ", ")))
			}
		} else {
			sb.WriteString("   - No threat intelligence available\n")
		}
	}
	sb.WriteString("\n")
}

func writeEnrichment(sb *strings.Builder, e *domain.EnrichmentSet) {
	if e == nil {
		sb.WriteString("**Enrichment:** unavailable\n\n")
		return
	}
	sb.WriteString("**Enrichment:**\n")
	if e.Network != nil {
		for _, obs := range e.Network.Observations {
			loc := "internal"
			if !obs.Internal {
				loc = fmt.Sprintf("external, %s %s, reputation %d/100", obs.Country, obs.ASN, obs.Reputation)
			}
			sb.WriteString(fmt.Sprintf("- %s IP %s: %s\n", obs.Direction, obs.IP, loc))
		}
	}
	if e.Asset != nil {
		sb.WriteString(fmt.Sprintf("- Asset %s (%s): criticality %s, env %s",
			e.Asset.AssetID, e.Asset.AssetType, e.Asset.Criticality, e.Asset.Environment))
		if len(e.Asset.Vulnerabilities) > 0 {
			sb.WriteString(fmt.Sprintf(", known vulns: %s", strings.Join(e.Asset.Vulnerabilities, ", ")))
		}
		sb.WriteString("\n")
	}
	if e.User != nil {
		sb.WriteString(fmt.Sprintf("- User %s: %s, privilege %s, account %s\n",
			e.User.UserID, e.User.Department, e.User.PrivilegeLevel, e.User.AccountStatus))
	}
	if len(e.Partial) > 0 {
		sb.WriteString(fmt.Sprintf("- Missing context (collector timeout): %s\n", strings.Join(e.Partial, ", ")))
	}
	sb.WriteString("\n")
}

func writeSimilar(sb *strings.Builder, hits []domain.SimilarityHit) {
	if len(hits) == 0 {
		return
	}
	sb.WriteString("**Similar past alerts:**\n")
	for _, h := range hits {
		sb.WriteString(fmt.Sprintf("- %s alert at %s, risk %s, similarity %.2f\n",
			h.AlertType, h.Timestamp.Format("2006-01-02"), h.RiskLevel, h.Score))
	}
	sb.WriteString("\n")
}

func templateIntro(t domain.AlertType) string {
	switch t {
	case domain.TypeMalware, domain.TypeRansomware:
		return "You are reviewing a malware detection. Focus on the file hash reputation, process lineage, and whether the host shows signs of execution or lateral movement."
	case domain.TypePhishing:
		return "You are reviewing a phishing alert. Focus on the URL and sender infrastructure reputation, the targeted user's privilege level, and whether credentials may have been submitted."
	case domain.TypeBruteForce:
		return "You are reviewing a brute-force alert. Focus on the source IP reputation, whether the targeted account is privileged, and whether any attempt succeeded."
	case domain.TypeDataExfiltration:
		return "You are reviewing a possible data exfiltration. Focus on the destination reputation, transfer volume hints in the description, and the sensitivity of the asset involved."
	default:
		return "You are reviewing a security alert. Weigh the observable reputations, asset criticality, and user privilege to assess the real risk."
	}
}

func templateGuidance(t domain.AlertType) string {
	var sb strings.Builder
	sb.WriteString("**Guidelines:**\n")
	sb.WriteString("1. Observables flagged by multiple threat intel sources are strong evidence.\n")
	sb.WriteString("2. Critical assets and privileged users raise the risk level.\n")
	sb.WriteString("3. If evidence conflicts with the deterministic baseline, explain why in the reasoning.\n")
	switch t {
	case domain.TypeMalware, domain.TypeRansomware:
		sb.WriteString("4. A known-bad file hash on a production host is at least high risk.\n")
	case domain.TypePhishing:
		sb.WriteString("4. A clean URL with no intel hits and a low-privilege target is usually low risk.\n")
	case domain.TypeBruteForce:
		sb.WriteString("4. Internal source IPs suggest a compromised host rather than external scanning.\n")
	case domain.TypeDataExfiltration:
		sb.WriteString("4. Transfers to external infrastructure from critical assets warrant escalation even without intel hits.\n")
	}
	sb.WriteString("\nNow analyze the alert above and provide your assessment.\n")
	return sb.String()
}

// DefaultActions returns the template remediation steps merged under any
// LLM-proposed actions.
func DefaultActions(t domain.AlertType) []domain.RecommendedAction {
	switch t {
	case domain.TypeMalware, domain.TypeRansomware:
		return []domain.RecommendedAction{
			{Action: "Isolate the affected host from the network", Priority: 1, Automatable: true, Owner: "soc"},
			{Action: "Capture a memory image before remediation", Priority: 2, Automatable: false, Owner: "ir"},
			{Action: "Block the file hash at the EDR layer", Priority: 3, Automatable: true, Owner: "soc"},
		}
	case domain.TypePhishing:
		return []domain.RecommendedAction{
			{Action: "Block the URL at the web proxy", Priority: 1, Automatable: true, Owner: "soc"},
			{Action: "Reset credentials for the targeted user", Priority: 2, Automatable: true, Owner: "iam"},
			{Action: "Search mail for other recipients of the same lure", Priority: 3, Automatable: false, Owner: "soc"},
		}
	case domain.TypeBruteForce:
		return []domain.RecommendedAction{
			{Action: "Block the source IP at the perimeter", Priority: 1, Automatable: true, Owner: "netops"},
			{Action: "Lock the targeted account pending review", Priority: 2, Automatable: true, Owner: "iam"},
			{Action: "Review authentication logs for a successful attempt", Priority: 3, Automatable: false, Owner: "soc"},
		}
	case domain.TypeDataExfiltration:
		return []domain.RecommendedAction{
			{Action: "Block the destination at the egress firewall", Priority: 1, Automatable: true, Owner: "netops"},
			{Action: "Suspend the involved user session", Priority: 2, Automatable: true, Owner: "iam"},
			{Action: "Inventory the data accessed from the asset", Priority: 3, Automatable: false, Owner: "ir"},
		}
	default:
		return []domain.RecommendedAction{
			{Action: "Review the alert context and confirm scope", Priority: 1, Automatable: false, Owner: "soc"},
		}
	}
}
