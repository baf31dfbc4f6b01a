package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hive-corporation/aegis/internal/core/domain"
)

// Assessment is the structured verdict contracted from the model.
type Assessment struct {
	RiskLevel          string   `json:"risk_level"`
	Confidence         float64  `json:"confidence"`
	Reasoning          string   `json:"reasoning"`
	KeyFindings        []string `json:"key_findings"`
	RecommendedActions []string `json:"recommended_actions"`
	IOCs               []string `json:"iocs"`
	References         []string `json:"references"`
}

var validRiskLevels = map[string]bool{
	"critical": true, "high": true, "medium": true, "low": true, "info": true,
}

// ParseAssessment extracts the JSON assessment from a model response.
// It tries the raw body, then a fenced markdown block, then the first
// balanced JSON object in the text. Responses that yield no parseable
// object or an invalid risk_level return ErrUnparseable.
func ParseAssessment(response string) (*Assessment, error) {
	candidates := []string{strings.TrimSpace(response)}
	if block := extractFenced(response); block != "" {
		candidates = append(candidates, block)
	}
	if obj := extractFirstObject(response); obj != "" {
		candidates = append(candidates, obj)
	}

	var lastErr error
	for _, c := range candidates {
		if c == "" {
			continue
		}
		var a Assessment
		if err := json.Unmarshal([]byte(c), &a); err != nil {
			lastErr = err
			continue
		}
		if err := a.validate(); err != nil {
			lastErr = err
			continue
		}
		return &a, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("empty response")
	}
	return nil, fmt.Errorf("%w: %v", domain.ErrUnparseable, lastErr)
}

func (a *Assessment) validate() error {
	if !validRiskLevels[a.RiskLevel] {
		return fmt.Errorf("unknown risk_level %q", a.RiskLevel)
	}
	if a.Confidence < 0 || a.Confidence > 1 {
		return fmt.Errorf("confidence %v out of range", a.Confidence)
	}
	return nil
}

func extractFenced(s string) string {
	idx := strings.Index(s, "```json")
	skip := 7
	if idx == -1 {
		idx = strings.Index(s, "```")
		skip = 3
	}
	if idx == -1 {
		return ""
	}
	rest := s[idx+skip:]
	if end := strings.Index(rest, "```"); end != -1 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest)
}

// extractFirstObject returns the first brace-balanced JSON object in s,
// ignoring braces inside string literals.
func extractFirstObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start == -1 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return s[start : i+1]
				}
			}
		}
	}
	return ""
}
