package stage

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/hive-corporation/aegis/internal/core/domain"
)

// FormatHandler fills canonical alert fields from the vendor-shaped raw
// payload. Handlers only fill fields the ingest left empty, so a caller
// that already submitted canonical fields wins.
type FormatHandler func(a *domain.Alert) error

// FormatFor dispatches on the alert source. Unknown sources get the
// generic handler, which trusts the canonical fields as submitted.
func FormatFor(source string) FormatHandler {
	switch strings.ToLower(source) {
	case "splunk":
		return normalizeSplunk
	case "qradar":
		return normalizeQRadar
	case "cef":
		return normalizeCEF
	default:
		return normalizeGeneric
	}
}

func normalizeGeneric(a *domain.Alert) error {
	return nil
}

// normalizeSplunk reads the Splunk alert-action webhook shape: the
// fields of interest live under "result".
func normalizeSplunk(a *domain.Alert) error {
	if len(a.RawPayload) == 0 {
		return nil
	}
	var payload struct {
		Result     map[string]any `json:"result"`
		SearchName string         `json:"search_name"`
	}
	if err := json.Unmarshal(a.RawPayload, &payload); err != nil {
		return fmt.Errorf("%w: splunk payload: %v", domain.ErrUnparseable, err)
	}
	result := payload.Result
	if result == nil {
		// Some forwarders flatten the result to the top level.
		if err := json.Unmarshal(a.RawPayload, &result); err != nil {
			return fmt.Errorf("%w: splunk payload: %v", domain.ErrUnparseable, err)
		}
	}

	fillString(&a.SourceIP, result, "src_ip", "src", "source_ip")
	fillString(&a.TargetIP, result, "dest_ip", "dest", "target_ip")
	fillString(&a.FileHash, result, "file_hash", "hash")
	fillString(&a.URL, result, "url", "uri")
	fillString(&a.AssetID, result, "asset_id", "host")
	fillString(&a.UserID, result, "user", "user_id")
	fillString(&a.ProcessName, result, "process", "process_name")
	if a.Description == "" {
		fillString(&a.Description, result, "signature", "description")
		if a.Description == "" && payload.SearchName != "" {
			a.Description = payload.SearchName
		}
	}
	return nil
}

// normalizeQRadar reads the QRadar offense shape. QRadar severity and
// magnitude are 0-10 scales.
func normalizeQRadar(a *domain.Alert) error {
	if len(a.RawPayload) == 0 {
		return nil
	}
	var payload struct {
		Description   string  `json:"description"`
		OffenseSource string  `json:"offense_source"`
		Magnitude     float64 `json:"magnitude"`
		Severity      float64 `json:"severity"`
		Username      string  `json:"username"`
	}
	if err := json.Unmarshal(a.RawPayload, &payload); err != nil {
		return fmt.Errorf("%w: qradar payload: %v", domain.ErrUnparseable, err)
	}

	if a.Description == "" && payload.Description != "" {
		a.Description = strings.TrimSpace(payload.Description)
	}
	if a.SourceIP == "" && looksLikeIP(payload.OffenseSource) {
		a.SourceIP = payload.OffenseSource
	}
	if a.UserID == "" {
		a.UserID = payload.Username
	}
	if a.Severity == "" {
		a.Severity = severityFromScale(payload.Severity)
	}
	return nil
}

// normalizeCEF parses "CEF:version|vendor|product|ver|sigid|name|sev|ext"
// with space-separated key=value extensions.
func normalizeCEF(a *domain.Alert) error {
	if len(a.RawPayload) == 0 {
		return nil
	}

	// The raw payload may be a bare CEF line or a JSON string holding one.
	raw := strings.TrimSpace(string(a.RawPayload))
	if strings.HasPrefix(raw, `"`) {
		var unquoted string
		if err := json.Unmarshal(a.RawPayload, &unquoted); err == nil {
			raw = unquoted
		}
	}

	idx := strings.Index(raw, "CEF:")
	if idx == -1 {
		return fmt.Errorf("%w: no CEF header", domain.ErrUnparseable)
	}
	parts := splitCEFHeader(raw[idx+4:])
	if len(parts) < 8 {
		return fmt.Errorf("%w: CEF header has %d fields, want 8", domain.ErrUnparseable, len(parts))
	}

	name := parts[5]
	if a.Description == "" && name != "" {
		a.Description = name
	}
	if a.Severity == "" {
		if sev, err := strconv.ParseFloat(parts[6], 64); err == nil {
			a.Severity = severityFromScale(sev)
		}
	}

	ext := parseCEFExtensions(parts[7])
	fillIfEmpty(&a.SourceIP, ext["src"])
	fillIfEmpty(&a.TargetIP, ext["dst"])
	fillIfEmpty(&a.URL, ext["request"])
	fillIfEmpty(&a.FileHash, ext["fileHash"])
	fillIfEmpty(&a.AssetID, ext["dhost"])
	fillIfEmpty(&a.UserID, firstNonEmpty(ext["duser"], ext["suser"]))
	fillIfEmpty(&a.ProcessName, ext["sproc"])
	return nil
}

// splitCEFHeader splits on unescaped pipes, keeping the extension blob
// as the final element.
func splitCEFHeader(s string) []string {
	var parts []string
	var cur strings.Builder
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			cur.WriteByte(c)
			escaped = false
		case c == '\\':
			escaped = true
		case c == '|' && len(parts) < 7:
			parts = append(parts, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	parts = append(parts, cur.String())
	return parts
}

// parseCEFExtensions splits "k1=v1 k2=v2 ..." where values may contain
// spaces; a token containing '=' starts the next key.
func parseCEFExtensions(s string) map[string]string {
	ext := make(map[string]string)
	var key string
	var value []string
	for _, token := range strings.Fields(s) {
		if eq := strings.Index(token, "="); eq > 0 {
			if key != "" {
				ext[key] = strings.Join(value, " ")
			}
			key = token[:eq]
			value = []string{token[eq+1:]}
		} else if key != "" {
			value = append(value, token)
		}
	}
	if key != "" {
		ext[key] = strings.Join(value, " ")
	}
	return ext
}

// severityFromScale maps a 0-10 vendor scale onto the canonical set.
func severityFromScale(v float64) domain.Severity {
	switch {
	case v >= 9:
		return domain.SeverityCritical
	case v >= 7:
		return domain.SeverityHigh
	case v >= 4:
		return domain.SeverityMedium
	case v >= 2:
		return domain.SeverityLow
	default:
		return domain.SeverityInfo
	}
}

func looksLikeIP(s string) bool {
	return s != "" && (strings.Count(s, ".") == 3 || strings.Contains(s, ":"))
}

func fillString(dst *string, m map[string]any, keys ...string) {
	if *dst != "" {
		return
	}
	for _, k := range keys {
		if v, ok := m[k].(string); ok && v != "" {
			*dst = v
			return
		}
	}
}

func fillIfEmpty(dst *string, v string) {
	if *dst == "" && v != "" {
		*dst = v
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
