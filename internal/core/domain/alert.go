package domain

import (
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
)

type AlertType string

const (
	TypeMalware            AlertType = "malware"
	TypePhishing           AlertType = "phishing"
	TypeBruteForce         AlertType = "brute_force"
	TypeDDoS               AlertType = "ddos"
	TypeDataExfiltration   AlertType = "data_exfiltration"
	TypeRansomware         AlertType = "ransomware"
	TypeUnauthorizedAccess AlertType = "unauthorized_access"
	TypePolicyViolation    AlertType = "policy_violation"
	TypeAnomaly            AlertType = "anomaly"
	TypeVulnerability      AlertType = "vulnerability"
	TypeIntrusion          AlertType = "intrusion"
	TypeOther              AlertType = "other"
)

var validAlertTypes = map[AlertType]bool{
	TypeMalware: true, TypePhishing: true, TypeBruteForce: true,
	TypeDDoS: true, TypeDataExfiltration: true, TypeRansomware: true,
	TypeUnauthorizedAccess: true, TypePolicyViolation: true,
	TypeAnomaly: true, TypeVulnerability: true, TypeIntrusion: true,
	TypeOther: true,
}

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

var validSeverities = map[Severity]bool{
	SeverityCritical: true, SeverityHigh: true, SeverityMedium: true,
	SeverityLow: true, SeverityInfo: true,
}

// Priority maps severity to the broker message priority (0-10).
func (s Severity) Priority() uint8 {
	switch s {
	case SeverityCritical:
		return 10
	case SeverityHigh:
		return 8
	case SeverityMedium:
		return 5
	case SeverityLow:
		return 3
	default:
		return 1
	}
}

type Status string

const (
	StatusNew        Status = "new"
	StatusInProgress Status = "in_progress"
	StatusAssigned   Status = "assigned"
	StatusResolved   Status = "resolved"
	StatusClosed     Status = "closed"
	StatusDuplicate  Status = "duplicate"
)

// Alert is the canonical unit of work flowing through the pipeline.
// AlertID is the external identifier (unique per source); ID is the
// internal surrogate assigned at ingestion.
type Alert struct {
	ID          uuid.UUID `json:"id"`
	AlertID     string    `json:"alert_id"`
	Source      string    `json:"source"`
	AlertType   AlertType `json:"alert_type"`
	Severity    Severity  `json:"severity"`
	Status      Status    `json:"status"`
	Description string    `json:"description"`

	SourceIP    string `json:"source_ip,omitempty"`
	TargetIP    string `json:"target_ip,omitempty"`
	FileHash    string `json:"file_hash,omitempty"`
	URL         string `json:"url,omitempty"`
	AssetID     string `json:"asset_id,omitempty"`
	UserID      string `json:"user_id,omitempty"`
	ProcessName string `json:"process_name,omitempty"`

	Timestamp  time.Time       `json:"timestamp"`
	RawPayload json.RawMessage `json:"raw_payload,omitempty"`

	Fingerprint string   `json:"fingerprint,omitempty"`
	RiskScore   *float64 `json:"risk_score,omitempty"`
	AssignedTo  string   `json:"assigned_to,omitempty"`

	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Clock tolerances for the ingestion timestamp check.
const (
	MaxTimestampAge  = 30 * 24 * time.Hour
	MaxTimestampSkew = 5 * time.Minute
)

// ValidationError reports the first field that failed schema validation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Validate checks the alert against the canonical schema. It returns a
// *ValidationError so callers can surface the offending field.
func (a *Alert) Validate(now time.Time) error {
	if a.AlertID == "" {
		return &ValidationError{Field: "alert_id", Reason: "required"}
	}
	if a.AlertType == "" {
		return &ValidationError{Field: "alert_type", Reason: "required"}
	}
	if !validAlertTypes[a.AlertType] {
		return &ValidationError{Field: "alert_type", Reason: fmt.Sprintf("unknown type %q", a.AlertType)}
	}
	if a.Severity == "" {
		return &ValidationError{Field: "severity", Reason: "required"}
	}
	if !validSeverities[a.Severity] {
		return &ValidationError{Field: "severity", Reason: fmt.Sprintf("unknown severity %q", a.Severity)}
	}
	if a.Description == "" {
		return &ValidationError{Field: "description", Reason: "required"}
	}
	if a.SourceIP != "" && net.ParseIP(a.SourceIP) == nil {
		return &ValidationError{Field: "source_ip", Reason: "not a valid IP address"}
	}
	if a.TargetIP != "" && net.ParseIP(a.TargetIP) == nil {
		return &ValidationError{Field: "target_ip", Reason: "not a valid IP address"}
	}
	if a.FileHash != "" && !ValidFileHash(a.FileHash) {
		return &ValidationError{Field: "file_hash", Reason: "not MD5/SHA1/SHA256 hex"}
	}
	if !a.Timestamp.IsZero() {
		if a.Timestamp.Before(now.Add(-MaxTimestampAge)) {
			return &ValidationError{Field: "timestamp", Reason: "older than 30 days"}
		}
		if a.Timestamp.After(now.Add(MaxTimestampSkew)) {
			return &ValidationError{Field: "timestamp", Reason: "too far in the future"}
		}
	}
	return nil
}

// Observables returns the typed IOCs present on the canonical fields.
func (a *Alert) Observables() []IOC {
	var iocs []IOC
	if a.SourceIP != "" {
		iocs = append(iocs, IOC{Value: a.SourceIP, Type: IOCTypeIP})
	}
	if a.TargetIP != "" {
		iocs = append(iocs, IOC{Value: a.TargetIP, Type: IOCTypeIP})
	}
	if a.FileHash != "" {
		iocs = append(iocs, IOC{Value: a.FileHash, Type: IOCTypeFileHash})
	}
	if a.URL != "" {
		iocs = append(iocs, IOC{Value: a.URL, Type: IOCTypeURL})
	}
	return DedupIOCs(iocs)
}

// AuditEntry is one append-only audit_log row, written on every status
// change and triage completion.
type AuditEntry struct {
	AlertID   uuid.UUID       `json:"alert_id"`
	Action    string          `json:"action"`
	Actor     string          `json:"actor"`
	Detail    json.RawMessage `json:"detail,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}
