package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type ContextType string

const (
	ContextNetwork ContextType = "network"
	ContextAsset   ContextType = "asset"
	ContextUser    ContextType = "user"
)

type Criticality string

const (
	CriticalityCritical Criticality = "critical"
	CriticalityHigh     Criticality = "high"
	CriticalityMedium   Criticality = "medium"
	CriticalityLow      Criticality = "low"
	CriticalityUnknown  Criticality = ""
)

// EnrichmentContext is one persisted enrichment row: 1..3 per alert, one
// per context kind. Data is nil when the sub-collector timed out
// (status=partial).
type EnrichmentContext struct {
	AlertID     uuid.UUID       `json:"alert_id"`
	ContextType ContextType     `json:"context_type"`
	Source      string          `json:"source"`
	Status      string          `json:"status"` // "ok" or "partial"
	Data        json.RawMessage `json:"data,omitempty"`
	CollectedAt time.Time       `json:"collected_at"`
	TTLHint     time.Duration   `json:"ttl_hint,omitempty"`
}

// IPObservation classifies one IP present on the alert.
type IPObservation struct {
	IP         string `json:"ip"`
	Direction  string `json:"direction"` // "source" or "target"
	Internal   bool   `json:"internal"`
	Subnet     string `json:"subnet,omitempty"` // /24 for IPv4
	Country    string `json:"country,omitempty"`
	ASN        string `json:"asn,omitempty"`
	Reputation int    `json:"reputation"` // 0-100
}

type NetworkContext struct {
	Observations []IPObservation `json:"observations"`
}

type AssetContext struct {
	AssetID         string      `json:"asset_id"`
	AssetType       string      `json:"asset_type"`
	Criticality     Criticality `json:"criticality"`
	Owner           string      `json:"owner,omitempty"`
	BusinessUnit    string      `json:"business_unit,omitempty"`
	Environment     string      `json:"environment,omitempty"`
	Vulnerabilities []string    `json:"vulnerabilities,omitempty"`
}

type UserContext struct {
	UserID         string    `json:"user_id"`
	Department     string    `json:"department,omitempty"`
	Title          string    `json:"title,omitempty"`
	Manager        string    `json:"manager,omitempty"`
	PrivilegeLevel string    `json:"privilege_level,omitempty"`
	LastLoginAt    time.Time `json:"last_login_at,omitempty"`
	AccountStatus  string    `json:"account_status,omitempty"`
}

// EnrichmentSet is the stage-appended enrichment section of the message
// body. Missing sub-results are listed in Partial instead of failing the
// stage.
type EnrichmentSet struct {
	Network *NetworkContext `json:"network,omitempty"`
	Asset   *AssetContext   `json:"asset,omitempty"`
	User    *UserContext    `json:"user,omitempty"`
	Partial []string        `json:"partial,omitempty"`
}
