package ports

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hive-corporation/aegis/internal/core/domain"
)

// AlertRepository owns the canonical alerts table.
type AlertRepository interface {
	Insert(ctx context.Context, a *domain.Alert) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Alert, error)
	GetByAlertID(ctx context.Context, alertID string) (*domain.Alert, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.Status) error
	// ListUnemitted returns alerts stuck in status=new older than age,
	// for the publish-after-persist reconciler.
	ListUnemitted(ctx context.Context, age time.Duration, limit int) ([]domain.Alert, error)
	// SeenFingerprint reports whether another alert row carries the same
	// fingerprint. DB-side dedup backstop for when the cache is cold.
	SeenFingerprint(ctx context.Context, fingerprint string, exceptID uuid.UUID) (bool, error)
	// CountSimilarHighRisk counts triaged alerts at risk_level high or
	// above within the window sharing the asset or source IP.
	CountSimilarHighRisk(ctx context.Context, assetID, sourceIP string, window time.Duration) (int, error)
}

// ContextRepository owns the alert_context enrichment rows.
type ContextRepository interface {
	UpsertContext(ctx context.Context, ec domain.EnrichmentContext) error
}

// ThreatIntelRepository owns the threat_intel rows, upserted on
// (ioc, ioc_type).
type ThreatIntelRepository interface {
	UpsertRecord(ctx context.Context, rec domain.ThreatIntelRecord) error
	GetRecord(ctx context.Context, ioc string, iocType domain.IOCType) (*domain.ThreatIntelRecord, error)
}

// TriageRepository owns triage_results. Upsert bumps result_version and
// writes alerts.risk_score in the same transaction; it returns the
// version assigned to this write.
type TriageRepository interface {
	UpsertResult(ctx context.Context, res *domain.TriageResult) (int, error)
	GetResult(ctx context.Context, alertID uuid.UUID) (*domain.TriageResult, error)
}

// AuditRepository appends to the audit_log.
type AuditRepository interface {
	Append(ctx context.Context, entry domain.AuditEntry) error
}

// Cache is the shared key-value store. Implementations are a performance
// aid, never a correctness gate: callers must behave correctly on a cold
// or unavailable cache.
type Cache interface {
	GetJSON(ctx context.Context, key string, v any) (bool, error)
	SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error
	// SetNX stores the key only if absent and reports whether it was
	// stored. Used for fingerprint dedup.
	SetNX(ctx context.Context, key string, value string, ttl time.Duration) (bool, error)
}

// GeoIPProvider resolves public IPs to location and reputation.
type GeoIPProvider interface {
	Name() string
	Lookup(ctx context.Context, ip string) (*domain.IPObservation, error)
}

// AssetProvider looks up CMDB asset records.
type AssetProvider interface {
	Name() string
	Lookup(ctx context.Context, assetID string) (*domain.AssetContext, error)
}

// UserProvider looks up directory user records.
type UserProvider interface {
	Name() string
	Lookup(ctx context.Context, userID string) (*domain.UserContext, error)
}

// ThreatSource is one threat-intel vendor queried per IOC.
type ThreatSource interface {
	Name() string
	Weight() float64
	Query(ctx context.Context, ioc domain.IOC) (*domain.SourceVerdict, error)
}

// Publisher emits envelopes onto the topic exchange with persistent
// delivery and the given priority.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, env *domain.Envelope, priority uint8, correlationID string) error
}

// Delivery is one consumed message plus its acknowledgement handle. A
// handler must call exactly one of Ack or Reject; Reject with
// requeue=false routes the message to the queue's DLQ.
type Delivery struct {
	Envelope      *domain.Envelope
	CorrelationID string
	Priority      uint8
	Attempt       int64
	Ack           func() error
	Reject        func(requeue bool) error
}

// Consumer yields deliveries from one queue until ctx is cancelled.
type Consumer interface {
	Consume(ctx context.Context) (<-chan Delivery, error)
}

// VectorIndex is the external vector store holding alert embeddings.
type VectorIndex interface {
	Upsert(ctx context.Context, entry domain.SimilarityEntry) error
	Search(ctx context.Context, vector []float32, k int, minScore float64, filter domain.SimilarityFilter) ([]domain.SimilarityHit, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Count(ctx context.Context) (int64, error)
}

// Embedder turns the canonical text projection into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dim() int
}

// ModelRoute is the routing decision returned by the LLM router.
type ModelRoute struct {
	ModelID     string         `json:"model_id"`
	Endpoint    string         `json:"endpoint"`
	APIKeyRef   string         `json:"api_key_ref,omitempty"`
	ModelParams map[string]any `json:"model_params,omitempty"`
}

// ModelRouter chooses a model for a task descriptor.
type ModelRouter interface {
	Route(ctx context.Context, task, complexity string) (*ModelRoute, error)
}

// Completer executes a chat completion against a routed model.
type Completer interface {
	Complete(ctx context.Context, route *ModelRoute, system, prompt string) (string, error)
}

// SimilarityClient is S5's view of the similarity-search service.
type SimilarityClient interface {
	Similar(ctx context.Context, a *domain.Alert, k int) ([]domain.SimilarityHit, error)
	Index(ctx context.Context, a *domain.Alert, riskLevel string) error
}
