package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hive-corporation/aegis/internal/core/domain"
)

// PostgresRepository owns all persistent pipeline state: alerts,
// enrichment context, threat intel, triage results and the audit log.
type PostgresRepository struct {
	db *pgxpool.Pool
}

func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// NewPool opens a connection pool capped at maxConns.
func NewPool(ctx context.Context, databaseURL string, maxConns int) (*pgxpool.Pool, error) {
	pc, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		pc.MaxConns = int32(maxConns)
	}
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	return pool, nil
}

// Pool exposes the underlying pool for health checks.
func (r *PostgresRepository) Pool() *pgxpool.Pool {
	return r.db
}

const alertColumns = `id, alert_id, source, alert_type, severity, status, description,
	source_ip, target_ip, file_hash, url, asset_id, user_id, process_name,
	ts, raw_payload, fingerprint, risk_score, assigned_to, created_at, updated_at`

func (r *PostgresRepository) Insert(ctx context.Context, a *domain.Alert) error {
	query := `
		INSERT INTO alerts (` + alertColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, now(), now())
	`
	_, err := r.db.Exec(ctx, query,
		a.ID, a.AlertID, a.Source, a.AlertType, a.Severity, a.Status, a.Description,
		nullable(a.SourceIP), nullable(a.TargetIP), nullable(a.FileHash), nullable(a.URL),
		nullable(a.AssetID), nullable(a.UserID), nullable(a.ProcessName),
		a.Timestamp, a.RawPayload, a.Fingerprint, a.RiskScore, nullable(a.AssignedTo),
	)
	if err != nil {
		return fmt.Errorf("insert alert %s: %w", a.AlertID, err)
	}
	return nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Alert, error) {
	return r.getAlert(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = $1`, id)
}

func (r *PostgresRepository) GetByAlertID(ctx context.Context, alertID string) (*domain.Alert, error) {
	return r.getAlert(ctx,
		`SELECT `+alertColumns+` FROM alerts WHERE alert_id = $1 ORDER BY created_at DESC LIMIT 1`,
		alertID)
}

func (r *PostgresRepository) getAlert(ctx context.Context, query string, arg any) (*domain.Alert, error) {
	rows, err := r.db.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("query alert: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("query alert: %w", err)
		}
		return nil, domain.ErrNotFound
	}
	a, err := scanAlert(rows)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func scanAlert(row pgx.Row) (*domain.Alert, error) {
	var a domain.Alert
	var sourceIP, targetIP, fileHash, url, assetID, userID, procName, assignedTo *string
	err := row.Scan(
		&a.ID, &a.AlertID, &a.Source, &a.AlertType, &a.Severity, &a.Status, &a.Description,
		&sourceIP, &targetIP, &fileHash, &url, &assetID, &userID, &procName,
		&a.Timestamp, &a.RawPayload, &a.Fingerprint, &a.RiskScore, &assignedTo,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan alert: %w", err)
	}
	a.SourceIP = deref(sourceIP)
	a.TargetIP = deref(targetIP)
	a.FileHash = deref(fileHash)
	a.URL = deref(url)
	a.AssetID = deref(assetID)
	a.UserID = deref(userID)
	a.ProcessName = deref(procName)
	a.AssignedTo = deref(assignedTo)
	return &a, nil
}

func (r *PostgresRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.Status) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE alerts SET status = $2, updated_at = now() WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("update alert status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) ListUnemitted(ctx context.Context, age time.Duration, limit int) ([]domain.Alert, error) {
	query := `SELECT ` + alertColumns + `
		FROM alerts
		WHERE status = 'new' AND created_at < now() - $1::interval
		ORDER BY created_at ASC
		LIMIT $2`
	rows, err := r.db.Query(ctx, query, age, limit)
	if err != nil {
		return nil, fmt.Errorf("query unemitted alerts: %w", err)
	}
	defer rows.Close()

	var alerts []domain.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, *a)
	}
	return alerts, rows.Err()
}

func (r *PostgresRepository) SeenFingerprint(ctx context.Context, fingerprint string, exceptID uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM alerts WHERE fingerprint = $1 AND id <> $2 AND status <> 'duplicate')`,
		fingerprint, exceptID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query fingerprint: %w", err)
	}
	return exists, nil
}

func (r *PostgresRepository) CountSimilarHighRisk(ctx context.Context, assetID, sourceIP string, window time.Duration) (int, error) {
	if assetID == "" && sourceIP == "" {
		return 0, nil
	}
	query := `
		SELECT count(*)
		FROM alerts a
		JOIN triage_results t ON t.alert_id = a.id
		WHERE t.risk_level IN ('high', 'critical')
		  AND a.created_at > now() - $1::interval
		  AND (($2 <> '' AND a.asset_id = $2) OR ($3 <> '' AND a.source_ip = $3))
	`
	var n int
	if err := r.db.QueryRow(ctx, query, window, assetID, sourceIP).Scan(&n); err != nil {
		return 0, fmt.Errorf("count similar high-risk alerts: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) UpsertContext(ctx context.Context, ec domain.EnrichmentContext) error {
	query := `
		INSERT INTO alert_context (alert_id, context_type, source, status, data, collected_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (alert_id, context_type) DO UPDATE SET
			source = EXCLUDED.source,
			status = EXCLUDED.status,
			data = EXCLUDED.data,
			collected_at = EXCLUDED.collected_at
	`
	_, err := r.db.Exec(ctx, query,
		ec.AlertID, ec.ContextType, ec.Source, ec.Status, ec.Data, ec.CollectedAt)
	if err != nil {
		return fmt.Errorf("upsert context %s/%s: %w", ec.AlertID, ec.ContextType, err)
	}
	return nil
}

func (r *PostgresRepository) UpsertRecord(ctx context.Context, rec domain.ThreatIntelRecord) error {
	queried, err := json.Marshal(rec.SourcesQueried)
	if err != nil {
		return err
	}
	hit, err := json.Marshal(rec.SourcesHit)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO threat_intel (ioc, ioc_type, threat_level, threat_score,
			sources_queried, sources_hit, last_seen, raw_vendor_data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (ioc, ioc_type) DO UPDATE SET
			threat_level = EXCLUDED.threat_level,
			threat_score = EXCLUDED.threat_score,
			sources_queried = EXCLUDED.sources_queried,
			sources_hit = EXCLUDED.sources_hit,
			last_seen = EXCLUDED.last_seen,
			raw_vendor_data = EXCLUDED.raw_vendor_data
	`
	_, err = r.db.Exec(ctx, query,
		rec.IOC, rec.IOCType, rec.ThreatLevel, rec.ThreatScore,
		queried, hit, rec.LastSeen, rec.RawVendorData)
	if err != nil {
		return fmt.Errorf("upsert threat intel %s: %w", rec.IOC, err)
	}
	return nil
}

func (r *PostgresRepository) GetRecord(ctx context.Context, ioc string, iocType domain.IOCType) (*domain.ThreatIntelRecord, error) {
	var rec domain.ThreatIntelRecord
	var queried, hit []byte
	err := r.db.QueryRow(ctx, `
		SELECT ioc, ioc_type, threat_level, threat_score, sources_queried,
			sources_hit, last_seen, raw_vendor_data
		FROM threat_intel WHERE ioc = $1 AND ioc_type = $2
	`, ioc, iocType).Scan(
		&rec.IOC, &rec.IOCType, &rec.ThreatLevel, &rec.ThreatScore,
		&queried, &hit, &rec.LastSeen, &rec.RawVendorData)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query threat intel: %w", err)
	}
	if err := json.Unmarshal(queried, &rec.SourcesQueried); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(hit, &rec.SourcesHit); err != nil {
		return nil, err
	}
	return &rec, nil
}

// UpsertResult writes the triage result and the alert's risk score in
// one transaction. The version bump happens inside the upsert so
// concurrent retries serialize on the row lock and result_version stays
// monotonic.
func (r *PostgresRepository) UpsertResult(ctx context.Context, res *domain.TriageResult) (int, error) {
	findings, err := json.Marshal(res.KeyFindings)
	if err != nil {
		return 0, err
	}
	actions, err := json.Marshal(res.RecommendedActions)
	if err != nil {
		return 0, err
	}
	iocs, err := json.Marshal(res.IOCsExtracted)
	if err != nil {
		return 0, err
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin triage tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var version int
	err = tx.QueryRow(ctx, `
		INSERT INTO triage_results (alert_id, risk_score, risk_level, confidence,
			analysis_text, key_findings, recommended_actions, iocs, model_used,
			processing_ms, result_version, requires_human_review, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 1, $11, now())
		ON CONFLICT (alert_id) DO UPDATE SET
			risk_score = EXCLUDED.risk_score,
			risk_level = EXCLUDED.risk_level,
			confidence = EXCLUDED.confidence,
			analysis_text = EXCLUDED.analysis_text,
			key_findings = EXCLUDED.key_findings,
			recommended_actions = EXCLUDED.recommended_actions,
			iocs = EXCLUDED.iocs,
			model_used = EXCLUDED.model_used,
			processing_ms = EXCLUDED.processing_ms,
			result_version = triage_results.result_version + 1,
			requires_human_review = EXCLUDED.requires_human_review
		RETURNING result_version
	`,
		res.AlertID, res.RiskScore, res.RiskLevel, res.Confidence,
		res.AnalysisText, findings, actions, iocs, res.ModelUsed,
		res.ProcessingMS, res.RequiresHumanReview,
	).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("upsert triage result %s: %w", res.AlertID, err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE alerts SET risk_score = $2, updated_at = now() WHERE id = $1`,
		res.AlertID, res.RiskScore); err != nil {
		return 0, fmt.Errorf("update alert risk score: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit triage tx: %w", err)
	}
	res.ResultVersion = version
	return version, nil
}

func (r *PostgresRepository) GetResult(ctx context.Context, alertID uuid.UUID) (*domain.TriageResult, error) {
	var res domain.TriageResult
	var findings, actions, iocs []byte
	err := r.db.QueryRow(ctx, `
		SELECT alert_id, risk_score, risk_level, confidence, analysis_text,
			key_findings, recommended_actions, iocs, model_used, processing_ms,
			result_version, requires_human_review, created_at
		FROM triage_results WHERE alert_id = $1
	`, alertID).Scan(
		&res.AlertID, &res.RiskScore, &res.RiskLevel, &res.Confidence, &res.AnalysisText,
		&findings, &actions, &iocs, &res.ModelUsed, &res.ProcessingMS,
		&res.ResultVersion, &res.RequiresHumanReview, &res.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query triage result: %w", err)
	}
	if err := json.Unmarshal(findings, &res.KeyFindings); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(actions, &res.RecommendedActions); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(iocs, &res.IOCsExtracted); err != nil {
		return nil, err
	}
	return &res, nil
}

func (r *PostgresRepository) Append(ctx context.Context, entry domain.AuditEntry) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO audit_log (alert_id, action, actor, detail, created_at)
		VALUES ($1, $2, $3, $4, now())
	`, entry.AlertID, entry.Action, entry.Actor, entry.Detail)
	if err != nil {
		return fmt.Errorf("append audit log: %w", err)
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
