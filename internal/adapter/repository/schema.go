package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema holds the DDL for every table the core owns. Statements are
// idempotent; EnsureSchema runs on service startup.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS alerts (
		id           UUID PRIMARY KEY,
		alert_id     TEXT NOT NULL,
		source       TEXT NOT NULL,
		alert_type   TEXT NOT NULL,
		severity     TEXT NOT NULL,
		status       TEXT NOT NULL,
		description  TEXT NOT NULL,
		source_ip    TEXT,
		target_ip    TEXT,
		file_hash    TEXT,
		url          TEXT,
		asset_id     TEXT,
		user_id      TEXT,
		process_name TEXT,
		ts           TIMESTAMPTZ NOT NULL,
		raw_payload  JSONB,
		fingerprint  TEXT,
		risk_score   DOUBLE PRECISION,
		assigned_to  TEXT,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_alerts_external ON alerts (alert_id, source)`,
	`CREATE INDEX IF NOT EXISTS idx_alerts_fingerprint ON alerts (fingerprint)`,
	`CREATE INDEX IF NOT EXISTS idx_alerts_status_created ON alerts (status, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_alerts_asset ON alerts (asset_id) WHERE asset_id IS NOT NULL`,
	`CREATE INDEX IF NOT EXISTS idx_alerts_source_ip ON alerts (source_ip) WHERE source_ip IS NOT NULL`,

	`CREATE TABLE IF NOT EXISTS alert_context (
		alert_id     UUID NOT NULL REFERENCES alerts (id) ON DELETE CASCADE,
		context_type TEXT NOT NULL,
		source       TEXT NOT NULL,
		status       TEXT NOT NULL,
		data         JSONB,
		collected_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (alert_id, context_type)
	)`,

	`CREATE TABLE IF NOT EXISTS threat_intel (
		ioc             TEXT NOT NULL,
		ioc_type        TEXT NOT NULL,
		threat_level    TEXT NOT NULL,
		threat_score    DOUBLE PRECISION NOT NULL,
		sources_queried JSONB NOT NULL,
		sources_hit     JSONB NOT NULL,
		last_seen       TIMESTAMPTZ NOT NULL,
		raw_vendor_data JSONB,
		PRIMARY KEY (ioc, ioc_type)
	)`,

	`CREATE TABLE IF NOT EXISTS triage_results (
		alert_id              UUID PRIMARY KEY REFERENCES alerts (id) ON DELETE CASCADE,
		risk_score            DOUBLE PRECISION NOT NULL,
		risk_level            TEXT NOT NULL,
		confidence            DOUBLE PRECISION NOT NULL,
		analysis_text         TEXT,
		key_findings          JSONB,
		recommended_actions   JSONB,
		iocs                  JSONB,
		model_used            TEXT NOT NULL,
		processing_ms         BIGINT NOT NULL,
		result_version        INTEGER NOT NULL DEFAULT 1,
		requires_human_review BOOLEAN NOT NULL,
		created_at            TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS audit_log (
		id         BIGSERIAL PRIMARY KEY,
		alert_id   UUID NOT NULL,
		action     TEXT NOT NULL,
		actor      TEXT NOT NULL,
		detail     JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_alert ON audit_log (alert_id)`,
}

// EnsureSchema creates the tables if they do not exist.
func EnsureSchema(ctx context.Context, db *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
