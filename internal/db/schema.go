package db

import (
	"context"
	"database/sql"
	"fmt"
)

var sqliteSchema = []string{
	`
CREATE TABLE IF NOT EXISTS campaign_events (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    tenant_id      TEXT    NOT NULL,
    campaign_id    TEXT    NOT NULL,
    contact_id     TEXT    NOT NULL,
    channel        TEXT    NOT NULL,
    event_type     TEXT    NOT NULL,
    occurred_at    INTEGER NOT NULL,
    ab_group       TEXT,
    cost_amount    NUMERIC NOT NULL DEFAULT 0,
    currency       TEXT    NOT NULL DEFAULT 'KRW',
    failure_code   TEXT,
    failure_reason TEXT,
    meta           TEXT    NOT NULL DEFAULT '{}'
)`,
	`CREATE INDEX IF NOT EXISTS idx_events_tenant_time ON campaign_events(tenant_id, occurred_at)`,
	`CREATE INDEX IF NOT EXISTS idx_events_tenant_campaign_time ON campaign_events(tenant_id, campaign_id, occurred_at)`,
}

var postgresSchema = []string{
	`
CREATE TABLE IF NOT EXISTS campaign_events (
    id             BIGSERIAL PRIMARY KEY,
    tenant_id      TEXT          NOT NULL,
    campaign_id    TEXT          NOT NULL,
    contact_id     TEXT          NOT NULL,
    channel        TEXT          NOT NULL,
    event_type     TEXT          NOT NULL,
    occurred_at    TIMESTAMPTZ   NOT NULL,
    ab_group       TEXT,
    cost_amount    NUMERIC(18,4) NOT NULL DEFAULT 0,
    currency       CHAR(3)       NOT NULL DEFAULT 'KRW',
    failure_code   TEXT,
    failure_reason TEXT,
    meta           JSONB         NOT NULL DEFAULT '{}'
)`,
	`CREATE INDEX IF NOT EXISTS idx_events_tenant_time ON campaign_events(tenant_id, occurred_at)`,
	`CREATE INDEX IF NOT EXISTS idx_events_tenant_campaign_time ON campaign_events(tenant_id, campaign_id, occurred_at)`,
}

var clickhouseSchema = []string{
	`
CREATE TABLE IF NOT EXISTS campaign_events (
    tenant_id      String,
    campaign_id    String,
    contact_id     String,
    channel        LowCardinality(String),
    event_type     LowCardinality(String),
    occurred_at    DateTime64(3, 'UTC'),
    ab_group       Nullable(String),
    cost_amount    Decimal(18, 4) DEFAULT 0,
    currency       LowCardinality(String) DEFAULT 'KRW',
    failure_code   Nullable(String),
    failure_reason Nullable(String),
    meta           String DEFAULT '{}'
) ENGINE = MergeTree
PARTITION BY toYYYYMM(occurred_at)
ORDER BY (tenant_id, occurred_at, campaign_id)`,
}

// Migrate creates the event table and indexes for the dialect if they don't exist.
func Migrate(ctx context.Context, db *sql.DB, d Dialect) error {
	for _, stmt := range d.Schema() {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}
