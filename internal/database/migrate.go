package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// migrations are applied in order on startup. The service is self-contained:
// no external migration tooling is required.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS campaigns (
		id                   TEXT PRIMARY KEY,
		external_campaign_id TEXT NOT NULL UNIQUE,
		slug                 TEXT NOT NULL UNIQUE,
		status               TEXT NOT NULL,
		url                  TEXT NOT NULL,
		created_at           TIMESTAMPTZ NOT NULL,
		updated_at           TIMESTAMPTZ NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS products (
		id                   TEXT PRIMARY KEY,
		external_product_id  TEXT NOT NULL UNIQUE,
		external_campaign_id TEXT NOT NULL,
		kind                 TEXT NOT NULL,
		url                  TEXT NOT NULL,
		created_at           TIMESTAMPTZ NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS campaign_params (
		id                   TEXT PRIMARY KEY,
		external_param_id    TEXT NOT NULL,
		external_campaign_id TEXT NOT NULL,
		type                 TEXT NOT NULL,
		placement_id         TEXT NOT NULL DEFAULT '',
		silo_id              TEXT NOT NULL DEFAULT '',
		metadata             JSONB NOT NULL DEFAULT '{}',
		created_at           TIMESTAMPTZ NOT NULL,
		UNIQUE (type, external_param_id)
	)`,

	// A distribution targets exactly one of product_id / param_id.
	`CREATE TABLE IF NOT EXISTS distributions (
		id          TEXT PRIMARY KEY,
		campaign_id TEXT NOT NULL REFERENCES campaigns (id) ON DELETE CASCADE,
		product_id  TEXT REFERENCES products (id),
		param_id    TEXT REFERENCES campaign_params (id),
		priority    INTEGER NOT NULL,
		status      TEXT NOT NULL,
		metadata    JSONB NOT NULL DEFAULT '{}',
		created_at  TIMESTAMPTZ NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL,
		CHECK ((product_id IS NULL) <> (param_id IS NULL))
	)`,
	`CREATE INDEX IF NOT EXISTS idx_distributions_campaign ON distributions (campaign_id, status, priority DESC)`,

	`CREATE TABLE IF NOT EXISTS impressions (
		id              TEXT PRIMARY KEY,
		session_id      TEXT NOT NULL,
		campaign_id     TEXT,
		product_id      TEXT,
		distribution_id TEXT,
		session         JSONB NOT NULL DEFAULT '{}',
		created_at      TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_impressions_campaign_created ON impressions (campaign_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_impressions_unattributed ON impressions (campaign_id, created_at) WHERE distribution_id IS NULL`,

	`CREATE TABLE IF NOT EXISTS clicks (
		id              TEXT PRIMARY KEY,
		session_id      TEXT NOT NULL,
		distribution_id TEXT NOT NULL,
		campaign_id     TEXT,
		session         JSONB NOT NULL DEFAULT '{}',
		created_at      TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_clicks_distribution_created ON clicks (distribution_id, created_at)`,

	`CREATE TABLE IF NOT EXISTS conversions (
		id              TEXT PRIMARY KEY,
		distribution_id TEXT NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_conversions_distribution_created ON conversions (distribution_id, created_at)`,

	// The uniqueness constraint backs the aggregator's upsert: one row per
	// scope, entity and day bucket.
	`CREATE TABLE IF NOT EXISTS analytics (
		id            TEXT PRIMARY KEY,
		scope         TEXT NOT NULL,
		campaign_id   TEXT NOT NULL,
		product_id    TEXT NOT NULL DEFAULT '',
		bucket        TEXT NOT NULL,
		impressions   BIGINT NOT NULL,
		clicks        BIGINT NOT NULL,
		conversions   BIGINT NOT NULL,
		unique_clicks BIGINT NOT NULL,
		ctr           DOUBLE PRECISION NOT NULL,
		updated_at    TIMESTAMPTZ NOT NULL,
		UNIQUE (scope, campaign_id, product_id, bucket)
	)`,
}

// RunMigrations ensures required tables exist.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range migrations {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
	}
	return nil
}
