package repository

import (
	"context"
	"database/sql"
	"fmt"
)

const schema = `
CREATE TABLE IF NOT EXISTS provider_configs (
	uuid              TEXT PRIMARY KEY,
	account_uuid      TEXT NOT NULL,
	name              TEXT NOT NULL,
	provider_type     TEXT NOT NULL,
	base_url          TEXT NOT NULL DEFAULT '',
	api_key           TEXT NOT NULL DEFAULT '',
	default_model     TEXT NOT NULL DEFAULT '',
	available_models  JSONB NOT NULL DEFAULT '[]',
	is_active         BOOLEAN NOT NULL DEFAULT TRUE,
	is_default        BOOLEAN NOT NULL DEFAULT FALSE,
	priority          INTEGER NOT NULL DEFAULT 100,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS provider_configs_account_idx
	ON provider_configs (account_uuid, created_at);

CREATE UNIQUE INDEX IF NOT EXISTS provider_configs_one_default_idx
	ON provider_configs (account_uuid) WHERE is_default;

CREATE TABLE IF NOT EXISTS usage_records (
	id              BIGSERIAL PRIMARY KEY,
	account_uuid    TEXT NOT NULL,
	provider_uuid   TEXT NOT NULL,
	provider_type   TEXT NOT NULL,
	model           TEXT NOT NULL,
	input_tokens    INTEGER NOT NULL,
	output_tokens   INTEGER NOT NULL,
	cost_usd        NUMERIC(18, 6) NOT NULL,
	latency_ms      BIGINT NOT NULL,
	attempts        INTEGER NOT NULL,
	streamed        BOOLEAN NOT NULL DEFAULT FALSE,
	created_at      TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS usage_records_account_idx
	ON usage_records (account_uuid, created_at);
`

// Migrate creates the tables this package reads and writes.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
