package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS cdc_events (
		id              UUID PRIMARY KEY,
		message_id      TEXT NOT NULL,
		table_name      TEXT NOT NULL,
		operation       TEXT NOT NULL,
		payload         JSONB NOT NULL,
		sequence_number BIGINT NOT NULL,
		partition_key   TEXT NOT NULL,
		timestamp       TIMESTAMPTZ NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		processed_at    TIMESTAMPTZ NULL,
		status          TEXT NOT NULL,
		error_message   TEXT NULL,
		retry_count     INT NOT NULL DEFAULT 0,
		version         INT NOT NULL DEFAULT 1
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_cdc_events_message_id ON cdc_events (message_id)`,
	`CREATE INDEX IF NOT EXISTS ix_cdc_events_partition_sequence ON cdc_events (partition_key, sequence_number)`,
	`CREATE INDEX IF NOT EXISTS ix_cdc_events_status ON cdc_events (status, created_at)`,
	`CREATE TABLE IF NOT EXISTS routing_configurations (
		id          UUID PRIMARY KEY,
		table_name  TEXT NOT NULL,
		exchange    TEXT NOT NULL,
		routing_key TEXT NOT NULL,
		queue       TEXT NOT NULL DEFAULT '',
		is_active   BOOLEAN NOT NULL DEFAULT TRUE,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at  TIMESTAMPTZ NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_routing_configurations_table ON routing_configurations (table_name)`,
	`CREATE INDEX IF NOT EXISTS ix_routing_configurations_active ON routing_configurations (is_active)`,
}

// EnsureSchema creates the relay tables and indexes if they are missing.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	return NewTxManager(pool).WithinTransaction(ctx, func(ctx context.Context) error {
		db := conn(ctx, pool)
		for _, stmt := range schema {
			if _, err := db.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("apply schema: %w", err)
			}
		}
		return nil
	})
}
