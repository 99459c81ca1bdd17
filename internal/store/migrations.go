package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS container_records (
    key         TEXT PRIMARY KEY,
    state       TEXT NOT NULL,
    record      JSONB NOT NULL,
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_container_records_updated_at ON container_records(updated_at);
`

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS container_records (
    key         TEXT PRIMARY KEY,
    state       TEXT NOT NULL,
    record      TEXT NOT NULL,
    updated_at  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_container_records_updated_at ON container_records(updated_at);
`

// EnsureSchema creates the container_records table and indexes if they don't exist.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, postgresSchema)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
