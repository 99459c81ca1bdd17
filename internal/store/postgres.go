package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store backed by a pgxpool connection.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to the database and verifies connectivity.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	if databaseURL == "" {
		return nil, errors.New("store: postgres url is required")
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Pool returns the underlying pgxpool for schema migrations.
func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *PostgresStore) Backend() string { return BackendPostgres }

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Put(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return storageErr("marshal record", rec.Key, err)
	}
	const q = `
INSERT INTO container_records (key, state, record, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (key) DO UPDATE SET
    state      = EXCLUDED.state,
    record     = EXCLUDED.record,
    updated_at = EXCLUDED.updated_at
`
	if _, err := s.pool.Exec(ctx, q, rec.Key, string(rec.State), string(data), rec.UpdatedAt); err != nil {
		return storageErr("put record", rec.Key, err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, key string) (Record, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT record FROM container_records WHERE key = $1`, key).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, notFound(key)
	}
	if err != nil {
		return Record{}, storageErr("get record", key, err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, storageErr("decode record", key, err)
	}
	return rec, nil
}

func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM container_records WHERE key = $1`, key)
	if err != nil {
		return storageErr("delete record", key, err)
	}
	if tag.RowsAffected() == 0 {
		return notFound(key)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context) ([]Record, error) {
	rows, err := s.pool.Query(ctx, `SELECT record FROM container_records ORDER BY updated_at DESC`)
	if err != nil {
		return nil, storageErr("list records", "", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, storageErr("scan record", "", err)
		}
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, storageErr("decode record", "", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list records", "", err)
	}
	return out, nil
}

func (s *PostgresStore) Clear(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM container_records`); err != nil {
		return storageErr("clear records", "", err)
	}
	return nil
}
