package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// SQLiteStore is the embedded durable backend.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database file at path.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("store: sqlite path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One writer at a time; avoids SQLITE_BUSY between pooled connections.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Backend() string { return BackendSQLite }

func (s *SQLiteStore) Put(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return storageErr("marshal record", rec.Key, err)
	}
	const q = `
INSERT INTO container_records (key, state, record, updated_at) VALUES (?, ?, ?, ?)
ON CONFLICT (key) DO UPDATE SET
    state      = excluded.state,
    record     = excluded.record,
    updated_at = excluded.updated_at
`
	if _, err := s.db.ExecContext(ctx, q, rec.Key, string(rec.State), string(data), rec.UpdatedAt.UnixNano()); err != nil {
		return storageErr("put record", rec.Key, err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (Record, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT record FROM container_records WHERE key = ?`, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, notFound(key)
	}
	if err != nil {
		return Record{}, storageErr("get record", key, err)
	}
	var rec Record
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return Record{}, storageErr("decode record", key, err)
	}
	return rec, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM container_records WHERE key = ?`, key)
	if err != nil {
		return storageErr("delete record", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("delete record", key, err)
	}
	if n == 0 {
		return notFound(key)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT record FROM container_records ORDER BY updated_at DESC`)
	if err != nil {
		return nil, storageErr("list records", "", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, storageErr("scan record", "", err)
		}
		var rec Record
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return nil, storageErr("decode record", "", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list records", "", err)
	}
	return out, nil
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM container_records`); err != nil {
		return storageErr("clear records", "", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
