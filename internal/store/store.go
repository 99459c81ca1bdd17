package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"corral/internal/request"
	"corral/internal/status"
)

var (
	// ErrNotFound is returned by Get and Delete for keys that were never
	// written or have been deleted.
	ErrNotFound = errors.New("record not found")

	// ErrStorage wraps every other backend failure.
	ErrStorage = errors.New("storage error")
)

// State is the last known lifecycle state of a container.
type State string

const (
	StateAvailable State = "available"
	StateCreated   State = "created"
	StateRunning   State = "running"
	StateStopped   State = "stopped"
	StateRemoved   State = "removed"
)

// StateAfter returns the container state a successful operation leaves behind.
func StateAfter(op request.Operation) State {
	switch op {
	case request.Create:
		return StateCreated
	case request.Start, request.Restart:
		return StateRunning
	case request.Stop:
		return StateStopped
	case request.Remove:
		return StateRemoved
	default:
		return StateAvailable
	}
}

// Record is what gets persisted after a command runs.
type Record struct {
	Key       string                   `json:"key"`
	Request   request.ContainerRequest `json:"request"`
	Status    status.Status            `json:"status"`
	State     State                    `json:"state"`
	UpdatedAt time.Time                `json:"updatedAt"`
}

// Store persists records by key. Put overwrites wholesale; Get and Delete
// return ErrNotFound for missing keys.
type Store interface {
	Put(ctx context.Context, rec Record) error
	Get(ctx context.Context, key string) (Record, error)
	Delete(ctx context.Context, key string) error
	// List returns every record, most recently updated first.
	List(ctx context.Context) ([]Record, error)
	// Clear removes every record.
	Clear(ctx context.Context) error
	Backend() string
	Close() error
}

// Backend names.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendNATS     = "nats"
	BackendPostgres = "postgres"
)

// Config selects and configures a backend.
type Config struct {
	Backend      string        `yaml:"backend"`
	ClearOnStart bool          `yaml:"clear_on_start"`
	Timeout      time.Duration `yaml:"timeout"`
	SQLite       struct {
		Path string `yaml:"path"`
	} `yaml:"sqlite"`
	NATS struct {
		Bucket string `yaml:"bucket"`
	} `yaml:"nats"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
}

// Open builds the configured backend. js is only consulted for the nats
// backend and may be nil otherwise.
func Open(ctx context.Context, cfg Config, js jetstream.JetStream) (Store, error) {
	switch cfg.Backend {
	case BackendMemory, "":
		return NewMemoryStore(), nil
	case BackendSQLite:
		return NewSQLiteStore(ctx, cfg.SQLite.Path)
	case BackendNATS:
		if js == nil {
			return nil, errors.New("store: nats backend requires a NATS connection")
		}
		return NewKVStore(ctx, js, cfg.NATS.Bucket)
	case BackendPostgres:
		s, err := NewPostgresStore(ctx, cfg.Postgres.URL)
		if err != nil {
			return nil, err
		}
		if err := EnsureSchema(ctx, s.Pool()); err != nil {
			s.Close()
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("store: unknown backend %q", cfg.Backend)
	}
}

func storageErr(op, key string, err error) error {
	if key == "" {
		return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
	}
	return fmt.Errorf("%s %q: %w: %w", op, key, ErrStorage, err)
}

func notFound(key string) error {
	return fmt.Errorf("%w: %q", ErrNotFound, key)
}
