package config

import (
	"fmt"
	"net"
	"net/url"

	"corral/internal/codec"
	"corral/internal/logging"
	"corral/internal/security"
	"corral/internal/store"
)

func validate(cfg *Config) error {
	if _, _, err := net.SplitHostPort(cfg.Listen); err != nil {
		return fmt.Errorf("config: invalid listen address %q: %w", cfg.Listen, err)
	}
	if cfg.RequestTimeout < 0 {
		return fmt.Errorf("config: request_timeout must be positive")
	}
	if _, err := logging.ParseLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("config: log.level: %w", err)
	}
	switch cfg.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("config: unknown log.format %q", cfg.Log.Format)
	}

	if _, err := codec.ParseEncoding(cfg.HTTP.Encoding); err != nil {
		return fmt.Errorf("config: http.encoding: %w", err)
	}
	if cfg.HTTP.MaxBodyBytes < 0 {
		return fmt.Errorf("config: http.max_body_bytes must not be negative")
	}
	if cfg.HTTP.RateLimit < 0 {
		return fmt.Errorf("config: http.rate_limit must not be negative")
	}

	if cfg.Pool.Workers < 1 {
		return fmt.Errorf("config: pool.workers must be at least 1, got %d", cfg.Pool.Workers)
	}
	if cfg.Pool.QueueSize < 0 {
		return fmt.Errorf("config: pool.queue_size must not be negative")
	}

	switch cfg.Security.Provider {
	case security.None:
	case security.AESGCM, security.ChaCha20Poly1305:
		if cfg.Security.KeyFile == "" {
			return fmt.Errorf("config: security provider %q requires key_file", cfg.Security.Provider)
		}
	default:
		return fmt.Errorf("config: unknown security provider %q", cfg.Security.Provider)
	}

	rt := cfg.Runtimes
	if !rt.Docker.CLIEnabled() && !rt.Docker.APIEnabled() && !rt.Podman.CLIEnabled() && !rt.Podman.APIEnabled() {
		return fmt.Errorf("config: every runtime access mode is disabled")
	}
	if rt.CommandTimeout < 0 || rt.StopGrace < 0 {
		return fmt.Errorf("config: runtimes timeouts must not be negative")
	}

	switch cfg.Store.Backend {
	case store.BackendMemory, store.BackendSQLite:
	case store.BackendNATS:
		if !cfg.NATS.Enabled() {
			return fmt.Errorf("config: store backend %q requires nats.url", store.BackendNATS)
		}
	case store.BackendPostgres:
		if cfg.Store.Postgres.URL == "" {
			return fmt.Errorf("config: store backend %q requires store.postgres.url", store.BackendPostgres)
		}
	default:
		return fmt.Errorf("config: unknown store backend %q", cfg.Store.Backend)
	}

	if cfg.NATS.Enabled() {
		if _, err := url.Parse(cfg.NATS.URL); err != nil {
			return fmt.Errorf("config: invalid nats.url: %w", err)
		}
		if _, err := codec.ParseEncoding(cfg.NATS.Encoding); err != nil {
			return fmt.Errorf("config: nats.encoding: %w", err)
		}
	}

	if !cfg.HTTP.IsEnabled() && !cfg.NATS.Enabled() {
		return fmt.Errorf("config: no transport enabled, set nats.url or enable http")
	}

	return nil
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "REDACTED")
	}
	return u.String()
}
