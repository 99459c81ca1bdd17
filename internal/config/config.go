package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"corral/internal/bus"
	"corral/internal/logging"
	"corral/internal/pool"
	"corral/internal/security"
	"corral/internal/store"
)

type Config struct {
	Listen         string          `yaml:"listen"`
	AdminToken     string          `yaml:"admin_token"`
	RequestTimeout time.Duration   `yaml:"request_timeout"`
	Log            logging.Config  `yaml:"log"`
	HTTP           HTTP            `yaml:"http"`
	Pool           pool.Config     `yaml:"pool"`
	Security       security.Config `yaml:"security"`
	Runtimes       Runtimes        `yaml:"runtimes"`
	Store          store.Config    `yaml:"store"`
	NATS           bus.Config      `yaml:"nats"`
}

// HTTP configures the /execute transport.
type HTTP struct {
	Enabled      *bool   `yaml:"enabled"`
	Encoding     string  `yaml:"encoding"`
	MaxBodyBytes int64   `yaml:"max_body_bytes"`
	RateLimit    float64 `yaml:"rate_limit"` // requests per second, 0 disables
	Burst        int     `yaml:"burst"`
}

type Runtimes struct {
	Docker         Runtime       `yaml:"docker"`
	Podman         Runtime       `yaml:"podman"`
	CommandTimeout time.Duration `yaml:"command_timeout"`
	StopGrace      time.Duration `yaml:"stop_grace"`
	Watch          bool          `yaml:"watch"`
}

// Runtime toggles the access modes of one container engine. CLI and API
// default to enabled when omitted.
type Runtime struct {
	Binary string `yaml:"binary"`
	Host   string `yaml:"host"`
	CLI    *bool  `yaml:"cli"`
	API    *bool  `yaml:"api"`
}

func (r Runtime) CLIEnabled() bool { return r.CLI == nil || *r.CLI }
func (r Runtime) APIEnabled() bool { return r.API == nil || *r.API }

func (h HTTP) IsEnabled() bool { return h.Enabled == nil || *h.Enabled }

// Load reads the file at path and applies defaults, CORRAL_* environment
// overrides and validation.
func Load(path string) (*Config, error) {
	return LoadWithEnv(path, os.Getenv)
}

// LoadWithEnv is Load with an injectable environment lookup.
func LoadWithEnv(path string, getenv func(string) string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data, getenv)
}

// Parse builds a Config from YAML bytes.
func Parse(data []byte, getenv func(string) string) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}

	applyDefaults(cfg)

	if getenv != nil {
		if err := applyEnv(cfg, getenv); err != nil {
			return nil, err
		}
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Listen == "" {
		cfg.Listen = "0.0.0.0:5000"
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}

	if cfg.HTTP.Encoding == "" {
		cfg.HTTP.Encoding = "json"
	}
	if cfg.HTTP.MaxBodyBytes == 0 {
		cfg.HTTP.MaxBodyBytes = 1 << 20
	}
	if cfg.HTTP.RateLimit > 0 && cfg.HTTP.Burst == 0 {
		cfg.HTTP.Burst = int(cfg.HTTP.RateLimit) + 1
	}

	if cfg.Pool.Workers == 0 {
		cfg.Pool.Workers = pool.DefaultWorkers
	}
	if cfg.Pool.QueueSize == 0 {
		cfg.Pool.QueueSize = pool.DefaultQueueSize
	}

	if cfg.Security.Provider == "" {
		cfg.Security.Provider = security.None
	}

	if cfg.Runtimes.Docker.Binary == "" {
		cfg.Runtimes.Docker.Binary = "docker"
	}
	if cfg.Runtimes.Podman.Binary == "" {
		cfg.Runtimes.Podman.Binary = "podman"
	}
	if cfg.Runtimes.CommandTimeout == 0 {
		cfg.Runtimes.CommandTimeout = 2 * time.Minute
	}
	if cfg.Runtimes.StopGrace == 0 {
		cfg.Runtimes.StopGrace = 10 * time.Second
	}

	if cfg.Store.Backend == "" {
		cfg.Store.Backend = store.BackendMemory
	}
	if cfg.Store.Timeout == 0 {
		cfg.Store.Timeout = 5 * time.Second
	}
	if cfg.Store.SQLite.Path == "" {
		cfg.Store.SQLite.Path = "corral.db"
	}
	if cfg.Store.NATS.Bucket == "" {
		cfg.Store.NATS.Bucket = "CORRAL_CONTAINERS"
	}

	// nats stays disabled without a URL; the remaining fields only
	// matter once one is set.
	d := bus.DefaultConfig()
	n := &cfg.NATS
	if n.ConnectTimeout == 0 {
		n.ConnectTimeout = d.ConnectTimeout
	}
	if n.ReconnectWait == 0 {
		n.ReconnectWait = d.ReconnectWait
	}
	if n.MaxReconnects == 0 {
		n.MaxReconnects = d.MaxReconnects
	}
	if n.RequestSubject == "" {
		n.RequestSubject = d.RequestSubject
	}
	if n.QueueGroup == "" {
		n.QueueGroup = d.QueueGroup
	}
	if n.Encoding == "" {
		n.Encoding = d.Encoding
	}
}

// applyEnv overlays CORRAL_* variables onto cfg.
func applyEnv(cfg *Config, getenv func(string) string) error {
	str := map[string]*string{
		"CORRAL_LISTEN":           &cfg.Listen,
		"CORRAL_ADMIN_TOKEN":      &cfg.AdminToken,
		"CORRAL_LOG_LEVEL":        &cfg.Log.Level,
		"CORRAL_LOG_FORMAT":       &cfg.Log.Format,
		"CORRAL_HTTP_ENCODING":    &cfg.HTTP.Encoding,
		"CORRAL_SECURITY":         &cfg.Security.Provider,
		"CORRAL_KEY_FILE":         &cfg.Security.KeyFile,
		"CORRAL_DOCKER_HOST":      &cfg.Runtimes.Docker.Host,
		"CORRAL_PODMAN_HOST":      &cfg.Runtimes.Podman.Host,
		"CORRAL_STORE":            &cfg.Store.Backend,
		"CORRAL_SQLITE_PATH":      &cfg.Store.SQLite.Path,
		"CORRAL_POSTGRES_URL":     &cfg.Store.Postgres.URL,
		"CORRAL_NATS_URL":         &cfg.NATS.URL,
		"CORRAL_NATS_TOKEN":       &cfg.NATS.Token,
		"CORRAL_NATS_ENCODING":    &cfg.NATS.Encoding,
		"CORRAL_NATS_SUBJECT":     &cfg.NATS.RequestSubject,
		"CORRAL_NATS_QUEUE_GROUP": &cfg.NATS.QueueGroup,
	}
	for name, dst := range str {
		if v := getenv(name); v != "" {
			*dst = v
		}
	}

	// *_FILE variants read the value from a mounted secret.
	files := map[string]*string{
		"CORRAL_ADMIN_TOKEN_FILE":  &cfg.AdminToken,
		"CORRAL_NATS_TOKEN_FILE":   &cfg.NATS.Token,
		"CORRAL_POSTGRES_URL_FILE": &cfg.Store.Postgres.URL,
	}
	for name, dst := range files {
		path := getenv(name)
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("config: %s: %w", name, err)
		}
		*dst = strings.TrimSpace(string(data))
	}

	if v := getenv("CORRAL_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: CORRAL_WORKERS: %w", err)
		}
		cfg.Pool.Workers = n
	}
	if v := getenv("CORRAL_REQUEST_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: CORRAL_REQUEST_TIMEOUT: %w", err)
		}
		cfg.RequestTimeout = d
	}
	if v := getenv("CORRAL_CLEAR_ON_START"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: CORRAL_CLEAR_ON_START: %w", err)
		}
		cfg.Store.ClearOnStart = b
	}
	return nil
}

// Redacted returns a copy safe to log.
func (c Config) Redacted() Config {
	if c.AdminToken != "" {
		c.AdminToken = "REDACTED"
	}
	if c.NATS.Token != "" {
		c.NATS.Token = "REDACTED"
	}
	if c.Store.Postgres.URL != "" {
		c.Store.Postgres.URL = redactURL(c.Store.Postgres.URL)
	}
	return c
}
