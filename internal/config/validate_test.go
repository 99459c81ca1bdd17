package config

import (
	"strings"
	"testing"
)

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "bad listen",
			yaml:    `listen: "5000"`,
			wantErr: "invalid listen address",
		},
		{
			name:    "bad log level",
			yaml:    "log:\n  level: loud",
			wantErr: "log.level",
		},
		{
			name:    "bad log format",
			yaml:    "log:\n  format: xml",
			wantErr: "unknown log.format",
		},
		{
			name:    "bad http encoding",
			yaml:    "http:\n  encoding: msgpack",
			wantErr: "http.encoding",
		},
		{
			name:    "negative workers",
			yaml:    "pool:\n  workers: -1",
			wantErr: "pool.workers",
		},
		{
			name:    "aead without key",
			yaml:    "security:\n  provider: aes-gcm",
			wantErr: "requires key_file",
		},
		{
			name:    "unknown provider",
			yaml:    "security:\n  provider: rot13",
			wantErr: "unknown security provider",
		},
		{
			name: "all modes disabled",
			yaml: `
runtimes:
  docker: {cli: false, api: false}
  podman: {cli: false, api: false}
`,
			wantErr: "every runtime access mode is disabled",
		},
		{
			name:    "nats store without nats",
			yaml:    "store:\n  backend: nats",
			wantErr: "requires nats.url",
		},
		{
			name:    "postgres without url",
			yaml:    "store:\n  backend: postgres",
			wantErr: "requires store.postgres.url",
		},
		{
			name:    "unknown store",
			yaml:    "store:\n  backend: redis",
			wantErr: "unknown store backend",
		},
		{
			name:    "bad nats encoding",
			yaml:    "nats:\n  url: nats://localhost:4222\n  encoding: cbor",
			wantErr: "nats.encoding",
		},
		{
			name:    "no transport",
			yaml:    "http:\n  enabled: false",
			wantErr: "no transport enabled",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml), noEnv)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want substring %q", err.Error(), tt.wantErr)
			}
			if !strings.HasPrefix(err.Error(), "config: ") {
				t.Errorf("error %q should carry the config prefix", err.Error())
			}
		})
	}
}

func TestValidateNATSOnly(t *testing.T) {
	cfg, err := Parse([]byte("http:\n  enabled: false\nnats:\n  url: nats://localhost:4222\n  encoding: protobuf\n"), noEnv)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTP.IsEnabled() || !cfg.NATS.Enabled() {
		t.Errorf("http enabled = %v, nats enabled = %v", cfg.HTTP.IsEnabled(), cfg.NATS.Enabled())
	}
}
