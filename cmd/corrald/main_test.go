package main

import (
	"bytes"
	"log/slog"
	"os"
	"strings"
	"testing"

	"corral/internal/command"
	"corral/internal/config"
	"corral/internal/request"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func mustParse(t *testing.T, yaml string) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(yaml), func(string) string { return "" })
	if err != nil {
		t.Fatal(err)
	}
	return cfg
}

func TestRegisterDriversAllCells(t *testing.T) {
	cfg := mustParse(t, `
runtimes:
  docker: {host: "unix:///tmp/corral-test-docker.sock"}
  podman: {host: "unix:///tmp/corral-test-podman.sock"}
`)
	f := command.NewFactory(testLogger())
	clients, err := registerDrivers(f, cfg.Runtimes, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer closeClients(clients, testLogger())

	if n := len(f.Keys()); n != 24 {
		t.Errorf("cells = %d, want 24", n)
	}
	if len(clients) != 2 {
		t.Errorf("clients = %d, want 2", len(clients))
	}
}

func TestRegisterDriversDisabledColumn(t *testing.T) {
	cfg := mustParse(t, `
runtimes:
  docker: {api: false}
  podman: {cli: false, host: "unix:///tmp/corral-test-podman.sock"}
`)
	f := command.NewFactory(testLogger())
	clients, err := registerDrivers(f, cfg.Runtimes, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer closeClients(clients, testLogger())

	if n := len(f.Keys()); n != 12 {
		t.Errorf("cells = %d, want 12", n)
	}
	if _, ok := clients[request.Docker]; ok {
		t.Error("docker api client should not be created")
	}
	_, err = f.Create(request.ContainerRequest{Operation: request.Start, Runtime: request.Docker, AccessMode: request.API})
	if err == nil {
		t.Error("disabled docker api column should be unsupported")
	}
}

func TestReloadConfigLevelAndWarnings(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	level := new(slog.LevelVar)

	old := mustParse(t, "log:\n  level: info\n")
	next := mustParse(t, "log:\n  level: debug\nlisten: \"127.0.0.1:6000\"\npool:\n  workers: 9\n")

	reloadConfig(logger, level, old, next)

	if level.Level() != slog.LevelDebug {
		t.Errorf("level = %s, want DEBUG", level.Level())
	}
	out := buf.String()
	for _, field := range []string{`"field":"listen"`, `"field":"pool"`} {
		if !strings.Contains(out, field) {
			t.Errorf("expected restart warning for %s in %s", field, out)
		}
	}
	if strings.Contains(out, `"field":"store"`) {
		t.Error("unchanged store should not warn")
	}
}
