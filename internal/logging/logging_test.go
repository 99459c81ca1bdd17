package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestNewDefaults(t *testing.T) {
	var buf bytes.Buffer
	l, _, err := New(Config{}, &buf)
	if err != nil {
		t.Fatal(err)
	}
	if !l.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("expected Info enabled by default")
	}
	if l.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("expected Debug disabled by default")
	}

	l.Info("container created", "id", "abc")
	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("default format is not JSON: %v", err)
	}
	if line["msg"] != "container created" || line["id"] != "abc" {
		t.Errorf("line = %v", line)
	}
}

func TestLevelVarAdjustsAtRuntime(t *testing.T) {
	var buf bytes.Buffer
	l, lv, err := New(Config{Level: "warn", Format: "text"}, &buf)
	if err != nil {
		t.Fatal(err)
	}
	l.Info("hidden")
	lv.Set(slog.LevelDebug)
	l.Debug("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	if _, _, err := New(Config{Level: "loud"}, &bytes.Buffer{}); err == nil {
		t.Error("expected error for unknown level")
	}
	if _, _, err := New(Config{Format: "xml"}, &bytes.Buffer{}); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q) = %v, %v", in, got, err)
		}
	}
}

func TestContext(t *testing.T) {
	ctx := context.Background()
	if FromContext(ctx) != slog.Default() {
		t.Error("expected default logger for empty context")
	}
	l := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	if FromContext(WithContext(ctx, l)) != l {
		t.Error("expected attached logger")
	}
}
