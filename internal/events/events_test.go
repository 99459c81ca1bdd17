package events

import (
	"log/slog"
	"os"
	"testing"
	"time"
)

func testEmitter() *Emitter {
	return NewEmitter(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))
}

func TestEmitCallsAllHandlers(t *testing.T) {
	e := testEmitter()
	var calls [2]int
	e.OnEvent(func(Event) { calls[0]++ })
	e.OnEvent(func(Event) { calls[1]++ })
	e.Emit(Event{Type: CommandCompleted, Container: "web1"})
	if calls[0] != 1 || calls[1] != 1 {
		t.Errorf("expected both handlers called once, got %v", calls)
	}
}

func TestEmitPreservesFields(t *testing.T) {
	e := testEmitter()
	var got Event
	e.OnEvent(func(ev Event) { got = ev })
	e.Emit(Event{
		Type:       CommandCompleted,
		Container:  "web1",
		Operation:  "Create",
		Runtime:    "Docker",
		AccessMode: "API",
		Code:       "None",
		Duration:   150 * time.Millisecond,
		Fields:     map[string]string{"image": "nginx"},
	})
	if got.Type != CommandCompleted || got.Container != "web1" || got.Operation != "Create" {
		t.Errorf("unexpected event: %+v", got)
	}
	if got.Duration != 150*time.Millisecond {
		t.Errorf("duration = %s", got.Duration)
	}
	if got.Fields["image"] != "nginx" {
		t.Errorf("fields mismatch: %v", got.Fields)
	}
	if got.Timestamp.IsZero() {
		t.Error("timestamp should be set")
	}
}

func TestRemoveHandler(t *testing.T) {
	e := testEmitter()
	var calls int
	id := e.OnEvent(func(Event) { calls++ })
	e.Emit(Event{Type: StoreFailed})
	e.RemoveHandler(id)
	e.Emit(Event{Type: StoreFailed})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	e.RemoveHandler(42) // out of range is ignored
}

func TestEmitNoHandlersNoPanic(t *testing.T) {
	e := testEmitter()
	e.Emit(Event{Type: RequestRejected})
}
