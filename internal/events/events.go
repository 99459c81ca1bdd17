package events

import (
	"log/slog"
	"sync"
	"time"
)

// Event type constants.
const (
	// CommandCompleted fires after a runtime command ran, successfully or not.
	CommandCompleted = "command.completed"
	// RequestRejected fires when a request fails before reaching a runtime.
	RequestRejected = "request.rejected"
	// RequestTimedOut fires when the caller stopped waiting for a command.
	RequestTimedOut = "request.timeout"
	// StoreFailed fires when a result could not be persisted.
	StoreFailed = "store.failed"
	// ContainerObserved fires for runtime-side container events.
	ContainerObserved = "container.observed"
)

// Event describes one request or container lifecycle occurrence.
type Event struct {
	Type          string            `json:"type"`
	Container     string            `json:"container,omitempty"`
	Operation     string            `json:"operation,omitempty"`
	Runtime       string            `json:"runtime,omitempty"`
	AccessMode    string            `json:"accessMode,omitempty"`
	Code          string            `json:"code,omitempty"`
	CorrelationID string            `json:"correlationId,omitempty"`
	Duration      time.Duration     `json:"duration,omitempty"`
	Timestamp     time.Time         `json:"timestamp"`
	Fields        map[string]string `json:"fields,omitempty"`
}

// Emitter logs events and dispatches them to registered handlers.
type Emitter struct {
	logger   *slog.Logger
	mu       sync.RWMutex
	handlers []func(Event)
}

// NewEmitter creates a new event emitter.
func NewEmitter(logger *slog.Logger) *Emitter {
	return &Emitter{
		logger: logger.With("component", "events"),
	}
}

// Emit logs the event and calls all registered handlers synchronously.
func (e *Emitter) Emit(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	attrs := []any{
		"event", ev.Type,
		"container", ev.Container,
	}
	if ev.Code != "" {
		attrs = append(attrs, "code", ev.Code)
	}
	if ev.CorrelationID != "" {
		attrs = append(attrs, "correlation_id", ev.CorrelationID)
	}
	for k, v := range ev.Fields {
		attrs = append(attrs, k, v)
	}
	e.logger.Debug("event emitted", attrs...)

	e.mu.RLock()
	handlers := e.handlers
	e.mu.RUnlock()

	for _, fn := range handlers {
		if fn != nil {
			fn(ev)
		}
	}
}

// OnEvent registers a handler to be called for every emitted event.
// Returns an ID that can be used with RemoveHandler.
func (e *Emitter) OnEvent(fn func(Event)) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers = append(e.handlers, fn)
	return len(e.handlers) - 1
}

// RemoveHandler removes a handler by its ID.
func (e *Emitter) RemoveHandler(id int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if id >= 0 && id < len(e.handlers) {
		e.handlers[id] = nil
	}
}
