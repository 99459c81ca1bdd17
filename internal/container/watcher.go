package container

import (
	"context"
	"log/slog"
	"time"

	"github.com/docker/docker/api/types/events"
	"github.com/docker/docker/api/types/filters"

	"corral/internal/request"
)

// EventHandler is called for every container lifecycle event observed on a
// runtime, including changes made outside this service.
type EventHandler func(rt request.Runtime, containerID, name, action string)

// Watcher follows a runtime's event stream and reports container start,
// die and destroy events.
type Watcher struct {
	runtime request.Runtime
	api     ContainerAPI
	handler EventHandler
	retry   time.Duration
	logger  *slog.Logger
}

// NewWatcher creates a watcher for one runtime's API endpoint.
func NewWatcher(rt request.Runtime, api ContainerAPI, handler EventHandler, logger *slog.Logger) *Watcher {
	return &Watcher{
		runtime: rt,
		api:     api,
		handler: handler,
		retry:   5 * time.Second,
		logger:  logger.With("component", "runtime-watcher", "runtime", rt.String()),
	}
}

// Watch blocks until ctx is cancelled, resubscribing after stream errors.
func (w *Watcher) Watch(ctx context.Context) {
	w.logger.Info("watching runtime events")
	for {
		err := w.watchOnce(ctx)
		if ctx.Err() != nil {
			w.logger.Info("runtime watcher stopped")
			return
		}
		w.logger.Warn("runtime event stream ended, resubscribing", "error", err, "retry_in", w.retry)
		select {
		case <-ctx.Done():
			return
		case <-time.After(w.retry):
		}
	}
}

func (w *Watcher) watchOnce(ctx context.Context) error {
	f := filters.NewArgs()
	f.Add("type", string(events.ContainerEventType))
	f.Add("event", string(events.ActionStart))
	f.Add("event", string(events.ActionDie))
	f.Add("event", string(events.ActionDestroy))

	msgCh, errCh := w.api.Events(ctx, events.ListOptions{Filters: f})
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errCh:
			return err
		case msg := <-msgCh:
			w.handleEvent(msg)
		}
	}
}

func (w *Watcher) handleEvent(msg events.Message) {
	if msg.Type != events.ContainerEventType {
		return
	}
	switch msg.Action {
	case events.ActionStart, events.ActionDie, events.ActionDestroy:
	default:
		return
	}
	name := msg.Actor.Attributes["name"]
	w.logger.Debug("container event", "action", msg.Action, "container", name, "id", shortID(msg.Actor.ID))
	w.handler(w.runtime, msg.Actor.ID, name, string(msg.Action))
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
