package service

import (
	"context"
	"errors"

	"corral/internal/events"
	"corral/internal/request"
	"corral/internal/store"
)

// Lookup returns the stored record for key, bounded by the store timeout.
func (h *Handler) Lookup(ctx context.Context, key string) (store.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, h.storeTimeout)
	defer cancel()
	return h.store.Get(ctx, key)
}

// Records returns every stored record, most recently updated first.
func (h *Handler) Records(ctx context.Context) ([]store.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, h.storeTimeout)
	defer cancel()
	return h.store.List(ctx)
}

var observedStates = map[string]store.State{
	"start":   store.StateRunning,
	"die":     store.StateStopped,
	"destroy": store.StateRemoved,
}

// Observe folds a runtime-side container event into the stored record for
// that container, so changes made outside the service show up in lookups.
// Containers without a record are ignored.
func (h *Handler) Observe(rt request.Runtime, containerID, name, action string) {
	h.emitter.Emit(events.Event{
		Type:      events.ContainerObserved,
		Container: containerID,
		Runtime:   rt.String(),
		Fields:    map[string]string{"action": action, "name": name},
	})

	state, ok := observedStates[action]
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), h.storeTimeout)
	defer cancel()

	rec, err := h.store.Get(ctx, containerID)
	if errors.Is(err, store.ErrNotFound) {
		return
	}
	if err != nil {
		h.logger.Warn("lookup observed container failed", "container_id", containerID, "error", err)
		return
	}
	if rec.State == state || rec.Request.Runtime != rt {
		return
	}
	rec.State = state
	rec.UpdatedAt = h.now().UTC()
	if err := h.store.Put(ctx, rec); err != nil {
		h.logger.Warn("update observed container failed", "container_id", containerID, "error", err)
		return
	}
	h.logger.Info("container state changed outside service", "container_id", containerID, "name", name, "state", string(state))
}
