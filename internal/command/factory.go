package command

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"corral/internal/request"
)

// Builder binds a request to an executable command.
type Builder func(req request.ContainerRequest) Command

// Factory maps dispatch cells to builders. Registration normally happens
// once at startup; lookups are safe for concurrent use.
type Factory struct {
	mu       sync.RWMutex
	builders map[Key]Builder
	logger   *slog.Logger
}

func NewFactory(logger *slog.Logger) *Factory {
	return &Factory{
		builders: make(map[Key]Builder),
		logger:   logger.With("component", "command-factory"),
	}
}

// Register sets the builder for one cell, replacing any previous one.
func (f *Factory) Register(key Key, b Builder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.builders[key] = b
}

// RegisterDriver fills the six operation cells of one runtime/access-mode
// column with commands calling d.
func (f *Factory) RegisterDriver(rt request.Runtime, mode request.AccessMode, d Driver) {
	for _, op := range request.Operations {
		key := Key{Operation: op, Runtime: rt, AccessMode: mode}
		call := operations[op]
		f.Register(key, func(req request.ContainerRequest) Command {
			return &driverCommand{key: key, driver: d, op: call, req: req}
		})
	}
	f.logger.Info("driver registered", "runtime", rt.String(), "access_mode", mode.String())
}

// Create returns the command for req's cell, or ErrUnsupportedCombination.
func (f *Factory) Create(req request.ContainerRequest) (Command, error) {
	key := KeyOf(req)
	f.mu.RLock()
	b, ok := f.builders[key]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCombination, key)
	}
	return b(req), nil
}

// Keys lists the populated cells in operation, runtime, access mode order.
func (f *Factory) Keys() []Key {
	f.mu.RLock()
	keys := make([]Key, 0, len(f.builders))
	for k := range f.builders {
		keys = append(keys, k)
	}
	f.mu.RUnlock()

	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.Operation != b.Operation {
			return a.Operation < b.Operation
		}
		if a.Runtime != b.Runtime {
			return a.Runtime < b.Runtime
		}
		return a.AccessMode < b.AccessMode
	})
	return keys
}
