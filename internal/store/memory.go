package store

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
)

// MemoryStore keeps records in a map. Not durable; used in tests and as the
// default when no backend is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) Backend() string { return BackendMemory }

func (s *MemoryStore) Put(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.Key] = clone(rec)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[key]
	if !ok {
		return Record{}, notFound(key)
	}
	return clone(rec), nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[key]; !ok {
		return notFound(key)
	}
	delete(s.records, key)
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]Record, error) {
	s.mu.RLock()
	out := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, clone(rec))
	}
	s.mu.RUnlock()

	sortByUpdated(out)
	return out, nil
}

func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.records)
	return nil
}

func (s *MemoryStore) Close() error { return nil }

func sortByUpdated(recs []Record) {
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].UpdatedAt.After(recs[j].UpdatedAt)
	})
}

// clone copies the mutable collections so callers cannot alias stored state.
func clone(rec Record) Record {
	rec.Request.Environment = maps.Clone(rec.Request.Environment)
	rec.Request.Ports = slices.Clone(rec.Request.Ports)
	rec.Request.Volumes = slices.Clone(rec.Request.Volumes)
	return rec
}
