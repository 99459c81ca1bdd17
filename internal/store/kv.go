package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"
)

// DefaultBucket is the JetStream KeyValue bucket used when none is configured.
const DefaultBucket = "CORRAL_CONTAINERS"

// KVStore is the networked cache backend, a JetStream KeyValue bucket shared
// by every process connected to the same NATS cluster.
type KVStore struct {
	kv jetstream.KeyValue
}

// NewKVStore creates or updates the bucket and returns a store over it.
func NewKVStore(ctx context.Context, js jetstream.JetStream, bucket string) (*KVStore, error) {
	if bucket == "" {
		bucket = DefaultBucket
	}
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "Container records keyed by container id or correlation id",
		History:     1,
		Storage:     jetstream.FileStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("provision KV bucket %s: %w", bucket, err)
	}
	return &KVStore{kv: kv}, nil
}

func (s *KVStore) Backend() string { return BackendNATS }

func (s *KVStore) Put(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return storageErr("marshal record", rec.Key, err)
	}
	if _, err := s.kv.Put(ctx, rec.Key, data); err != nil {
		return storageErr("put record", rec.Key, err)
	}
	return nil
}

func (s *KVStore) Get(ctx context.Context, key string) (Record, error) {
	entry, err := s.kv.Get(ctx, key)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return Record{}, notFound(key)
	}
	if err != nil {
		return Record{}, storageErr("get record", key, err)
	}
	var rec Record
	if err := json.Unmarshal(entry.Value(), &rec); err != nil {
		return Record{}, storageErr("decode record", key, err)
	}
	return rec, nil
}

// Delete places a delete marker. A key with no live value is reported as
// not found.
func (s *KVStore) Delete(ctx context.Context, key string) error {
	if _, err := s.kv.Get(ctx, key); err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return notFound(key)
		}
		return storageErr("delete record", key, err)
	}
	if err := s.kv.Delete(ctx, key); err != nil {
		return storageErr("delete record", key, err)
	}
	return nil
}

func (s *KVStore) keys(ctx context.Context) ([]string, error) {
	lister, err := s.kv.ListKeys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, err
	}
	var keys []string
	for k := range lister.Keys() {
		keys = append(keys, k)
	}
	return keys, nil
}

func (s *KVStore) List(ctx context.Context) ([]Record, error) {
	keys, err := s.keys(ctx)
	if err != nil {
		return nil, storageErr("list records", "", err)
	}
	out := make([]Record, 0, len(keys))
	for _, k := range keys {
		rec, err := s.Get(ctx, k)
		if errors.Is(err, ErrNotFound) {
			continue // deleted between list and get
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	sortByUpdated(out)
	return out, nil
}

func (s *KVStore) Clear(ctx context.Context) error {
	keys, err := s.keys(ctx)
	if err != nil {
		return storageErr("clear records", "", err)
	}
	for _, k := range keys {
		if err := s.kv.Purge(ctx, k); err != nil {
			return storageErr("purge record", k, err)
		}
	}
	return nil
}

// Close is a no-op; the NATS connection is owned by the bus client.
func (s *KVStore) Close() error { return nil }
