package store

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

type memoryEntry struct {
	value   []byte
	version string
}

// MemoryStore is an in-process VersionedStore used for tests and single-node
// development. Version tokens are opaque uuids, mirroring the ETag semantics
// of the remote blob store it stands in for.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry)}
}

func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return nil, VersionInit, ErrKeyNotFound
	}

	// Copy so callers cannot mutate stored bytes.
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, e.version, nil
}

func (m *MemoryStore) Put(ctx context.Context, key string, value []byte, expectedVersion string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		if expectedVersion != VersionInit {
			return "", ErrVersionConflict
		}
	} else if e.version != expectedVersion {
		return "", ErrVersionConflict
	}

	stored := make([]byte, len(value))
	copy(stored, value)
	version := uuid.NewString()
	m.entries[key] = memoryEntry{value: stored, version: version}
	return version, nil
}
