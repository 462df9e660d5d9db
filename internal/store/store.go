// Package store provides the versioned key/value blob store that every
// marketplace document lives in. Conditional writes are the only mutation
// primitive: a put succeeds only if the caller's version token still matches
// the stored one. There is no locking and no queuing anywhere above this.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

var (
	// ErrVersionConflict means another writer committed between the caller's
	// read and its put. Re-read and retry.
	ErrVersionConflict = errors.New("version conflict")

	// ErrKeyNotFound is returned by Get for a key that was never written.
	ErrKeyNotFound = errors.New("key not found")

	// ErrContention is surfaced after a bounded retry loop keeps losing the
	// conditional-write race. Safe to retry the whole operation after backoff.
	ErrContention = errors.New("storage contention")

	// ErrNoChange may be returned from an Update mutator to signal that the
	// document is already in the desired state and no write should happen.
	ErrNoChange = errors.New("no change")
)

// VersionInit is the expected version for creating a key that must not
// already exist.
const VersionInit = ""

// VersionedStore is the sole concurrency primitive of the marketplace.
// Implementations must guarantee a strict serial order of writes per key.
type VersionedStore interface {
	// Get returns the stored value and its current version token.
	Get(ctx context.Context, key string) (value []byte, version string, err error)

	// Put writes value only if expectedVersion matches the stored token
	// (VersionInit to create). Returns the new version token on success and
	// ErrVersionConflict if another writer won the race.
	Put(ctx context.Context, key string, value []byte, expectedVersion string) (string, error)
}

// DefaultAttempts bounds the read-mutate-put retry loop.
const DefaultAttempts = 5

// Update runs the only mutation discipline this subsystem permits:
// read current version -> decode -> mutate -> conditional write -> retry
// from the read on conflict. A missing document decodes as the zero value
// of T, so mutators can create documents on first write.
//
// The mutator may return ErrNoChange to commit nothing (idempotent no-op);
// any other mutator error aborts immediately without retrying. After
// attempts conflicts the loop gives up with ErrContention.
func Update[T any](ctx context.Context, s VersionedStore, key string, attempts int, mutate func(*T) error) (*T, string, error) {
	if attempts <= 0 {
		attempts = DefaultAttempts
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		raw, version, err := s.Get(ctx, key)
		if err != nil && !errors.Is(err, ErrKeyNotFound) {
			return nil, "", err
		}

		doc := new(T)
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, doc); err != nil {
				return nil, "", fmt.Errorf("decode %s: %w", key, err)
			}
		}

		if err := mutate(doc); err != nil {
			if errors.Is(err, ErrNoChange) {
				return doc, version, nil
			}
			return nil, "", err
		}

		out, err := json.Marshal(doc)
		if err != nil {
			return nil, "", fmt.Errorf("encode %s: %w", key, err)
		}

		newVersion, err := s.Put(ctx, key, out, version)
		if err == nil {
			return doc, newVersion, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return nil, "", err
		}

		select {
		case <-ctx.Done():
			return nil, "", ctx.Err()
		case <-time.After(backoff(attempt)):
		}
	}

	return nil, "", fmt.Errorf("%w: %s after %d attempts", ErrContention, key, attempts)
}

// Read fetches and decodes a document. A missing key yields the zero value
// of T with version VersionInit, which mirrors how Update treats creation.
func Read[T any](ctx context.Context, s VersionedStore, key string) (*T, string, error) {
	raw, version, err := s.Get(ctx, key)
	if errors.Is(err, ErrKeyNotFound) {
		return new(T), VersionInit, nil
	}
	if err != nil {
		return nil, "", err
	}
	doc := new(T)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, doc); err != nil {
			return nil, "", fmt.Errorf("decode %s: %w", key, err)
		}
	}
	return doc, version, nil
}

// backoff returns a jittered delay growing with the attempt number.
// Attempt 1 waits 25-50ms, attempt 4 waits 100-200ms.
func backoff(attempt int) time.Duration {
	base := 25 * time.Millisecond * time.Duration(attempt)
	return base + time.Duration(rand.Int63n(int64(base)))
}
