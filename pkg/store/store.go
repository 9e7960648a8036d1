package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key has no live value.
var ErrNotFound = errors.New("store: key not found")

// Store is a small TTL'd key-value and counter store. It replaces the
// process-global maps the system would otherwise accumulate (rate counters,
// dispense frequency histories): single-instance deployments run the in-memory
// implementation, multi-instance deployments point all replicas at redis.
type Store interface {
	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set writes value under key with the given TTL. ttl <= 0 means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Increment adds one to the counter at key, creating it with the given TTL
	// if absent, and returns the new count. The TTL is not extended on
	// subsequent increments, so a counter expires relative to its first hit.
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	Close() error
}
