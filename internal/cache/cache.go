// Package cache defines the key-value store used for active call
// sessions, the user→call index, the distributed end-lock, the
// finalization result cache, and missed-call badge bookkeeping. It is
// the sole cross-process shared state for live calls (spec.md §5).
package cache

import (
	"context"
	"time"
)

// Cache is the minimal key-value contract the call-history core and
// signaling hub need: TTL'd get/set, atomic set-if-absent (for the
// distributed end-lock and dedup gates), and delete.
type Cache interface {
	// Get returns the raw value stored at key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value at key with the given TTL. A zero TTL means no
	// expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// SetNX atomically stores value at key only if key does not already
	// exist, returning true if the write happened. Used for the
	// distributed end-lock and for idempotent dedup gates.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, keys ...string) error

	// CompareAndDelete deletes key only if its current value equals
	// expected, returning true if the delete happened. Used to release
	// the end-lock only if the caller still holds the current token.
	CompareAndDelete(ctx context.Context, key string, expected []byte) (bool, error)

	// Expire refreshes the TTL of an existing key without touching its
	// value. A no-op (returns nil) if the key is absent.
	Expire(ctx context.Context, key string, ttl time.Duration) error
}

// ErrNotFound is returned by Get when key does not exist.
var ErrNotFound = errNotFound{}

type errNotFound struct{}

func (errNotFound) Error() string { return "cache: key not found" }
