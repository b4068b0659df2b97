// Package kv abstracts the shared key-value store used for cross-replica
// coordination: the cached upstream credential, the refresh lock, response
// cache entries, rate-limit counters and idempotency markers all live here.
//
// A miss is reported as ErrNotFound; transient connectivity failures surface
// as ordinary errors so callers can distinguish "absent" from "unknown".
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key does not exist in the store.
var ErrNotFound = errors.New("kv: key not found")

// Store is the facade over the remote key-value service.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Set stores value under key. A zero ttl stores without expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// SetNX stores value under key only if the key is absent.
	// Returns true if the value was stored. This is the atomic
	// create-if-absent primitive backing the refresh lock and the
	// idempotency markers.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// IncrWithTTL atomically increments the counter at key and returns the
	// new value. The ttl is applied when the increment creates the key, so
	// the window rolls over implicitly on expiry.
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// TTL returns the remaining lifetime of key, or ErrNotFound.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// Ping checks store connectivity (health check).
	Ping(ctx context.Context) error

	// Close releases the underlying connections.
	Close() error
}
