// Package cache defines the port interface for short-lived key-value caching,
// used to soften read traffic against the remote backend.
package cache

import (
	"context"
	"time"
)

// Cache stores opaque byte values under string keys with a per-entry TTL.
// Get reports a miss with the bool rather than an error; errors are reserved
// for cache backend failures.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
