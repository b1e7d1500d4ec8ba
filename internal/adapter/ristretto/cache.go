// Package ristretto backs the cache port with an in-process ristretto cache.
// It holds recent remote reads (wizard steps, project lookups) so repeated
// requests do not hit the backend.
package ristretto

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// Cache adapts ristretto to the byte-oriented cache port. Entries are costed
// by value length so MaxCost bounds total cached bytes.
type Cache struct {
	inner *ristretto.Cache[string, []byte]
}

// New builds a cache bounded at maxCostBytes of stored values.
func New(maxCostBytes int64) (*Cache, error) {
	inner, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		// Counters track access frequency; ristretto recommends ~10x the
		// expected entry count, estimated here at one entry per 100 bytes.
		NumCounters: maxCostBytes / 100 * 10,
		MaxCost:     maxCostBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Cache{inner: inner}, nil
}

// Get returns the cached value for key, or ok=false on a miss.
func (c *Cache) Get(_ context.Context, key string) (data []byte, ok bool, err error) {
	val, found := c.inner.Get(key)
	if !found {
		return nil, false, nil
	}
	return val, true, nil
}

// Set stores value under key for ttl. Admission is best effort; ristretto may
// reject an entry under memory pressure.
func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.inner.SetWithTTL(key, value, int64(len(value)), ttl)
	return nil
}

// Delete drops key from the cache if present.
func (c *Cache) Delete(_ context.Context, key string) error {
	c.inner.Del(key)
	return nil
}

// Close releases the cache's internal goroutines.
func (c *Cache) Close() {
	c.inner.Close()
}
