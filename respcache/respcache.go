// Package respcache is a read-through, single-flight,
// stale-while-revalidate cache for PG query results, wrapping
// github.com/mevdschee/tqmemory the same way the teacher's cache
// package wraps it for proxied query results (cache/cache.go in
// tqdbproxy: tqmemory.ShardedCache plus a sync.Map of in-flight
// "flight" entries for cold-cache single-flight).
//
// This is the "collaborator" cache layer spec.md's PG driver leaves
// out of scope; cmd/chopin's example handlers use it to avoid hitting
// PG on every request for read-mostly routes.
package respcache

import (
	"sync"
	"time"

	"github.com/mevdschee/tqmemory/pkg/tqmemory"
)

// Freshness flags returned by Get, mirroring tqmemory's own flag
// values so callers can tell a stale-but-served hit from a fresh one.
const (
	FlagFresh   = 0 // value is fresh
	FlagStale   = 1 // value is stale; another goroutine is already refreshing it
	FlagRefresh = 3 // value is stale and this caller should refresh it
)

// Cache wraps a sharded tqmemory store for caching encoded PG query
// results, with single-flight protection against thundering-herd
// refills on a cold key.
type Cache struct {
	store    *tqmemory.ShardedCache
	inflight sync.Map // key -> *flight
}

type flight struct {
	done  chan struct{}
	value []byte
}

// Config configures the underlying tqmemory store.
type Config struct {
	MaxMemory       int64   // maximum memory in bytes
	Workers         int     // number of tqmemory shard workers
	StaleMultiplier float64 // hard expiry = TTL * StaleMultiplier
}

// DefaultConfig returns sensible defaults: 64 MiB, 4 shard workers, and
// a 2x stale window, matching the teacher's DefaultCacheConfig.
func DefaultConfig() Config {
	return Config{
		MaxMemory:       64 * 1024 * 1024,
		Workers:         4,
		StaleMultiplier: 2.0,
	}
}

// New creates a Cache from cfg.
func New(cfg Config) (*Cache, error) {
	tqcfg := tqmemory.DefaultConfig()
	tqcfg.MaxMemory = cfg.MaxMemory
	tqcfg.StaleMultiplier = cfg.StaleMultiplier

	store, err := tqmemory.NewSharded(tqcfg, cfg.Workers)
	if err != nil {
		return nil, err
	}
	return &Cache{store: store}, nil
}

// Get retrieves a cached value by key. flags is one of the Flag*
// constants above; ok is false on a cold miss.
func (c *Cache) Get(key string) (value []byte, flags int, ok bool) {
	value, _, flags, err := c.store.Get(key)
	if err != nil || value == nil {
		return nil, 0, false
	}
	return value, flags, true
}

// GetOrWait implements the cold-cache single-flight pattern: the first
// caller for a cold key gets (nil, 0, false, false) and is expected to
// fetch from PG and call SetAndNotify; every concurrent caller for the
// same key blocks until that fetch completes and then re-reads the
// cache (waited=true).
func (c *Cache) GetOrWait(key string) (value []byte, flags int, ok bool, waited bool) {
	if value, flags, ok := c.Get(key); ok {
		return value, flags, true, false
	}

	f := &flight{done: make(chan struct{})}
	if existing, loaded := c.inflight.LoadOrStore(key, f); loaded {
		<-existing.(*flight).done
		if value, flags, ok := c.Get(key); ok {
			return value, flags, true, true
		}
		return nil, 0, false, true
	}
	return nil, 0, false, false
}

// SetAndNotify stores value under key with the given TTL and wakes up
// any goroutines blocked in GetOrWait for the same key. Call this after
// GetOrWait returns (_, _, false, false).
func (c *Cache) SetAndNotify(key string, value []byte, ttl time.Duration) {
	if ttl > 0 {
		c.store.Set(key, value, ttl)
	}
	if f, ok := c.inflight.LoadAndDelete(key); ok {
		close(f.(*flight).done)
	}
}

// CancelInflight wakes up waiters for key without populating the
// cache, for use when the fetch that was supposed to populate it
// failed.
func (c *Cache) CancelInflight(key string) {
	if f, ok := c.inflight.LoadAndDelete(key); ok {
		close(f.(*flight).done)
	}
}

// Set stores value under key unconditionally, bypassing single-flight
// bookkeeping (used for cache priming/invalidation paths).
func (c *Cache) Set(key string, value []byte, ttl time.Duration) {
	c.store.Set(key, value, ttl)
}

// Delete removes key from the cache.
func (c *Cache) Delete(key string) {
	c.store.Delete(key)
}

// Close releases the underlying store's resources.
func (c *Cache) Close() error {
	return c.store.Close()
}
