package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bytedance/sonic"

	"fleetpulse/internal/domain"
)

// Cache stores query results grouped by the table they were read from.
// Invalidating a table drops every scope cached under it and advances its version.
// Readers capture Version before querying the store and write with SetVersioned,
// so rows read before an invalidation are never cached after it.
type Cache interface {
	Get(ctx context.Context, table domain.Table, scope string, dst any) (bool, error)
	Version(ctx context.Context, table domain.Table) (int64, error)
	Set(ctx context.Context, table domain.Table, scope string, value any) error
	SetVersioned(ctx context.Context, table domain.Table, version int64, scope string, value any) (bool, error)
	Invalidate(ctx context.Context, tables ...domain.Table) error
	Close() error
}

// MemoryCache keeps encoded query results in process memory.
// Params: ttl per entry and injected clock.
// Returns: cache for single-instance mode.
type MemoryCache struct {
	mu       sync.Mutex
	ttl      time.Duration
	now      func() time.Time
	buckets  map[domain.Table]map[string]memoryEntry
	versions map[domain.Table]int64
}

type memoryEntry struct {
	raw       []byte
	expiresAt time.Time
}

// NewMemoryCache creates in-memory cache.
// Params: entry ttl (0 keeps entries until invalidated) and now function.
// Returns: initialized cache.
func NewMemoryCache(ttl time.Duration, now func() time.Time) *MemoryCache {
	if now == nil {
		now = time.Now
	}
	return &MemoryCache{
		ttl:      ttl,
		now:      now,
		buckets:  make(map[domain.Table]map[string]memoryEntry),
		versions: make(map[domain.Table]int64),
	}
}

// Get decodes cached scope into dst.
// Params: table, scope key and destination pointer.
// Returns: hit flag and decode error.
func (c *MemoryCache) Get(_ context.Context, table domain.Table, scope string, dst any) (bool, error) {
	c.mu.Lock()
	entry, ok := c.buckets[table][scope]
	if ok && !entry.expiresAt.IsZero() && !c.now().Before(entry.expiresAt) {
		delete(c.buckets[table], scope)
		ok = false
	}
	c.mu.Unlock()
	if !ok {
		return false, nil
	}
	if err := sonic.Unmarshal(entry.raw, dst); err != nil {
		return false, fmt.Errorf("decode cached %s/%s: %w", table, scope, err)
	}
	return true, nil
}

// Version returns the invalidation counter of table.
func (c *MemoryCache) Version(_ context.Context, table domain.Table) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.versions[table], nil
}

// Set encodes value under table scope at the current version.
func (c *MemoryCache) Set(ctx context.Context, table domain.Table, scope string, value any) error {
	version, _ := c.Version(ctx, table)
	_, err := c.SetVersioned(ctx, table, version, scope, value)
	return err
}

// SetVersioned encodes value under table scope unless table was invalidated after version.
// Params: table, version captured before the store read, scope and value.
// Returns: stored flag and encode error.
func (c *MemoryCache) SetVersioned(_ context.Context, table domain.Table, version int64, scope string, value any) (bool, error) {
	raw, err := sonic.Marshal(value)
	if err != nil {
		return false, fmt.Errorf("encode cached %s/%s: %w", table, scope, err)
	}
	entry := memoryEntry{raw: raw}
	if c.ttl > 0 {
		entry.expiresAt = c.now().Add(c.ttl)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.versions[table] != version {
		return false, nil
	}
	bucket, ok := c.buckets[table]
	if !ok {
		bucket = make(map[string]memoryEntry)
		c.buckets[table] = bucket
	}
	bucket[scope] = entry
	return true, nil
}

// Invalidate drops every scope cached for tables and advances their versions.
// Params: tables to drop.
// Returns: nil; repeated calls leave the cache equally empty.
func (c *MemoryCache) Invalidate(_ context.Context, tables ...domain.Table) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, table := range tables {
		delete(c.buckets, table)
		c.versions[table]++
	}
	return nil
}

// Len returns number of live entries for table.
func (c *MemoryCache) Len(table domain.Table) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buckets[table])
}

// Close releases cache memory.
func (c *MemoryCache) Close() error {
	c.mu.Lock()
	c.buckets = make(map[domain.Table]map[string]memoryEntry)
	c.mu.Unlock()
	return nil
}
