package redis

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/pscheid92/livewatch/internal/adapter/metrics"
	"github.com/pscheid92/livewatch/internal/domain"
)

// Category names change rarely, so the shared layer keeps them for a day.
const categoryCacheTTL = 24 * time.Hour

// CategoryCache resolves category ids through an in-memory layer, an optional
// Redis layer and finally the wrapped resolver. ResolveChannel is passed through
// unchanged.
type CategoryCache struct {
	domain.ChannelResolver

	rdb     goredis.Cmdable
	clock   clockwork.Clock
	mem     *memoryCache
	group   singleflight.Group
	metrics *metrics.CacheMetrics
}

var _ domain.ChannelResolver = (*CategoryCache)(nil)

// NewCategoryCache wraps resolver. rdb and m may be nil; a nil rdb skips the Redis layer.
func NewCategoryCache(clock clockwork.Clock, resolver domain.ChannelResolver, rdb goredis.Cmdable, memTTL time.Duration, m *metrics.CacheMetrics) *CategoryCache {
	return &CategoryCache{
		ChannelResolver: resolver,
		rdb:             rdb,
		clock:           clock,
		mem:             newMemoryCache(clock, memTTL),
		metrics:         m,
	}
}

// StartEvictionTimer runs a periodic goroutine that evicts expired in-memory entries.
// Returns a stop function that should be deferred.
func (c *CategoryCache) StartEvictionTimer(interval time.Duration) func() {
	ticker := c.clock.NewTicker(interval)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-ticker.Chan():
				evicted := c.mem.evictExpired()
				if evicted > 0 {
					if c.metrics != nil {
						c.metrics.Evicted.Add(float64(evicted))
					}
					slog.Debug("Evicted expired category cache entries", "count", evicted, "remaining", c.mem.size())
				}

			case <-done:
				ticker.Stop()
				return
			}
		}
	}()

	return func() {
		close(done)
	}
}

func (c *CategoryCache) ResolveCategory(ctx context.Context, categoryID string) (string, error) {
	// Layer 1: in-memory cache
	if name, ok := c.mem.get(categoryID); ok {
		c.hit("memory")
		return name, nil
	}
	c.miss("memory")

	// Concurrent misses for one id share a single Redis and Helix round trip.
	v, err, _ := c.group.Do(categoryID, func() (any, error) {
		// Layer 2: Redis
		if name, ok := c.getCached(ctx, categoryID); ok {
			c.hit("redis")
			c.mem.set(categoryID, name)
			return name, nil
		}
		if c.rdb != nil {
			c.miss("redis")
		}

		// Layer 3: Helix
		name, err := c.ChannelResolver.ResolveCategory(ctx, categoryID)
		if err != nil {
			return "", err
		}

		c.mem.set(categoryID, name)
		c.writeCache(ctx, categoryID, name)
		return name, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// invalidate drops a category from both cache layers.
func (c *CategoryCache) invalidate(ctx context.Context, categoryID string) error {
	c.mem.invalidate(categoryID)
	if c.rdb == nil {
		return nil
	}
	return c.rdb.Del(ctx, categoryCacheKey(categoryID)).Err()
}

func (c *CategoryCache) getCached(ctx context.Context, categoryID string) (string, bool) {
	if c.rdb == nil {
		return "", false
	}

	name, err := c.rdb.Get(ctx, categoryCacheKey(categoryID)).Result()
	if err != nil {
		if !errors.Is(err, goredis.Nil) {
			slog.Warn("Redis category cache GET failed", "category_id", categoryID, "error", err)
		}
		return "", false
	}
	return name, true
}

func (c *CategoryCache) writeCache(ctx context.Context, categoryID, name string) {
	if c.rdb == nil {
		return
	}
	if err := c.rdb.Set(ctx, categoryCacheKey(categoryID), name, categoryCacheTTL).Err(); err != nil {
		slog.Warn("Failed to populate Redis category cache", "category_id", categoryID, "error", err)
	}
}

func (c *CategoryCache) hit(layer string) {
	if c.metrics != nil {
		c.metrics.Hits.WithLabelValues(layer).Inc()
	}
}

func (c *CategoryCache) miss(layer string) {
	if c.metrics != nil {
		c.metrics.Misses.WithLabelValues(layer).Inc()
	}
}

func categoryCacheKey(categoryID string) string {
	return "category_name:" + categoryID
}

// memoryCache is an in-memory L1 cache with TTL-based expiry.
type memoryCache struct {
	mu      sync.RWMutex
	clock   clockwork.Clock
	entries map[string]memoryCacheEntry
	ttl     time.Duration
}

type memoryCacheEntry struct {
	name      string
	expiresAt time.Time
}

func newMemoryCache(clock clockwork.Clock, ttl time.Duration) *memoryCache {
	return &memoryCache{
		clock:   clock,
		entries: make(map[string]memoryCacheEntry),
		ttl:     ttl,
	}
}

func (c *memoryCache) get(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok || c.clock.Now().After(entry.expiresAt) {
		return "", false
	}
	return entry.name, true
}

func (c *memoryCache) set(key, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = memoryCacheEntry{name: name, expiresAt: c.clock.Now().Add(c.ttl)}
}

func (c *memoryCache) invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

func (c *memoryCache) size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *memoryCache) evictExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	evicted := 0
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
			evicted++
		}
	}
	return evicted
}
