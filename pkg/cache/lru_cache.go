package cache

import (
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// LRUCache implements an LRU cache with optional TTL support
type LRUCache[V any] struct {
	cache    *lru.Cache[CacheKey, *CacheEntry[V]]
	config   *CacheConfig
	stats    *CacheStats
	mu       sync.Mutex
	stopChan chan struct{}
	stopOnce sync.Once

	// set while entries are removed on purpose so they are not counted as evictions
	removing bool
}

// NewLRUCache creates a new LRU cache
func NewLRUCache[V any](config *CacheConfig) (*LRUCache[V], error) {
	if config == nil {
		config = DefaultCacheConfig()
	}

	c := &LRUCache[V]{
		config:   config,
		stats:    &CacheStats{MaxSize: config.MaxSize},
		stopChan: make(chan struct{}),
	}

	cache, err := lru.NewWithEvict[CacheKey, *CacheEntry[V]](config.MaxSize, c.onEvict)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU cache: %w", err)
	}
	c.cache = cache

	// Start cleanup goroutine
	if config.DefaultTTL > 0 && config.CleanupInterval > 0 {
		go c.cleanup()
	}

	return c, nil
}

// onEvict runs synchronously inside cache calls made under c.mu
func (c *LRUCache[V]) onEvict(CacheKey, *CacheEntry[V]) {
	if !c.removing {
		c.stats.Evictions++
	}
}

func (c *LRUCache[V]) remove(key CacheKey) bool {
	c.removing = true
	defer func() { c.removing = false }()
	return c.cache.Remove(key)
}

// Get retrieves a value from the cache
func (c *LRUCache[V]) Get(key CacheKey) (*CacheEntry[V], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.cache.Peek(key)
	if !exists {
		c.stats.Misses++
		return nil, false
	}

	// Check if expired
	if entry.IsExpired() {
		c.remove(key)
		c.stats.Expirations++
		c.stats.Misses++
		return nil, false
	}

	// Update access info and recency
	c.cache.Get(key)
	entry.Touch()
	c.stats.Hits++
	copied := *entry
	return &copied, true
}

// Set stores a value in the cache
func (c *LRUCache[V]) Set(key CacheKey, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Use default TTL if not specified
	if ttl <= 0 {
		ttl = c.config.DefaultTTL
	}

	now := time.Now()
	entry := &CacheEntry[V]{
		Value:        value,
		CreatedAt:    now,
		LastAccessed: now,
	}
	if ttl > 0 {
		entry.ExpiresAt = now.Add(ttl)
	}

	c.cache.Add(key, entry)
	c.stats.Size = c.cache.Len()
}

// Delete removes a value from the cache
func (c *LRUCache[V]) Delete(key CacheKey) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.remove(key)
	c.stats.Size = c.cache.Len()
}

// Clear removes all values from the cache
func (c *LRUCache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.removing = true
	c.cache.Purge()
	c.removing = false
	c.stats.Size = 0
}

// Stats returns cache statistics
func (c *LRUCache[V]) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := *c.stats
	stats.Size = c.cache.Len()
	stats.CalculateHitRate()
	return stats
}

// Reset resets cache statistics
func (c *LRUCache[V]) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stats = &CacheStats{MaxSize: c.config.MaxSize}
}

// Close stops the cache and cleans up resources
func (c *LRUCache[V]) Close() {
	c.stopOnce.Do(func() { close(c.stopChan) })
}

// cleanup periodically removes expired entries
func (c *LRUCache[V]) cleanup() {
	ticker := time.NewTicker(c.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cleanupExpired()
		case <-c.stopChan:
			return
		}
	}
}

// cleanupExpired removes expired entries
func (c *LRUCache[V]) cleanupExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiredCount := 0
	for _, key := range c.cache.Keys() {
		if entry, exists := c.cache.Peek(key); exists && entry.IsExpired() {
			c.remove(key)
			expiredCount++
		}
	}

	if expiredCount > 0 {
		c.stats.Expirations += int64(expiredCount)
		c.stats.Size = c.cache.Len()
	}
}

// Keys returns all cache keys, oldest first
func (c *LRUCache[V]) Keys() []CacheKey {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.cache.Keys()
}

// Len returns the number of items in the cache
func (c *LRUCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.cache.Len()
}
