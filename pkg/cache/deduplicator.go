package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Deduplicator collapses concurrent evaluations of the same key
type Deduplicator[V any] struct {
	group singleflight.Group
	mu    sync.Mutex
	stats DedupStats
}

// DedupStats represents deduplication statistics
type DedupStats struct {
	Requests     int64 `json:"requests"`
	Deduplicated int64 `json:"deduplicated"`
	CacheHits    int64 `json:"cache_hits"`
}

// NewDeduplicator creates a new deduplicator
func NewDeduplicator[V any]() *Deduplicator[V] {
	return &Deduplicator[V]{}
}

// Execute answers key from cache when present, otherwise runs fn once
// across concurrent callers and caches its successful result. A nil cache
// only deduplicates. hit reports a cache answer.
func (d *Deduplicator[V]) Execute(
	ctx context.Context,
	key CacheKey,
	cache *LRUCache[V],
	ttl time.Duration,
	fn func() (V, error),
) (value V, hit bool, err error) {
	if cache != nil {
		if entry, exists := cache.Get(key); exists {
			d.record(false, true)
			return entry.Value, true, nil
		}
	}

	ch := d.group.DoChan(string(key), func() (interface{}, error) {
		v, err := fn()
		if err != nil {
			return nil, err
		}

		// Cache the result
		if cache != nil {
			cache.Set(key, v, ttl)
		}
		return v, nil
	})

	select {
	case <-ctx.Done():
		d.record(false, false)
		return value, false, ctx.Err()
	case res := <-ch:
		d.record(res.Shared, false)
		if res.Err != nil {
			return value, false, res.Err
		}
		return res.Val.(V), false, nil
	}
}

// record updates deduplication statistics
func (d *Deduplicator[V]) record(deduplicated, cacheHit bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stats.Requests++
	if deduplicated {
		d.stats.Deduplicated++
	}
	if cacheHit {
		d.stats.CacheHits++
	}
}

// Stats returns deduplication statistics
func (d *Deduplicator[V]) Stats() DedupStats {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.stats
}

// Reset resets all statistics
func (d *Deduplicator[V]) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stats = DedupStats{}
}

// DedupRate calculates the share of requests served by another caller's call
func (s DedupStats) DedupRate() float64 {
	if s.Requests == 0 {
		return 0.0
	}
	return float64(s.Deduplicated) / float64(s.Requests)
}

// CacheHitRate calculates the share of requests answered from the cache
func (s DedupStats) CacheHitRate() float64 {
	if s.Requests == 0 {
		return 0.0
	}
	return float64(s.CacheHits) / float64(s.Requests)
}
