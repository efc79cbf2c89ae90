package cache

import (
	"context"
	"fmt"
)

// CacheManager manages caching and deduplication of evaluations
type CacheManager[V any] struct {
	cache        *LRUCache[V]
	deduplicator *Deduplicator[V]
	config       *CacheConfig
}

// NewCacheManager creates a new cache manager
func NewCacheManager[V any](config *CacheConfig) (*CacheManager[V], error) {
	if config == nil {
		config = DefaultCacheConfig()
	}

	cache, err := NewLRUCache[V](config)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}

	return &CacheManager[V]{
		cache:        cache,
		deduplicator: NewDeduplicator[V](),
		config:       config,
	}, nil
}

// Evaluate returns the cached value for model and inputs, or computes it
// once across concurrent callers
func (cm *CacheManager[V]) Evaluate(
	ctx context.Context,
	model string,
	inputs map[string]float64,
	fn func() (V, error),
) (V, bool, error) {
	return cm.deduplicator.Execute(ctx, GenerateKey(model, inputs), cm.cache, cm.config.DefaultTTL, fn)
}

// Get retrieves a value from the cache
func (cm *CacheManager[V]) Get(model string, inputs map[string]float64) (V, bool) {
	var zero V
	entry, ok := cm.cache.Get(GenerateKey(model, inputs))
	if !ok {
		return zero, false
	}
	return entry.Value, true
}

// Set stores a value in the cache
func (cm *CacheManager[V]) Set(model string, inputs map[string]float64, value V) {
	cm.cache.Set(GenerateKey(model, inputs), value, cm.config.DefaultTTL)
}

// Clear removes all values from the cache
func (cm *CacheManager[V]) Clear() {
	cm.cache.Clear()
	cm.deduplicator.Reset()
}

// ManagerStats combines cache and deduplication statistics
type ManagerStats struct {
	Cache         CacheStats `json:"cache"`
	Deduplication DedupStats `json:"deduplication"`
	DedupRate     float64    `json:"dedup_rate"`
}

// Stats returns comprehensive cache statistics
func (cm *CacheManager[V]) Stats() ManagerStats {
	dedup := cm.deduplicator.Stats()
	return ManagerStats{
		Cache:         cm.cache.Stats(),
		Deduplication: dedup,
		DedupRate:     dedup.DedupRate(),
	}
}

// Len returns the current cache size
func (cm *CacheManager[V]) Len() int {
	return cm.cache.Len()
}

// Close closes the cache manager and cleans up resources
func (cm *CacheManager[V]) Close() {
	cm.cache.Close()
}
