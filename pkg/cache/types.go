package cache

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"time"
)

// CacheKey represents a cache key
type CacheKey string

// CacheEntry represents a cached evaluation result
type CacheEntry[V any] struct {
	Value        V         `json:"value"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"` // zero means never
	AccessCount  int       `json:"access_count"`
	LastAccessed time.Time `json:"last_accessed"`
}

// IsExpired checks if the cache entry is expired
func (e *CacheEntry[V]) IsExpired() bool {
	return !e.ExpiresAt.IsZero() && time.Now().After(e.ExpiresAt)
}

// Touch updates the access time and count
func (e *CacheEntry[V]) Touch() {
	e.LastAccessed = time.Now()
	e.AccessCount++
}

// CacheConfig holds cache configuration
type CacheConfig struct {
	MaxSize         int           `json:"max_size"`         // Maximum number of entries
	DefaultTTL      time.Duration `json:"default_ttl"`      // Zero keeps entries until evicted
	CleanupInterval time.Duration `json:"cleanup_interval"` // How often to clean expired entries
}

// DefaultCacheConfig returns a default cache configuration. Evaluations are
// pure, so entries only leave the cache by eviction.
func DefaultCacheConfig() *CacheConfig {
	return &CacheConfig{
		MaxSize:         4096,
		DefaultTTL:      0,
		CleanupInterval: time.Minute,
	}
}

// GenerateKey derives a key from a model name and an input vector. Inputs are
// hashed in name order by their exact bit patterns, so map iteration order
// never changes the key.
func GenerateKey(model string, inputs map[string]float64) CacheKey {
	names := make([]string, 0, len(inputs))
	for name := range inputs {
		names = append(names, name)
	}
	sort.Strings(names)

	h := sha256.New()
	h.Write([]byte(model))
	h.Write([]byte{0})

	var buf [8]byte
	for _, name := range names {
		h.Write([]byte(name))
		h.Write([]byte{0})
		binary.BigEndian.PutUint64(buf[:], math.Float64bits(inputs[name]))
		h.Write(buf[:])
	}
	return CacheKey(fmt.Sprintf("%x", h.Sum(nil)))
}

// CacheStats represents cache statistics
type CacheStats struct {
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	Size        int     `json:"size"`
	MaxSize     int     `json:"max_size"`
	HitRate     float64 `json:"hit_rate"`
	Evictions   int64   `json:"evictions"`
	Expirations int64   `json:"expirations"`
}

// CalculateHitRate calculates the hit rate
func (s *CacheStats) CalculateHitRate() {
	total := s.Hits + s.Misses
	if total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	} else {
		s.HitRate = 0.0
	}
}
