package limiter

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

// DefaultMaxKeys bounds the number of tracked buckets
const DefaultMaxKeys = 10000

// RateConfig configures a token bucket per key
type RateConfig struct {
	RPS   float64 `json:"rps"`
	Burst int     `json:"burst"`

	// MaxKeys <= 0 means DefaultMaxKeys; the least recently seen key is
	// evicted beyond it
	MaxKeys int `json:"max_keys"`
}

// Enabled reports whether the configuration limits anything
func (c RateConfig) Enabled() bool {
	return c.RPS > 0
}

// RateLimiter manages rate limiting per key (caller or endpoint). A disabled
// limiter tracks no keys.
type RateLimiter struct {
	config    RateConfig
	limiters  *lru.Cache[string, *rate.Limiter]
	unlimited *rate.Limiter
}

// NewRateLimiter creates a new rate limiter. A non-positive RPS disables
// limiting; a non-positive burst defaults to the integer RPS, minimum 1.
func NewRateLimiter(config RateConfig) *RateLimiter {
	if config.Enabled() && config.Burst <= 0 {
		config.Burst = int(config.RPS)
		if config.Burst < 1 {
			config.Burst = 1
		}
	}
	if config.MaxKeys <= 0 {
		config.MaxKeys = DefaultMaxKeys
	}

	rl := &RateLimiter{
		config:    config,
		unlimited: rate.NewLimiter(rate.Inf, 0),
	}
	if config.Enabled() {
		// lru.New only fails for a non-positive size
		rl.limiters, _ = lru.New[string, *rate.Limiter](config.MaxKeys)
	}
	return rl
}

// Config returns the effective configuration
func (rl *RateLimiter) Config() RateConfig {
	return rl.config
}

// GetLimiter returns or creates the limiter for key. Every key of a disabled
// limiter shares one unlimited bucket.
func (rl *RateLimiter) GetLimiter(key string) *rate.Limiter {
	if rl.limiters == nil {
		return rl.unlimited
	}
	if limiter, ok := rl.limiters.Get(key); ok {
		return limiter
	}

	limiter := rate.NewLimiter(rate.Limit(rl.config.RPS), rl.config.Burst)
	// Another goroutine may have created it
	if prev, ok, _ := rl.limiters.PeekOrAdd(key, limiter); ok {
		return prev
	}
	return limiter
}

// Wait waits for the rate limiter to allow the request
func (rl *RateLimiter) Wait(ctx context.Context, key string) error {
	if !rl.config.Enabled() {
		return nil
	}

	if err := rl.GetLimiter(key).Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait failed: %w", err)
	}

	return nil
}

// Allow checks if the request is allowed without waiting
func (rl *RateLimiter) Allow(key string) bool {
	if !rl.config.Enabled() {
		return true
	}
	return rl.GetLimiter(key).Allow()
}

// RetryAfter estimates how long key must wait for its next token
func (rl *RateLimiter) RetryAfter(key string) time.Duration {
	if !rl.config.Enabled() {
		return 0
	}
	reservation := rl.GetLimiter(key).Reserve()
	defer reservation.Cancel()
	if !reservation.OK() {
		return time.Second
	}
	return reservation.Delay()
}

// GetStats returns rate limiter statistics for key. An untracked key reports
// a full bucket and is not added. A disabled limiter reports a zero limit.
func (rl *RateLimiter) GetStats(key string) map[string]interface{} {
	stats := map[string]interface{}{
		"key":     key,
		"enabled": rl.config.Enabled(),
		"limit":   0.0,
		"burst":   0,
		"tokens":  0.0,
	}
	if !rl.config.Enabled() {
		return stats
	}

	stats["limit"] = rl.config.RPS
	stats["burst"] = rl.config.Burst
	stats["tokens"] = float64(rl.config.Burst)
	if limiter, ok := rl.limiters.Peek(key); ok {
		stats["tokens"] = limiter.Tokens()
	}
	return stats
}

// Len returns the number of tracked keys
func (rl *RateLimiter) Len() int {
	if rl.limiters == nil {
		return 0
	}
	return rl.limiters.Len()
}

// Reset resets the rate limiter for key
func (rl *RateLimiter) Reset(key string) {
	if rl.limiters != nil {
		rl.limiters.Remove(key)
	}
}
