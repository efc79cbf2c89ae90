package limiter

import (
	"context"
	"fmt"
)

// ProtectionConfig configures a ProtectionManager
type ProtectionConfig struct {
	Rate          RateConfig
	Retry         *RetryConfig
	OnStateChange StateChangeFunc
}

// ProtectionManager integrates rate limiting, retries, and circuit breaker
// in front of calls to remote evaluators
type ProtectionManager struct {
	rateLimiter    *RateLimiter
	retryManager   *RetryManager
	circuitBreaker *CircuitBreakerManager
}

// NewProtectionManager creates a new protection manager
func NewProtectionManager(config ProtectionConfig) *ProtectionManager {
	return &ProtectionManager{
		rateLimiter:    NewRateLimiter(config.Rate),
		retryManager:   NewRetryManager(config.Retry),
		circuitBreaker: NewCircuitBreakerManager(config.OnStateChange),
	}
}

// CircuitBreakers exposes the breaker manager
func (pm *ProtectionManager) CircuitBreakers() *CircuitBreakerManager {
	return pm.circuitBreaker
}

// ExecuteWithProtection executes fn against endpoint with all protection
// mechanisms. Each attempt passes through the breaker, so failed retries
// count towards tripping it.
func (pm *ProtectionManager) ExecuteWithProtection(
	ctx context.Context,
	endpoint string,
	fn func(ctx context.Context) (interface{}, error),
) (interface{}, error) {
	// Fail fast while the breaker is open
	if pm.circuitBreaker.IsOpen(endpoint) {
		return nil, fmt.Errorf("%w: %s", ErrCircuitOpen, endpoint)
	}

	if err := pm.rateLimiter.Wait(ctx, endpoint); err != nil {
		return nil, fmt.Errorf("rate limiting failed: %w", err)
	}

	return pm.retryManager.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		return pm.circuitBreaker.Execute(ctx, endpoint, func() (interface{}, error) {
			return fn(ctx)
		})
	})
}

// GetStats returns statistics for all protection mechanisms of endpoint
func (pm *ProtectionManager) GetStats(endpoint string) map[string]interface{} {
	config := pm.retryManager.Config()

	return map[string]interface{}{
		"endpoint":        endpoint,
		"rate_limiter":    pm.rateLimiter.GetStats(endpoint),
		"circuit_breaker": pm.circuitBreaker.GetStats(endpoint),
		"retry_config": map[string]interface{}{
			"max_retries":      config.MaxRetries,
			"base_delay":       config.BaseDelay.String(),
			"max_delay":        config.MaxDelay.String(),
			"backoff_factor":   config.BackoffFactor,
			"jitter":           config.Jitter,
			"retryable_errors": config.RetryableErrors,
		},
	}
}

// IsAvailable reports whether endpoint is neither circuit broken nor
// out of rate tokens
func (pm *ProtectionManager) IsAvailable(endpoint string) bool {
	if pm.circuitBreaker.IsOpen(endpoint) {
		return false
	}
	return pm.rateLimiter.Allow(endpoint)
}

// Reset resets all protection mechanisms for endpoint
func (pm *ProtectionManager) Reset(endpoint string) {
	pm.rateLimiter.Reset(endpoint)
	pm.circuitBreaker.Reset(endpoint)
}
