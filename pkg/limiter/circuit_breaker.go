package limiter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned when a breaker rejects a call
var ErrCircuitOpen = errors.New("circuit breaker is open")

// StateChangeFunc observes breaker transitions
type StateChangeFunc func(name string, from, to gobreaker.State)

// CircuitBreakerConfig holds circuit breaker configuration
type CircuitBreakerConfig struct {
	Name        string                             `json:"name"`
	MaxRequests uint32                             `json:"max_requests"`
	Interval    time.Duration                      `json:"interval"`
	Timeout     time.Duration                      `json:"timeout"`
	ReadyToTrip func(counts gobreaker.Counts) bool `json:"-"`
}

// DefaultCircuitBreakerConfig returns a default circuit breaker configuration
func DefaultCircuitBreakerConfig(name string) *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		Name:        name,
		MaxRequests: 3,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			// Open circuit if failure rate is >= 50% and we have at least 5 requests
			return counts.Requests >= 5 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.5
		},
	}
}

// CircuitBreakerManager manages circuit breakers per remote endpoint
type CircuitBreakerManager struct {
	breakers      map[string]*gobreaker.CircuitBreaker
	configs       map[string]*CircuitBreakerConfig
	onStateChange StateChangeFunc
	mu            sync.RWMutex
}

// NewCircuitBreakerManager creates a new circuit breaker manager.
// onStateChange may be nil.
func NewCircuitBreakerManager(onStateChange StateChangeFunc) *CircuitBreakerManager {
	return &CircuitBreakerManager{
		breakers:      make(map[string]*gobreaker.CircuitBreaker),
		configs:       make(map[string]*CircuitBreakerConfig),
		onStateChange: onStateChange,
	}
}

// Configure sets the configuration used the next time the breaker for
// name is created
func (cbm *CircuitBreakerManager) Configure(name string, config *CircuitBreakerConfig) {
	cbm.mu.Lock()
	defer cbm.mu.Unlock()

	cbm.configs[name] = config
	delete(cbm.breakers, name)
}

// GetBreaker returns or creates the circuit breaker for name
func (cbm *CircuitBreakerManager) GetBreaker(name string) *gobreaker.CircuitBreaker {
	cbm.mu.Lock()
	defer cbm.mu.Unlock()

	// Check if breaker already exists
	if breaker, exists := cbm.breakers[name]; exists {
		return breaker
	}

	cbConfig, exists := cbm.configs[name]
	if !exists {
		cbConfig = DefaultCircuitBreakerConfig(name)
		cbm.configs[name] = cbConfig
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:         cbConfig.Name,
		MaxRequests:  cbConfig.MaxRequests,
		Interval:     cbConfig.Interval,
		Timeout:      cbConfig.Timeout,
		ReadyToTrip:  cbConfig.ReadyToTrip,
		IsSuccessful: isBreakerSuccess,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			if cbm.onStateChange != nil {
				cbm.onStateChange(name, from, to)
			}
		},
	})

	cbm.breakers[name] = breaker
	return breaker
}

// isBreakerSuccess treats client errors as healthy responses: a 4xx says
// the request was wrong, not that the endpoint is down.
func isBreakerSuccess(err error) bool {
	if err == nil {
		return true
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= 400 && httpErr.StatusCode < 500 && httpErr.StatusCode != 429
	}
	return false
}

// Execute executes a function through the circuit breaker
func (cbm *CircuitBreakerManager) Execute(ctx context.Context, name string, fn func() (interface{}, error)) (interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	breaker := cbm.GetBreaker(name)

	result, err := breaker.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %s", ErrCircuitOpen, name)
	}
	if err != nil {
		return nil, err
	}

	return result, nil
}

// GetState returns the current state of a circuit breaker
func (cbm *CircuitBreakerManager) GetState(name string) gobreaker.State {
	return cbm.GetBreaker(name).State()
}

// GetStats returns circuit breaker statistics for name
func (cbm *CircuitBreakerManager) GetStats(name string) map[string]interface{} {
	breaker := cbm.GetBreaker(name)
	counts := breaker.Counts()

	return map[string]interface{}{
		"name":                 name,
		"state":                breaker.State().String(),
		"requests":             counts.Requests,
		"total_success":        counts.TotalSuccesses,
		"total_failures":       counts.TotalFailures,
		"consecutive_success":  counts.ConsecutiveSuccesses,
		"consecutive_failures": counts.ConsecutiveFailures,
	}
}

// Reset resets the circuit breaker for name
func (cbm *CircuitBreakerManager) Reset(name string) {
	cbm.mu.Lock()
	defer cbm.mu.Unlock()

	delete(cbm.breakers, name)
}

// IsOpen checks if the circuit breaker is open for name
func (cbm *CircuitBreakerManager) IsOpen(name string) bool {
	return cbm.GetState(name) == gobreaker.StateOpen
}

// IsHalfOpen checks if the circuit breaker is half-open for name
func (cbm *CircuitBreakerManager) IsHalfOpen(name string) bool {
	return cbm.GetState(name) == gobreaker.StateHalfOpen
}

// IsClosed checks if the circuit breaker is closed for name
func (cbm *CircuitBreakerManager) IsClosed(name string) bool {
	return cbm.GetState(name) == gobreaker.StateClosed
}
