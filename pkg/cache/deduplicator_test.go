package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestDeduplicator(t *testing.T) {
	dedup := NewDeduplicator[float64]()
	key := CacheKey("test-key")

	// Test basic execution
	value, hit, err := dedup.Execute(context.Background(), key, nil, 0, func() (float64, error) {
		return 50, nil
	})
	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if hit {
		t.Error("Expected no cache hit without a cache")
	}
	if value != 50 {
		t.Errorf("Expected 50, got %v", value)
	}

	// Check stats
	stats := dedup.Stats()
	if stats.Requests != 1 {
		t.Errorf("Expected 1 request, got %d", stats.Requests)
	}
	if stats.Deduplicated != 0 {
		t.Errorf("Expected 0 deduplicated, got %d", stats.Deduplicated)
	}
}

func TestDeduplicatorConcurrent(t *testing.T) {
	dedup := NewDeduplicator[float64]()
	key := CacheKey("test-key")

	var calls int32
	release := make(chan struct{})

	var wg sync.WaitGroup
	numRequests := 5
	for i := 0; i < numRequests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			value, _, err := dedup.Execute(context.Background(), key, nil, 0, func() (float64, error) {
				atomic.AddInt32(&calls, 1)
				<-release
				return 41.5, nil
			})
			if err != nil {
				t.Errorf("Expected no error, got %v", err)
			}
			if value != 41.5 {
				t.Errorf("Expected 41.5, got %v", value)
			}
		}()
	}

	// let every goroutine join the flight before it completes
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("Expected the function to run once, ran %d times", n)
	}
	stats := dedup.Stats()
	if stats.Requests != int64(numRequests) {
		t.Errorf("Expected %d requests, got %d", numRequests, stats.Requests)
	}
	if stats.Deduplicated != int64(numRequests) {
		t.Errorf("Expected all %d callers to share the result, got %d", numRequests, stats.Deduplicated)
	}
}

func TestDeduplicatorError(t *testing.T) {
	dedup := NewDeduplicator[float64]()
	cache, err := NewLRUCache[float64](&CacheConfig{MaxSize: 4})
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}
	defer cache.Close()

	boom := errors.New("missing input")
	_, _, err = dedup.Execute(context.Background(), "k", cache, 0, func() (float64, error) {
		return 0, boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("Expected %v, got %v", boom, err)
	}
	if cache.Len() != 0 {
		t.Error("Expected errors not to be cached")
	}
}

func TestDeduplicatorWithCache(t *testing.T) {
	dedup := NewDeduplicator[float64]()
	cache, err := NewLRUCache[float64](&CacheConfig{MaxSize: 4})
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}
	defer cache.Close()

	calls := 0
	fn := func() (float64, error) {
		calls++
		return 23.09, nil
	}

	for i := 0; i < 3; i++ {
		value, hit, err := dedup.Execute(context.Background(), "k", cache, 0, fn)
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if hit != (i > 0) {
			t.Errorf("Expected hit=%v on call %d, got %v", i > 0, i, hit)
		}
		if value != 23.09 {
			t.Errorf("Expected 23.09, got %v", value)
		}
	}

	if calls != 1 {
		t.Errorf("Expected 1 call, got %d", calls)
	}
	stats := dedup.Stats()
	if stats.CacheHits != 2 {
		t.Errorf("Expected 2 cache hits, got %d", stats.CacheHits)
	}
	if rate := stats.CacheHitRate(); rate < 0.66 || rate > 0.67 {
		t.Errorf("Expected cache hit rate 2/3, got %v", rate)
	}
}

func TestDeduplicatorContextCancelled(t *testing.T) {
	dedup := NewDeduplicator[float64]()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	release := make(chan struct{})
	defer close(release)

	_, _, err := dedup.Execute(ctx, "slow", nil, 0, func() (float64, error) {
		<-release
		return 1, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}
