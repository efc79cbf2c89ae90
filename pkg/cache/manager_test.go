package cache

import (
	"context"
	"testing"
)

func TestCacheManagerEvaluate(t *testing.T) {
	cm, err := NewCacheManager[float64](&CacheConfig{MaxSize: 16})
	if err != nil {
		t.Fatalf("Failed to create cache manager: %v", err)
	}
	defer cm.Close()

	inputs := map[string]float64{"taste": 8, "spiciness": 3, "temperature": 6, "sweetness": 4}
	calls := 0
	fn := func() (float64, error) {
		calls++
		return 50, nil
	}

	value, hit, err := cm.Evaluate(context.Background(), "food", inputs, fn)
	if err != nil || value != 50 || hit {
		t.Fatalf("Expected computed 50, got %v hit=%v err=%v", value, hit, err)
	}

	value, hit, err = cm.Evaluate(context.Background(), "food", inputs, fn)
	if err != nil || value != 50 || !hit {
		t.Fatalf("Expected cached 50, got %v hit=%v err=%v", value, hit, err)
	}
	if calls != 1 {
		t.Errorf("Expected 1 call, got %d", calls)
	}

	stats := cm.Stats()
	if stats.Cache.Hits != 1 || stats.Cache.Misses != 1 {
		t.Errorf("Expected 1 hit and 1 miss, got %+v", stats.Cache)
	}
	if stats.Deduplication.Requests != 2 {
		t.Errorf("Expected 2 requests, got %d", stats.Deduplication.Requests)
	}
}

func TestCacheManagerGetSetClear(t *testing.T) {
	cm, err := NewCacheManager[string](nil)
	if err != nil {
		t.Fatalf("Failed to create cache manager: %v", err)
	}
	defer cm.Close()

	inputs := map[string]float64{"x": 1}
	if _, ok := cm.Get("m", inputs); ok {
		t.Error("Expected empty cache")
	}

	cm.Set("m", inputs, "v")
	if v, ok := cm.Get("m", inputs); !ok || v != "v" {
		t.Errorf("Expected v, got %q ok=%v", v, ok)
	}
	if cm.Len() != 1 {
		t.Errorf("Expected 1 entry, got %d", cm.Len())
	}

	cm.Clear()
	if cm.Len() != 0 {
		t.Errorf("Expected empty cache after clear, got %d", cm.Len())
	}
}
