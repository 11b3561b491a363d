package imageguard

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryCache(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryCache()

	if _, ok, err := cache.Get(ctx, "missing"); ok || err != nil {
		t.Errorf("Expected clean miss, got ok=%v err=%v", ok, err)
	}

	result := &ValidationResult{ID: "a", Valid: true, Metadata: Metadata{"Title": "x"}}
	if err := cache.Set(ctx, "k", result, 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	result.Metadata["Title"] = "changed"

	got, ok, err := cache.Get(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("Expected hit, got ok=%v err=%v", ok, err)
	}
	if got.Metadata["Title"] != "x" {
		t.Errorf("Expected cache to hold a copy, got %v", got.Metadata["Title"])
	}

	stats := cache.Stats()
	if stats.Hits != 1 || stats.Misses != 1 || stats.Size != 1 || stats.HitRate != 0.5 {
		t.Errorf("Unexpected stats: %+v", stats)
	}

	if err := cache.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := cache.Get(ctx, "k"); ok {
		t.Error("Expected miss after delete")
	}
}

func TestMemoryCacheExpiry(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryCache()

	cache.Set(ctx, "short", &ValidationResult{}, time.Millisecond)
	cache.Set(ctx, "forever", &ValidationResult{}, 0)
	time.Sleep(5 * time.Millisecond)

	if _, ok, _ := cache.Get(ctx, "short"); ok {
		t.Error("Expected expired entry to miss")
	}
	cache.Set(ctx, "short", &ValidationResult{}, time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	cache.Cleanup()
	if size := cache.Stats().Size; size != 1 {
		t.Errorf("Expected 1 entry after cleanup, got %d", size)
	}

	cache.Clear()
	if size := cache.Stats().Size; size != 0 {
		t.Errorf("Expected empty cache, got %d", size)
	}
}

func TestMemoryCacheLimit(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryCacheWithLimit(3)

	for _, key := range []string{"a", "b", "c"} {
		cache.Set(ctx, key, &ValidationResult{ID: key}, 0)
	}
	// Overwriting an existing key never evicts.
	cache.Set(ctx, "a", &ValidationResult{ID: "a2"}, 0)
	if stats := cache.Stats(); stats.Size != 3 || stats.Evictions != 0 {
		t.Fatalf("Expected 3 entries and no evictions, got %+v", stats)
	}

	cache.Set(ctx, "d", &ValidationResult{ID: "d"}, 0)
	if _, ok, _ := cache.Get(ctx, "b"); ok {
		t.Error("Expected the oldest entry to be evicted")
	}
	for _, key := range []string{"a", "c", "d"} {
		if _, ok, _ := cache.Get(ctx, key); !ok {
			t.Errorf("Expected %s to survive", key)
		}
	}

	// Expired entries go before live ones.
	cache.Set(ctx, "a", &ValidationResult{}, time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	cache.Set(ctx, "e", &ValidationResult{}, 0)
	if _, ok, _ := cache.Get(ctx, "c"); !ok {
		t.Error("Expected live entry to survive while an expired one was available")
	}

	stats := cache.Stats()
	if stats.Size != 3 || stats.Evictions != 2 {
		t.Errorf("Expected 3 entries after 2 evictions, got %+v", stats)
	}

	if NewMemoryCacheWithLimit(0).maxEntries != DefaultMemoryCacheEntries {
		t.Error("Expected non-positive limit to select the default")
	}
}

func TestCachingValidator(t *testing.T) {
	ctx := context.Background()
	m := &recordingMetrics{}
	cache := NewMemoryCache()
	cv := NewCachingValidator(NewDefault(WithMetrics(m)), cache, time.Minute)
	data := jpegData(1024)
	md := Metadata{"Title": "<b>Beach</b>"}

	first := cv.Validate(ctx, NewFile("a.jpg", "image/jpeg", data), md)
	if !first.Valid || first.Cached {
		t.Fatalf("Expected fresh valid result, got valid=%v cached=%v", first.Valid, first.Cached)
	}

	second := cv.Validate(ctx, NewFile("a.jpg", "image/jpeg", data), md)
	if !second.Cached {
		t.Fatal("Expected cached result")
	}
	if second.ID == first.ID {
		t.Error("Expected a fresh ID for the cached result")
	}
	if second.Metadata["Title"] != "Beach" || len(second.Warnings) != 1 {
		t.Errorf("Expected cached verdict to match, got %v %q", second.Metadata, second.Warnings)
	}

	second.Metadata["Title"] = "mutated"
	third := cv.Validate(ctx, NewFile("a.jpg", "image/jpeg", data), md)
	if third.Metadata["Title"] != "Beach" {
		t.Error("Expected cached entry to be unaffected by caller changes")
	}

	if hits := countOutcome(m.outcomes, OutcomeCacheHit); hits != 2 {
		t.Errorf("Expected 2 cache hits, got %d", hits)
	}
}

func TestCachingValidatorCachesRejections(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryCache()
	cv := NewCachingValidator(NewDefault(), cache, 0)

	cv.Validate(ctx, NewFile("a.jpg", "image/jpeg", pngData(500)), nil)
	result := cv.Validate(ctx, NewFile("a.jpg", "image/jpeg", pngData(500)), nil)
	if !result.Cached || result.Code != CodeSignatureMismatch {
		t.Errorf("Expected cached rejection, got cached=%v code=%s", result.Cached, result.Code)
	}
}

func TestCachingValidatorSkipsInfrastructureFailures(t *testing.T) {
	cache := NewMemoryCache()
	cv := NewCachingValidator(NewDefault(), cache, 0)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	result := cv.Validate(cancelled, NewFile("a.jpg", "image/jpeg", jpegData(500)), nil)
	if result.Valid || result.Code != "" {
		t.Fatalf("Expected infrastructure failure, got valid=%v code=%s", result.Valid, result.Code)
	}
	if size := cache.Stats().Size; size != 0 {
		t.Errorf("Expected nothing cached, got %d entries", size)
	}

	result = cv.Validate(context.Background(), NewReaderAtFile("a.jpg", "image/jpeg", errReaderAt{errDisk}, 500), nil)
	if result.Code != "" || result.Cached {
		t.Errorf("Expected uncached infrastructure failure, got code=%s cached=%v", result.Code, result.Cached)
	}
}

type brokenCache struct{}

func (brokenCache) Get(context.Context, string) (*ValidationResult, bool, error) {
	return nil, false, errors.New("cache down")
}

func (brokenCache) Set(context.Context, string, *ValidationResult, time.Duration) error {
	return errors.New("cache down")
}

func (brokenCache) Delete(context.Context, string) error { return nil }

func TestCachingValidatorDegradesOnCacheErrors(t *testing.T) {
	cv := NewCachingValidator(NewDefault(), brokenCache{}, 0)
	result := cv.Validate(context.Background(), NewFile("a.jpg", "image/jpeg", jpegData(500)), nil)
	if !result.Valid || result.Cached {
		t.Errorf("Expected uncached valid result, got valid=%v cached=%v", result.Valid, result.Cached)
	}
}

func TestFingerprint(t *testing.T) {
	v := NewDefault()
	fp := func(name string, data []byte, md Metadata) string {
		t.Helper()
		s, err := v.Fingerprint(NewFile(name, "image/jpeg", data), md)
		if err != nil {
			t.Fatalf("Fingerprint: %v", err)
		}
		return s
	}

	data := jpegData(100 * 1024)
	base := fp("a.jpg", data, Metadata{"a": "1", "b": map[string]any{"c": 2.0}})

	if got := fp("a.jpg", data, Metadata{"b": map[string]any{"c": 2.0}, "a": "1"}); got != base {
		t.Error("Expected key order to be irrelevant")
	}
	if got := fp("b.jpg", data, Metadata{"a": "1", "b": map[string]any{"c": 2.0}}); got == base {
		t.Error("Expected name to change the fingerprint")
	}
	if got := fp("a.jpg", data, Metadata{"a": "1", "b": map[string]any{"c": "2"}}); got == base {
		t.Error("Expected value type to change the fingerprint")
	}

	changedInside := append([]byte(nil), data...)
	changedInside[100] ^= 0xFF
	if got := fp("a.jpg", changedInside, Metadata{"a": "1", "b": map[string]any{"c": 2.0}}); got == base {
		t.Error("Expected sampled bytes to change the fingerprint")
	}

	changedOutside := append([]byte(nil), data...)
	changedOutside[90*1024] ^= 0xFF
	if got := fp("a.jpg", changedOutside, Metadata{"a": "1", "b": map[string]any{"c": 2.0}}); got != base {
		t.Error("Expected bytes beyond the sample window to be ignored")
	}

	if _, err := v.Fingerprint(nil, nil); err == nil {
		t.Error("Expected error for nil file")
	}
}

func countOutcome(outcomes []string, want string) int {
	n := 0
	for _, o := range outcomes {
		if o == want {
			n++
		}
	}
	return n
}
