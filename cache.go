package imageguard

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Verdict Cache Interface
// ============================================================================

// VerdictCache stores validation results by fingerprint.
// Implementations should be thread-safe.
type VerdictCache interface {
	// Get retrieves a result. A miss returns nil, false, nil.
	Get(ctx context.Context, key string) (*ValidationResult, bool, error)

	// Set stores a result with the given TTL. A TTL of 0 means no expiration.
	Set(ctx context.Context, key string, result *ValidationResult, ttl time.Duration) error

	// Delete removes a result.
	Delete(ctx context.Context, key string) error
}

// CacheStatistics contains cache performance metrics.
type CacheStatistics struct {
	Hits      int64
	Misses    int64
	Size      int64
	Evictions int64
	HitRate   float64
}

// ============================================================================
// In-Memory Cache Implementation
// ============================================================================

type cacheEntry struct {
	result     *ValidationResult
	expiration time.Time
	hasExpiry  bool
	seq        uint64
}

// DefaultMemoryCacheEntries caps a MemoryCache created without a limit.
const DefaultMemoryCacheEntries = 10000

// MemoryCache is a simple in-memory verdict cache with TTL-based expiration.
// It holds at most maxEntries results; storing a new key into a full cache
// drops expired entries first and then the oldest stored one.
type MemoryCache struct {
	mu         sync.RWMutex
	entries    map[string]*cacheEntry
	maxEntries int
	seq        uint64
	hits       int64
	misses     int64
	evictions  int64
}

// NewMemoryCache creates a new in-memory cache holding up to
// DefaultMemoryCacheEntries results.
func NewMemoryCache() *MemoryCache {
	return NewMemoryCacheWithLimit(DefaultMemoryCacheEntries)
}

// NewMemoryCacheWithLimit creates an in-memory cache holding up to
// maxEntries results. A non-positive limit selects the default.
func NewMemoryCacheWithLimit(maxEntries int) *MemoryCache {
	if maxEntries <= 0 {
		maxEntries = DefaultMemoryCacheEntries
	}
	return &MemoryCache{
		entries:    make(map[string]*cacheEntry),
		maxEntries: maxEntries,
	}
}

// Get retrieves a result from the cache.
func (c *MemoryCache) Get(_ context.Context, key string) (*ValidationResult, bool, error) {
	c.mu.RLock()
	entry, exists := c.entries[key]
	c.mu.RUnlock()

	if !exists {
		c.mu.Lock()
		c.misses++
		c.mu.Unlock()
		return nil, false, nil
	}

	if entry.hasExpiry && time.Now().After(entry.expiration) {
		c.mu.Lock()
		delete(c.entries, key)
		c.misses++
		c.mu.Unlock()
		return nil, false, nil
	}

	c.mu.Lock()
	c.hits++
	c.mu.Unlock()
	return entry.result, true, nil
}

// Set stores a result in the cache.
func (c *MemoryCache) Set(_ context.Context, key string, result *ValidationResult, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.evictLocked()
	}

	c.seq++
	entry := &cacheEntry{result: cloneResult(result), seq: c.seq}
	if ttl > 0 {
		entry.expiration = time.Now().Add(ttl)
		entry.hasExpiry = true
	}
	c.entries[key] = entry
	return nil
}

// evictLocked makes room for one entry. c.mu must be held.
func (c *MemoryCache) evictLocked() {
	c.removeExpiredLocked(time.Now())
	if len(c.entries) < c.maxEntries {
		return
	}
	var oldestKey string
	var oldest uint64
	for key, entry := range c.entries {
		if oldestKey == "" || entry.seq < oldest {
			oldestKey, oldest = key, entry.seq
		}
	}
	delete(c.entries, oldestKey)
	c.evictions++
}

func (c *MemoryCache) removeExpiredLocked(now time.Time) {
	for key, entry := range c.entries {
		if entry.hasExpiry && now.After(entry.expiration) {
			delete(c.entries, key)
			c.evictions++
		}
	}
}

// Delete removes a result from the cache.
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

// Clear removes all results from the cache.
func (c *MemoryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*cacheEntry)
}

// Stats returns cache statistics.
func (c *MemoryCache) Stats() CacheStatistics {
	c.mu.RLock()
	defer c.mu.RUnlock()

	total := c.hits + c.misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(c.hits) / float64(total)
	}

	return CacheStatistics{
		Hits:      c.hits,
		Misses:    c.misses,
		Size:      int64(len(c.entries)),
		Evictions: c.evictions,
		HitRate:   hitRate,
	}
}

// Cleanup removes expired entries from the cache. The entry limit already
// bounds memory; calling this periodically keeps stale verdicts from
// occupying the slots.
func (c *MemoryCache) Cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeExpiredLocked(time.Now())
}

var _ VerdictCache = (*MemoryCache)(nil)

// ============================================================================
// CachingValidator Decorator
// ============================================================================

// CachingValidator wraps a Validator so repeated submissions of the same
// content skip the pipeline. Cache errors degrade to a normal validation.
//
// Example:
//
//	v := imageguard.NewDefault()
//	cv := imageguard.NewCachingValidator(v, imageguard.NewMemoryCache(), 10*time.Minute)
//	result := cv.Validate(ctx, file, nil)
type CachingValidator struct {
	validator *Validator
	cache     VerdictCache
	ttl       time.Duration
	keyPrefix string
}

// NewCachingValidator creates a caching decorator.
func NewCachingValidator(v *Validator, cache VerdictCache, ttl time.Duration) *CachingValidator {
	return &CachingValidator{
		validator: v,
		cache:     cache,
		ttl:       ttl,
		keyPrefix: "imageguard:verdict:",
	}
}

// Validate returns a cached verdict when one exists, otherwise runs the
// pipeline and caches its verdict. Infrastructure failures are never cached.
func (cv *CachingValidator) Validate(ctx context.Context, f File, md Metadata) *ValidationResult {
	fp, err := cv.validator.Fingerprint(f, md)
	if err != nil {
		return cv.validator.Validate(ctx, f, md)
	}
	key := cv.keyPrefix + fp

	if cached, ok, err := cv.cache.Get(ctx, key); err != nil {
		cv.validator.logger.Warn("verdict cache read failed", "key", key, "error", err)
	} else if ok && cached != nil {
		cv.validator.metrics.IncValidations(OutcomeCacheHit)
		return reissue(cached)
	}

	result := cv.validator.Validate(ctx, f, md)
	if result.Valid || result.Code != "" {
		if err := cv.cache.Set(ctx, key, result, cv.ttl); err != nil {
			cv.validator.logger.Warn("verdict cache write failed", "key", key, "error", err)
		}
	}
	return result
}

// reissue copies a cached result under a fresh ID so callers may keep or
// modify it without touching the cache.
func reissue(cached *ValidationResult) *ValidationResult {
	r := cloneResult(cached)
	r.ID = uuid.NewString()
	r.Cached = true
	r.Duration = 0
	return r
}

func cloneResult(src *ValidationResult) *ValidationResult {
	r := *src
	r.Warnings = append([]string(nil), src.Warnings...)
	r.Errors = append([]ValidationError(nil), src.Errors...)
	r.Checks = append([]CheckResult(nil), src.Checks...)
	if src.Metadata != nil {
		r.Metadata = cloneMetadata(src.Metadata)
	}
	return &r
}

func cloneMetadata(md Metadata) Metadata {
	out := make(Metadata, len(md))
	for k, v := range md {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case Metadata:
		return cloneMetadata(t)
	case map[string]any:
		return map[string]any(cloneMetadata(t))
	case []any:
		out := make([]any, len(t))
		for i, elem := range t {
			out[i] = cloneValue(elem)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}
