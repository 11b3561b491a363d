package imageguard

import (
	"context"
	"fmt"
	"sync"
)

// Source opens stored uploads as candidate files. Reads through the returned
// Handle are ranged, so validating a large object never downloads it whole.
type Source interface {
	Open(ctx context.Context, path string) (Handle, error)
}

// SourceFactory is a function that creates a Source from a config
type SourceFactory func(cfg *Config) (Source, error)

// CacheFactory is a function that creates a VerdictCache from a config
type CacheFactory func(cfg *Config) (VerdictCache, error)

var (
	sourceFactories = make(map[string]SourceFactory)
	cacheFactories  = map[string]CacheFactory{
		"memory": func(cfg *Config) (VerdictCache, error) { return NewMemoryCacheWithLimit(cfg.CacheMaxEntries), nil },
	}
	factoryMutex sync.RWMutex
)

// RegisterSource registers a source factory function
func RegisterSource(name string, factory SourceFactory) {
	factoryMutex.Lock()
	defer factoryMutex.Unlock()
	sourceFactories[name] = factory
}

// OpenSource creates a source instance from config
func OpenSource(cfg *Config) (Source, error) {
	factoryMutex.RLock()
	factory, exists := sourceFactories[cfg.Source]
	factoryMutex.RUnlock()

	if !exists {
		return nil, fmt.Errorf("source %s not registered", cfg.Source)
	}

	return factory(cfg)
}

// RegisterCache registers a verdict cache factory function
func RegisterCache(name string, factory CacheFactory) {
	factoryMutex.Lock()
	defer factoryMutex.Unlock()
	cacheFactories[name] = factory
}

// CreateCache creates a verdict cache from config. The "none" driver returns
// a nil cache.
func CreateCache(cfg *Config) (VerdictCache, error) {
	if cfg.CacheDriver == "" || cfg.CacheDriver == "none" {
		return nil, nil
	}

	factoryMutex.RLock()
	factory, exists := cacheFactories[cfg.CacheDriver]
	factoryMutex.RUnlock()

	if !exists {
		return nil, fmt.Errorf("cache %s not registered", cfg.CacheDriver)
	}

	return factory(cfg)
}
