package imageguard

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gobeaver/beaver-kit/config"
)

// Global instance
var (
	defaultService *Service
	defaultOnce    sync.Once
	defaultErr     error
)

// Service bundles a configured validator with the source it reads stored
// uploads from and an optional verdict cache.
type Service struct {
	validator *Validator
	caching   *CachingValidator
	source    Source
	logger    *slog.Logger
}

// Loader creates services from prefixed environment variables
type Loader struct {
	prefix string
}

// WithPrefix creates a new Loader with the specified prefix
func WithPrefix(prefix string) *Loader {
	return &Loader{prefix: prefix}
}

// Init initializes the global Service using the loader's prefix
func (l *Loader) Init(opts ...Option) error {
	cfg := &Config{}
	if err := config.Load(cfg, config.LoadOptions{Prefix: l.prefix}); err != nil {
		return err
	}
	return Init(cfg, opts...)
}

// New creates a Service using the loader's prefix
func (l *Loader) New(opts ...Option) (*Service, error) {
	cfg := &Config{}
	if err := config.Load(cfg, config.LoadOptions{Prefix: l.prefix}); err != nil {
		return nil, err
	}
	return NewService(cfg, opts...)
}

// Init initializes the global service from cfg, or from the environment
// when cfg is nil. Only the first call has any effect.
func Init(cfg *Config, opts ...Option) error {
	defaultOnce.Do(func() {
		if cfg == nil {
			cfg, defaultErr = GetConfig()
			if defaultErr != nil {
				return
			}
		}
		defaultService, defaultErr = NewService(cfg, opts...)
	})
	return defaultErr
}

// Default returns the global service, initializing it from the environment
// if needed
func Default() (*Service, error) {
	if err := Init(nil); err != nil {
		return nil, err
	}
	return defaultService, nil
}

// Reset clears the global instance (for testing)
func Reset() {
	defaultService = nil
	defaultOnce = sync.Once{}
	defaultErr = nil
}

// NewService creates a service from config: constraints, optional rule file,
// extractor, source and cache. A source that is not registered leaves the
// service without one; ValidatePath then fails.
func NewService(cfg *Config, opts ...Option) (*Service, error) {
	constraints, err := cfg.Constraints()
	if err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	b := NewBuilder()
	b.constraints = constraints
	b.opts = append(b.opts, opts...)
	if cfg.ExtractText {
		b.WithExtractor(TextChunkExtractor{})
	}
	if cfg.RulesFile != "" {
		rules, err := LoadRulesFile(cfg.RulesFile)
		if err != nil {
			return nil, err
		}
		b.WithRules(rules)
	}
	validator, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to create validator: %w", err)
	}

	s := &Service{validator: validator, logger: validator.logger}

	if cfg.Source != "" {
		source, err := OpenSource(cfg)
		if err != nil {
			validator.logger.Debug("source unavailable", "source", cfg.Source, "error", err)
		} else {
			s.source = source
		}
	}

	cache, err := CreateCache(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}
	if cache != nil {
		ttl, err := cfg.CacheExpiry()
		if err != nil {
			return nil, err
		}
		s.caching = NewCachingValidator(validator, cache, ttl)
	}
	return s, nil
}

// Validator returns the underlying validator
func (s *Service) Validator() *Validator {
	return s.validator
}

// Source returns the configured source, or nil.
func (s *Service) Source() Source {
	return s.source
}

// Validate runs the pipeline, consulting the verdict cache when configured.
func (s *Service) Validate(ctx context.Context, f File, md Metadata) *ValidationResult {
	if s.caching != nil {
		return s.caching.Validate(ctx, f, md)
	}
	return s.validator.Validate(ctx, f, md)
}

// ValidatePath opens path through the configured source and validates it.
// The error is non-nil only when the file could not be opened.
func (s *Service) ValidatePath(ctx context.Context, path string, md Metadata) (*ValidationResult, error) {
	if s.source == nil {
		return nil, fmt.Errorf("no source configured")
	}
	f, err := s.source.Open(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	return s.Validate(ctx, f, md), nil
}
