package imageguard

import (
	"log/slog"
)

// Builder provides a fluent API for constructing validators
type Builder struct {
	constraints Constraints
	opts        []Option
	rules       *Rules
	signatures  []MagicSignature
}

// NewBuilder creates a new validator builder with the default constraints
func NewBuilder() *Builder {
	return &Builder{
		constraints: DefaultConstraints(),
	}
}

// --- Size constraints ---

// MaxSize sets the maximum allowed file size
func (b *Builder) MaxSize(size int64) *Builder {
	b.constraints.MaxFileSize = size
	return b
}

// MinSize sets the minimum required file size
func (b *Builder) MinSize(size int64) *Builder {
	b.constraints.MinFileSize = size
	return b
}

// SizeRange sets both minimum and maximum file size
func (b *Builder) SizeRange(minSize, maxSize int64) *Builder {
	b.constraints.MinFileSize = minSize
	b.constraints.MaxFileSize = maxSize
	return b
}

// --- Type and name constraints ---

// Accept restricts the accepted declared types
func (b *Builder) Accept(mimeTypes ...string) *Builder {
	b.constraints.AcceptedTypes = append([]string(nil), mimeTypes...)
	return b
}

// BlockNames adds filename globs to the blocklist
func (b *Builder) BlockNames(patterns ...string) *Builder {
	b.constraints.BlockedNames = append(b.constraints.BlockedNames, patterns...)
	return b
}

// DangerousChars sets characters to block in filenames
func (b *Builder) DangerousChars(chars ...string) *Builder {
	b.constraints.DangerousChars = chars
	return b
}

// --- Content constraints ---

// ContentSample sets how many leading bytes the threat scan reads
func (b *Builder) ContentSample(size int64) *Builder {
	b.constraints.ContentSampleSize = size
	return b
}

// EntropyThreshold sets the compression-bomb entropy floor in bits per byte
func (b *Builder) EntropyThreshold(bits float64) *Builder {
	b.constraints.EntropyThreshold = bits
	return b
}

// MaxPixels enables the decoded-dimension check
func (b *Builder) MaxPixels(pixels int) *Builder {
	b.constraints.MaxPixels = pixels
	return b
}

// WithSignatures adds magic signatures to the built-in table
func (b *Builder) WithSignatures(sigs ...MagicSignature) *Builder {
	b.signatures = append(b.signatures, sigs...)
	return b
}

// --- Metadata constraints ---

// DenyFields adds metadata keys removed during sanitization
func (b *Builder) DenyFields(fields ...string) *Builder {
	b.constraints.DeniedFields = append(b.constraints.DeniedFields, fields...)
	return b
}

// MaxStringLength caps sanitized metadata strings
func (b *Builder) MaxStringLength(n int) *Builder {
	b.constraints.MaxStringLength = n
	return b
}

// MaxMetadataDepth bounds metadata nesting
func (b *Builder) MaxMetadataDepth(depth int) *Builder {
	b.constraints.MaxMetadataDepth = depth
	return b
}

// --- Collaborators ---

// WithRules merges a rule file into the validator
func (b *Builder) WithRules(rules *Rules) *Builder {
	b.rules = rules
	return b
}

// WithExtractor sets the quick metadata extractor
func (b *Builder) WithExtractor(e MetadataExtractor) *Builder {
	b.opts = append(b.opts, WithExtractor(e))
	return b
}

// WithLogger sets the structured logger
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.opts = append(b.opts, WithLogger(logger))
	return b
}

// WithMetrics sets the metrics sink
func (b *Builder) WithMetrics(m Metrics) *Builder {
	b.opts = append(b.opts, WithMetrics(m))
	return b
}

// Build creates the validator
func (b *Builder) Build() (*Validator, error) {
	c := b.constraints
	sigs := b.signatures
	var threats, injection []RuleSpec
	if b.rules != nil {
		c = b.rules.apply(c)
		sigs = append(sigs, b.rules.signatures()...)
		threats = b.rules.ThreatPatterns
		injection = b.rules.InjectionPatterns
	}
	patterns, err := NewPatternSet(threats, injection)
	if err != nil {
		return nil, err
	}
	opts := append([]Option{
		WithPatternSet(patterns),
		WithSignatureTable(NewSignatureTable(sigs...)),
	}, b.opts...)
	return New(c, opts...)
}

// Constraints returns the current constraints
func (b *Builder) Constraints() Constraints {
	return b.constraints
}
