package imageguard

import (
	"context"
	"fmt"
	"log/slog"
	"mime/multipart"
	"time"
)

// Stage is a state of the validation pipeline. A run moves strictly forward
// through the stages and ends in StageDone or the absorbing StageFailed.
type Stage int

const (
	StageStart Stage = iota
	StageStructuralCheck
	StageSignatureCheck
	StageThreatScan
	StageMetadataSanitize
	StageDone
	StageFailed
)

var stageNames = [...]string{
	StageStart:            "start",
	StageStructuralCheck:  "structural_check",
	StageSignatureCheck:   "signature_check",
	StageThreatScan:       "threat_scan",
	StageMetadataSanitize: "metadata_sanitize",
	StageDone:             "done",
	StageFailed:           "failed",
}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return fmt.Sprintf("stage(%d)", int(s))
	}
	return stageNames[s]
}

// Validator runs the four-stage pipeline. It is immutable once built and safe
// for concurrent use; every call is independent.
type Validator struct {
	constraints Constraints
	gatekeeper  *Gatekeeper
	signatures  *SignatureTable
	scanner     *ThreatScanner
	sanitizer   *Sanitizer
	extractor   MetadataExtractor
	logger      *slog.Logger
	metrics     Metrics
}

type options struct {
	logger     *slog.Logger
	metrics    Metrics
	extractor  MetadataExtractor
	patterns   *PatternSet
	signatures *SignatureTable
}

// Option configures a Validator.
type Option func(*options)

// WithLogger sets the structured logger; the default discards everything.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithExtractor sets the quick metadata extractor used by the threat scan.
func WithExtractor(e MetadataExtractor) Option {
	return func(o *options) { o.extractor = e }
}

// WithPatternSet replaces the compiled threat rules.
func WithPatternSet(ps *PatternSet) Option {
	return func(o *options) { o.patterns = ps }
}

// WithSignatureTable replaces the magic signature table.
func WithSignatureTable(t *SignatureTable) Option {
	return func(o *options) { o.signatures = t }
}

// New creates a validator for the given constraints.
func New(c Constraints, opts ...Option) (*Validator, error) {
	c = c.withDefaults()
	o := options{
		logger:     slog.New(slog.DiscardHandler),
		metrics:    NoopMetrics{},
		extractor:  NoopExtractor{},
		patterns:   DefaultPatternSet(),
		signatures: defaultSignatures,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if c.MinFileSize > c.MaxFileSize {
		return nil, fmt.Errorf("minimum file size %d exceeds maximum %d", c.MinFileSize, c.MaxFileSize)
	}
	for _, t := range c.AcceptedTypes {
		if !o.signatures.Knows(t) {
			return nil, fmt.Errorf("no signature can verify accepted type %s", t)
		}
	}
	gatekeeper, err := NewGatekeeper(c)
	if err != nil {
		return nil, err
	}
	return &Validator{
		constraints: c,
		gatekeeper:  gatekeeper,
		signatures:  o.signatures,
		scanner:     NewThreatScanner(c, o.patterns),
		sanitizer:   NewSanitizer(c),
		extractor:   o.extractor,
		logger:      o.logger,
		metrics:     o.metrics,
	}, nil
}

// NewDefault creates a validator with the default constraints.
func NewDefault(opts ...Option) *Validator {
	v, err := New(DefaultConstraints(), opts...)
	if err != nil {
		// Built-in constraints always compile.
		panic(err)
	}
	return v
}

// Constraints returns the effective constraints.
func (v *Validator) Constraints() Constraints {
	return v.constraints
}

// ValidateBytes validates an in-memory payload.
func (v *Validator) ValidateBytes(ctx context.Context, name, mimeType string, data []byte, md Metadata) *ValidationResult {
	return v.Validate(ctx, NewFile(name, mimeType, data), md)
}

// ValidateFileHeader validates a multipart upload.
func (v *Validator) ValidateFileHeader(ctx context.Context, header *multipart.FileHeader, md Metadata) *ValidationResult {
	if header == nil {
		return v.Validate(ctx, nil, md)
	}
	f, err := FromFileHeader(header)
	if err != nil {
		b := NewResultBuilder(header.Filename, header.Size)
		b.Fail(StageStructuralCheck, internalError(err), 0)
		return v.finish(b.Build())
	}
	defer f.Close()
	return v.Validate(ctx, f, md)
}

// Validate runs the pipeline over f. md is the raw metadata supplied with the
// upload and may be nil. The returned result is never nil.
func (v *Validator) Validate(ctx context.Context, f File, md Metadata) (result *ValidationResult) {
	b := NewResultBuilder("", 0)

	defer func() {
		if p := recover(); p != nil {
			stage := b.result.Stage + 1
			if stage > StageMetadataSanitize {
				stage = StageMetadataSanitize
			}
			b.Fail(stage, internalError(fmt.Errorf("panic: %v", p)), 0)
			result = v.finish(b.Build())
		}
	}()

	b.result.Filename, b.result.Size = describe(f)
	v.run(ctx, b, f, md)
	return v.finish(b.Build())
}

func (v *Validator) run(ctx context.Context, b *ResultBuilder, f File, md Metadata) {
	// Structural check: no I/O.
	start := time.Now()
	if verr := v.gatekeeper.Check(f); verr != nil {
		v.fail(b, StageStructuralCheck, verr, start)
		return
	}
	declared := normalizeMIME(f.MIMEType())
	b.SetDeclaredMIME(declared)
	v.pass(b, StageStructuralCheck, start)

	// Signature check: first 32 bytes.
	start = time.Now()
	if err := ctx.Err(); err != nil {
		v.fail(b, StageSignatureCheck, internalError(err), start)
		return
	}
	header, err := readRange(f, 0, HeaderSampleSize)
	if err != nil {
		v.fail(b, StageSignatureCheck, internalError(fmt.Errorf("reading file header: %w", err)), start)
		return
	}
	detected, verr := v.signatures.check(header, declared)
	b.SetDetectedMIME(detected)
	if verr != nil {
		v.fail(b, StageSignatureCheck, verr, start)
		return
	}
	v.pass(b, StageSignatureCheck, start)

	// Threat scan: metadata strings, content sample, compression heuristics.
	start = time.Now()
	if err := ctx.Err(); err != nil {
		v.fail(b, StageThreatScan, internalError(err), start)
		return
	}
	merged, verr := v.scan(b, f, declared, md)
	if verr != nil {
		v.fail(b, StageThreatScan, verr, start)
		return
	}
	v.pass(b, StageThreatScan, start)

	// Metadata sanitize: never fails.
	start = time.Now()
	clean, warnings := v.sanitizer.Sanitize(merged)
	b.AddWarnings(warnings)
	v.pass(b, StageMetadataSanitize, start)
	b.Complete(clean)
}

func (v *Validator) scan(b *ResultBuilder, f File, declared string, md Metadata) (Metadata, *ValidationError) {
	sample, err := readRange(f, 0, v.constraints.ContentSampleSize)
	if err != nil {
		b.AddWarning(fmt.Sprintf("content scan skipped: %v", err))
		sample = nil
	}

	var quick Metadata
	if len(sample) > 0 {
		quick, err = v.extractor.Extract(declared, sample)
		if err != nil {
			b.AddWarning(fmt.Sprintf("metadata extraction failed: %v", err))
			quick = nil
		}
	}
	merged := mergeMetadata(quick, md)

	if verr := v.scanner.ScanMetadata(merged); verr != nil {
		return nil, verr
	}
	if verr := v.scanner.ScanContent(sample); verr != nil {
		return nil, verr
	}
	if len(sample) > 0 {
		if verr := v.scanner.CheckCompression(sample, f.Size()); verr != nil {
			return nil, verr
		}
	}
	if decodable(declared) {
		verr, warning := v.scanner.CheckDimensions(f, f.Size())
		if verr != nil {
			return nil, verr
		}
		if warning != "" {
			b.AddWarning(warning)
		}
	}
	return merged, nil
}

func (v *Validator) pass(b *ResultBuilder, stage Stage, start time.Time) {
	took := time.Since(start)
	b.Pass(stage, took)
	v.metrics.ObserveStage(stage.String(), took.Seconds())
}

func (v *Validator) fail(b *ResultBuilder, stage Stage, verr *ValidationError, start time.Time) {
	took := time.Since(start)
	b.Fail(stage, verr, took)
	v.metrics.ObserveStage(stage.String(), took.Seconds())
}

// finish records the outcome in logs and metrics.
func (v *Validator) finish(r *ValidationResult) *ValidationResult {
	v.metrics.AddWarnings(len(r.Warnings))
	attrs := []any{
		"id", r.ID,
		"file", r.Filename,
		"size", r.Size,
		"mime", r.DeclaredMIME,
		"duration", r.Duration,
	}
	switch {
	case r.Valid:
		v.metrics.IncValidations(OutcomeValid)
		v.logger.Info("file validation succeeded", append(attrs, "warnings", len(r.Warnings))...)
	case r.Code == "":
		v.metrics.IncValidations(OutcomeError)
		v.logger.Error("file validation errored", append(attrs, "stage", r.FailedStage.String(), "error", firstMessage(r))...)
	default:
		v.metrics.IncValidations(OutcomeRejected)
		v.metrics.IncRejections(string(r.Code))
		v.logger.Warn("file validation failed", append(attrs,
			"code", string(r.Code),
			"stage", r.FailedStage.String(),
			"error", firstMessage(r),
		)...)
	}
	if r.HasWarnings() {
		v.logger.Debug("file validation warnings", "id", r.ID, "warnings", r.warningText())
	}
	return r
}

func firstMessage(r *ValidationResult) string {
	if len(r.Errors) == 0 {
		return ""
	}
	return r.Errors[0].Message
}

func describe(f File) (string, int64) {
	if isNilFile(f) {
		return "", 0
	}
	return f.Name(), f.Size()
}

// decodable reports whether the standard image decoders read the type.
func decodable(declared string) bool {
	switch canonicalMIME(declared) {
	case "image/jpeg", "image/png":
		return true
	}
	return false
}

// mergeMetadata overlays supplied metadata on extracted metadata. Neither
// input is modified.
func mergeMetadata(extracted, supplied Metadata) Metadata {
	merged := make(Metadata, len(extracted)+len(supplied))
	for k, val := range extracted {
		merged[k] = val
	}
	for k, val := range supplied {
		merged[k] = val
	}
	return merged
}
