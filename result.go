package imageguard

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/encoding/json"
)

// ValidationResult contains detailed information about a validation attempt
type ValidationResult struct {
	// ID identifies this validation in logs and caches
	ID string

	// Valid indicates whether the file passed every stage
	Valid bool

	// Sanitized is true when the pipeline completed and Metadata holds the
	// sanitized copy
	Sanitized bool

	// Code is the failure code, empty when valid or on infrastructure failure
	Code Code

	// Stage is the terminal pipeline state, StageDone or StageFailed
	Stage Stage

	// FailedStage is the stage that rejected the file
	FailedStage Stage

	// Filename is the name of the validated file
	Filename string

	// Size is the declared size in bytes
	Size int64

	// DeclaredMIME is the normalized client-declared type
	DeclaredMIME string

	// DetectedMIME is the type recognized from the leading bytes
	DetectedMIME string

	// Metadata is the sanitized metadata, set only when Sanitized is true
	Metadata Metadata

	// Errors contains the validation failure, if any
	Errors []ValidationError

	// Warnings contains non-blocking findings such as removed metadata fields
	Warnings []string

	// Duration is how long validation took
	Duration time.Duration

	// Checks contains details about each stage that ran
	Checks []CheckResult

	// Cached is true when the verdict came from a verdict cache
	Cached bool
}

// CheckResult represents the result of a single pipeline stage
type CheckResult struct {
	Stage   Stage
	Passed  bool
	Message string
	Took    time.Duration
}

// Report is the wire form of a result, exactly the fields clients see.
type Report struct {
	Valid     bool     `json:"valid"`
	Sanitized bool     `json:"sanitized"`
	Warnings  []string `json:"warnings,omitempty"`
	Errors    []string `json:"errors,omitempty"`
}

// Report returns the wire form of the result.
func (r *ValidationResult) Report() Report {
	report := Report{
		Valid:     r.Valid,
		Sanitized: r.Sanitized,
	}
	if len(r.Warnings) > 0 {
		report.Warnings = append([]string(nil), r.Warnings...)
	}
	for _, e := range r.Errors {
		report.Errors = append(report.Errors, e.Message)
	}
	return report
}

// MarshalJSON encodes the wire form.
func (r *ValidationResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Report())
}

// Error returns the failure as an error, nil if valid
func (r *ValidationResult) Error() error {
	if r.Valid || len(r.Errors) == 0 {
		return nil
	}
	return &r.Errors[0]
}

// Summary returns a human-readable summary of the validation
func (r *ValidationResult) Summary() string {
	if r.Valid {
		return fmt.Sprintf("✓ %s (%s, %s) validated in %v",
			r.Filename,
			r.DetectedMIME,
			FormatSize(r.Size),
			r.Duration.Round(time.Microsecond),
		)
	}
	if len(r.Errors) == 0 {
		return fmt.Sprintf("✗ %s failed", r.Filename)
	}
	return fmt.Sprintf("✗ %s failed at %s: %s",
		r.Filename,
		r.FailedStage,
		r.Errors[0].Message,
	)
}

// HasWarnings returns true if there are any warnings
func (r *ValidationResult) HasWarnings() bool {
	return len(r.Warnings) > 0
}

// FailedChecks returns only the checks that failed
func (r *ValidationResult) FailedChecks() []CheckResult {
	var failed []CheckResult
	for _, check := range r.Checks {
		if !check.Passed {
			failed = append(failed, check)
		}
	}
	return failed
}

// warningText joins warnings for log lines.
func (r *ValidationResult) warningText() string {
	return strings.Join(r.Warnings, "; ")
}

// ResultBuilder helps construct ValidationResult
type ResultBuilder struct {
	result    ValidationResult
	startTime time.Time
}

// NewResultBuilder creates a new result builder
func NewResultBuilder(filename string, size int64) *ResultBuilder {
	return &ResultBuilder{
		result: ValidationResult{
			ID:       uuid.NewString(),
			Filename: filename,
			Size:     size,
			Stage:    StageStart,
			Checks:   make([]CheckResult, 0, 4),
		},
		startTime: time.Now(),
	}
}

// SetDeclaredMIME sets the normalized declared type
func (b *ResultBuilder) SetDeclaredMIME(mime string) *ResultBuilder {
	b.result.DeclaredMIME = mime
	return b
}

// SetDetectedMIME sets the detected type
func (b *ResultBuilder) SetDetectedMIME(mime string) *ResultBuilder {
	b.result.DetectedMIME = mime
	return b
}

// Pass records a passed stage
func (b *ResultBuilder) Pass(stage Stage, took time.Duration) *ResultBuilder {
	b.result.Stage = stage
	b.result.Checks = append(b.result.Checks, CheckResult{
		Stage:  stage,
		Passed: true,
		Took:   took,
	})
	return b
}

// Fail records the failing stage and moves the result to StageFailed
func (b *ResultBuilder) Fail(stage Stage, verr *ValidationError, took time.Duration) *ResultBuilder {
	b.result.Checks = append(b.result.Checks, CheckResult{
		Stage:   stage,
		Passed:  false,
		Message: verr.Message,
		Took:    took,
	})
	b.result.Stage = StageFailed
	b.result.FailedStage = stage
	b.result.Code = verr.Code
	b.result.Errors = append(b.result.Errors, *verr)
	return b
}

// AddWarning adds a warning (non-blocking)
func (b *ResultBuilder) AddWarning(message string) *ResultBuilder {
	b.result.Warnings = append(b.result.Warnings, message)
	return b
}

// AddWarnings adds several warnings
func (b *ResultBuilder) AddWarnings(messages []string) *ResultBuilder {
	b.result.Warnings = append(b.result.Warnings, messages...)
	return b
}

// Complete marks the pipeline as done with the sanitized metadata
func (b *ResultBuilder) Complete(md Metadata) *ResultBuilder {
	b.result.Stage = StageDone
	b.result.Valid = true
	b.result.Sanitized = true
	b.result.Metadata = md
	return b
}

// Build finalizes and returns the ValidationResult
func (b *ResultBuilder) Build() *ValidationResult {
	b.result.Duration = time.Since(b.startTime)
	return &b.result
}
