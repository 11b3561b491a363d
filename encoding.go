package imageguard

import (
	"time"

	"github.com/segmentio/encoding/json"
)

// record is the storage form of a result, used by out-of-process caches.
// Unlike the wire Report it keeps every field.
type record struct {
	Valid        bool              `json:"valid"`
	Sanitized    bool              `json:"sanitized"`
	Code         Code              `json:"code,omitempty"`
	Stage        Stage             `json:"stage"`
	FailedStage  Stage             `json:"failed_stage,omitempty"`
	Filename     string            `json:"filename"`
	Size         int64             `json:"size"`
	DeclaredMIME string            `json:"declared_mime,omitempty"`
	DetectedMIME string            `json:"detected_mime,omitempty"`
	Metadata     Metadata          `json:"metadata,omitempty"`
	Errors       []ValidationError `json:"errors,omitempty"`
	Warnings     []string          `json:"warnings,omitempty"`
	Checks       []CheckResult     `json:"checks,omitempty"`
	Duration     time.Duration     `json:"duration"`
}

// EncodeResult serializes every field of r except its ID.
func EncodeResult(r *ValidationResult) ([]byte, error) {
	return json.Marshal(record{
		Valid:        r.Valid,
		Sanitized:    r.Sanitized,
		Code:         r.Code,
		Stage:        r.Stage,
		FailedStage:  r.FailedStage,
		Filename:     r.Filename,
		Size:         r.Size,
		DeclaredMIME: r.DeclaredMIME,
		DetectedMIME: r.DetectedMIME,
		Metadata:     r.Metadata,
		Errors:       r.Errors,
		Warnings:     r.Warnings,
		Checks:       r.Checks,
		Duration:     r.Duration,
	})
}

// DecodeResult is the inverse of EncodeResult. Numbers inside Metadata come
// back as float64.
func DecodeResult(data []byte) (*ValidationResult, error) {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &ValidationResult{
		Valid:        rec.Valid,
		Sanitized:    rec.Sanitized,
		Code:         rec.Code,
		Stage:        rec.Stage,
		FailedStage:  rec.FailedStage,
		Filename:     rec.Filename,
		Size:         rec.Size,
		DeclaredMIME: rec.DeclaredMIME,
		DetectedMIME: rec.DetectedMIME,
		Metadata:     rec.Metadata,
		Errors:       rec.Errors,
		Warnings:     rec.Warnings,
		Checks:       rec.Checks,
		Duration:     rec.Duration,
	}, nil
}
