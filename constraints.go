package imageguard

import "math"

// Size constants for easier size configuration
const (
	KB = int64(1024)
	MB = KB * 1024
)

const (
	// DefaultMinFileSize rejects payloads too small to hold a real image.
	DefaultMinFileSize = 100
	// DefaultMaxFileSize is 50 MiB.
	DefaultMaxFileSize = 50 * MB

	// HeaderSampleSize is how many leading bytes the signature check reads.
	HeaderSampleSize = 32
	// DefaultContentSampleSize bounds the content threat scan.
	DefaultContentSampleSize = 64 * KB
	// EntropySampleSize is the window for the entropy heuristic. Untyped so it
	// compares against both slice lengths and declared sizes.
	EntropySampleSize = 4 * 1024
	// RepetitionSampleSize is the window for the repetition heuristic.
	RepetitionSampleSize = 8 * 1024

	DefaultEntropyThreshold   = 3.0
	DefaultRepetitionRatio    = 0.8
	DefaultMaxStringLength    = 1000
	DefaultMaxMetadataDepth   = 32
	DefaultTruncationMarker   = "..."
	defaultRepetitionChunk    = 4
	defaultRepetitionMinBytes = 40

	// MaxSafeInteger is the largest integer a float64 represents exactly.
	MaxSafeInteger = 1<<53 - 1
)

// SupportedMIMETypes lists every declared type the pipeline can verify.
// "image/jpg" is accepted as an alias of "image/jpeg".
var SupportedMIMETypes = []string{
	"image/jpeg",
	"image/jpg",
	"image/png",
	"image/tiff",
	"image/heic",
	"image/heif",
}

// DefaultBlockedNames are filename globs rejected as SuspiciousFilename.
// Matching is case-insensitive.
var DefaultBlockedNames = []string{
	"*.exe", "*.bat", "*.cmd", "*.scr", "*.pif", "*.com", "*.vbs", "*.js",
	"*.jar", "*.app", "*.php", "*.asp", "*.jsp", "*.cgi", "*.pl", "*.py",
	"*.rb", "*.htaccess", "*.htpasswd", "*.config",
}

// DefaultDangerousChars may never appear in a file name.
var DefaultDangerousChars = []string{"<", ">", ":", "\"", "|", "?", "*"}

// DefaultDeniedFields are free-text metadata keys dropped by the sanitizer.
var DefaultDeniedFields = []string{
	"MakerNote",
	"UserComment",
	"ImageDescription",
	"Artist",
	"Copyright",
	"Software",
	"ProcessingSoftware",
	"DocumentName",
	"PageName",
	"XPTitle",
	"XPComment",
	"XPAuthor",
	"XPKeywords",
	"XPSubject",
}

// Constraints defines the configuration for image validation
type Constraints struct {
	// MinFileSize is the minimum allowed file size in bytes
	MinFileSize int64

	// MaxFileSize is the maximum allowed file size in bytes
	// Use the provided constants for readable configuration, e.g., 10 * MB
	MaxFileSize int64

	// AcceptedTypes is the subset of SupportedMIMETypes this validator allows
	AcceptedTypes []string

	// BlockedNames are glob patterns matched against the lower-cased file name
	BlockedNames []string

	// DangerousChars are substrings that make a file name suspicious
	DangerousChars []string

	// DeniedFields are metadata keys removed during sanitization
	DeniedFields []string

	// ContentSampleSize is how many leading bytes the threat scan inspects
	ContentSampleSize int64

	// EntropyThreshold in bits per byte; header samples below it look like a compression bomb
	EntropyThreshold float64

	// RepetitionRatio above which a sample counts as repeated filler
	RepetitionRatio float64

	// MaxStringLength caps sanitized metadata strings, in characters
	MaxStringLength int

	// MaxMetadataDepth bounds map and slice nesting in metadata
	MaxMetadataDepth int

	// MaxPixels enables the decoded-dimension check when positive
	MaxPixels int
}

// DefaultConstraints creates a new set of constraints with the standard limits
func DefaultConstraints() Constraints {
	return Constraints{
		MinFileSize:       DefaultMinFileSize,
		MaxFileSize:       DefaultMaxFileSize,
		AcceptedTypes:     append([]string(nil), SupportedMIMETypes...),
		BlockedNames:      append([]string(nil), DefaultBlockedNames...),
		DangerousChars:    append([]string(nil), DefaultDangerousChars...),
		DeniedFields:      append([]string(nil), DefaultDeniedFields...),
		ContentSampleSize: DefaultContentSampleSize,
		EntropyThreshold:  DefaultEntropyThreshold,
		RepetitionRatio:   DefaultRepetitionRatio,
		MaxStringLength:   DefaultMaxStringLength,
		MaxMetadataDepth:  DefaultMaxMetadataDepth,
	}
}

// withDefaults fills zero values so a partially specified Constraints still
// behaves like the defaults for the fields it leaves out.
func (c Constraints) withDefaults() Constraints {
	d := DefaultConstraints()
	if c.MinFileSize <= 0 {
		c.MinFileSize = d.MinFileSize
	}
	if c.MaxFileSize <= 0 {
		c.MaxFileSize = d.MaxFileSize
	}
	if len(c.AcceptedTypes) == 0 {
		c.AcceptedTypes = d.AcceptedTypes
	}
	if c.BlockedNames == nil {
		c.BlockedNames = d.BlockedNames
	}
	if c.DangerousChars == nil {
		c.DangerousChars = d.DangerousChars
	}
	if c.DeniedFields == nil {
		c.DeniedFields = d.DeniedFields
	}
	if c.ContentSampleSize <= 0 {
		c.ContentSampleSize = d.ContentSampleSize
	}
	if c.ContentSampleSize < RepetitionSampleSize {
		c.ContentSampleSize = RepetitionSampleSize
	}
	if c.EntropyThreshold <= 0 || math.IsNaN(c.EntropyThreshold) {
		c.EntropyThreshold = d.EntropyThreshold
	}
	if c.RepetitionRatio <= 0 || c.RepetitionRatio > 1 {
		c.RepetitionRatio = d.RepetitionRatio
	}
	if c.MaxStringLength <= 0 {
		c.MaxStringLength = d.MaxStringLength
	}
	if c.MaxMetadataDepth <= 0 {
		c.MaxMetadataDepth = d.MaxMetadataDepth
	}
	return c
}
