package imageguard

import (
	"encoding/base64"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// contentField names the content sample in diagnostics.
const contentField = "file_content"

// ThreatScanner looks for active content, encoded payloads, injection
// strings and compression-bomb shapes. It holds only immutable tables.
type ThreatScanner struct {
	patterns         *PatternSet
	entropyThreshold float64
	repetitionRatio  float64
	maxDepth         int
	maxPixels        int
}

// NewThreatScanner creates a scanner over patterns. A nil set uses the
// built-in rules.
func NewThreatScanner(c Constraints, patterns *PatternSet) *ThreatScanner {
	c = c.withDefaults()
	if patterns == nil {
		patterns = DefaultPatternSet()
	}
	return &ThreatScanner{
		patterns:         patterns,
		entropyThreshold: c.EntropyThreshold,
		repetitionRatio:  c.RepetitionRatio,
		maxDepth:         c.MaxMetadataDepth,
		maxPixels:        c.MaxPixels,
	}
}

// ScanString checks one value. Injection rules only apply when checkSQL is
// set, since they are meaningless against binary content.
func (s *ThreatScanner) ScanString(field, value string, checkSQL bool) *ValidationError {
	text := norm.NFKC.String(value)

	if rule, ok := s.patterns.MatchThreat(text); ok {
		return newValidationErrorf(CodeMaliciousContent, "malicious content detected in %s: %s", field, rule.Name)
	}

	for _, candidate := range base64Candidate.FindAllString(text, -1) {
		decoded, ok := decodeBase64(candidate)
		if !ok {
			continue
		}
		plain := norm.NFKC.String(strings.ToValidUTF8(string(decoded), "�"))
		if rule, hit := s.patterns.MatchThreat(plain); hit {
			return newValidationErrorf(CodeSuspiciousEncoding, "suspicious encoded content detected in %s: %s", field, rule.Name)
		}
	}

	if checkSQL {
		if rule, ok := s.patterns.MatchInjection(text); ok {
			return newValidationErrorf(CodeSQLInjection, "SQL injection pattern detected in %s: %s", field, rule.Name)
		}
	}
	return nil
}

// ScanMetadata checks every key and string value, walking nested maps and
// slices in sorted key order. Nesting beyond the depth limit fails closed.
func (s *ThreatScanner) ScanMetadata(md Metadata) *ValidationError {
	if exceedsDepth(md, 1, s.maxDepth) {
		return newValidationErrorf(CodeMaliciousContent, "metadata nesting exceeds maximum depth %d", s.maxDepth)
	}
	return s.scanMap(md, "")
}

func (s *ThreatScanner) scanMap(m map[string]any, path string) *ValidationError {
	for _, key := range sortedKeys(m) {
		fieldPath := joinPath(path, key)
		if verr := s.ScanString(fmt.Sprintf("metadata key %q", fieldPath), key, false); verr != nil {
			return verr
		}
		if verr := s.scanValue(m[key], fieldPath); verr != nil {
			return verr
		}
	}
	return nil
}

func (s *ThreatScanner) scanValue(value any, path string) *ValidationError {
	switch v := value.(type) {
	case string:
		return s.ScanString(path, v, true)
	case []string:
		for i, elem := range v {
			if verr := s.ScanString(fmt.Sprintf("%s[%d]", path, i), elem, true); verr != nil {
				return verr
			}
		}
	case Metadata:
		return s.scanMap(v, path)
	case map[string]any:
		return s.scanMap(v, path)
	case []any:
		for i, elem := range v {
			if verr := s.scanValue(elem, fmt.Sprintf("%s[%d]", path, i)); verr != nil {
				return verr
			}
		}
	}
	return nil
}

// ScanContent checks the content sample, decoded leniently as UTF-8.
func (s *ThreatScanner) ScanContent(sample []byte) *ValidationError {
	if len(sample) == 0 {
		return nil
	}
	return s.ScanString(contentField, strings.ToValidUTF8(string(sample), "�"), false)
}

// CheckCompression applies the entropy and repetition heuristics to the
// leading sample of a file of the given declared size.
func (s *ThreatScanner) CheckCompression(sample []byte, size int64) *ValidationError {
	if LooksCompressible(sample, size, s.entropyThreshold) {
		return newValidationErrorf(CodeCompressionBomb,
			"potential compression bomb detected: header entropy %.2f bits/byte", ShannonEntropy(sample[:EntropySampleSize]))
	}
	window := sample
	if len(window) > RepetitionSampleSize {
		window = window[:RepetitionSampleSize]
	}
	if ratio := RepetitionRatio(window); ratio > s.repetitionRatio {
		return newValidationErrorf(CodeCompressionBomb,
			"potential compression bomb detected: %.0f%% repeated content", ratio*100)
	}
	return nil
}

// CheckDimensions decodes only the image header and rejects pixel counts over
// the configured limit. It is disabled unless MaxPixels is set. Formats the
// standard decoders cannot parse are skipped with a warning string.
func (s *ThreatScanner) CheckDimensions(r io.ReaderAt, size int64) (*ValidationError, string) {
	if s.maxPixels <= 0 {
		return nil, ""
	}
	cfg, format, err := image.DecodeConfig(io.NewSectionReader(r, 0, size))
	if err != nil {
		return nil, fmt.Sprintf("image dimensions unavailable: %v", err)
	}
	if pixels := cfg.Width * cfg.Height; pixels > s.maxPixels {
		return newValidationErrorf(CodeCompressionBomb,
			"%s image of %dx%d pixels exceeds maximum %d", format, cfg.Width, cfg.Height, s.maxPixels), ""
	}
	return nil, ""
}

// decodeBase64 tries padded then unpadded decoding; failures mean the run
// was not base64 at all.
func decodeBase64(s string) ([]byte, bool) {
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, true
	}
	if b, err := base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "=")); err == nil {
		return b, true
	}
	return nil, false
}
