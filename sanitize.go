package imageguard

import (
	"fmt"
	"html"
	"math"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// Metadata is a raw or sanitized metadata map. Values are strings, numbers,
// booleans, nested maps or slices of those.
type Metadata map[string]any

var (
	controlChars     = regexp.MustCompile(`[\x00-\x08\x0B\x0C\x0E-\x1F\x7F]`)
	dangerousSchemes = regexp.MustCompile(`(?i)(javascript|vbscript|data):`)
)

// minCleanPasses is the floor of the pass budget in cleanString. The budget
// grows with the input so that no fixed point is cut short.
const minCleanPasses = 8

// Sanitizer produces a cleaned copy of a metadata map. It never fails and is
// idempotent: sanitizing its own output changes nothing and warns about nothing.
type Sanitizer struct {
	denied   map[string]struct{}
	maxLen   int
	maxDepth int
	marker   string
	policy   *bluemonday.Policy
}

// NewSanitizer creates a sanitizer from the metadata-related constraints.
func NewSanitizer(c Constraints) *Sanitizer {
	c = c.withDefaults()
	denied := make(map[string]struct{}, len(c.DeniedFields))
	for _, field := range c.DeniedFields {
		denied[strings.ToLower(field)] = struct{}{}
	}
	return &Sanitizer{
		denied:   denied,
		maxLen:   c.MaxStringLength,
		maxDepth: c.MaxMetadataDepth,
		marker:   DefaultTruncationMarker,
		policy:   bluemonday.StrictPolicy(),
	}
}

// Sanitize returns a sanitized copy of md together with one warning per
// removed or modified field. md itself is left untouched.
func (s *Sanitizer) Sanitize(md Metadata) (Metadata, []string) {
	var warnings []string
	out := s.sanitizeMap(md, "", 1, &warnings)
	return out, warnings
}

func (s *Sanitizer) sanitizeMap(m map[string]any, path string, depth int, warnings *[]string) Metadata {
	out := make(Metadata, len(m))
	for _, key := range sortedKeys(m) {
		fieldPath := joinPath(path, key)
		if s.isDenied(key) {
			*warnings = append(*warnings, fmt.Sprintf("removed potentially dangerous field: %s", fieldPath))
			continue
		}
		if v, keep := s.sanitizeValue(key, m[key], fieldPath, depth, warnings); keep {
			out[key] = v
		}
	}
	return out
}

func (s *Sanitizer) sanitizeValue(key string, value any, path string, depth int, warnings *[]string) (any, bool) {
	switch v := value.(type) {
	case string:
		clean := s.SanitizeString(v)
		if clean != v {
			*warnings = append(*warnings, fmt.Sprintf("sanitized field: %s", path))
		}
		return clean, true
	case Metadata:
		return s.sanitizeNested(map[string]any(v), path, depth, warnings)
	case map[string]any:
		return s.sanitizeNested(v, path, depth, warnings)
	case []any:
		if depth+1 > s.maxDepth {
			*warnings = append(*warnings, fmt.Sprintf("removed field exceeding maximum nesting depth: %s", path))
			return nil, false
		}
		out := make([]any, 0, len(v))
		for i, elem := range v {
			if clean, keep := s.sanitizeValue(key, elem, fmt.Sprintf("%s[%d]", path, i), depth+1, warnings); keep {
				out = append(out, clean)
			}
		}
		return out, true
	case []string:
		out := make([]string, len(v))
		for i, elem := range v {
			out[i] = s.SanitizeString(elem)
			if out[i] != elem {
				*warnings = append(*warnings, fmt.Sprintf("sanitized field: %s[%d]", path, i))
			}
		}
		return out, true
	default:
		clean, changed := sanitizeNumber(key, value)
		if changed {
			*warnings = append(*warnings, fmt.Sprintf("adjusted numeric field: %s", path))
		}
		return clean, true
	}
}

func (s *Sanitizer) sanitizeNested(m map[string]any, path string, depth int, warnings *[]string) (any, bool) {
	if depth+1 > s.maxDepth {
		*warnings = append(*warnings, fmt.Sprintf("removed field exceeding maximum nesting depth: %s", path))
		return nil, false
	}
	return s.sanitizeMap(m, path, depth+1, warnings), true
}

func (s *Sanitizer) isDenied(key string) bool {
	_, ok := s.denied[strings.ToLower(key)]
	return ok
}

// SanitizeString strips control characters, markup and script-capable URI
// schemes, trims the result and caps its length.
func (s *Sanitizer) SanitizeString(value string) string {
	clean := s.cleanString(value)
	if utf8.RuneCountInString(clean) <= s.maxLen || s.isTruncated(clean) {
		return clean
	}
	runes := []rune(clean)
	return s.cleanString(string(runes[:s.maxLen])) + s.marker
}

func (s *Sanitizer) cleanString(value string) string {
	for range len(value) + minCleanPasses {
		next := controlChars.ReplaceAllString(value, "")
		next = html.UnescapeString(s.policy.Sanitize(unescapeAll(next)))
		next = dangerousSchemes.ReplaceAllString(next, "")
		if next == value {
			break
		}
		value = next
	}
	return strings.TrimSpace(value)
}

// unescapeAll decodes entities until none are left, so markup hidden under
// any number of encoding layers reaches the policy in one pass. Decoding
// never creates more '&' than it consumes, and a step that keeps the count
// shortens the string, so the loop ends.
func unescapeAll(value string) string {
	for {
		next := html.UnescapeString(value)
		if next == value {
			return value
		}
		value = next
	}
}

// isTruncated recognizes output of an earlier truncation so a second pass
// leaves it alone.
func (s *Sanitizer) isTruncated(value string) bool {
	return strings.HasSuffix(value, s.marker) &&
		utf8.RuneCountInString(value) <= s.maxLen+utf8.RuneCountInString(s.marker)
}

type integer interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64
}

// sanitizeNumber normalizes numeric values and reports whether it changed
// them. Non-numeric values pass through untouched.
func sanitizeNumber(key string, value any) (any, bool) {
	switch n := value.(type) {
	case float64:
		clean := sanitizeFloat(key, n)
		return clean, math.IsNaN(n) || clean != n
	case float32:
		clean := float32(sanitizeFloat(key, float64(n)))
		return clean, math.IsNaN(float64(n)) || clean != n
	case int:
		return sanitizeInteger(key, n)
	case int8:
		return sanitizeInteger(key, n)
	case int16:
		return sanitizeInteger(key, n)
	case int32:
		return sanitizeInteger(key, n)
	case int64:
		return sanitizeInteger(key, n)
	case uint:
		return sanitizeInteger(key, n)
	case uint8:
		return sanitizeInteger(key, n)
	case uint16:
		return sanitizeInteger(key, n)
	case uint32:
		return sanitizeInteger(key, n)
	case uint64:
		return sanitizeInteger(key, n)
	default:
		return value, false
	}
}

func sanitizeInteger[T integer](key string, n T) (any, bool) {
	clean := T(sanitizeFloat(key, float64(n)))
	return clean, clean != n
}

// sanitizeFloat replaces non-finite values with zero, clamps coordinates to
// their valid ranges and zeroes magnitudes beyond exact integer precision.
func sanitizeFloat(key string, v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	lower := strings.ToLower(key)
	switch {
	case strings.Contains(lower, "latitude"):
		v = math.Max(-90, math.Min(90, v))
	case strings.Contains(lower, "longitude"):
		v = math.Max(-180, math.Min(180, v))
	}
	if math.Abs(v) > MaxSafeInteger {
		return 0
	}
	return v
}

// exceedsDepth reports whether value nests containers deeper than max.
// It stops descending at max, so cyclic maps terminate.
func exceedsDepth(value any, depth, limit int) bool {
	if depth > limit {
		return true
	}
	switch v := value.(type) {
	case Metadata:
		return exceedsDepth(map[string]any(v), depth, limit)
	case map[string]any:
		for _, child := range v {
			if isContainer(child) && exceedsDepth(child, depth+1, limit) {
				return true
			}
		}
	case []any:
		for _, child := range v {
			if isContainer(child) && exceedsDepth(child, depth+1, limit) {
				return true
			}
		}
	}
	return false
}

func isContainer(value any) bool {
	switch value.(type) {
	case Metadata, map[string]any, []any:
		return true
	}
	return false
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func joinPath(parent, key string) string {
	if parent == "" {
		return key
	}
	return parent + "." + key
}
