package imageguard

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

// Gatekeeper performs the cheap structural checks that need no file I/O.
type Gatekeeper struct {
	minSize   int64
	maxSize   int64
	blocked   []namedGlob
	dangerous []string
	accepted  map[string]struct{}
	supported string
}

type namedGlob struct {
	pattern string
	glob    glob.Glob
}

// NewGatekeeper compiles the filename globs and accepted type set.
func NewGatekeeper(c Constraints) (*Gatekeeper, error) {
	c = c.withDefaults()
	g := &Gatekeeper{
		minSize:   c.MinFileSize,
		maxSize:   c.MaxFileSize,
		dangerous: append([]string(nil), c.DangerousChars...),
		accepted:  make(map[string]struct{}, len(c.AcceptedTypes)),
	}
	for _, pattern := range c.BlockedNames {
		compiled, err := glob.Compile(strings.ToLower(pattern))
		if err != nil {
			return nil, fmt.Errorf("invalid blocked name pattern %q: %w", pattern, err)
		}
		g.blocked = append(g.blocked, namedGlob{pattern: pattern, glob: compiled})
	}
	names := make([]string, 0, len(c.AcceptedTypes))
	for _, t := range c.AcceptedTypes {
		t = normalizeMIME(t)
		if t == "" {
			continue
		}
		if _, dup := g.accepted[t]; !dup {
			names = append(names, t)
		}
		g.accepted[t] = struct{}{}
	}
	g.supported = strings.Join(names, ", ")
	return g, nil
}

// Check runs every structural check in order and returns the first failure.
func (g *Gatekeeper) Check(f File) *ValidationError {
	if isNilFile(f) {
		return NewValidationError(CodeNoFile, "no file provided")
	}
	name := f.Name()
	if strings.TrimSpace(name) == "" {
		return NewValidationError(CodeNoFilename, "file name is required")
	}

	size := f.Size()
	switch {
	case size <= 0:
		return NewValidationError(CodeEmptyFile, "file is empty")
	case size < g.minSize:
		return newValidationErrorf(CodeFileTooSmall,
			"file size %s is too small to be a valid image (minimum %s)", FormatSize(size), FormatSize(g.minSize))
	case size > g.maxSize:
		return newValidationErrorf(CodeFileTooLarge,
			"file size %s exceeds maximum allowed %s", FormatSize(size), FormatSize(g.maxSize))
	}

	if reason := g.suspiciousName(name); reason != "" {
		return newValidationErrorf(CodeSuspiciousFilename, "suspicious file name %q: %s", name, reason)
	}

	declared := normalizeMIME(f.MIMEType())
	if declared == "" {
		return NewValidationError(CodeNoMimeType, "file type not specified")
	}
	if _, ok := g.accepted[declared]; !ok {
		return newValidationErrorf(CodeInvalidMimeType,
			"file type %s not allowed; supported types: %s", declared, g.supported)
	}
	return nil
}

// suspiciousName returns why name is rejected, or "" when it is acceptable.
func (g *Gatekeeper) suspiciousName(name string) string {
	lower := strings.ToLower(name)
	for _, b := range g.blocked {
		if b.glob.Match(lower) {
			return fmt.Sprintf("matches blocked pattern %s", b.pattern)
		}
	}
	if strings.Contains(name, "..") {
		return "contains path traversal sequence"
	}
	for _, char := range g.dangerous {
		if strings.Contains(name, char) {
			return fmt.Sprintf("contains invalid character %q", char)
		}
	}
	return ""
}

// FormatSize converts bytes to a human-readable string
func FormatSize(size int64) string {
	switch {
	case size >= MB:
		return fmt.Sprintf("%.2fMB", float64(size)/float64(MB))
	case size >= KB:
		return fmt.Sprintf("%.2fKB", float64(size)/float64(KB))
	default:
		return fmt.Sprintf("%d bytes", size)
	}
}
