package zip

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/gobeaver/imageguard"
)

// ErrCompressionRatio is returned for entries that expand suspiciously far.
var ErrCompressionRatio = errors.New("suspicious compression ratio")

// Limits bound what an archive may contain before any entry is opened.
type Limits struct {
	// MaxCompressionRatio is the largest uncompressed/compressed ratio an
	// entry may have. Zip bombs often exceed 1000:1.
	MaxCompressionRatio float64

	// MaxFiles caps the number of entries.
	MaxFiles int

	// MaxUncompressedSize caps the total expanded size.
	MaxUncompressedSize int64
}

// DefaultLimits returns 100:1, 1000 files and 1 GiB.
func DefaultLimits() Limits {
	return Limits{
		MaxCompressionRatio: 100,
		MaxFiles:            1000,
		MaxUncompressedSize: 1024 * imageguard.MB,
	}
}

// Adapter serves the entries of an uploaded ZIP bundle as candidate files.
// Stored entries are read in place; deflated entries are decompressed from
// the start on every read, which stays cheap because the pipeline only
// reads the leading sample.
type Adapter struct {
	mu      sync.RWMutex
	path    string
	file    *os.File
	reader  *zip.Reader
	entries map[string]*zip.File
	limits  Limits
}

// Open opens the archive at zipPath and checks it against limits.
func Open(zipPath string, limits Limits) (*Adapter, error) {
	f, err := os.Open(zipPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open zip: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	reader, err := zip.NewReader(f, info.Size())
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to read zip: %w", err)
	}

	a := &Adapter{
		path:    zipPath,
		file:    f,
		reader:  reader,
		entries: make(map[string]*zip.File),
		limits:  limits,
	}
	if err := a.index(); err != nil {
		f.Close()
		return nil, err
	}
	return a, nil
}

func (a *Adapter) index() error {
	if a.limits.MaxFiles > 0 && len(a.reader.File) > a.limits.MaxFiles {
		return fmt.Errorf("archive contains too many files: %d (max: %d)", len(a.reader.File), a.limits.MaxFiles)
	}
	var total uint64
	for _, zf := range a.reader.File {
		total += zf.UncompressedSize64
		if a.limits.MaxUncompressedSize > 0 && total > uint64(a.limits.MaxUncompressedSize) {
			return fmt.Errorf("archive would expand beyond %d bytes", a.limits.MaxUncompressedSize)
		}
		if zf.FileInfo().IsDir() || !isValidPath(zf.Name) {
			continue
		}
		if name := normalizePath(zf.Name); name != "" {
			a.entries[name] = zf
		}
	}
	return nil
}

// Entries lists the openable entry names in sorted order.
func (a *Adapter) Entries() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	names := make([]string, 0, len(a.entries))
	for name := range a.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close releases the archive file.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file == nil {
		return nil
	}
	err := a.file.Close()
	a.file = nil
	a.entries = map[string]*zip.File{}
	return err
}

// Open implements imageguard.Source. The declared type of an entry is taken
// from its extension.
func (a *Adapter) Open(ctx context.Context, entryPath string) (imageguard.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !isValidPath(entryPath) {
		return nil, fmt.Errorf("open %s: %w", entryPath, imageguard.ErrNotAllowed)
	}

	a.mu.RLock()
	zf, ok := a.entries[normalizePath(entryPath)]
	archive := a.file
	a.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("open %s: %w", entryPath, imageguard.ErrNotExist)
	}

	if zf.CompressedSize64 > 0 && a.limits.MaxCompressionRatio > 0 {
		ratio := float64(zf.UncompressedSize64) / float64(zf.CompressedSize64)
		if ratio > a.limits.MaxCompressionRatio {
			return nil, fmt.Errorf("open %s: %w %.2f:1 (max: %.2f:1)", entryPath, ErrCompressionRatio, ratio, a.limits.MaxCompressionRatio)
		}
	}

	e := &entry{
		zf:       zf,
		name:     path.Base(zf.Name),
		mimeType: contentType(zf.Name),
		size:     int64(zf.UncompressedSize64),
	}
	if zf.Method == zip.Store {
		offset, err := zf.DataOffset()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", entryPath, err)
		}
		e.stored = io.NewSectionReader(archive, offset, e.size)
	}
	return e, nil
}

type entry struct {
	zf       *zip.File
	stored   *io.SectionReader
	name     string
	mimeType string
	size     int64
}

func (e *entry) Name() string     { return e.name }
func (e *entry) MIMEType() string { return e.mimeType }
func (e *entry) Size() int64      { return e.size }
func (e *entry) Close() error     { return nil }

func (e *entry) ReadAt(p []byte, off int64) (int, error) {
	if e.stored != nil {
		return e.stored.ReadAt(p, off)
	}
	if off < 0 {
		return 0, errors.New("negative offset")
	}
	if off >= e.size {
		return 0, io.EOF
	}
	rc, err := e.zf.Open()
	if err != nil {
		return 0, err
	}
	defer rc.Close()
	if _, err := io.CopyN(io.Discard, rc, off); err != nil {
		return 0, err
	}
	n, err := io.ReadFull(rc, p)
	if errors.Is(err, io.ErrUnexpectedEOF) {
		err = io.EOF
	}
	return n, err
}

// normalizePath normalizes an entry path
func normalizePath(p string) string {
	p = strings.TrimPrefix(p, "/")
	p = strings.TrimSuffix(p, "/")
	if p == "" || p == "." {
		return ""
	}
	return path.Clean(p)
}

// isValidPath checks if path is valid (no traversal)
func isValidPath(p string) bool {
	return !strings.Contains(p, "..")
}

var imageTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".heic": "image/heic",
	".heif": "image/heif",
}

func contentType(name string) string {
	ext := strings.ToLower(path.Ext(name))
	if t, ok := imageTypes[ext]; ok {
		return t
	}
	if ext == "" {
		return ""
	}
	return mime.TypeByExtension(ext)
}

var _ imageguard.Source = (*Adapter)(nil)
