package local

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/gobeaver/imageguard"
)

// Adapter opens files below a root directory as candidate uploads.
type Adapter struct {
	root string
}

// New creates a new local source rooted at root
func New(root string) (*Adapter, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	return &Adapter{root: absRoot}, nil
}

// Root returns the absolute root directory.
func (a *Adapter) Root() string {
	return a.root
}

// Open implements imageguard.Source. The declared type is derived from the
// file extension, the same way a browser would label the upload.
func (a *Adapter) Open(ctx context.Context, path string) (imageguard.Handle, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	fullPath, err := a.resolve(path)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(fullPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("open %s: %w", path, imageguard.ErrNotExist)
	}
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}

	f, err := os.Open(fullPath)
	if err != nil {
		return nil, err
	}

	return &file{
		f:        f,
		name:     filepath.Base(fullPath),
		mimeType: contentType(fullPath),
		size:     info.Size(),
	}, nil
}

func (a *Adapter) resolve(path string) (string, error) {
	fullPath := filepath.Join(a.root, filepath.Clean(path))
	if !isPathUnderRoot(a.root, fullPath) {
		return "", fmt.Errorf("open %s: %w", path, imageguard.ErrNotAllowed)
	}
	return fullPath, nil
}

type file struct {
	f        *os.File
	name     string
	mimeType string
	size     int64
}

func (f *file) Name() string     { return f.name }
func (f *file) MIMEType() string { return f.mimeType }
func (f *file) Size() int64      { return f.size }
func (f *file) Close() error     { return f.f.Close() }

func (f *file) ReadAt(p []byte, off int64) (int, error) {
	return f.f.ReadAt(p, off)
}

// isPathUnderRoot checks if a path is under a given root directory
func isPathUnderRoot(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}

	return !filepath.IsAbs(rel) && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// imageTypes covers extensions the system MIME table often lacks.
var imageTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
	".heic": "image/heic",
	".heif": "image/heif",
}

// contentType tries to determine the content type of a file
func contentType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if t, ok := imageTypes[ext]; ok {
		return t
	}
	if ext != "" {
		return mime.TypeByExtension(ext)
	}
	return ""
}

var _ imageguard.Source = (*Adapter)(nil)
