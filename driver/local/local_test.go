package local

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gobeaver/imageguard"
)

func writeFile(t *testing.T, root, name string, data []byte) {
	t.Helper()
	path := filepath.Join(root, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestOpen(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "in/photo.JPG", []byte{0xFF, 0xD8, 0xFF, 0xE0, 1, 2, 3, 4})

	a, err := New(root)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f, err := a.Open(context.Background(), "in/photo.JPG")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	if f.Name() != "photo.JPG" || f.MIMEType() != "image/jpeg" || f.Size() != 8 {
		t.Errorf("Unexpected handle: %s %s %d", f.Name(), f.MIMEType(), f.Size())
	}
	buf := make([]byte, 3)
	if _, err := f.ReadAt(buf, 5); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if buf[0] != 2 || buf[2] != 4 {
		t.Errorf("Unexpected bytes: %v", buf)
	}
}

func TestOpenErrors(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "dir/a.png", []byte("x"))
	a, _ := New(root)

	tests := []struct {
		name string
		path string
		want error
	}{
		{"missing", "nope.jpg", imageguard.ErrNotExist},
		{"traversal", "../outside.jpg", imageguard.ErrNotAllowed},
		{"deep traversal", "dir/../../outside.jpg", imageguard.ErrNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.Open(context.Background(), tt.path)
			if !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}

	if _, err := a.Open(context.Background(), "dir"); err == nil {
		t.Error("Expected error for a directory")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := a.Open(ctx, "dir/a.png"); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestContentType(t *testing.T) {
	tests := map[string]string{
		"a.jpeg": "image/jpeg",
		"a.PNG":  "image/png",
		"a.tif":  "image/tiff",
		"a.heic": "image/heic",
		"a.HEIF": "image/heif",
		"noext":  "",
	}
	for name, want := range tests {
		if got := contentType(name); got != want {
			t.Errorf("contentType(%q) = %q, want %q", name, got, want)
		}
	}
}

func TestValidateThroughSource(t *testing.T) {
	root := t.TempDir()
	data := make([]byte, 1024)
	for i := range data {
		data[i] = byte(0x80 + i%0x7F)
	}
	copy(data, []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A})
	writeFile(t, root, "disguised.jpg", data)

	a, _ := New(root)
	f, err := a.Open(context.Background(), "disguised.jpg")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	result := imageguard.NewDefault().Validate(context.Background(), f, nil)
	if result.Code != imageguard.CodeSignatureMismatch || result.DetectedMIME != "image/png" {
		t.Errorf("Expected a PNG disguised as JPEG to be rejected, got %s %s", result.Code, result.DetectedMIME)
	}
}

func TestWatch(t *testing.T) {
	root := t.TempDir()
	if err := os.Mkdir(filepath.Join(root, "incoming"), 0o755); err != nil {
		t.Fatal(err)
	}
	a, _ := New(root)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	paths, _, err := a.Watch(ctx, "incoming", "*.jpg")
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}

	writeFile(t, root, "incoming/skip.txt", []byte("x"))
	writeFile(t, root, "incoming/photo.jpg", []byte("x"))

	select {
	case got := <-paths:
		if got != filepath.Join("incoming", "photo.jpg") {
			t.Errorf("Expected incoming/photo.jpg, got %s", got)
		}
	case <-ctx.Done():
		t.Fatal("Timed out waiting for watch event")
	}

	cancel()
	for range paths {
	}
}

func TestWatchErrors(t *testing.T) {
	a, _ := New(t.TempDir())
	if _, _, err := a.Watch(context.Background(), "../elsewhere", "*"); !errors.Is(err, imageguard.ErrNotAllowed) {
		t.Errorf("Expected ErrNotAllowed, got %v", err)
	}
	if _, _, err := a.Watch(context.Background(), ".", "[bad"); err == nil {
		t.Error("Expected error for a malformed pattern")
	}
	if _, _, err := a.Watch(context.Background(), "missing", "*"); err == nil {
		t.Error("Expected error for a missing directory")
	}
}

func TestRegisteredSource(t *testing.T) {
	root := t.TempDir()
	src, err := imageguard.OpenSource(&imageguard.Config{Source: "local", LocalBasePath: root})
	if err != nil {
		t.Fatalf("OpenSource: %v", err)
	}
	if src.(*Adapter).Root() != root {
		t.Errorf("Expected root %s, got %s", root, src.(*Adapter).Root())
	}
}
