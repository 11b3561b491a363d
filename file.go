package imageguard

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"reflect"
	"strings"
)

// File is an untrusted candidate upload. The pipeline never mutates it and
// only ever reads bounded byte ranges through ReadAt.
type File interface {
	io.ReaderAt

	// Name is the client-supplied file name.
	Name() string

	// MIMEType is the client-declared media type.
	MIMEType() string

	// Size is the declared byte length.
	Size() int64
}

// isNilFile reports whether f is nil or an interface holding a nil pointer.
func isNilFile(f File) bool {
	if f == nil {
		return true
	}
	v := reflect.ValueOf(f)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Interface, reflect.Chan:
		return v.IsNil()
	}
	return false
}

// Handle is a File that holds resources, as returned by a Source.
type Handle interface {
	File
	io.Closer
}

type readerAtFile struct {
	name     string
	mimeType string
	size     int64
	r        io.ReaderAt
}

func (f *readerAtFile) Name() string     { return f.name }
func (f *readerAtFile) MIMEType() string { return f.mimeType }
func (f *readerAtFile) Size() int64      { return f.size }

func (f *readerAtFile) ReadAt(p []byte, off int64) (int, error) {
	return f.r.ReadAt(p, off)
}

// NewFile wraps an in-memory payload.
func NewFile(name, mimeType string, data []byte) File {
	return &readerAtFile{
		name:     name,
		mimeType: mimeType,
		size:     int64(len(data)),
		r:        bytes.NewReader(data),
	}
}

// NewReaderAtFile wraps any random-access reader with an explicit declared size.
func NewReaderAtFile(name, mimeType string, r io.ReaderAt, size int64) File {
	return &readerAtFile{name: name, mimeType: mimeType, size: size, r: r}
}

type multipartFile struct {
	readerAtFile
	closer io.Closer
}

func (f *multipartFile) Close() error { return f.closer.Close() }

// FromFileHeader opens a multipart upload. The declared type comes from the
// part's Content-Type header, exactly as the client sent it.
func FromFileHeader(header *multipart.FileHeader) (Handle, error) {
	if header == nil {
		return nil, errors.New("nil file header")
	}
	f, err := header.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open multipart file: %w", err)
	}
	return &multipartFile{
		readerAtFile: readerAtFile{
			name:     header.Filename,
			mimeType: header.Header.Get("Content-Type"),
			size:     header.Size,
			r:        f,
		},
		closer: f,
	}, nil
}

// RangeFetcher returns a reader over length bytes starting at offset.
type RangeFetcher func(ctx context.Context, offset, length int64) (io.ReadCloser, error)

type rangeFile struct {
	readerAtFile
	ctx   context.Context
	fetch RangeFetcher
}

// NewRangeFile builds a File whose reads are served by ranged requests, so
// remote objects are never downloaded in full. ctx bounds every fetch.
func NewRangeFile(ctx context.Context, name, mimeType string, size int64, fetch RangeFetcher) Handle {
	return &rangeFile{
		readerAtFile: readerAtFile{name: name, mimeType: mimeType, size: size},
		ctx:          ctx,
		fetch:        fetch,
	}
}

func (f *rangeFile) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.New("negative offset")
	}
	if off >= f.size {
		return 0, io.EOF
	}
	length := int64(len(p))
	if off+length > f.size {
		length = f.size - off
	}
	rc, err := f.fetch(f.ctx, off, length)
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	n, err := io.ReadFull(rc, p[:length])
	if err != nil {
		return n, err
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (f *rangeFile) Close() error { return nil }

// readRange reads up to n bytes at off. Short files are not an error; the
// returned slice is simply shorter.
func readRange(f File, off, n int64) ([]byte, error) {
	if n <= 0 {
		return nil, nil
	}
	buf := make([]byte, n)
	read, err := f.ReadAt(buf, off)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, err
	}
	return buf[:read], nil
}

// normalizeMIME lowercases, trims and drops parameters from a declared type.
func normalizeMIME(mimeType string) string {
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	return strings.ToLower(strings.TrimSpace(mimeType))
}
