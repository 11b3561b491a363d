package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/gobeaver/imageguard"
)

// ObjectStore is what the source needs from a bucket. It exists so tests can
// run without a GCS endpoint; BucketStore adapts a real *storage.Client.
type ObjectStore interface {
	Attrs(ctx context.Context, key string) (size int64, contentType string, err error)
	NewRangeReader(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error)
}

// BucketStore serves objects from one bucket of a storage client.
type BucketStore struct {
	bucket *storage.BucketHandle
}

// NewBucketStore wraps bucket of client.
func NewBucketStore(client *storage.Client, bucket string) *BucketStore {
	return &BucketStore{bucket: client.Bucket(bucket)}
}

func (b *BucketStore) Attrs(ctx context.Context, key string) (int64, string, error) {
	attrs, err := b.bucket.Object(key).Attrs(ctx)
	if err != nil {
		return 0, "", err
	}
	return attrs.Size, attrs.ContentType, nil
}

func (b *BucketStore) NewRangeReader(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error) {
	return b.bucket.Object(key).NewRangeReader(ctx, offset, length)
}

// Adapter opens GCS objects as candidate uploads.
type Adapter struct {
	store  ObjectStore
	prefix string
}

// AdapterOption is a function that configures GCS Adapter
type AdapterOption func(*Adapter)

// WithPrefix sets the prefix for GCS objects
func WithPrefix(prefix string) AdapterOption {
	return func(a *Adapter) {
		// Ensure prefix ends with a slash if it's not empty
		if prefix != "" && !strings.HasSuffix(prefix, "/") {
			prefix += "/"
		}
		a.prefix = prefix
	}
}

// New creates a new GCS source
func New(store ObjectStore, options ...AdapterOption) *Adapter {
	adapter := &Adapter{store: store}
	for _, option := range options {
		option(adapter)
	}
	return adapter
}

// Open implements imageguard.Source.
func (a *Adapter) Open(ctx context.Context, filePath string) (imageguard.Handle, error) {
	key := path.Join(a.prefix, filePath)

	size, contentType, err := a.store.Attrs(ctx, key)
	if err != nil {
		return nil, mapGCSError(filePath, err)
	}

	fetch := func(ctx context.Context, offset, length int64) (io.ReadCloser, error) {
		rc, err := a.store.NewRangeReader(ctx, key, offset, length)
		if err != nil {
			return nil, mapGCSError(filePath, err)
		}
		return rc, nil
	}

	return imageguard.NewRangeFile(ctx, path.Base(filePath), contentType, size, fetch), nil
}

func mapGCSError(filePath string, err error) error {
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return fmt.Errorf("open %s: %w", filePath, imageguard.ErrNotExist)
	}
	return fmt.Errorf("open %s: %w", filePath, err)
}

var _ imageguard.Source = (*Adapter)(nil)
