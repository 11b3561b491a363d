package azure

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/gobeaver/imageguard"
)

// BlobStore is what the source needs from a container. ContainerStore
// adapts a real *azblob.Client.
type BlobStore interface {
	Properties(ctx context.Context, name string) (size int64, contentType string, err error)
	DownloadRange(ctx context.Context, name string, offset, count int64) (io.ReadCloser, error)
}

// ContainerStore serves blobs from one container.
type ContainerStore struct {
	client    *azblob.Client
	container string
}

// NewContainerStore wraps container of client.
func NewContainerStore(client *azblob.Client, container string) *ContainerStore {
	return &ContainerStore{client: client, container: container}
}

func (c *ContainerStore) Properties(ctx context.Context, name string) (int64, string, error) {
	props, err := c.client.ServiceClient().
		NewContainerClient(c.container).
		NewBlobClient(name).
		GetProperties(ctx, nil)
	if err != nil {
		return 0, "", err
	}
	var contentType string
	if props.ContentType != nil {
		contentType = *props.ContentType
	}
	var size int64
	if props.ContentLength != nil {
		size = *props.ContentLength
	}
	return size, contentType, nil
}

func (c *ContainerStore) DownloadRange(ctx context.Context, name string, offset, count int64) (io.ReadCloser, error) {
	resp, err := c.client.DownloadStream(ctx, c.container, name, &azblob.DownloadStreamOptions{
		Range: blob.HTTPRange{Offset: offset, Count: count},
	})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// Adapter opens Azure blobs as candidate uploads.
type Adapter struct {
	store  BlobStore
	prefix string
}

// AdapterOption is a function that configures Azure Adapter
type AdapterOption func(*Adapter)

// WithPrefix sets the prefix for blob names
func WithPrefix(prefix string) AdapterOption {
	return func(a *Adapter) {
		if prefix != "" && !strings.HasSuffix(prefix, "/") {
			prefix += "/"
		}
		a.prefix = prefix
	}
}

// New creates a new Azure Blob Storage source
func New(store BlobStore, options ...AdapterOption) *Adapter {
	adapter := &Adapter{store: store}
	for _, option := range options {
		option(adapter)
	}
	return adapter
}

// Open implements imageguard.Source.
func (a *Adapter) Open(ctx context.Context, filePath string) (imageguard.Handle, error) {
	name := path.Join(a.prefix, filePath)

	size, contentType, err := a.store.Properties(ctx, name)
	if err != nil {
		return nil, mapAzureError(filePath, err)
	}

	fetch := func(ctx context.Context, offset, length int64) (io.ReadCloser, error) {
		rc, err := a.store.DownloadRange(ctx, name, offset, length)
		if err != nil {
			return nil, mapAzureError(filePath, err)
		}
		return rc, nil
	}

	return imageguard.NewRangeFile(ctx, path.Base(filePath), contentType, size, fetch), nil
}

func mapAzureError(filePath string, err error) error {
	if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
		return fmt.Errorf("open %s: %w", filePath, imageguard.ErrNotExist)
	}

	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("open %s: %w", filePath, imageguard.ErrNotExist)
		case http.StatusForbidden:
			return fmt.Errorf("open %s: %w", filePath, imageguard.ErrNotAllowed)
		}
	}

	return fmt.Errorf("open %s: %w", filePath, err)
}

var (
	_ imageguard.Source = (*Adapter)(nil)
	_ BlobStore         = (*ContainerStore)(nil)
)
