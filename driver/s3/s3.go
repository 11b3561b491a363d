package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/gobeaver/imageguard"
)

// API is the subset of the S3 client the source needs. *s3.Client satisfies it.
type API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Adapter opens S3 objects as candidate uploads. Reads are ranged GETs, so
// only the bytes the validator inspects are transferred.
type Adapter struct {
	client API
	bucket string
	prefix string
}

// AdapterOption is a function that configures Adapter
type AdapterOption func(*Adapter)

// WithPrefix sets the prefix for S3 objects
func WithPrefix(prefix string) AdapterOption {
	return func(a *Adapter) {
		// Ensure prefix ends with a slash if it's not empty
		if prefix != "" && !strings.HasSuffix(prefix, "/") {
			prefix += "/"
		}
		a.prefix = prefix
	}
}

// New creates a new S3 source
func New(client API, bucket string, options ...AdapterOption) *Adapter {
	adapter := &Adapter{
		client: client,
		bucket: bucket,
	}

	for _, option := range options {
		option(adapter)
	}

	return adapter
}

// Open implements imageguard.Source. The declared type is the object's
// Content-Type as stored by the uploader.
func (a *Adapter) Open(ctx context.Context, filePath string) (imageguard.Handle, error) {
	key := path.Join(a.prefix, filePath)

	head, err := a.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, mapS3Error(filePath, err)
	}

	fetch := func(ctx context.Context, offset, length int64) (io.ReadCloser, error) {
		out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(a.bucket),
			Key:    aws.String(key),
			Range:  aws.String(fmt.Sprintf("bytes=%d-%d", offset, offset+length-1)),
		})
		if err != nil {
			return nil, mapS3Error(filePath, err)
		}
		return out.Body, nil
	}

	return imageguard.NewRangeFile(ctx,
		path.Base(filePath),
		aws.ToString(head.ContentType),
		aws.ToInt64(head.ContentLength),
		fetch,
	), nil
}

// mapS3Error maps S3 errors to imageguard source errors
func mapS3Error(filePath string, err error) error {
	var nsk *types.NoSuchKey
	var notFound *types.NotFound

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.As(err, &nsk) || errors.As(err, &notFound) {
		return fmt.Errorf("open %s: %w", filePath, imageguard.ErrNotExist)
	}
	return fmt.Errorf("open %s: %w", filePath, err)
}

var _ imageguard.Source = (*Adapter)(nil)
