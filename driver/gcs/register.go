package gcs

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"
	"github.com/gobeaver/imageguard"
	"google.golang.org/api/option"
)

func init() {
	imageguard.RegisterSource("gcs", func(cfg *imageguard.Config) (imageguard.Source, error) {
		if cfg.GCSBucket == "" {
			return nil, fmt.Errorf("gcs source: bucket is required")
		}

		// Without a credentials file the client uses GOOGLE_APPLICATION_CREDENTIALS
		// or the default credentials.
		var opts []option.ClientOption
		if cfg.GCSCredentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(cfg.GCSCredentialsFile))
		}

		client, err := storage.NewClient(context.Background(), opts...)
		if err != nil {
			return nil, err
		}

		var options []AdapterOption
		if cfg.GCSPrefix != "" {
			options = append(options, WithPrefix(cfg.GCSPrefix))
		}

		return New(NewBucketStore(client, cfg.GCSBucket), options...), nil
	})
}
