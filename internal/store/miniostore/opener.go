package miniostore

import (
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/discochess/chunkcache/internal/codec"
	"github.com/discochess/chunkcache/internal/opener"
	"github.com/discochess/chunkcache/internal/store"
)

// Compile-time check that Opener implements opener.Opener.
var _ opener.Opener = (*Opener)(nil)

// Config holds MinIO opener configuration.
type Config struct {
	// Client is an optional pre-configured client. It cannot be combined with
	// Endpoint, AccessKey, SecretKey or UseSSL.
	Client *minio.Client

	// Endpoint is the server address, e.g. "localhost:9000".
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool

	// Bucket is the bucket holding every store.
	Bucket string

	// Pattern is the object prefix with the "{store_id}" placeholder.
	Pattern string

	// Codec compresses object contents. Nil stores values as they are.
	Codec codec.Codec
}

// validate checks that either Client or the connection fields are given.
func (c *Config) validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("%w: bucket is required", opener.ErrConfig)
	}
	if err := opener.ValidatePattern(c.Pattern); err != nil {
		return err
	}

	connection := c.Endpoint != "" || c.AccessKey != "" || c.SecretKey != "" || c.UseSSL
	if c.Client != nil {
		if connection {
			return fmt.Errorf("%w: minio client given together with connection fields", opener.ErrConfig)
		}
		return nil
	}
	if c.Endpoint == "" {
		return fmt.Errorf("%w: endpoint is required when client is not provided", opener.ErrConfig)
	}
	if c.AccessKey == "" || c.SecretKey == "" {
		return fmt.Errorf("%w: access and secret keys are required when client is not provided", opener.ErrConfig)
	}
	return nil
}

// Opener maps each store identifier to a prefix in one bucket.
type Opener struct {
	client  *minio.Client
	bucket  string
	pattern string
	codec   codec.Codec
}

// NewOpener creates an opener from cfg. No request is made until a store is used.
func NewOpener(cfg Config) (*Opener, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	client := cfg.Client
	if client == nil {
		var err error
		client, err = minio.New(cfg.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
			Secure: cfg.UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("creating minio client: %w", err)
		}
	}

	return &Opener{
		client:  client,
		bucket:  cfg.Bucket,
		pattern: cfg.Pattern,
		codec:   cfg.Codec,
	}, nil
}

// Open returns the store for storeID.
func (o *Opener) Open(ctx context.Context, storeID string) (store.Store, error) {
	return New(o.client, o.bucket, opener.Prefix(o.pattern, storeID), o.codec), nil
}
