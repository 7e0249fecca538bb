package gcsstore

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/discochess/chunkcache/internal/codec"
	"github.com/discochess/chunkcache/internal/opener"
	"github.com/discochess/chunkcache/internal/store"
)

// Compile-time check that Opener implements opener.Opener.
var _ opener.Opener = (*Opener)(nil)

// Opener maps each store identifier to a prefix in one bucket.
type Opener struct {
	client  *storage.Client
	owned   bool
	bucket  *storage.BucketHandle
	pattern string
	codec   codec.Codec
}

type openerConfig struct {
	client     *storage.Client
	clientOpts []option.ClientOption
	codec      codec.Codec
}

// Option configures an Opener.
type Option func(*openerConfig)

// WithClient uses a ready client. It cannot be combined with WithClientOptions.
// The opener does not close a client it was given.
func WithClient(client *storage.Client) Option {
	return func(c *openerConfig) {
		c.client = client
	}
}

// WithClientOptions passes options to the client the opener creates.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(c *openerConfig) {
		c.clientOpts = append(c.clientOpts, opts...)
	}
}

// WithCodec sets the codec used for object contents.
func WithCodec(c codec.Codec) Option {
	return func(cfg *openerConfig) {
		cfg.codec = c
	}
}

// NewOpener creates an opener for bucketName. pattern is the object prefix with
// the "{store_id}" placeholder, e.g. "cache/{store_id}.zarr".
func NewOpener(ctx context.Context, bucketName, pattern string, opts ...Option) (*Opener, error) {
	if err := opener.ValidatePattern(pattern); err != nil {
		return nil, err
	}
	var cfg openerConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	o := &Opener{
		client:  cfg.client,
		pattern: pattern,
		codec:   cfg.codec,
	}
	if cfg.client != nil {
		if len(cfg.clientOpts) > 0 {
			return nil, fmt.Errorf("%w: gcs client given together with client options", opener.ErrConfig)
		}
	} else {
		client, err := storage.NewClient(ctx, cfg.clientOpts...)
		if err != nil {
			return nil, fmt.Errorf("creating GCS client: %w", err)
		}
		o.client = client
		o.owned = true
	}
	o.bucket = o.client.Bucket(bucketName)
	return o, nil
}

// Open returns the store for storeID.
func (o *Opener) Open(ctx context.Context, storeID string) (store.Store, error) {
	return New(o.bucket, opener.Prefix(o.pattern, storeID), o.codec), nil
}

// Close closes the client if the opener created it.
func (o *Opener) Close() error {
	if !o.owned {
		return nil
	}
	return o.client.Close()
}
