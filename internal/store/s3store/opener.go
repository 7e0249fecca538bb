package s3store

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/discochess/chunkcache/internal/codec"
	"github.com/discochess/chunkcache/internal/opener"
	"github.com/discochess/chunkcache/internal/store"
)

// Compile-time check that Opener implements opener.Opener.
var _ opener.Opener = (*Opener)(nil)

// Opener maps each store identifier to a prefix in one bucket.
type Opener struct {
	client  API
	bucket  string
	pattern string
	codec   codec.Codec
}

type openerConfig struct {
	client      API
	region      string
	endpoint    string
	credentials aws.CredentialsProvider
	codec       codec.Codec
}

// Option configures an Opener.
type Option func(*openerConfig)

// WithClient uses a ready client. It cannot be combined with WithRegion,
// WithEndpoint or WithCredentials.
func WithClient(client API) Option {
	return func(c *openerConfig) {
		c.client = client
	}
}

// WithRegion sets the AWS region.
func WithRegion(region string) Option {
	return func(c *openerConfig) {
		c.region = region
	}
}

// WithEndpoint sets a custom endpoint (for S3-compatible services like MinIO).
func WithEndpoint(endpoint string) Option {
	return func(c *openerConfig) {
		c.endpoint = endpoint
	}
}

// WithCredentials sets static credentials.
func WithCredentials(accessKey, secretKey, sessionToken string) Option {
	return func(c *openerConfig) {
		c.credentials = credentials.NewStaticCredentialsProvider(accessKey, secretKey, sessionToken)
	}
}

// WithCodec sets the codec used for object contents.
func WithCodec(c codec.Codec) Option {
	return func(cfg *openerConfig) {
		cfg.codec = c
	}
}

// NewOpener creates an opener for bucket. pattern is the object prefix with the
// "{store_id}" placeholder, e.g. "cache/{store_id}.zarr".
func NewOpener(ctx context.Context, bucket, pattern string, opts ...Option) (*Opener, error) {
	if err := opener.ValidatePattern(pattern); err != nil {
		return nil, err
	}
	var cfg openerConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.client != nil {
		if cfg.region != "" || cfg.endpoint != "" || cfg.credentials != nil {
			return nil, fmt.Errorf("%w: s3 client given together with connection options", opener.ErrConfig)
		}
	} else {
		client, err := newClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		cfg.client = client
	}

	return &Opener{
		client:  cfg.client,
		bucket:  bucket,
		pattern: pattern,
		codec:   cfg.codec,
	}, nil
}

func newClient(ctx context.Context, cfg openerConfig) (*s3.Client, error) {
	var loadOpts []func(*config.LoadOptions) error
	if cfg.region != "" {
		loadOpts = append(loadOpts, config.WithRegion(cfg.region))
	}
	if cfg.credentials != nil {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(cfg.credentials))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// Open returns the store for storeID.
func (o *Opener) Open(ctx context.Context, storeID string) (store.Store, error) {
	return New(o.client, o.bucket, opener.Prefix(o.pattern, storeID), o.codec), nil
}
