package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/multierr"

	"github.com/discochess/chunkcache/internal/codec"
	"github.com/discochess/chunkcache/internal/codec/gzipcodec"
	"github.com/discochess/chunkcache/internal/codec/noopcodec"
	"github.com/discochess/chunkcache/internal/codec/zstdcodec"
	"github.com/discochess/chunkcache/internal/opener"
	"github.com/discochess/chunkcache/internal/store"
	"github.com/discochess/chunkcache/internal/store/diskstore"
	"github.com/discochess/chunkcache/internal/store/gcsstore"
	"github.com/discochess/chunkcache/internal/store/miniostore"
	"github.com/discochess/chunkcache/internal/store/s3store"
)

// codecByName maps a --codec value onto a codec.
func codecByName(name string) (codec.Codec, error) {
	switch strings.ToLower(name) {
	case "", "none":
		return noopcodec.New(), nil
	case "zstd", "zst":
		return zstdcodec.New(), nil
	case "gzip", "gz":
		return gzipcodec.New(), nil
	default:
		return nil, fmt.Errorf("unknown codec %q (want none, zstd or gzip)", name)
	}
}

// location is a parsed store location.
type location struct {
	scheme string // "file", "s3", "gs" or "minio"
	host   string // bucket, or the server for minio
	path   string // directory, or object prefix
}

// parseLocation parses "s3://bucket/prefix", "gs://bucket/prefix",
// "minio://host:port/bucket/prefix" or a local directory.
func parseLocation(s string) (location, error) {
	scheme, rest, ok := strings.Cut(s, "://")
	if !ok {
		return location{scheme: "file", path: s}, nil
	}

	host, path, _ := strings.Cut(rest, "/")
	if host == "" {
		return location{}, fmt.Errorf("location %q has no bucket", s)
	}
	switch scheme {
	case "s3", "gs", "minio":
	default:
		return location{}, fmt.Errorf("location %q: unsupported scheme %q", s, scheme)
	}
	return location{scheme: scheme, host: host, path: strings.Trim(path, "/")}, nil
}

// openLocation opens the store at loc. Remote stores are opened through their
// opener with the prefix as the store identifier.
func openLocation(ctx context.Context, loc location, c codec.Codec) (store.Store, error) {
	switch loc.scheme {
	case "file":
		return diskstore.New(loc.path, c)
	case "s3":
		o, err := s3store.NewOpener(ctx, loc.host, opener.Placeholder, s3store.WithCodec(c))
		if err != nil {
			return nil, err
		}
		return o.Open(ctx, loc.path)
	case "gs":
		o, err := gcsstore.NewOpener(ctx, loc.host, opener.Placeholder, gcsstore.WithCodec(c))
		if err != nil {
			return nil, err
		}
		st, err := o.Open(ctx, loc.path)
		if err != nil {
			o.Close()
			return nil, err
		}
		return &clientStore{Store: st, client: o}, nil
	case "minio":
		bucket, prefix, _ := strings.Cut(loc.path, "/")
		o, err := miniostore.NewOpener(miniostore.Config{
			Endpoint:  loc.host,
			AccessKey: os.Getenv("MINIO_ACCESS_KEY"),
			SecretKey: os.Getenv("MINIO_SECRET_KEY"),
			UseSSL:    os.Getenv("MINIO_USE_SSL") == "true",
			Bucket:    bucket,
			Pattern:   opener.Placeholder,
			Codec:     c,
		})
		if err != nil {
			return nil, err
		}
		return o.Open(ctx, prefix)
	default:
		return nil, fmt.Errorf("unsupported scheme %q", loc.scheme)
	}
}

// clientStore closes the client behind a store together with the store.
type clientStore struct {
	store.Store
	client io.Closer
}

func (s *clientStore) Close() error {
	return multierr.Append(store.Close(s.Store), s.client.Close())
}
