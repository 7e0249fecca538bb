// Package miniostore implements a store on MinIO or any S3-compatible server
// through the MinIO client.
package miniostore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"

	"github.com/discochess/chunkcache/internal/codec"
	"github.com/discochess/chunkcache/internal/codec/noopcodec"
	"github.com/discochess/chunkcache/internal/store"
)

// Compile-time check that Store implements store.Store.
var _ store.Store = (*Store)(nil)

// Store keeps each key as one object below prefix in a bucket.
type Store struct {
	client *minio.Client
	bucket string
	prefix string
	codec  codec.Codec
}

// New creates a store for the objects below prefix in bucket.
// The bucket must already exist. A nil codec stores values as they are.
func New(client *minio.Client, bucket, prefix string, c codec.Codec) *Store {
	if c == nil {
		c = noopcodec.New()
	}
	return &Store{
		client: client,
		bucket: bucket,
		prefix: prefix,
		codec:  c,
	}
}

// Get reads and decompresses the object for key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, s.objectKey(key), minio.GetObjectOptions{})
	if err != nil {
		return nil, translate("reading", key, err)
	}
	defer obj.Close()

	// GetObject is lazy; a missing key surfaces on the first read.
	compressed, err := io.ReadAll(obj)
	if err != nil {
		return nil, translate("reading", key, err)
	}
	data, err := s.codec.Decode(compressed)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", key, err)
	}
	return data, nil
}

// Set compresses value and uploads it as the object for key.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	data, err := s.codec.Encode(value)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	_, err = s.client.PutObject(ctx, s.bucket, s.objectKey(key), bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/octet-stream"})
	if err != nil {
		return translate("writing", key, err)
	}
	return nil
}

// Delete removes the object for key. Removal is idempotent on the server, so
// the object is checked for first to report store.ErrNotFound.
func (s *Store) Delete(ctx context.Context, key string) error {
	ok, err := s.Has(ctx, key)
	if err != nil {
		return err
	}
	if !ok {
		return store.ErrNotFound
	}
	if err := s.client.RemoveObject(ctx, s.bucket, s.objectKey(key), minio.RemoveObjectOptions{}); err != nil {
		return translate("deleting", key, err)
	}
	return nil
}

// Has reports whether the object for key exists.
func (s *Store) Has(ctx context.Context, key string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, s.objectKey(key), minio.StatObjectOptions{})
	if err != nil {
		err = translate("stat", key, err)
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Keys lists every key below the store prefix.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    s.prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("listing %s: %w", s.prefix, obj.Err)
		}
		keys = append(keys, s.storeKey(obj.Key))
	}
	return keys, nil
}

// Clear deletes every object below the store prefix with the batch removal API.
func (s *Store) Clear(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	objects := make(chan minio.ObjectInfo, 100)
	listed := make(chan error, 1)
	go func() {
		defer close(objects)
		for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
			Prefix:    s.prefix,
			Recursive: true,
		}) {
			if obj.Err != nil {
				listed <- obj.Err
				return
			}
			select {
			case objects <- obj:
			case <-ctx.Done():
				listed <- ctx.Err()
				return
			}
		}
		listed <- nil
	}()

	var removeErr error
	for res := range s.client.RemoveObjects(ctx, s.bucket, objects, minio.RemoveObjectsOptions{}) {
		if res.Err != nil && removeErr == nil {
			removeErr = res.Err
			cancel()
		}
	}
	cancel()
	listErr := <-listed

	if removeErr != nil {
		return fmt.Errorf("clearing %s: %w", s.prefix, removeErr)
	}
	if listErr != nil {
		return fmt.Errorf("listing %s: %w", s.prefix, listErr)
	}
	return nil
}

// Close releases resources. The client holds no connections that need closing.
func (s *Store) Close() error {
	return nil
}

// objectKey returns the full object key for a store key.
func (s *Store) objectKey(key string) string {
	name := s.prefix + key
	if ext := s.codec.Extension(); ext != "" {
		name += "." + ext
	}
	return name
}

// storeKey inverts objectKey.
func (s *Store) storeKey(object string) string {
	key := strings.TrimPrefix(object, s.prefix)
	if ext := s.codec.Extension(); ext != "" {
		key = strings.TrimSuffix(key, "."+ext)
	}
	return key
}

// translate maps MinIO error responses onto store errors.
func translate(op, key string, err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NotFoundObject":
		return store.ErrNotFound
	}
	return fmt.Errorf("%s %s: %w", op, key, err)
}
