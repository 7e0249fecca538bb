// Package gcsstore implements a Google Cloud Storage store.
package gcsstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	"github.com/discochess/chunkcache/internal/codec"
	"github.com/discochess/chunkcache/internal/codec/noopcodec"
	"github.com/discochess/chunkcache/internal/store"
)

// Compile-time check that Store implements store.Store.
var _ store.Store = (*Store)(nil)

// bucket is the set of object operations the store needs. Missing objects are
// reported as store.ErrNotFound.
type bucket interface {
	read(ctx context.Context, name string) ([]byte, error)
	write(ctx context.Context, name string, data []byte) error
	exists(ctx context.Context, name string) (bool, error)
	remove(ctx context.Context, name string) error
	list(ctx context.Context, prefix string) ([]string, error)
}

// Store keeps each key as one object below prefix in a bucket.
type Store struct {
	bucket bucket
	prefix string
	codec  codec.Codec
}

// New creates a store for the objects below prefix in b.
// The bucket must already exist. A nil codec stores values as they are.
func New(b *storage.BucketHandle, prefix string, c codec.Codec) *Store {
	return newStore(gcsBucket{h: b}, prefix, c)
}

func newStore(b bucket, prefix string, c codec.Codec) *Store {
	if c == nil {
		c = noopcodec.New()
	}
	return &Store{
		bucket: b,
		prefix: prefix,
		codec:  c,
	}
}

// Get reads and decompresses the object for key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	// Check for cancellation before starting.
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	compressed, err := s.bucket.read(ctx, s.objectKey(key))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("reading %s: %w", key, err)
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
	if err := s.bucket.write(ctx, s.objectKey(key), data); err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}
	return nil
}

// Delete removes the object for key.
func (s *Store) Delete(ctx context.Context, key string) error {
	err := s.bucket.remove(ctx, s.objectKey(key))
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("deleting %s: %w", key, err)
	}
	return err
}

// Has reports whether the object for key exists.
func (s *Store) Has(ctx context.Context, key string) (bool, error) {
	ok, err := s.bucket.exists(ctx, s.objectKey(key))
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", key, err)
	}
	return ok, nil
}

// Keys lists every key below the store prefix.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	objects, err := s.bucket.list(ctx, s.prefix)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", s.prefix, err)
	}
	keys := make([]string, len(objects))
	for i, obj := range objects {
		keys[i] = s.storeKey(obj)
	}
	return keys, nil
}

// Clear deletes every object below the store prefix. GCS has no batch delete,
// so objects are removed one at a time.
func (s *Store) Clear(ctx context.Context) error {
	objects, err := s.bucket.list(ctx, s.prefix)
	if err != nil {
		return fmt.Errorf("listing %s: %w", s.prefix, err)
	}
	for _, obj := range objects {
		if err := s.bucket.remove(ctx, obj); err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("clearing %s: %w", obj, err)
		}
	}
	return nil
}

// Close releases resources. The client belongs to the opener.
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

type gcsBucket struct {
	h *storage.BucketHandle
}

func (b gcsBucket) read(ctx context.Context, name string) ([]byte, error) {
	reader, err := b.h.Object(name).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	defer reader.Close()
	return io.ReadAll(reader)
}

func (b gcsBucket) write(ctx context.Context, name string, data []byte) error {
	w := b.h.Object(name).NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

func (b gcsBucket) exists(ctx context.Context, name string) (bool, error) {
	_, err := b.h.Object(name).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (b gcsBucket) remove(ctx context.Context, name string) error {
	err := b.h.Object(name).Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return store.ErrNotFound
	}
	return err
}

func (b gcsBucket) list(ctx context.Context, prefix string) ([]string, error) {
	q := &storage.Query{Prefix: prefix}
	if err := q.SetAttrSelection([]string{"Name"}); err != nil {
		return nil, err
	}

	var names []string
	it := b.h.Objects(ctx, q)
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		names = append(names, attrs.Name)
	}
	return names, nil
}
