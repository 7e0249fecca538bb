// Package store defines the key-value store contract shared by origin stores
// and the backing stores that hold cached values.
package store

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
)

var (
	// ErrNotFound is returned when a key does not exist in a store.
	ErrNotFound = errors.New("store: key not found")

	// ErrInvalidKey is returned for keys a store cannot address.
	ErrInvalidKey = errors.New("store: invalid key")
)

// Store is a mapping from string keys to opaque byte values.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the value stored under key.
	// Returns ErrNotFound if the key does not exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key.
	// Returns ErrNotFound if the key does not exist.
	Delete(ctx context.Context, key string) error

	// Has reports whether key exists.
	Has(ctx context.Context, key string) (bool, error)

	// Keys returns all keys in the store, in no particular order.
	Keys(ctx context.Context) ([]string, error)

	// Clear removes every key from the store.
	Clear(ctx context.Context) error
}

// Close closes s if it implements io.Closer and does nothing otherwise.
func Close(s Store) error {
	if c, ok := s.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Len returns the number of keys in s.
func Len(ctx context.Context, s Store) (int, error) {
	keys, err := s.Keys(ctx)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

// ValidateKey rejects keys that are empty or that would escape a store's root
// when mapped onto a path ("../x", "/abs", "a//b").
func ValidateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || path.Clean(key) != key || strings.HasPrefix(key, "../") || key == ".." || key == "." {
		return ErrInvalidKey
	}
	return nil
}
