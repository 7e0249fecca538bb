// Package storage defines the multi-store cache storage: values grouped by
// store identifier, each group kept in its own backing store.
package storage

import "context"

// Storage holds cached values for any number of stores.
// Implementations must be safe for concurrent use.
type Storage interface {
	// HasValue reports whether key is cached for storeID.
	HasValue(ctx context.Context, storeID, key string) (bool, error)

	// GetValue returns the cached value.
	// Returns store.ErrNotFound if it is not cached.
	GetValue(ctx context.Context, storeID, key string) ([]byte, error)

	// PutValue caches value under (storeID, key). Implementations may decline
	// to cache a value, e.g. one larger than their budget.
	PutValue(ctx context.Context, storeID, key string, value []byte) error

	// DeleteValue removes a cached value and reports whether it was present.
	DeleteValue(ctx context.Context, storeID, key string) (bool, error)

	// DeleteStore clears every cached value of storeID and releases its
	// backing store.
	DeleteStore(ctx context.Context, storeID string) error

	// CloseStore releases the backing store of storeID, keeping its contents.
	CloseStore(ctx context.Context, storeID string) error

	// Close releases every open backing store.
	Close() error
}
