// Package bigstore implements an in-process store on bigcache, which keeps
// values in large byte slices the garbage collector does not scan.
//
// Entries never expire and no size ceiling is set by default: eviction is the
// job of the cache storage above, not of bigcache.
package bigstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/allegro/bigcache/v3"

	"github.com/discochess/chunkcache/internal/store"
)

// Compile-time check that Store implements store.Store.
var _ store.Store = (*Store)(nil)

// lifeWindow is long enough that bigcache never expires an entry on its own.
const lifeWindow = 100 * 365 * 24 * time.Hour

// Store adapts one bigcache instance to store.Store.
type Store struct {
	c *bigcache.BigCache
}

// Config tunes the bigcache instances.
type Config struct {
	// Shards is the number of shards, a power of two. Default is 16.
	Shards int

	// MaxEntrySize is the expected value size in bytes, used to size the
	// initial allocation. Default is 1024.
	MaxEntrySize int

	// HardMaxCacheSizeMB caps each instance. Values written past the cap
	// silently replace the oldest ones; 0 means no cap.
	HardMaxCacheSizeMB int
}

func (c Config) bigcacheConfig() bigcache.Config {
	conf := bigcache.DefaultConfig(lifeWindow)
	conf.CleanWindow = 0
	conf.Verbose = false
	conf.Shards = 16
	conf.MaxEntriesInWindow = 1024
	conf.MaxEntrySize = 1024
	if c.Shards > 0 {
		conf.Shards = c.Shards
	}
	if c.MaxEntrySize > 0 {
		conf.MaxEntrySize = c.MaxEntrySize
	}
	if c.HardMaxCacheSizeMB > 0 {
		conf.HardMaxCacheSize = c.HardMaxCacheSizeMB
	}
	return conf
}

// New creates an empty store.
func New(ctx context.Context, cfg Config) (*Store, error) {
	c, err := bigcache.New(ctx, cfg.bigcacheConfig())
	if err != nil {
		return nil, fmt.Errorf("creating bigcache: %w", err)
	}
	return &Store{c: c}, nil
}

// Get returns the value stored under key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := s.c.Get(key)
	if errors.Is(err, bigcache.ErrEntryNotFound) {
		return nil, store.ErrNotFound
	}
	return v, err
}

// Set stores value under key.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	return s.c.Set(key, value)
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) error {
	err := s.c.Delete(key)
	if errors.Is(err, bigcache.ErrEntryNotFound) {
		return store.ErrNotFound
	}
	return err
}

// Has reports whether key exists.
func (s *Store) Has(ctx context.Context, key string) (bool, error) {
	_, err := s.c.Get(key)
	if errors.Is(err, bigcache.ErrEntryNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Keys returns all keys in the store.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	keys := make([]string, 0, s.c.Len())
	it := s.c.Iterator()
	for it.SetNext() {
		e, err := it.Value()
		if err != nil {
			return nil, fmt.Errorf("iterating bigcache: %w", err)
		}
		keys = append(keys, e.Key())
	}
	return keys, nil
}

// Clear removes every key.
func (s *Store) Clear(ctx context.Context) error {
	return s.c.Reset()
}

// Len returns the number of entries.
func (s *Store) Len() int {
	return s.c.Len()
}

// Capacity returns the bytes allocated by the underlying byte queues.
func (s *Store) Capacity() int {
	return s.c.Capacity()
}

// release frees the bigcache instance. Store.Close does not, because the
// opener hands the same instance out again on reopen.
func (s *Store) release() error {
	return s.c.Close()
}
