// Package cachedstore provides a store that serves reads from a cache storage
// and falls back to an origin store on a miss.
package cachedstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/discochess/chunkcache/internal/stats"
	"github.com/discochess/chunkcache/internal/storage"
	"github.com/discochess/chunkcache/internal/store"
)

// Compile-time check that Store implements store.Store.
var _ store.Store = (*Store)(nil)

// Filter decides whether a value fetched from the origin is written to the
// cache. fetch is the time the origin read took.
type Filter func(key string, value []byte, fetch time.Duration) bool

// Store wraps an origin store with a cache storage under one store identifier.
//
// Reads try the cache first. Writes always go to the origin and update the
// cache only for keys it already holds. Keys, Has and Len report the origin's
// key set, memoized until the next mutation.
type Store struct {
	origin  store.Store
	storeID string
	cache   storage.Storage

	filter    Filter
	logger    *zap.Logger
	collector stats.Collector
	onClose   func()

	group    singleflight.Group
	counters counters
	closed   atomic.Bool

	mu     sync.Mutex // guards keys and the cached-or-not decision before a write
	keys   []string
	keySet map[string]struct{}
}

// Option configures a Store.
type Option func(*Store)

// WithFilter sets the admission filter. Without one every fetched value is cached.
func WithFilter(f Filter) Option {
	return func(s *Store) {
		s.filter = f
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithStats sets the metrics collector.
func WithStats(c stats.Collector) Option {
	return func(s *Store) {
		s.collector = c
	}
}

// WithCloseHook registers fn to run once when the store is closed.
func WithCloseHook(fn func()) Option {
	return func(s *Store) {
		s.onClose = fn
	}
}

// New creates a cached store for origin.
func New(origin store.Store, storeID string, cache storage.Storage, opts ...Option) *Store {
	s := &Store{
		origin:    origin,
		storeID:   storeID,
		cache:     cache,
		logger:    zap.NewNop(),
		collector: stats.NewNoop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("cachedstore").With(zap.String("store_id", storeID))
	return s
}

// StoreID returns the identifier the store caches under.
func (s *Store) StoreID() string {
	return s.storeID
}

// Origin returns the wrapped origin store.
func (s *Store) Origin() store.Store {
	return s.origin
}

// Get returns the cached value of key, reading and caching it from the origin
// on a miss. Concurrent misses of one key share a single origin read.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	value, err := s.cache.GetValue(ctx, s.storeID, key)
	if err == nil {
		d := time.Since(start)
		s.counters.hit(d)
		s.collector.IncCounter(stats.MetricHits, 1, stats.StoreLabel(s.storeID))
		s.collector.ObserveHistogram(stats.MetricHitSeconds, d.Seconds(), stats.StoreLabel(s.storeID))
		return value, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	// The shared fetch ignores cancellation; each waiter stops on its own ctx.
	ch := s.group.DoChan(key, func() (any, error) {
		return s.fetch(context.WithoutCancel(ctx), key)
	})
	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		res.Err = ctx.Err()
	}

	d := time.Since(start)
	s.counters.miss(d)
	s.collector.IncCounter(stats.MetricMisses, 1, stats.StoreLabel(s.storeID))
	s.collector.ObserveHistogram(stats.MetricMissSeconds, d.Seconds(), stats.StoreLabel(s.storeID))

	if res.Err != nil {
		return nil, res.Err
	}
	return res.Val.([]byte), nil
}

// fetch reads key from the origin and caches it if the filter admits it.
func (s *Store) fetch(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	value, err := s.origin.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	elapsed := time.Since(start)

	if s.filter != nil && !s.filter(key, value, elapsed) {
		s.logger.Debug("filter rejected value", zap.String("key", key), zap.Int("size", len(value)))
		return value, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cached, err := s.cache.HasValue(ctx, s.storeID, key)
	if err != nil {
		return nil, fmt.Errorf("checking cache for %s: %w", key, err)
	}
	if !cached {
		if err := s.cache.PutValue(ctx, s.storeID, key, value); err != nil {
			return nil, fmt.Errorf("caching %s: %w", key, err)
		}
		s.invalidateLocked()
	}
	return value, nil
}

// Set writes value to the origin, and to the cache only if key is already cached.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if err := s.origin.Set(ctx, key, value); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalidateLocked()

	cached, err := s.cache.HasValue(ctx, s.storeID, key)
	if err != nil {
		return fmt.Errorf("checking cache for %s: %w", key, err)
	}
	if !cached {
		return nil
	}
	if err := s.cache.PutValue(ctx, s.storeID, key, value); err != nil {
		return fmt.Errorf("updating cached %s: %w", key, err)
	}
	return nil
}

// Delete removes key from the origin and from the cache.
// Returns store.ErrNotFound if the origin does not hold key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.origin.Delete(ctx, key); err != nil {
		return err
	}

	s.mu.Lock()
	s.invalidateLocked()
	s.mu.Unlock()

	if _, err := s.cache.DeleteValue(ctx, s.storeID, key); err != nil {
		return fmt.Errorf("uncaching %s: %w", key, err)
	}
	return nil
}

// Has reports whether the origin holds key.
func (s *Store) Has(ctx context.Context, key string) (bool, error) {
	set, err := s.keySnapshot(ctx)
	if err != nil {
		return false, err
	}
	_, ok := set[key]
	return ok, nil
}

// Keys returns the origin's keys in sorted order.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadKeysLocked(ctx); err != nil {
		return nil, err
	}
	return append([]string(nil), s.keys...), nil
}

// Len returns the number of keys in the origin.
func (s *Store) Len(ctx context.Context) (int, error) {
	set, err := s.keySnapshot(ctx)
	if err != nil {
		return 0, err
	}
	return len(set), nil
}

// ListDir returns the sorted names of the immediate children of path in the
// origin's key set. An empty path lists the top level.
func (s *Store) ListDir(ctx context.Context, path string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadKeysLocked(ctx); err != nil {
		return nil, err
	}

	prefix := dirPrefix(path)
	var children []string
	seen := make(map[string]struct{})
	for _, key := range s.keys {
		rest, ok := strings.CutPrefix(key, prefix)
		if !ok || rest == "" {
			continue
		}
		child, _, _ := strings.Cut(rest, "/")
		if _, dup := seen[child]; dup {
			continue
		}
		seen[child] = struct{}{}
		children = append(children, child)
	}
	sort.Strings(children)
	return children, nil
}

// GetSize returns the value size of path if it is a key, otherwise the summed
// value sizes of the keys directly below path. Sizes are read from the origin.
func (s *Store) GetSize(ctx context.Context, path string) (int64, error) {
	path = strings.Trim(path, "/")
	set, err := s.keySnapshot(ctx)
	if err != nil {
		return 0, err
	}
	if _, ok := set[path]; ok {
		return s.originSize(ctx, path)
	}

	children, err := s.ListDir(ctx, path)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, child := range children {
		key := dirPrefix(path) + child
		if _, ok := set[key]; !ok {
			continue
		}
		n, err := s.originSize(ctx, key)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// Clear clears the origin and drops the whole cached store.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.invalidateLocked()
	s.mu.Unlock()

	return multierr.Append(
		s.origin.Clear(ctx),
		s.cache.DeleteStore(ctx, s.storeID),
	)
}

// Close closes the origin and releases the cached store without clearing it.
// Calling Close more than once is a no-op.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	err := multierr.Append(
		store.Close(s.origin),
		s.cache.CloseStore(context.Background(), s.storeID),
	)
	if s.onClose != nil {
		s.onClose()
	}
	return err
}

// Stats returns a snapshot of the hit and miss statistics.
func (s *Store) Stats() Stats {
	return s.counters.snapshot()
}

func (s *Store) originSize(ctx context.Context, key string) (int64, error) {
	value, err := s.origin.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	return int64(len(value)), nil
}

func (s *Store) keySnapshot(ctx context.Context) (map[string]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadKeysLocked(ctx); err != nil {
		return nil, err
	}
	return s.keySet, nil
}

func (s *Store) loadKeysLocked(ctx context.Context) error {
	if s.keySet != nil {
		return nil
	}
	keys, err := s.origin.Keys(ctx)
	if err != nil {
		return fmt.Errorf("listing origin keys: %w", err)
	}
	sort.Strings(keys)
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	s.keys, s.keySet = keys, set
	return nil
}

func (s *Store) invalidateLocked() {
	s.keys, s.keySet = nil, nil
}

func dirPrefix(path string) string {
	path = strings.Trim(path, "/")
	if path == "" {
		return ""
	}
	return path + "/"
}
