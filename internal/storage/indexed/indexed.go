// Package indexed implements a size-bounded cache storage that uses a store
// index to decide which values to evict.
package indexed

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/discochess/chunkcache/internal/index"
	"github.com/discochess/chunkcache/internal/opener"
	"github.com/discochess/chunkcache/internal/stats"
	"github.com/discochess/chunkcache/internal/storage"
	"github.com/discochess/chunkcache/internal/store"
)

// Compile-time check that Storage implements storage.Storage.
var _ storage.Storage = (*Storage)(nil)

// Storage keeps one backing store per store identifier and one index across
// all of them. The size budget is global: a put for one store may evict values
// of any other store.
//
// A single mutex guards the handle table, the index and all value mutations,
// so eviction and insertion of a put happen in one critical section.
type Storage struct {
	index   index.Index
	opener  opener.Opener
	logger  *zap.Logger
	stats   stats.Collector
	maxSize int64
	bounded bool

	mu     sync.Mutex
	stores map[string]store.Store
}

// Option configures a Storage.
type Option func(*Storage)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Storage) {
		s.logger = logger
	}
}

// WithStats sets the metrics collector.
func WithStats(c stats.Collector) Option {
	return func(s *Storage) {
		s.stats = c
	}
}

// New creates a storage over idx that opens backing stores with op.
func New(idx index.Index, op opener.Opener, opts ...Option) *Storage {
	s := &Storage{
		index:  idx,
		opener: op,
		logger: zap.NewNop(),
		stats:  stats.NewNoop(),
		stores: make(map[string]store.Store),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("indexed")
	s.maxSize, s.bounded = idx.MaxSize()
	return s
}

// HasValue reports whether key is present in the backing store of storeID.
func (s *Storage) HasValue(ctx context.Context, storeID, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.openLocked(ctx, storeID)
	if err != nil {
		return false, err
	}
	return st.Has(ctx, key)
}

// GetValue returns a cached value and marks it as recently used.
func (s *Storage) GetValue(ctx context.Context, storeID, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.openLocked(ctx, storeID)
	if err != nil {
		return nil, err
	}
	value, err := st.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := s.index.MarkKey(ctx, storeID, key); err != nil {
		return nil, fmt.Errorf("marking %s/%s: %w", storeID, key, err)
	}
	return value, nil
}

// PutValue caches value, evicting older values until it fits the budget.
// A value larger than the whole budget is silently dropped.
func (s *Storage) PutValue(ctx context.Context, storeID, key string, value []byte) error {
	size := int64(len(value))
	if s.bounded && size > s.maxSize {
		s.logger.Debug("value exceeds cache size, not caching",
			zap.String("store_id", storeID),
			zap.String("key", key),
			zap.Int64("size", size),
			zap.Int64("max_size", s.maxSize),
		)
		s.stats.IncCounter(stats.MetricOversizeRejections, 1)
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// An overwritten key must not be counted twice.
	if _, err := s.index.DeleteKey(ctx, storeID, key); err != nil {
		return fmt.Errorf("dropping stale entry %s/%s: %w", storeID, key, err)
	}
	if err := s.putLocked(ctx, storeID, key, value, size); err != nil {
		s.dropUnindexedLocked(ctx, storeID, key)
		s.reportSizeLocked(ctx)
		return err
	}
	s.reportSizeLocked(ctx)
	return nil
}

func (s *Storage) putLocked(ctx context.Context, storeID, key string, value []byte, size int64) error {
	if err := s.accommodateLocked(ctx, size); err != nil {
		return err
	}
	st, err := s.openLocked(ctx, storeID)
	if err != nil {
		return err
	}
	if err := st.Set(ctx, key, value); err != nil {
		return fmt.Errorf("caching %s/%s: %w", storeID, key, err)
	}
	if err := s.index.PushKey(ctx, storeID, key, size); err != nil {
		return fmt.Errorf("indexing %s/%s: %w", storeID, key, err)
	}
	return nil
}

// dropUnindexedLocked removes a value whose index entry is gone after a failed
// put. Every stored value must stay evictable.
func (s *Storage) dropUnindexedLocked(ctx context.Context, storeID, key string) {
	st, ok := s.stores[storeID]
	if !ok {
		return
	}
	if err := st.Delete(ctx, key); err != nil && !errors.Is(err, store.ErrNotFound) {
		s.logger.Warn("failed to drop unindexed value",
			zap.String("store_id", storeID),
			zap.String("key", key),
			zap.Error(err),
		)
		s.stats.IncCounter(stats.MetricConsistencyWarnings, 1)
	}
}

// DeleteValue removes a cached value and its index entry.
func (s *Storage) DeleteValue(ctx context.Context, storeID, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.openLocked(ctx, storeID)
	if err != nil {
		return false, err
	}

	deleted := true
	if err := st.Delete(ctx, key); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return false, fmt.Errorf("deleting %s/%s: %w", storeID, key, err)
		}
		deleted = false
	}
	if _, err := s.index.DeleteKey(ctx, storeID, key); err != nil {
		return deleted, fmt.Errorf("unindexing %s/%s: %w", storeID, key, err)
	}
	s.reportSizeLocked(ctx)
	return deleted, nil
}

// DeleteStore clears the backing store of storeID, drops its index entries and
// closes it. The handle is released even if clearing fails.
func (s *Storage) DeleteStore(ctx context.Context, storeID string) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.openLocked(ctx, storeID)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, s.releaseLocked(storeID, st))
	}()

	if err := st.Clear(ctx); err != nil {
		return fmt.Errorf("clearing store %s: %w", storeID, err)
	}
	if _, err := s.index.DeleteStore(ctx, storeID); err != nil {
		return fmt.Errorf("unindexing store %s: %w", storeID, err)
	}
	s.reportSizeLocked(ctx)
	return nil
}

// CloseStore closes the backing store of storeID if it is open.
func (s *Storage) CloseStore(ctx context.Context, storeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.stores[storeID]
	if !ok {
		return nil
	}
	return s.releaseLocked(storeID, st)
}

// Close closes every open backing store.
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.stores))
	for id := range s.stores {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var err error
	for _, id := range ids {
		err = multierr.Append(err, s.releaseLocked(id, s.stores[id]))
	}
	return err
}

// OpenStores returns the identifiers of the currently open backing stores.
func (s *Storage) OpenStores() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.stores))
	for id := range s.stores {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Index returns the index that orders the cached values.
func (s *Storage) Index() index.Index {
	return s.index
}

// accommodateLocked evicts entries until size more bytes fit the budget.
func (s *Storage) accommodateLocked(ctx context.Context, size int64) error {
	if !s.bounded {
		return nil
	}
	current, err := s.index.CurrentSize(ctx)
	if err != nil {
		return fmt.Errorf("reading cache size: %w", err)
	}

	for current+size > s.maxSize {
		entry, err := s.index.PopKey(ctx)
		if err != nil {
			return fmt.Errorf("evicting for %d bytes: %w", size, err)
		}
		current -= entry.Size

		st, err := s.openLocked(ctx, entry.StoreID)
		if err != nil {
			return err
		}
		if err := st.Delete(ctx, entry.Key); err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("evicting %s/%s: %w", entry.StoreID, entry.Key, err)
			}
			s.logger.Warn("evicted key already missing from its store",
				zap.String("store_id", entry.StoreID),
				zap.String("key", entry.Key),
			)
			s.stats.IncCounter(stats.MetricConsistencyWarnings, 1)
			continue
		}
		s.stats.IncCounter(stats.MetricEvictions, 1)
	}
	return nil
}

// openLocked returns the open handle for storeID, opening it on first use.
func (s *Storage) openLocked(ctx context.Context, storeID string) (store.Store, error) {
	if st, ok := s.stores[storeID]; ok {
		return st, nil
	}
	st, err := s.opener.Open(ctx, storeID)
	if err != nil {
		return nil, fmt.Errorf("opening store %s: %w", storeID, err)
	}
	s.stores[storeID] = st
	s.logger.Debug("opened store", zap.String("store_id", storeID))
	s.stats.SetGauge(stats.MetricOpenStores, int64(len(s.stores)))
	return st, nil
}

// releaseLocked forgets and closes the handle for storeID.
func (s *Storage) releaseLocked(storeID string, st store.Store) error {
	delete(s.stores, storeID)
	s.stats.SetGauge(stats.MetricOpenStores, int64(len(s.stores)))
	if err := store.Close(st); err != nil {
		return fmt.Errorf("closing store %s: %w", storeID, err)
	}
	s.logger.Debug("closed store", zap.String("store_id", storeID))
	return nil
}

func (s *Storage) reportSizeLocked(ctx context.Context) {
	if n, err := s.index.CurrentSize(ctx); err == nil {
		s.stats.SetGauge(stats.MetricCacheBytes, n)
	}
}
