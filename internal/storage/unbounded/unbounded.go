// Package unbounded implements a cache storage without a size limit.
package unbounded

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/multierr"

	"github.com/discochess/chunkcache/internal/opener"
	"github.com/discochess/chunkcache/internal/storage"
	"github.com/discochess/chunkcache/internal/store"
)

// Compile-time check that Storage implements storage.Storage.
var _ storage.Storage = (*Storage)(nil)

// Storage keeps every value it is given. Backing stores are opened on first
// write; reads of a store that was never written miss without opening it.
type Storage struct {
	opener opener.Opener

	mu     sync.Mutex
	stores map[string]store.Store
}

// New creates an unbounded storage that opens backing stores with op.
func New(op opener.Opener) *Storage {
	return &Storage{
		opener: op,
		stores: make(map[string]store.Store),
	}
}

// HasValue reports whether key has been cached for storeID.
func (s *Storage) HasValue(ctx context.Context, storeID, key string) (bool, error) {
	st := s.lookup(storeID)
	if st == nil {
		return false, nil
	}
	return st.Has(ctx, key)
}

// GetValue returns a cached value.
func (s *Storage) GetValue(ctx context.Context, storeID, key string) ([]byte, error) {
	st := s.lookup(storeID)
	if st == nil {
		return nil, store.ErrNotFound
	}
	return st.Get(ctx, key)
}

// PutValue caches value, opening the backing store if needed.
func (s *Storage) PutValue(ctx context.Context, storeID, key string, value []byte) error {
	s.mu.Lock()
	st, ok := s.stores[storeID]
	if !ok {
		var err error
		if st, err = s.opener.Open(ctx, storeID); err != nil {
			s.mu.Unlock()
			return fmt.Errorf("opening store %s: %w", storeID, err)
		}
		s.stores[storeID] = st
	}
	s.mu.Unlock()

	return st.Set(ctx, key, value)
}

// DeleteValue removes a cached value.
func (s *Storage) DeleteValue(ctx context.Context, storeID, key string) (bool, error) {
	st := s.lookup(storeID)
	if st == nil {
		return false, nil
	}
	if err := st.Delete(ctx, key); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// DeleteStore clears and closes the backing store of storeID.
func (s *Storage) DeleteStore(ctx context.Context, storeID string) error {
	s.mu.Lock()
	st, ok := s.stores[storeID]
	delete(s.stores, storeID)
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return multierr.Append(st.Clear(ctx), store.Close(st))
}

// CloseStore closes the backing store of storeID, keeping its contents.
func (s *Storage) CloseStore(ctx context.Context, storeID string) error {
	s.mu.Lock()
	st, ok := s.stores[storeID]
	delete(s.stores, storeID)
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return store.Close(st)
}

// Close closes every open backing store.
func (s *Storage) Close() error {
	s.mu.Lock()
	stores := s.stores
	s.stores = make(map[string]store.Store)
	s.mu.Unlock()

	ids := make([]string, 0, len(stores))
	for id := range stores {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var err error
	for _, id := range ids {
		err = multierr.Append(err, store.Close(stores[id]))
	}
	return err
}

func (s *Storage) lookup(storeID string) store.Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stores[storeID]
}
