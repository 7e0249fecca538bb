// Package memstore provides an in-memory store and store opener.
// Used for testing and as the default backing store.
package memstore

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/discochess/chunkcache/internal/store"
)

// Compile-time check that Store implements store.Store.
var _ store.Store = (*Store)(nil)

// Store is a map-backed store.
type Store struct {
	mu     sync.RWMutex
	values map[string][]byte
	closed atomic.Bool
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		values: make(map[string][]byte),
	}
}

// NewFrom creates a store holding copies of the given values.
func NewFrom(values map[string][]byte) *Store {
	s := New()
	for k, v := range values {
		s.values[k] = clone(v)
	}
	return s
}

// Get returns a copy of the value stored under key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.values[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return clone(v), nil
}

// Set stores a copy of value so later caller mutations do not leak in.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = clone(value)
	return nil
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.values[key]; !ok {
		return store.ErrNotFound
	}
	delete(s.values, key)
	return nil
}

// Has reports whether key exists.
func (s *Store) Has(ctx context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.values[key]
	return ok, nil
}

// Keys returns all keys.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	return keys, nil
}

// Clear removes all values.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.values)
	return nil
}

// Close marks the store closed. Contents are kept so a Directory can hand the
// same store out again.
func (s *Store) Close() error {
	s.closed.Store(true)
	return nil
}

// Closed reports whether Close was called since the store was last opened.
func (s *Store) Closed() bool {
	return s.closed.Load()
}

// Len returns the number of values.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}

// Size returns the summed size of all values in bytes.
func (s *Store) Size() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, v := range s.values {
		n += int64(len(v))
	}
	return n
}

func clone(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	c := make([]byte, len(b))
	copy(c, b)
	return c
}
