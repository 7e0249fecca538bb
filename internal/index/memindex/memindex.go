// Package memindex implements an in-process ordered store index.
package memindex

import (
	"container/list"
	"context"
	"sync"

	"github.com/discochess/chunkcache/internal/index"
)

// Compile-time check that Index implements index.Index.
var _ index.Index = (*Index)(nil)

// Index keeps entries in insertion order in a doubly linked list; the front is
// the oldest end. Each store has its own key map so that a whole store can be
// dropped without scanning other stores' entries.
type Index struct {
	policy  index.Policy
	maxSize int64
	bounded bool

	mu     sync.Mutex
	order  *list.List
	stores map[string]map[string]*list.Element
	total  int64
}

// Option configures an Index.
type Option func(*Index)

// WithPolicy sets the eviction policy. Default is FIFO.
func WithPolicy(p index.Policy) Option {
	return func(i *Index) {
		i.policy = p
	}
}

// WithMaxSize sets the size ceiling reported by MaxSize.
func WithMaxSize(n int64) Option {
	return func(i *Index) {
		i.maxSize = n
		i.bounded = true
	}
}

// New creates an empty index.
func New(opts ...Option) *Index {
	i := &Index{
		policy: index.FIFO,
		order:  list.New(),
		stores: make(map[string]map[string]*list.Element),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Policy returns the configured eviction policy.
func (i *Index) Policy() index.Policy {
	return i.policy
}

// MaxSize returns the configured ceiling.
func (i *Index) MaxSize() (int64, bool) {
	return i.maxSize, i.bounded
}

// CurrentSize returns the summed size of all entries.
func (i *Index) CurrentSize(ctx context.Context) (int64, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.total, nil
}

// Len returns the number of entries.
func (i *Index) Len() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.order.Len()
}

// PushKey appends an entry, replacing an existing entry for the same key.
func (i *Index) PushKey(ctx context.Context, storeID, key string, size int64) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.removeLocked(storeID, key)

	keys, ok := i.stores[storeID]
	if !ok {
		keys = make(map[string]*list.Element)
		i.stores[storeID] = keys
	}
	keys[key] = i.order.PushBack(&index.Entry{StoreID: storeID, Key: key, Size: size})
	i.total += size
	return nil
}

// PopKey removes the oldest entry under FIFO and the newest under LIFO.
func (i *Index) PopKey(ctx context.Context) (index.Entry, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	var elem *list.Element
	if i.policy == index.LIFO {
		elem = i.order.Back()
	} else {
		elem = i.order.Front()
	}
	if elem == nil {
		return index.Entry{}, index.ErrUnderflow
	}

	entry := *elem.Value.(*index.Entry)
	i.removeLocked(entry.StoreID, entry.Key)
	return entry, nil
}

// MarkKey moves an entry to the end that is popped last.
func (i *Index) MarkKey(ctx context.Context, storeID, key string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	elem, ok := i.stores[storeID][key]
	if !ok {
		return nil
	}
	if i.policy == index.LIFO {
		i.order.MoveToFront(elem)
	} else {
		i.order.MoveToBack(elem)
	}
	return nil
}

// DeleteKey removes an entry and returns its size.
func (i *Index) DeleteKey(ctx context.Context, storeID, key string) (int64, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.removeLocked(storeID, key), nil
}

// DeleteStore removes all entries of storeID.
func (i *Index) DeleteStore(ctx context.Context, storeID string) (int64, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	var removed int64
	for _, elem := range i.stores[storeID] {
		removed += i.order.Remove(elem).(*index.Entry).Size
	}
	delete(i.stores, storeID)
	i.total -= removed
	return removed, nil
}

// removeLocked unlinks one entry and returns its size, or 0 if absent.
func (i *Index) removeLocked(storeID, key string) int64 {
	keys, ok := i.stores[storeID]
	if !ok {
		return 0
	}
	elem, ok := keys[key]
	if !ok {
		return 0
	}
	delete(keys, key)
	if len(keys) == 0 {
		delete(i.stores, storeID)
	}
	size := i.order.Remove(elem).(*index.Entry).Size
	i.total -= size
	return size
}
