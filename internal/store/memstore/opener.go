package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/discochess/chunkcache/internal/opener"
	"github.com/discochess/chunkcache/internal/store"
)

// Compile-time check that Opener implements opener.Opener.
var _ opener.Opener = (*Opener)(nil)

// Directory records the stores opened by an Opener so callers can inspect them.
type Directory struct {
	mu     sync.Mutex
	stores map[string]*Store
}

// NewDirectory creates an empty directory.
func NewDirectory() *Directory {
	return &Directory{stores: make(map[string]*Store)}
}

// Lookup returns the store registered for storeID.
func (d *Directory) Lookup(storeID string) (*Store, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.stores[storeID]
	return s, ok
}

// Register adds s under storeID, replacing any previous entry.
func (d *Directory) Register(storeID string, s *Store) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stores[storeID] = s
}

// IDs returns the registered store identifiers in sorted order.
func (d *Directory) IDs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	ids := make([]string, 0, len(d.stores))
	for id := range d.stores {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (d *Directory) getOrCreate(storeID string) *Store {
	d.mu.Lock()
	defer d.mu.Unlock()

	s, ok := d.stores[storeID]
	if !ok {
		s = New()
		d.stores[storeID] = s
	}
	s.closed.Store(false)
	return s
}

// Opener opens in-memory stores.
type Opener struct {
	dir *Directory
}

// NewOpener creates an in-memory store opener.
// Without a directory every Open returns a fresh empty store. With one, stores
// are registered in it and reopening an identifier returns the registered store.
func NewOpener(dir *Directory) *Opener {
	return &Opener{dir: dir}
}

// Open returns the store for storeID.
func (o *Opener) Open(ctx context.Context, storeID string) (store.Store, error) {
	if o.dir == nil {
		return New(), nil
	}
	return o.dir.getOrCreate(storeID), nil
}

// Directory returns the directory the opener registers stores in, or nil.
func (o *Opener) Directory() *Directory {
	return o.dir
}
