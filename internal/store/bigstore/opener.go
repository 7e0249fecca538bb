package bigstore

import (
	"context"
	"sync"

	"go.uber.org/multierr"

	"github.com/discochess/chunkcache/internal/opener"
	"github.com/discochess/chunkcache/internal/store"
)

// Compile-time check that Opener implements opener.Opener.
var _ opener.Opener = (*Opener)(nil)

// Opener keeps one bigcache store per identifier for its own lifetime, so a
// store closed by the cache storage keeps its contents when reopened.
type Opener struct {
	cfg Config

	mu     sync.Mutex
	stores map[string]*Store
}

// NewOpener creates an opener whose stores use cfg.
func NewOpener(cfg Config) *Opener {
	return &Opener{
		cfg:    cfg,
		stores: make(map[string]*Store),
	}
}

// Open returns the store for storeID, creating it on first use.
func (o *Opener) Open(ctx context.Context, storeID string) (store.Store, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if s, ok := o.stores[storeID]; ok {
		return s, nil
	}
	s, err := New(context.WithoutCancel(ctx), o.cfg)
	if err != nil {
		return nil, err
	}
	o.stores[storeID] = s
	return s, nil
}

// Close frees every store the opener created.
func (o *Opener) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	var err error
	for id, s := range o.stores {
		err = multierr.Append(err, s.release())
		delete(o.stores, id)
	}
	return err
}
