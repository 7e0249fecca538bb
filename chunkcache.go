// Package chunkcache caches the chunks and metadata of chunked array datasets
// read from slow origin stores in a size-bounded local cache shared by any
// number of datasets.
//
// Example usage:
//
//	cache, err := chunkcache.New(
//	    chunkcache.WithMaxSize(1<<30),
//	    chunkcache.WithPolicy(index.LIFO),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer cache.Close()
//
//	cube, err := cache.Open("cube", origin)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	chunk, err := cube.Get(ctx, "temperature/0.0.0")
package chunkcache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/discochess/chunkcache/internal/index"
	"github.com/discochess/chunkcache/internal/index/memindex"
	"github.com/discochess/chunkcache/internal/opener"
	"github.com/discochess/chunkcache/internal/stats"
	"github.com/discochess/chunkcache/internal/storage"
	"github.com/discochess/chunkcache/internal/storage/indexed"
	"github.com/discochess/chunkcache/internal/storage/timing"
	"github.com/discochess/chunkcache/internal/storage/unbounded"
	"github.com/discochess/chunkcache/internal/store"
	"github.com/discochess/chunkcache/internal/store/cachedstore"
	"github.com/discochess/chunkcache/internal/store/memstore"
)

// Sentinel errors for well-defined error conditions.
var (
	// ErrClosed indicates the cache has been closed.
	ErrClosed = errors.New("chunkcache: cache closed")

	// ErrStoreOpen indicates a store identifier is already open in the cache.
	ErrStoreOpen = errors.New("chunkcache: store already open")

	// ErrNoStore indicates no origin store was provided.
	ErrNoStore = errors.New("chunkcache: no origin store provided")
)

// Cache owns one cache storage and the cached stores opened on it.
// A Cache is safe for concurrent use by multiple goroutines.
type Cache struct {
	storage storage.Storage
	timing  *timing.Storage
	index   index.Index
	opener  opener.Opener
	filter  cachedstore.Filter
	stats   stats.Collector
	logger  *zap.Logger

	mu      sync.Mutex
	tenants map[string]*cachedstore.Store
	closed  atomic.Bool
}

// New creates a new Cache with the given options.
// If no options are provided, an unbounded in-memory FIFO cache is built.
func New(opts ...Option) (*Cache, error) {
	cfg := defaultOptions()
	for _, opt := range opts {
		opt.apply(&cfg)
	}

	c := &Cache{
		opener:  cfg.opener,
		filter:  cfg.filter,
		stats:   cfg.stats,
		logger:  cfg.logger,
		tenants: make(map[string]*cachedstore.Store),
	}
	if c.opener == nil {
		c.opener = memstore.NewOpener(memstore.NewDirectory())
	}

	if cfg.unbounded {
		c.storage = unbounded.New(c.opener)
	} else {
		c.index = cfg.index
		if c.index == nil {
			memOpts := []memindex.Option{memindex.WithPolicy(cfg.policy)}
			if cfg.bounded {
				if cfg.maxSize < 0 {
					return nil, fmt.Errorf("chunkcache: negative max size %d", cfg.maxSize)
				}
				memOpts = append(memOpts, memindex.WithMaxSize(cfg.maxSize))
			}
			c.index = memindex.New(memOpts...)
		}
		c.storage = indexed.New(c.index, c.opener,
			indexed.WithLogger(c.logger),
			indexed.WithStats(c.stats),
		)
	}

	if cfg.timing {
		c.timing = timing.New(c.storage, timing.WithStats(c.stats))
		c.storage = c.timing
	}

	maxSize, bounded := int64(0), false
	if c.index != nil {
		maxSize, bounded = c.index.MaxSize()
	}
	c.logger.Debug("cache initialized",
		zap.Bool("bounded", bounded),
		zap.Int64("maxSize", maxSize),
		zap.Bool("unbounded", cfg.unbounded),
		zap.Bool("timing", cfg.timing),
	)

	return c, nil
}

// Open returns a cached store that reads through to origin under storeID.
// Identifiers are unique within the cache until the returned store is closed.
// Values cached under storeID by earlier opens are served again. The cached
// store takes ownership of origin and closes it on Close.
func (c *Cache) Open(storeID string, origin store.Store) (*cachedstore.Store, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	if origin == nil {
		return nil, ErrNoStore
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.tenants[storeID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrStoreOpen, storeID)
	}

	opts := []cachedstore.Option{
		cachedstore.WithLogger(c.logger),
		cachedstore.WithStats(c.stats),
		cachedstore.WithCloseHook(func() { c.forget(storeID) }),
	}
	if c.filter != nil {
		opts = append(opts, cachedstore.WithFilter(c.filter))
	}
	cs := cachedstore.New(origin, storeID, c.storage, opts...)
	c.tenants[storeID] = cs

	c.logger.Debug("store opened", zap.String("store_id", storeID))
	return cs, nil
}

func (c *Cache) forget(storeID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tenants, storeID)
}

// Stores returns the identifiers of the open cached stores in sorted order.
func (c *Cache) Stores() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]string, 0, len(c.tenants))
	for id := range c.tenants {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Size returns the bytes currently cached. It reports false for an unbounded
// cache, which keeps no index.
func (c *Cache) Size(ctx context.Context) (int64, bool, error) {
	if c.index == nil {
		return 0, false, nil
	}
	n, err := c.index.CurrentSize(ctx)
	if err != nil {
		return 0, false, err
	}
	return n, true, nil
}

// Storage returns the cache storage shared by every cached store.
func (c *Cache) Storage() storage.Storage {
	return c.storage
}

// Index returns the store index, or nil for an unbounded cache.
func (c *Cache) Index() index.Index {
	return c.index
}

// Timing returns the timing statistics, or nil without WithTiming.
func (c *Cache) Timing() *timing.Storage {
	return c.timing
}

// Close closes every open cached store and the cache storage, then the index
// and the opener if they implement io.Closer.
// Cached values stay in their backing stores. Later calls return ErrClosed.
func (c *Cache) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}

	c.mu.Lock()
	tenants := make([]*cachedstore.Store, 0, len(c.tenants))
	for _, cs := range c.tenants {
		tenants = append(tenants, cs)
	}
	c.mu.Unlock()

	var err error
	for _, cs := range tenants {
		err = multierr.Append(err, cs.Close())
	}
	err = multierr.Append(err, c.storage.Close())
	if closer, ok := c.index.(io.Closer); ok {
		err = multierr.Append(err, closer.Close())
	}
	if closer, ok := c.opener.(io.Closer); ok {
		err = multierr.Append(err, closer.Close())
	}
	if err != nil {
		return fmt.Errorf("closing cache: %w", err)
	}
	return nil
}
