package chunkcache

import (
	"go.uber.org/zap"

	"github.com/discochess/chunkcache/internal/index"
	"github.com/discochess/chunkcache/internal/opener"
	"github.com/discochess/chunkcache/internal/stats"
	"github.com/discochess/chunkcache/internal/store/cachedstore"
)

// Option configures a Cache.
type Option interface {
	apply(*options)
}

// options holds the cache configuration.
type options struct {
	maxSize   int64
	bounded   bool
	policy    index.Policy
	index     index.Index
	opener    opener.Opener
	unbounded bool
	timing    bool
	filter    cachedstore.Filter
	stats     stats.Collector
	logger    *zap.Logger
}

// defaultOptions returns the default configuration.
func defaultOptions() options {
	return options{
		policy: index.FIFO,
		stats:  stats.NewNoop(),
		logger: zap.NewNop(),
	}
}

// optionFunc wraps a function to implement Option.
type optionFunc func(*options)

// Compile-time check that optionFunc implements Option.
var _ Option = optionFunc(nil)

func (f optionFunc) apply(o *options) { f(o) }

// WithMaxSize bounds the total bytes cached across all stores.
// Without it the in-process index is unbounded.
func WithMaxSize(n int64) Option {
	return optionFunc(func(o *options) {
		o.maxSize = n
		o.bounded = true
	})
}

// WithPolicy sets the eviction policy of the in-process index.
// Default is FIFO.
func WithPolicy(p index.Policy) Option {
	return optionFunc(func(o *options) {
		o.policy = p
	})
}

// WithIndex uses idx instead of an in-process index. WithMaxSize and
// WithPolicy are ignored; idx carries its own.
func WithIndex(idx index.Index) Option {
	return optionFunc(func(o *options) {
		o.index = idx
	})
}

// WithOpener sets the opener for backing stores.
// If not set, every store is kept in memory for the life of the cache.
// The cache closes the opener on Close if it implements io.Closer.
func WithOpener(op opener.Opener) Option {
	return optionFunc(func(o *options) {
		o.opener = op
	})
}

// WithUnbounded keeps every value instead of evicting through an index.
func WithUnbounded() Option {
	return optionFunc(func(o *options) {
		o.unbounded = true
	})
}

// WithTiming measures the latency and throughput of cache storage calls.
func WithTiming() Option {
	return optionFunc(func(o *options) {
		o.timing = true
	})
}

// WithFilter sets the admission filter applied to values fetched from origins.
// If not set, every value is admitted.
func WithFilter(f cachedstore.Filter) Option {
	return optionFunc(func(o *options) {
		o.filter = f
	})
}

// WithStats sets the stats collector.
// If not set, a no-op collector is used.
func WithStats(c stats.Collector) Option {
	return optionFunc(func(o *options) {
		o.stats = c
	})
}

// WithLogger sets the logger.
// If not set, a no-op logger is used.
func WithLogger(l *zap.Logger) Option {
	return optionFunc(func(o *options) {
		o.logger = l
	})
}
