// Package timing provides a cache storage decorator that measures the size,
// latency and throughput of value reads, writes and deletes.
package timing

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/discochess/chunkcache/internal/stats"
	"github.com/discochess/chunkcache/internal/storage"
)

// Compile-time check that Storage implements storage.Storage.
var _ storage.Storage = (*Storage)(nil)

// OpStats summarizes the calls of one operation. Sizes are bytes, latencies
// seconds, throughput bytes per second.
type OpStats struct {
	AvgSize    float64
	AvgLatency float64
	Throughput float64
	Count      int64
}

type sums struct {
	size  int64
	time  time.Duration
	count int64
}

func (s sums) stats() OpStats {
	if s.count == 0 {
		return OpStats{AvgSize: math.NaN(), AvgLatency: math.NaN(), Throughput: math.NaN()}
	}
	st := OpStats{
		AvgSize:    float64(s.size) / float64(s.count),
		AvgLatency: s.time.Seconds() / float64(s.count),
		Throughput: math.NaN(),
		Count:      s.count,
	}
	if s.time > 0 {
		st.Throughput = float64(s.size) / s.time.Seconds()
	}
	return st
}

// Storage wraps another storage.Storage. Methods other than GetValue,
// PutValue and DeleteValue pass through unchanged.
type Storage struct {
	storage.Storage

	collector stats.Collector
	now       func() time.Time

	mu  sync.Mutex
	get sums
	put sums
	del sums
}

// Option configures a Storage.
type Option func(*Storage)

// WithStats sets a collector that receives every measured latency.
func WithStats(c stats.Collector) Option {
	return func(s *Storage) {
		s.collector = c
	}
}

// New wraps inner.
func New(inner storage.Storage, opts ...Option) *Storage {
	s := &Storage{
		Storage:   inner,
		collector: stats.NewNoop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetValue times the wrapped GetValue. Failed reads count with size 0.
func (s *Storage) GetValue(ctx context.Context, storeID, key string) ([]byte, error) {
	start := s.now()
	value, err := s.Storage.GetValue(ctx, storeID, key)
	s.record("get", &s.get, int64(len(value)), s.now().Sub(start))
	return value, err
}

// PutValue times the wrapped PutValue.
func (s *Storage) PutValue(ctx context.Context, storeID, key string, value []byte) error {
	start := s.now()
	err := s.Storage.PutValue(ctx, storeID, key, value)
	s.record("put", &s.put, int64(len(value)), s.now().Sub(start))
	return err
}

// DeleteValue times the wrapped DeleteValue.
func (s *Storage) DeleteValue(ctx context.Context, storeID, key string) (bool, error) {
	start := s.now()
	deleted, err := s.Storage.DeleteValue(ctx, storeID, key)
	s.record("delete", &s.del, 0, s.now().Sub(start))
	return deleted, err
}

// GetValueStats returns the statistics of GetValue calls.
func (s *Storage) GetValueStats() OpStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get.stats()
}

// PutValueStats returns the statistics of PutValue calls.
func (s *Storage) PutValueStats() OpStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.put.stats()
}

// DeleteValueStats returns the statistics of DeleteValue calls.
func (s *Storage) DeleteValueStats() OpStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.del.stats()
}

func (s *Storage) record(op string, sum *sums, size int64, elapsed time.Duration) {
	s.mu.Lock()
	sum.size += size
	sum.time += elapsed
	sum.count++
	s.mu.Unlock()

	s.collector.ObserveHistogram(stats.MetricStorageSeconds, elapsed.Seconds(), stats.OpLabel(op))
}
