package cachedstore

import (
	"math"
	"sync"
	"time"
)

// Stats contains cache statistics. Latencies are mean seconds per call and NaN
// when the matching count is zero.
type Stats struct {
	Hits        int64
	Misses      int64
	HitLatency  float64
	MissLatency float64
}

// HitRate returns the cache hit rate as a percentage.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total) * 100
}

// counters accumulates hit and miss counts with their summed latencies.
type counters struct {
	mu       sync.Mutex
	hits     int64
	misses   int64
	hitTime  time.Duration
	missTime time.Duration
}

func (c *counters) hit(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hits++
	c.hitTime += d
}

func (c *counters) miss(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.misses++
	c.missTime += d
}

func (c *counters) snapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Hits:        c.hits,
		Misses:      c.misses,
		HitLatency:  mean(c.hitTime, c.hits),
		MissLatency: mean(c.missTime, c.misses),
	}
}

func mean(sum time.Duration, n int64) float64 {
	if n == 0 {
		return math.NaN()
	}
	return sum.Seconds() / float64(n)
}
