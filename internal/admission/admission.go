// Package admission provides filters that decide which values fetched from an
// origin store are worth caching.
package admission

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/discochess/chunkcache/internal/store/cachedstore"
)

// MaxValueSize admits values of at most n bytes.
func MaxValueSize(n int) cachedstore.Filter {
	return func(key string, value []byte, fetch time.Duration) bool {
		return len(value) <= n
	}
}

// MinFetchDuration admits values whose origin read took at least d. Values
// that are cheap to fetch again are not worth cache space.
func MinFetchDuration(d time.Duration) cachedstore.Filter {
	return func(key string, value []byte, fetch time.Duration) bool {
		return fetch >= d
	}
}

// All admits a value only if every filter admits it. Filters run in order and
// stop at the first rejection.
func All(filters ...cachedstore.Filter) cachedstore.Filter {
	return func(key string, value []byte, fetch time.Duration) bool {
		for _, f := range filters {
			if !f(key, value, fetch) {
				return false
			}
		}
		return true
	}
}

// SecondHit admits a key on its second miss among the last capacity distinct
// missed keys, keeping one-off reads out of the cache.
func SecondHit(capacity int) (cachedstore.Filter, error) {
	seen, err := lru.New[string, struct{}](capacity)
	if err != nil {
		return nil, err
	}
	var mu sync.Mutex
	return func(key string, value []byte, fetch time.Duration) bool {
		mu.Lock()
		defer mu.Unlock()
		if seen.Contains(key) {
			seen.Remove(key)
			return true
		}
		seen.Add(key, struct{}{})
		return false
	}, nil
}
