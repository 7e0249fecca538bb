// Package index defines the ordered key index that decides which cached
// value is evicted next.
package index

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrUnderflow is returned by PopKey when the index holds no entries.
var ErrUnderflow = errors.New("index: pop from empty index")

// Entry identifies one cached value and the number of bytes it accounts for.
type Entry struct {
	StoreID string
	Key     string
	Size    int64
}

// Policy selects which end of the index PopKey takes entries from.
type Policy int

const (
	// FIFO evicts the least recently pushed or marked entry first.
	FIFO Policy = iota
	// LIFO evicts the most recently pushed entry first.
	LIFO
)

// String returns the lower-case policy name.
func (p Policy) String() string {
	switch p {
	case FIFO:
		return "fifo"
	case LIFO:
		return "lifo"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// ParsePolicy parses "fifo" or "lifo", ignoring case.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(s) {
	case "fifo":
		return FIFO, nil
	case "lifo":
		return LIFO, nil
	default:
		return 0, fmt.Errorf("index: unknown policy %q", s)
	}
}

// Index is an ordered collection of (store, key, size) entries with a running
// total of sizes. The total always equals the sum of the sizes of the entries
// currently present.
//
// Implementations must be safe for concurrent use.
type Index interface {
	// MaxSize returns the configured ceiling and whether one is configured.
	MaxSize() (int64, bool)

	// CurrentSize returns the sum of the sizes of all entries.
	CurrentSize(ctx context.Context) (int64, error)

	// PushKey inserts an entry at the most recently inserted end.
	// Pushing a key that is already indexed replaces the old entry.
	PushKey(ctx context.Context, storeID, key string, size int64) error

	// PopKey removes and returns the next entry to evict.
	// Returns ErrUnderflow if the index is empty.
	PopKey(ctx context.Context) (Entry, error)

	// MarkKey moves an existing entry to the end the policy evicts last.
	// Marking an absent key does nothing.
	MarkKey(ctx context.Context, storeID, key string) error

	// DeleteKey removes an entry and returns its size, or 0 if absent.
	DeleteKey(ctx context.Context, storeID, key string) (int64, error)

	// DeleteStore removes every entry of a store and returns their summed size.
	DeleteStore(ctx context.Context, storeID string) (int64, error)
}
