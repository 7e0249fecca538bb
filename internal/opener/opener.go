// Package opener defines the store opener contract used by cache storages to
// obtain one writable backing store per store identifier.
package opener

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/discochess/chunkcache/internal/store"
)

// Placeholder is replaced by the store identifier in root patterns.
const Placeholder = "{store_id}"

// ErrConfig is returned when an opener is constructed with conflicting or
// incomplete configuration.
var ErrConfig = errors.New("opener: invalid configuration")

// Opener returns a writable backing store for a store identifier, creating it
// if it does not exist yet.
//
// Callers cache the returned handle; an Opener may still be called several times
// for the same identifier and must not assume it is only called once.
type Opener interface {
	Open(ctx context.Context, storeID string) (store.Store, error)
}

// Func adapts an ordinary function to the Opener interface.
type Func func(ctx context.Context, storeID string) (store.Store, error)

// Compile-time check that Func implements Opener.
var _ Opener = Func(nil)

// Open calls f.
func (f Func) Open(ctx context.Context, storeID string) (store.Store, error) {
	return f(ctx, storeID)
}

// ValidatePattern checks that a root pattern contains the identifier placeholder.
func ValidatePattern(pattern string) error {
	if !strings.Contains(pattern, Placeholder) {
		return fmt.Errorf("%w: root pattern %q lacks %s", ErrConfig, pattern, Placeholder)
	}
	return nil
}

// ExpandRoot substitutes storeID into pattern.
func ExpandRoot(pattern, storeID string) string {
	return strings.ReplaceAll(pattern, Placeholder, storeID)
}

// Prefix expands pattern for storeID and normalizes it into an object key
// prefix ending in "/".
func Prefix(pattern, storeID string) string {
	p := strings.Trim(ExpandRoot(pattern, storeID), "/")
	if p == "" {
		return ""
	}
	return p + "/"
}
