package diskstore

import (
	"context"
	"path/filepath"

	"github.com/discochess/chunkcache/internal/codec"
	"github.com/discochess/chunkcache/internal/opener"
	"github.com/discochess/chunkcache/internal/store"
)

// Compile-time check that Opener implements opener.Opener.
var _ opener.Opener = (*Opener)(nil)

// Opener opens one directory store per store identifier.
type Opener struct {
	pattern string
	codec   codec.Codec
}

// NewOpener creates an opener whose stores live at pattern with the
// "{store_id}" placeholder substituted, e.g. "/var/cache/cubes/{store_id}.zarr".
func NewOpener(pattern string, c codec.Codec) (*Opener, error) {
	if err := opener.ValidatePattern(pattern); err != nil {
		return nil, err
	}
	return &Opener{pattern: pattern, codec: c}, nil
}

// Open returns the store for storeID, creating its directory if needed.
func (o *Opener) Open(ctx context.Context, storeID string) (store.Store, error) {
	return New(filepath.FromSlash(opener.ExpandRoot(o.pattern, storeID)), o.codec)
}
