// Package noopcodec provides a no-op codec (no compression).
package noopcodec

import (
	"github.com/discochess/chunkcache/internal/codec"
)

// Compile-time check that Codec implements codec.Codec.
var _ codec.Codec = (*Codec)(nil)

// Codec stores values as they are.
type Codec struct{}

// New returns a new no-op codec.
func New() *Codec {
	return &Codec{}
}

// Encode returns src unchanged.
func (c *Codec) Encode(src []byte) ([]byte, error) { return src, nil }

// Decode returns src unchanged.
func (c *Codec) Decode(src []byte) ([]byte, error) { return src, nil }

// Extension returns empty string.
func (c *Codec) Extension() string {
	return ""
}
