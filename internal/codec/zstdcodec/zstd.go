// Package zstdcodec provides a zstd compression codec.
package zstdcodec

import (
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/discochess/chunkcache/internal/codec"
)

// Compile-time check that Codec implements codec.Codec.
var _ codec.Codec = (*Codec)(nil)

// Codec implements zstd compression. The encoder and decoder are shared;
// EncodeAll and DecodeAll are safe for concurrent use.
type Codec struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// New returns a new zstd codec.
func New() *Codec {
	// Neither constructor fails without options.
	enc, _ := zstd.NewWriter(nil)
	dec, _ := zstd.NewReader(nil)
	return &Codec{encoder: enc, decoder: dec}
}

// Encode compresses src.
func (c *Codec) Encode(src []byte) ([]byte, error) {
	return c.encoder.EncodeAll(src, make([]byte, 0, len(src)/2)), nil
}

// Decode decompresses src.
func (c *Codec) Decode(src []byte) ([]byte, error) {
	out, err := c.decoder.DecodeAll(src, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decode: %w", err)
	}
	return out, nil
}

// Extension returns "zst".
func (c *Codec) Extension() string {
	return "zst"
}
