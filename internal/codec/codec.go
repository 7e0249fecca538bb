// Package codec provides value compression for persistent backing stores.
package codec

// Codec compresses and decompresses whole values.
// Implementations must be safe for concurrent use.
type Codec interface {
	// Encode returns the compressed form of src.
	Encode(src []byte) ([]byte, error)
	// Decode returns the decompressed form of src.
	Decode(src []byte) ([]byte, error)
	// Extension returns the file extension without dot (e.g., "zst", "gz").
	// Returns empty string for no compression.
	Extension() string
}
