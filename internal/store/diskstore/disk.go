// Package diskstore implements a durable store that keeps one file per key
// below a root directory.
package diskstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/discochess/chunkcache/internal/codec"
	"github.com/discochess/chunkcache/internal/codec/noopcodec"
	"github.com/discochess/chunkcache/internal/store"
)

// Compile-time check that Store implements store.Store.
var _ store.Store = (*Store)(nil)

// tmpSuffix marks files that are still being written.
const tmpSuffix = ".tmp"

// Store is a disk-based store. Keys map to slash-separated paths below root.
type Store struct {
	root  string
	codec codec.Codec
}

// New creates a store rooted at the given directory, creating it if needed.
// The codec handles compression/decompression of values; nil stores them as is.
func New(root string, c codec.Codec) (*Store, error) {
	if c == nil {
		c = noopcodec.New()
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("creating root directory: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat root directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}

	return &Store{
		root:  root,
		codec: c,
	}, nil
}

// Root returns the directory the store lives in.
func (s *Store) Root() string {
	return s.root
}

// Get reads and decompresses the value stored under key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := s.keyPath(key)
	if err != nil {
		return nil, err
	}

	compressed, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("reading %s: %w", key, err)
	}

	data, err := s.codec.Decode(compressed)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", key, err)
	}
	return data, nil
}

// Set compresses value and writes it atomically under key.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.keyPath(key)
	if err != nil {
		return err
	}

	data, err := s.codec.Encode(value)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", key, err)
	}
	tmp := path + tmpSuffix
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming %s: %w", key, err)
	}
	return nil
}

// Delete removes the file for key.
func (s *Store) Delete(ctx context.Context, key string) error {
	path, err := s.keyPath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return store.ErrNotFound
		}
		return fmt.Errorf("deleting %s: %w", key, err)
	}
	return nil
}

// Has reports whether a file exists for key.
func (s *Store) Has(ctx context.Context, key string) (bool, error) {
	path, err := s.keyPath(key)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", key, err)
	}
	return true, nil
}

// Keys walks the root directory and returns every stored key.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasSuffix(path, tmpSuffix) {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		keys = append(keys, s.pathKey(filepath.ToSlash(rel)))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing keys: %w", err)
	}
	return keys, nil
}

// Clear removes every file below root but keeps root itself.
func (s *Store) Clear(ctx context.Context) error {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return fmt.Errorf("reading root directory: %w", err)
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(s.root, entry.Name())); err != nil {
			return fmt.Errorf("clearing %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// Close releases any resources held by the store.
func (s *Store) Close() error {
	return nil
}

// keyPath returns the filesystem path for a key.
func (s *Store) keyPath(key string) (string, error) {
	if err := store.ValidateKey(key); err != nil {
		return "", fmt.Errorf("%w: %q", err, key)
	}
	name := key
	if ext := s.codec.Extension(); ext != "" {
		name += "." + ext
	}
	return filepath.Join(s.root, filepath.FromSlash(name)), nil
}

// pathKey strips the codec extension from a slash-separated relative path.
func (s *Store) pathKey(rel string) string {
	if ext := s.codec.Extension(); ext != "" {
		return strings.TrimSuffix(rel, "."+ext)
	}
	return rel
}
