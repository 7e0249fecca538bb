package unbounded

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/discochess/chunkcache/internal/store"
	"github.com/discochess/chunkcache/internal/store/memstore"
)

func TestStorage_ReadThrough(t *testing.T) {
	ctx := context.Background()
	dir := memstore.NewDirectory()
	s := New(memstore.NewOpener(dir))

	if _, err := s.GetValue(ctx, "s1", "k1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("GetValue() error = %v, want ErrNotFound", err)
	}
	if ok, _ := s.HasValue(ctx, "s1", "k1"); ok {
		t.Error("HasValue() = true before any put")
	}
	if ids := dir.IDs(); len(ids) != 0 {
		t.Errorf("reads opened stores %v", ids)
	}

	if err := s.PutValue(ctx, "s1", "k1", []byte("v1")); err != nil {
		t.Fatalf("PutValue() error = %v", err)
	}
	got, err := s.GetValue(ctx, "s1", "k1")
	if err != nil || string(got) != "v1" {
		t.Errorf("GetValue() = %q, %v, want v1", got, err)
	}
}

func TestStorage_NeverEvicts(t *testing.T) {
	ctx := context.Background()
	s := New(memstore.NewOpener(nil))

	for i := range 100 {
		_ = s.PutValue(ctx, "s", fmt.Sprintf("var/%d", i), make([]byte, 1<<16))
	}
	for i := range 100 {
		if ok, _ := s.HasValue(ctx, "s", fmt.Sprintf("var/%d", i)); !ok {
			t.Fatalf("value %d missing", i)
		}
	}
}

func TestStorage_DeleteValue(t *testing.T) {
	ctx := context.Background()
	s := New(memstore.NewOpener(nil))

	if deleted, err := s.DeleteValue(ctx, "s", "k"); err != nil || deleted {
		t.Errorf("DeleteValue(absent store) = %v, %v", deleted, err)
	}
	_ = s.PutValue(ctx, "s", "k", []byte("v"))
	if deleted, _ := s.DeleteValue(ctx, "s", "k"); !deleted {
		t.Error("DeleteValue() = false, want true")
	}
	if deleted, _ := s.DeleteValue(ctx, "s", "k"); deleted {
		t.Error("second DeleteValue() = true, want false")
	}
}

func TestStorage_CloseVsDelete(t *testing.T) {
	ctx := context.Background()
	dir := memstore.NewDirectory()
	s := New(memstore.NewOpener(dir))

	_ = s.PutValue(ctx, "kept", "k", []byte("v"))
	_ = s.PutValue(ctx, "gone", "k", []byte("v"))

	if err := s.CloseStore(ctx, "kept"); err != nil {
		t.Fatalf("CloseStore() error = %v", err)
	}
	if err := s.DeleteStore(ctx, "gone"); err != nil {
		t.Fatalf("DeleteStore() error = %v", err)
	}

	kept, _ := dir.Lookup("kept")
	if !kept.Closed() || kept.Len() != 1 {
		t.Errorf("closed store: closed=%v len=%d, want true 1", kept.Closed(), kept.Len())
	}
	gone, _ := dir.Lookup("gone")
	if !gone.Closed() || gone.Len() != 0 {
		t.Errorf("deleted store: closed=%v len=%d, want true 0", gone.Closed(), gone.Len())
	}

	// Handles are released, so reads miss until the next write reopens.
	if ok, _ := s.HasValue(ctx, "kept", "k"); ok {
		t.Error("HasValue() = true on a closed store")
	}
	_ = s.PutValue(ctx, "kept", "k2", []byte("v2"))
	if ok, _ := s.HasValue(ctx, "kept", "k"); !ok {
		t.Error("contents lost across close and reopen")
	}
}

func TestStorage_Close(t *testing.T) {
	ctx := context.Background()
	dir := memstore.NewDirectory()
	s := New(memstore.NewOpener(dir))

	_ = s.PutValue(ctx, "a", "k", []byte("v"))
	_ = s.PutValue(ctx, "b", "k", []byte("v"))
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	for _, id := range dir.IDs() {
		st, _ := dir.Lookup(id)
		if !st.Closed() {
			t.Errorf("store %s not closed", id)
		}
	}
}
