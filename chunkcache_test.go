package chunkcache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/discochess/chunkcache/internal/admission"
	"github.com/discochess/chunkcache/internal/index"
	"github.com/discochess/chunkcache/internal/index/memindex"
	"github.com/discochess/chunkcache/internal/opener"
	"github.com/discochess/chunkcache/internal/store"
	"github.com/discochess/chunkcache/internal/store/memstore"
)

// dataset returns an origin with n chunks of size bytes under "var/".
func dataset(n, size int) *memstore.Store {
	values := map[string][]byte{".zgroup": []byte(`{"zarr_format":2}`)}
	for i := range n {
		values[fmt.Sprintf("var/%d", i)] = bytes.Repeat([]byte{byte(i)}, size)
	}
	return memstore.NewFrom(values)
}

// closingOpener records whether Close was called.
type closingOpener struct {
	opener.Opener
	closed bool
}

func (o *closingOpener) Close() error {
	o.closed = true
	return nil
}

// closingIndex records whether Close was called.
type closingIndex struct {
	index.Index
	closed bool
}

func (i *closingIndex) Close() error {
	i.closed = true
	return nil
}

func TestNew_Defaults(t *testing.T) {
	c, err := New()
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer c.Close()

	if c.Index() == nil {
		t.Fatal("Index() = nil, want in-process index")
	}
	if _, bounded := c.Index().MaxSize(); bounded {
		t.Error("default index is bounded")
	}
	if c.Timing() != nil {
		t.Error("Timing() != nil without WithTiming")
	}
}

func TestNew_NegativeMaxSize(t *testing.T) {
	if _, err := New(WithMaxSize(-1)); err == nil {
		t.Error("New(WithMaxSize(-1)) should fail")
	}
}

func TestNew_WithIndex(t *testing.T) {
	idx := memindex.New(memindex.WithPolicy(index.LIFO), memindex.WithMaxSize(10))
	c, err := New(WithIndex(idx), WithMaxSize(1000))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer c.Close()

	if c.Index() != idx {
		t.Error("Index() returned unexpected index")
	}
	if n, _ := c.Index().MaxSize(); n != 10 {
		t.Errorf("MaxSize() = %d, want the given index's 10", n)
	}
}

func TestCache_Open_RequiresOrigin(t *testing.T) {
	c, _ := New()
	defer c.Close()

	if _, err := c.Open("cube", nil); !errors.Is(err, ErrNoStore) {
		t.Errorf("Open() error = %v, want ErrNoStore", err)
	}
}

func TestCache_Open_Duplicate(t *testing.T) {
	ctx := context.Background()
	c, _ := New(WithMaxSize(1 << 20))
	defer c.Close()

	cube, err := c.Open("cube", dataset(4, 100))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if _, err := c.Open("cube", dataset(4, 100)); !errors.Is(err, ErrStoreOpen) {
		t.Errorf("second Open() error = %v, want ErrStoreOpen", err)
	}
	if _, err := cube.Get(ctx, "var/0"); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if err := cube.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if ids := c.Stores(); len(ids) != 0 {
		t.Errorf("Stores() = %v after Close, want none", ids)
	}

	// The value cached by the first open is served without touching the new origin.
	again, err := c.Open("cube", memstore.New())
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	got, err := again.Get(ctx, "var/0")
	if err != nil {
		t.Fatalf("Get() after reopen error = %v", err)
	}
	if len(got) != 100 {
		t.Errorf("Get() after reopen = %d bytes, want 100", len(got))
	}
	if st := again.Stats(); st.Hits != 1 || st.Misses != 0 {
		t.Errorf("Stats() = %+v, want one hit", st)
	}
}

func TestCache_EvictsAcrossStores(t *testing.T) {
	ctx := context.Background()
	c, _ := New(WithMaxSize(300))
	defer c.Close()

	a, _ := c.Open("a", dataset(5, 100))
	b, _ := c.Open("b", dataset(5, 100))

	for i := range 5 {
		key := fmt.Sprintf("var/%d", i)
		if _, err := a.Get(ctx, key); err != nil {
			t.Fatalf("a.Get(%s) error = %v", key, err)
		}
		if _, err := b.Get(ctx, key); err != nil {
			t.Fatalf("b.Get(%s) error = %v", key, err)
		}
		size, _, err := c.Size(ctx)
		if err != nil {
			t.Fatalf("Size() error = %v", err)
		}
		if size > 300 {
			t.Fatalf("Size() = %d, exceeds 300", size)
		}
	}

	// FIFO keeps the three newest values: b/var/3, a/var/4, b/var/4.
	if ok, _ := c.Storage().HasValue(ctx, "a", "var/0"); ok {
		t.Error("oldest value of a still cached")
	}
	if ok, _ := c.Storage().HasValue(ctx, "b", "var/4"); !ok {
		t.Error("newest value of b not cached")
	}
}

func TestCache_Unbounded(t *testing.T) {
	ctx := context.Background()
	c, _ := New(WithUnbounded(), WithMaxSize(10))
	defer c.Close()

	if c.Index() != nil {
		t.Error("Index() != nil for unbounded cache")
	}
	cube, _ := c.Open("cube", dataset(3, 100))
	for i := range 3 {
		_, _ = cube.Get(ctx, fmt.Sprintf("var/%d", i))
	}
	for i := range 3 {
		if ok, _ := c.Storage().HasValue(ctx, "cube", fmt.Sprintf("var/%d", i)); !ok {
			t.Errorf("var/%d not cached", i)
		}
	}
	if _, ok, _ := c.Size(ctx); ok {
		t.Error("Size() reported for unbounded cache")
	}
}

func TestCache_Timing(t *testing.T) {
	ctx := context.Background()
	c, _ := New(WithTiming())
	defer c.Close()

	cube, _ := c.Open("cube", dataset(2, 64))
	_, _ = cube.Get(ctx, "var/0")
	_, _ = cube.Get(ctx, "var/0")

	if c.Timing() == nil {
		t.Fatal("Timing() = nil with WithTiming")
	}
	if got := c.Timing().PutValueStats().Count; got != 1 {
		t.Errorf("PutValue count = %d, want 1", got)
	}
	if got := c.Timing().GetValueStats().Count; got < 1 {
		t.Errorf("GetValue count = %d, want at least 1", got)
	}
}

func TestCache_Filter(t *testing.T) {
	ctx := context.Background()
	c, _ := New(WithFilter(admission.MaxValueSize(50)))
	defer c.Close()

	cube, _ := c.Open("cube", dataset(1, 100))
	if _, err := cube.Get(ctx, "var/0"); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if _, err := cube.Get(ctx, ".zgroup"); err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	if ok, _ := c.Storage().HasValue(ctx, "cube", "var/0"); ok {
		t.Error("value above the filter limit was cached")
	}
	if ok, _ := c.Storage().HasValue(ctx, "cube", ".zgroup"); !ok {
		t.Error("small value was not cached")
	}
}

func TestCache_Close(t *testing.T) {
	op := &closingOpener{Opener: memstore.NewOpener(nil)}
	c, _ := New(WithOpener(op))

	origin := dataset(1, 10)
	if _, err := c.Open("cube", origin); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !origin.Closed() {
		t.Error("origin not closed")
	}
	if !op.closed {
		t.Error("opener not closed")
	}
	if err := c.Close(); !errors.Is(err, ErrClosed) {
		t.Errorf("second Close() error = %v, want ErrClosed", err)
	}
	if _, err := c.Open("other", dataset(1, 10)); !errors.Is(err, ErrClosed) {
		t.Errorf("Open() after Close error = %v, want ErrClosed", err)
	}
}

func TestCache_CloseClosesIndex(t *testing.T) {
	idx := &closingIndex{Index: memindex.New(memindex.WithMaxSize(100))}
	c, err := New(WithIndex(idx))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !idx.closed {
		t.Error("index not closed")
	}
}

func TestCache_ConcurrentTenants(t *testing.T) {
	ctx := context.Background()
	c, _ := New(WithMaxSize(2000))
	defer c.Close()

	errs := make(chan error, 8)
	for w := range 8 {
		go func() {
			cs, err := c.Open(fmt.Sprintf("s%d", w), dataset(10, 100))
			if err != nil {
				errs <- err
				return
			}
			for i := range 10 {
				if _, err := cs.Get(ctx, fmt.Sprintf("var/%d", i)); err != nil && !errors.Is(err, store.ErrNotFound) {
					errs <- err
					return
				}
			}
			errs <- nil
		}()
	}
	for range 8 {
		if err := <-errs; err != nil {
			t.Fatalf("tenant error = %v", err)
		}
	}

	if size, _, _ := c.Size(ctx); size > 2000 {
		t.Errorf("Size() = %d, exceeds 2000", size)
	}
	if got := len(c.Stores()); got != 8 {
		t.Errorf("Stores() = %d, want 8", got)
	}
}
