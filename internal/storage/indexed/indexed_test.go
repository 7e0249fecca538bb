package indexed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/discochess/chunkcache/internal/index"
	"github.com/discochess/chunkcache/internal/index/memindex"
	"github.com/discochess/chunkcache/internal/opener"
	"github.com/discochess/chunkcache/internal/stats"
	"github.com/discochess/chunkcache/internal/store"
	"github.com/discochess/chunkcache/internal/store/memstore"
)

// countingCollector records counter totals by metric name.
type countingCollector struct {
	stats.Noop
	mu       sync.Mutex
	counters map[string]int64
}

func newCountingCollector() *countingCollector {
	return &countingCollector{counters: make(map[string]int64)}
}

func (c *countingCollector) IncCounter(name string, delta int64, labels ...stats.Label) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters[name] += delta
}

func (c *countingCollector) get(name string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counters[name]
}

func newTestStorage(t *testing.T, maxSize int64, opts ...Option) (*Storage, *memstore.Directory) {
	t.Helper()
	dir := memstore.NewDirectory()
	idx := memindex.New(memindex.WithMaxSize(maxSize))
	return New(idx, memstore.NewOpener(dir), opts...), dir
}

func currentSize(t *testing.T, s *Storage) int64 {
	t.Helper()
	n, err := s.Index().CurrentSize(context.Background())
	if err != nil {
		t.Fatalf("CurrentSize() error = %v", err)
	}
	return n
}

func TestStorage_ReadThrough(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStorage(t, 1<<20)

	if _, err := s.GetValue(ctx, "s1", "k1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("GetValue() error = %v, want ErrNotFound", err)
	}

	value := []byte{0x00, 0x01, 0xfe, 0xff}
	if err := s.PutValue(ctx, "s1", "k1", value); err != nil {
		t.Fatalf("PutValue() error = %v", err)
	}
	got, err := s.GetValue(ctx, "s1", "k1")
	if err != nil {
		t.Fatalf("GetValue() error = %v", err)
	}
	if !bytes.Equal(got, value) {
		t.Errorf("GetValue() = %v, want %v", got, value)
	}
	if ok, _ := s.HasValue(ctx, "s1", "k1"); !ok {
		t.Error("HasValue() = false after PutValue")
	}
}

func TestStorage_OverwriteCountsOnce(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStorage(t, 1000)

	_ = s.PutValue(ctx, "s1", "k", make([]byte, 100))
	_ = s.PutValue(ctx, "s1", "k", make([]byte, 40))

	if got := currentSize(t, s); got != 40 {
		t.Errorf("CurrentSize() = %d, want 40", got)
	}
}

func TestStorage_DeleteValue(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStorage(t, 1000)

	if deleted, err := s.DeleteValue(ctx, "s1", "k"); err != nil || deleted {
		t.Errorf("DeleteValue(absent) = %v, %v, want false, nil", deleted, err)
	}

	_ = s.PutValue(ctx, "s1", "k", []byte("value"))
	if deleted, err := s.DeleteValue(ctx, "s1", "k"); err != nil || !deleted {
		t.Errorf("DeleteValue() = %v, %v, want true, nil", deleted, err)
	}
	if deleted, err := s.DeleteValue(ctx, "s1", "k"); err != nil || deleted {
		t.Errorf("second DeleteValue() = %v, %v, want false, nil", deleted, err)
	}
	if got := currentSize(t, s); got != 0 {
		t.Errorf("CurrentSize() = %d, want 0", got)
	}
}

func TestStorage_CloseStoreKeepsContents(t *testing.T) {
	ctx := context.Background()
	s, dir := newTestStorage(t, 1000)

	_ = s.PutValue(ctx, "s1", "k", []byte("value"))
	backing, _ := dir.Lookup("s1")

	if err := s.CloseStore(ctx, "s1"); err != nil {
		t.Fatalf("CloseStore() error = %v", err)
	}
	if !backing.Closed() {
		t.Error("backing store not closed by CloseStore")
	}
	if len(s.OpenStores()) != 0 {
		t.Errorf("OpenStores() = %v, want none", s.OpenStores())
	}
	if err := s.CloseStore(ctx, "s1"); err != nil {
		t.Errorf("CloseStore() of a closed store error = %v", err)
	}

	got, err := s.GetValue(ctx, "s1", "k")
	if err != nil || string(got) != "value" {
		t.Errorf("GetValue() after reopen = %q, %v", got, err)
	}
	if got := currentSize(t, s); got != 5 {
		t.Errorf("CurrentSize() = %d, want 5", got)
	}
}

func TestStorage_DeleteStoreEmptiesAndCloses(t *testing.T) {
	ctx := context.Background()
	s, dir := newTestStorage(t, 1000)

	_ = s.PutValue(ctx, "s1", "a", []byte("aaa"))
	_ = s.PutValue(ctx, "s1", "b", []byte("bbb"))
	_ = s.PutValue(ctx, "s2", "a", []byte("cc"))
	backing, _ := dir.Lookup("s1")

	if err := s.DeleteStore(ctx, "s1"); err != nil {
		t.Fatalf("DeleteStore() error = %v", err)
	}
	if backing.Len() != 0 {
		t.Errorf("backing store has %d keys after DeleteStore, want 0", backing.Len())
	}
	if !backing.Closed() {
		t.Error("backing store not closed by DeleteStore")
	}
	if got := currentSize(t, s); got != 2 {
		t.Errorf("CurrentSize() = %d, want 2", got)
	}
	if ids := s.OpenStores(); len(ids) != 1 || ids[0] != "s2" {
		t.Errorf("OpenStores() = %v, want [s2]", ids)
	}
}

// failingClearStore fails Clear but records Close.
type failingClearStore struct {
	*memstore.Store
	closed bool
}

func (f *failingClearStore) Clear(ctx context.Context) error {
	return errors.New("disk on fire")
}

func (f *failingClearStore) Close() error {
	f.closed = true
	return nil
}

func TestStorage_DeleteStoreReleasesOnFailure(t *testing.T) {
	ctx := context.Background()
	backing := &failingClearStore{Store: memstore.New()}
	op := memstore.NewOpener(nil)
	s := New(memindex.New(), opener.Func(func(ctx context.Context, id string) (store.Store, error) {
		if id == "bad" {
			return backing, nil
		}
		return op.Open(ctx, id)
	}))

	if err := s.DeleteStore(ctx, "bad"); err == nil {
		t.Fatal("DeleteStore() error = nil, want clear failure")
	}
	if !backing.closed {
		t.Error("store not closed after failed clear")
	}
	if len(s.OpenStores()) != 0 {
		t.Errorf("OpenStores() = %v, want none", s.OpenStores())
	}
}

// failingSetStore fails Set once armed.
type failingSetStore struct {
	*memstore.Store
	fail bool
}

func (f *failingSetStore) Set(ctx context.Context, key string, value []byte) error {
	if f.fail {
		return errors.New("disk full")
	}
	return f.Store.Set(ctx, key, value)
}

func TestStorage_FailedOverwriteDropsStaleValue(t *testing.T) {
	ctx := context.Background()
	backing := &failingSetStore{Store: memstore.New()}
	s := New(memindex.New(memindex.WithMaxSize(100)), opener.Func(func(ctx context.Context, id string) (store.Store, error) {
		return backing, nil
	}))

	if err := s.PutValue(ctx, "s", "k", make([]byte, 60)); err != nil {
		t.Fatalf("PutValue() error = %v", err)
	}
	backing.fail = true
	if err := s.PutValue(ctx, "s", "k", make([]byte, 10)); err == nil {
		t.Fatal("PutValue() error = nil, want set failure")
	}
	if got := currentSize(t, s); got != 0 {
		t.Errorf("CurrentSize() = %d, want 0", got)
	}
	if _, err := s.GetValue(ctx, "s", "k"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetValue() error = %v, want ErrNotFound for the unindexed value", err)
	}

	backing.fail = false
	if err := s.PutValue(ctx, "s", "big", make([]byte, 100)); err != nil {
		t.Fatalf("PutValue() error = %v", err)
	}
	var total int
	keys, _ := backing.Keys(ctx)
	for _, k := range keys {
		v, _ := backing.Get(ctx, k)
		total += len(v)
	}
	if total > 100 {
		t.Errorf("backing store holds %d bytes, exceeds budget 100", total)
	}
}

func TestStorage_EvictsAcrossStores(t *testing.T) {
	ctx := context.Background()
	s, dir := newTestStorage(t, 300)

	_ = s.PutValue(ctx, "s1", "a", make([]byte, 100))
	_ = s.PutValue(ctx, "s1", "b", make([]byte, 100))
	_ = s.PutValue(ctx, "s2", "c", make([]byte, 100))
	if err := s.PutValue(ctx, "s2", "d", make([]byte, 150)); err != nil {
		t.Fatalf("PutValue() error = %v", err)
	}

	s1, _ := dir.Lookup("s1")
	if s1.Len() != 0 {
		t.Errorf("s1 has %d keys, want 0 after eviction", s1.Len())
	}
	if got := currentSize(t, s); got != 250 {
		t.Errorf("CurrentSize() = %d, want 250", got)
	}
	for _, key := range []string{"c", "d"} {
		if ok, _ := s.HasValue(ctx, "s2", key); !ok {
			t.Errorf("HasValue(s2, %s) = false, want true", key)
		}
	}
}

func TestStorage_GetProtectsFromEviction(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStorage(t, 300)

	_ = s.PutValue(ctx, "s", "a", make([]byte, 100))
	_ = s.PutValue(ctx, "s", "b", make([]byte, 100))
	_ = s.PutValue(ctx, "s", "c", make([]byte, 100))
	if _, err := s.GetValue(ctx, "s", "a"); err != nil {
		t.Fatalf("GetValue() error = %v", err)
	}
	_ = s.PutValue(ctx, "s", "d", make([]byte, 100))

	if ok, _ := s.HasValue(ctx, "s", "a"); !ok {
		t.Error("recently read key a was evicted")
	}
	if ok, _ := s.HasValue(ctx, "s", "b"); ok {
		t.Error("key b should have been evicted")
	}
}

func TestStorage_OversizeValueDropped(t *testing.T) {
	ctx := context.Background()
	collector := newCountingCollector()
	s, _ := newTestStorage(t, 100, WithStats(collector))

	_ = s.PutValue(ctx, "s", "small", make([]byte, 60))
	if err := s.PutValue(ctx, "s", "big", make([]byte, 101)); err != nil {
		t.Fatalf("PutValue() error = %v", err)
	}

	if ok, _ := s.HasValue(ctx, "s", "big"); ok {
		t.Error("oversize value was cached")
	}
	if ok, _ := s.HasValue(ctx, "s", "small"); !ok {
		t.Error("oversize put evicted an existing value")
	}
	if got := collector.get(stats.MetricOversizeRejections); got != 1 {
		t.Errorf("oversize rejections = %d, want 1", got)
	}
}

func TestStorage_ConsistencyWarning(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zapcore.WarnLevel)
	collector := newCountingCollector()
	s, dir := newTestStorage(t, 200, WithLogger(zap.New(core)), WithStats(collector))

	_ = s.PutValue(ctx, "s1", "lost", make([]byte, 100))
	_ = s.PutValue(ctx, "s1", "kept", make([]byte, 100))

	// Remove the value behind the index's back.
	backing, _ := dir.Lookup("s1")
	if err := backing.Delete(ctx, "lost"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	if err := s.PutValue(ctx, "s2", "new", make([]byte, 100)); err != nil {
		t.Fatalf("PutValue() error = %v", err)
	}

	if n := logs.FilterMessage("evicted key already missing from its store").Len(); n != 1 {
		t.Errorf("consistency warnings logged = %d, want 1", n)
	}
	if got := collector.get(stats.MetricConsistencyWarnings); got != 1 {
		t.Errorf("consistency warning metric = %d, want 1", got)
	}
	if got := currentSize(t, s); got != 200 {
		t.Errorf("CurrentSize() = %d, want 200", got)
	}
	if ok, _ := s.HasValue(ctx, "s1", "kept"); !ok {
		t.Error("kept was evicted although the lost entry freed enough space")
	}
}

// liarIndex reports a full cache while holding no entries.
type liarIndex struct {
	*memindex.Index
}

func (l liarIndex) CurrentSize(ctx context.Context) (int64, error) {
	return 100, nil
}

func TestStorage_UnderflowAbortsPut(t *testing.T) {
	ctx := context.Background()
	idx := liarIndex{memindex.New(memindex.WithMaxSize(100))}
	s := New(idx, memstore.NewOpener(nil))

	err := s.PutValue(ctx, "s", "k", []byte("x"))
	if !errors.Is(err, index.ErrUnderflow) {
		t.Fatalf("PutValue() error = %v, want ErrUnderflow", err)
	}
	if ok, _ := s.HasValue(ctx, "s", "k"); ok {
		t.Error("value cached despite failed eviction")
	}
}

func TestStorage_BudgetNeverExceeded(t *testing.T) {
	ctx := context.Background()
	const maxSize = 4096
	s, _ := newTestStorage(t, maxSize)
	rng := rand.New(rand.NewSource(7))

	for i := range 500 {
		storeID := fmt.Sprintf("cube_%d", rng.Intn(5))
		key := fmt.Sprintf("var%d/%d", rng.Intn(3), rng.Intn(40))
		if err := s.PutValue(ctx, storeID, key, make([]byte, rng.Intn(1500))); err != nil {
			t.Fatalf("put %d: PutValue() error = %v", i, err)
		}
		if got := currentSize(t, s); got > maxSize {
			t.Fatalf("put %d: CurrentSize() = %d exceeds %d", i, got, maxSize)
		}
	}
}

func TestStorage_ConcurrentPuts(t *testing.T) {
	ctx := context.Background()
	const maxSize = 10000
	s, _ := newTestStorage(t, maxSize)

	var wg sync.WaitGroup
	for w := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 200 {
				key := fmt.Sprintf("k%d", i%50)
				_ = s.PutValue(ctx, fmt.Sprintf("s%d", w), key, make([]byte, 100))
				_, _ = s.GetValue(ctx, fmt.Sprintf("s%d", (w+1)%8), key)
			}
		}()
	}
	wg.Wait()

	if got := currentSize(t, s); got > maxSize {
		t.Errorf("CurrentSize() = %d exceeds %d", got, maxSize)
	}
}

func TestStorage_Close(t *testing.T) {
	ctx := context.Background()
	s, dir := newTestStorage(t, 1000)

	_ = s.PutValue(ctx, "s1", "k", []byte("v"))
	_ = s.PutValue(ctx, "s2", "k", []byte("v"))
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	for _, id := range []string{"s1", "s2"} {
		st, _ := dir.Lookup(id)
		if !st.Closed() {
			t.Errorf("store %s not closed", id)
		}
	}
}
