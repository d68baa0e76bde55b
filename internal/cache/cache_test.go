package cache_test

import (
	"reflect"
	"testing"

	"github.com/andresmejia3/facesort/internal/cache"
	"github.com/andresmejia3/facesort/internal/types"
)

// newCache opens an in-memory cache for testing.
func newCache(t *testing.T) *cache.Cache {
	t.Helper()
	c, err := cache.Open(cache.Options{InMemory: true})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestCachePutGet(t *testing.T) {
	c := newCache(t)

	faces := []types.FaceResult{
		{Loc: []int{10, 110, 110, 10}, Vec: []float64{0.1, 0.2, 0.3}},
		{Loc: []int{200, 260, 260, 200}, Vec: []float64{0.4, 0.5, 0.6}},
	}

	// Missing entry.
	_, ok, err := c.Get("deadbeef")
	if err != nil {
		t.Fatalf("Get missing: %v", err)
	}
	if ok {
		t.Fatal("expected no entry before Put")
	}

	if err := c.Put("deadbeef", faces); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, ok, err := c.Get("deadbeef")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("expected an entry after Put")
	}
	if !reflect.DeepEqual(got, faces) {
		t.Errorf("expected %v, got %v", faces, got)
	}
}

func TestCacheRemembersFaceFreeImages(t *testing.T) {
	c := newCache(t)

	if err := c.Put("landscape", nil); err != nil {
		t.Fatalf("Put: %v", err)
	}
	faces, ok, err := c.Get("landscape")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("expected a cache hit for an image with no faces")
	}
	if len(faces) != 0 {
		t.Errorf("expected no faces, got %v", faces)
	}
}

func TestCacheOverwrite(t *testing.T) {
	c := newCache(t)

	old := []types.FaceResult{{Loc: []int{0, 1, 1, 0}, Vec: []float64{1}}}
	updated := []types.FaceResult{{Loc: []int{5, 9, 9, 5}, Vec: []float64{2}}}

	if err := c.Put("sig", old); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := c.Put("sig", updated); err != nil {
		t.Fatalf("Put overwrite: %v", err)
	}
	got, ok, err := c.Get("sig")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if !reflect.DeepEqual(got, updated) {
		t.Errorf("expected %v, got %v", updated, got)
	}
}

func TestCacheWipe(t *testing.T) {
	c := newCache(t)

	if err := c.Put("sig", []types.FaceResult{{Vec: []float64{1, 2}}}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := c.Wipe(); err != nil {
		t.Fatalf("Wipe: %v", err)
	}
	_, ok, err := c.Get("sig")
	if err != nil {
		t.Fatalf("Get after wipe: %v", err)
	}
	if ok {
		t.Error("expected the entry to be gone after Wipe")
	}
}

func TestCacheDirRequired(t *testing.T) {
	if _, err := cache.Open(cache.Options{}); err == nil {
		t.Fatal("expected an error for empty Dir in on-disk mode")
	}
}

func TestCachePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	c, err := cache.Open(cache.Options{Dir: dir})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	faces := []types.FaceResult{{Loc: []int{1, 2, 2, 1}, Vec: []float64{0.5, 0.25}}}
	if err := c.Put("sig", faces); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	c, err = cache.Open(cache.Options{Dir: dir})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer c.Close()

	got, ok, err := c.Get("sig")
	if err != nil || !ok {
		t.Fatalf("Get after reopen: ok=%v err=%v", ok, err)
	}
	if !reflect.DeepEqual(got, faces) {
		t.Errorf("expected %v, got %v", faces, got)
	}
}
