package extract

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sync/atomic"
	"testing"

	"github.com/andresmejia3/facesort/internal/cache"
	"github.com/andresmejia3/facesort/internal/types"
	"github.com/andresmejia3/facesort/internal/utils"
)

// fakeExtractor serves canned results so pool behavior can be tested without
// real Python processes. Safe for the pool's one-goroutine-per-instance use.
type fakeExtractor struct {
	faces map[string][]types.FaceResult
	errs  map[string]error
	calls *atomic.Int32
}

func (f *fakeExtractor) Extract(path string) ([]types.FaceResult, error) {
	if f.calls != nil {
		f.calls.Add(1)
	}
	if err, ok := f.errs[path]; ok {
		return nil, err
	}
	return f.faces[path], nil
}

func (f *fakeExtractor) Logs() string { return "" }
func (f *fakeExtractor) Close() error { return nil }

func fakeFactory(fake *fakeExtractor) Factory {
	return func(int) (Extractor, error) {
		return &fakeExtractor{faces: fake.faces, errs: fake.errs, calls: fake.calls}, nil
	}
}

// testVec builds a full-size embedding with a recognizable first component.
func testVec(fill float64) []float64 {
	v := make([]float64, types.EmbeddingDim)
	for i := range v {
		v[i] = fill
	}
	return v
}

func TestPoolPreservesInputOrder(t *testing.T) {
	paths := []string{"img0", "img1", "img2", "img3", "img4", "img5"}
	fake := &fakeExtractor{faces: map[string][]types.FaceResult{
		"img0": {{Vec: testVec(0.0)}, {Vec: testVec(0.1)}},
		"img2": {{Vec: testVec(0.2)}},
		"img3": {{Vec: testVec(0.3)}},
		"img5": {{Vec: testVec(0.5)}, {Vec: testVec(0.6)}, {Vec: testVec(0.7)}},
	}}

	obs, stats, err := Run(context.Background(), paths, Options{
		Workers: 3,
		Factory: fakeFactory(fake),
		Quiet:   true,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	wantPaths := []string{"img0", "img0", "img2", "img3", "img5", "img5", "img5"}
	wantFills := []float64{0.0, 0.1, 0.2, 0.3, 0.5, 0.6, 0.7}
	if len(obs) != len(wantPaths) {
		t.Fatalf("expected %d observations, got %d", len(wantPaths), len(obs))
	}
	for i, o := range obs {
		if o.Path != wantPaths[i] {
			t.Errorf("observation %d: expected path %s, got %s", i, wantPaths[i], o.Path)
		}
		if o.Vec[0] != wantFills[i] {
			t.Errorf("observation %d: expected fill %g, got %g", i, wantFills[i], o.Vec[0])
		}
	}
	if stats.Faces != 7 || stats.Images != 6 || stats.Failed != 0 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestPoolSkipsFailedImages(t *testing.T) {
	paths := []string{"a", "b", "c"}
	fake := &fakeExtractor{
		faces: map[string][]types.FaceResult{
			"a": {{Vec: testVec(1)}},
			"c": {{Vec: testVec(3)}},
		},
		errs: map[string]error{
			"b": &ImageError{Path: "b", Msg: "Unable to load image"},
		},
	}

	obs, stats, err := Run(context.Background(), paths, Options{
		Workers: 2,
		Factory: fakeFactory(fake),
		Quiet:   true,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Failed != 1 {
		t.Errorf("expected 1 failed image, got %d", stats.Failed)
	}
	var got []string
	for _, o := range obs {
		got = append(got, o.Path)
	}
	if !reflect.DeepEqual(got, []string{"a", "c"}) {
		t.Errorf("expected observations for a and c, got %v", got)
	}
}

func TestPoolFailsRemainingTasksAfterCrash(t *testing.T) {
	paths := []string{"a", "b", "c", "d"}
	fake := &fakeExtractor{
		faces: map[string][]types.FaceResult{"a": {{Vec: testVec(1)}}},
		errs:  map[string]error{"b": errors.New("broken pipe")},
	}

	obs, stats, err := Run(context.Background(), paths, Options{
		Workers: 1,
		Factory: fakeFactory(fake),
		Quiet:   true,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// With one worker the crash on b takes c and d down with it.
	if stats.Failed != 3 {
		t.Errorf("expected 3 failed images, got %d", stats.Failed)
	}
	if len(obs) != 1 || obs[0].Path != "a" {
		t.Errorf("expected only a's observation, got %v", obs)
	}
}

func TestPoolRejectsBadEmbeddings(t *testing.T) {
	fake := &fakeExtractor{faces: map[string][]types.FaceResult{
		"good": {{Vec: testVec(1)}},
		"bad":  {{Vec: []float64{1, 2, 3}}},
	}}

	obs, stats, err := Run(context.Background(), []string{"good", "bad"}, Options{
		Workers: 1,
		Factory: fakeFactory(fake),
		Quiet:   true,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Failed != 1 {
		t.Errorf("expected the short vector to fail its image, got %+v", stats)
	}
	if len(obs) != 1 || obs[0].Path != "good" {
		t.Errorf("expected only the valid observation, got %v", obs)
	}
}

func TestPoolServesFromCache(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for _, name := range []string{"a.jpg", "b.jpg", "c.jpg"} {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte("image "+name), 0644); err != nil {
			t.Fatal(err)
		}
		paths = append(paths, p)
	}

	c, err := cache.Open(cache.Options{InMemory: true})
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	defer c.Close()

	var calls atomic.Int32
	fake := &fakeExtractor{
		faces: map[string][]types.FaceResult{
			paths[0]: {{Vec: testVec(1)}},
			paths[1]: {{Vec: testVec(2)}},
			// paths[2] has no faces
		},
		calls: &calls,
	}
	opts := Options{Workers: 2, Factory: fakeFactory(fake), Cache: c, Quiet: true}

	first, stats, err := Run(context.Background(), paths, opts)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if stats.Cached != 0 || calls.Load() != 3 {
		t.Fatalf("first run should extract everything: stats=%+v calls=%d", stats, calls.Load())
	}

	second, stats, err := Run(context.Background(), paths, opts)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if stats.Cached != 3 {
		t.Errorf("expected 3 cache hits, got %d", stats.Cached)
	}
	if calls.Load() != 3 {
		t.Errorf("expected no new extractions, got %d calls", calls.Load())
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("cached run produced different observations")
	}

	// Touching a file invalidates its entry.
	f, err := os.OpenFile(paths[0], os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatal(err)
	}
	f.Write([]byte(" edited"))
	f.Close()

	_, stats, err = Run(context.Background(), paths, opts)
	if err != nil {
		t.Fatalf("third run: %v", err)
	}
	if stats.Cached != 2 {
		t.Errorf("expected 2 cache hits after an edit, got %d", stats.Cached)
	}
	if calls.Load() != 4 {
		t.Errorf("expected exactly one re-extraction, got %d calls", calls.Load())
	}
}

// A cache entry whose vectors have a foreign dimension, left behind by a
// different worker script, must be re-extracted instead of poisoning the
// distance math downstream.
func TestPoolReextractsWrongDimensionCacheEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.jpg")
	if err := os.WriteFile(path, []byte("image a"), 0644); err != nil {
		t.Fatal(err)
	}

	c, err := cache.Open(cache.Options{InMemory: true})
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	defer c.Close()

	id, err := utils.GenerateFileID(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Put(id, []types.FaceResult{{Vec: []float64{1, 2, 3}}}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	var calls atomic.Int32
	fake := &fakeExtractor{
		faces: map[string][]types.FaceResult{path: {{Vec: testVec(1)}}},
		calls: &calls,
	}
	opts := Options{Workers: 1, Factory: fakeFactory(fake), Cache: c, Quiet: true}

	obs, stats, err := Run(context.Background(), []string{path}, opts)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Cached != 0 || calls.Load() != 1 {
		t.Errorf("expected the entry to miss and re-extract: stats=%+v calls=%d", stats, calls.Load())
	}
	if len(obs) != 1 || len(obs[0].Vec) != types.EmbeddingDim {
		t.Fatalf("expected one full-size observation, got %v", obs)
	}

	// The re-extraction overwrote the entry, so the next run hits.
	_, stats, err = Run(context.Background(), []string{path}, opts)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if stats.Cached != 1 || calls.Load() != 1 {
		t.Errorf("expected a clean cache hit: stats=%+v calls=%d", stats, calls.Load())
	}
}

func TestPoolNoWorkers(t *testing.T) {
	factory := func(int) (Extractor, error) {
		return nil, errors.New("python3 not found")
	}
	_, _, err := Run(context.Background(), []string{"a"}, Options{
		Workers: 2,
		Factory: factory,
		Quiet:   true,
	})
	if err == nil {
		t.Fatal("expected an error when no worker can start")
	}
}

func TestPoolEmptyInput(t *testing.T) {
	obs, stats, err := Run(context.Background(), nil, Options{Quiet: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(obs) != 0 || stats.Images != 0 {
		t.Errorf("expected an empty result, got %v, %+v", obs, stats)
	}
}

func TestPoolHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fake := &fakeExtractor{faces: map[string][]types.FaceResult{}}
	_, _, err := Run(ctx, []string{"a", "b"}, Options{
		Workers: 1,
		Factory: fakeFactory(fake),
		Quiet:   true,
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
