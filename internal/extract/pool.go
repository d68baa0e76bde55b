package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/schollz/progressbar/v3"

	"github.com/andresmejia3/facesort/internal/cache"
	"github.com/andresmejia3/facesort/internal/types"
	"github.com/andresmejia3/facesort/internal/utils"
)

// Options configures a pool run.
type Options struct {
	// Workers is the number of extractor processes to run. Values below 1
	// are treated as 1.
	Workers int

	// Factory builds each worker. Required.
	Factory Factory

	// Cache, when set, is consulted before dispatching an image and updated
	// with fresh results.
	Cache *cache.Cache

	// Quiet suppresses the progress bar and per-image warnings.
	Quiet bool
}

// Stats summarizes one extraction run.
type Stats struct {
	Images int // images examined
	Cached int // served from the embedding cache
	Failed int // skipped after a per-image failure
	Faces  int // total faces found
}

// poolResult wraps one worker's output, tagged for reassembly by image index.
type poolResult struct {
	Index int
	Faces []types.FaceResult
	Err   error
}

type startedWorker struct {
	id int
	ex Extractor
}

// Run extracts the faces from every image in paths and returns one
// FaceObservation per face, in input order: observations for paths[i] always
// precede those for paths[i+1], and faces within an image keep the order the
// model reported. Workers process images in parallel; the stable output order
// is what keeps repeated runs producing identical clusterings.
//
// Images that cannot be processed are logged and skipped. Run fails only when
// no worker can be started or ctx is canceled.
func Run(ctx context.Context, paths []string, opts Options) ([]types.FaceObservation, Stats, error) {
	stats := Stats{Images: len(paths)}
	if len(paths) == 0 {
		return nil, stats, nil
	}
	if opts.Factory == nil {
		return nil, stats, errors.New("extract: Options.Factory is required")
	}

	facesByImage := make([][]types.FaceResult, len(paths))
	failed := make([]bool, len(paths))
	ids := make([]string, len(paths))

	// 1. Serve what we can from the embedding cache. Files we cannot sign
	// still go to a worker, which reports them properly.
	var pending []types.ImageTask
	for i, path := range paths {
		if opts.Cache != nil {
			if id, err := utils.GenerateFileID(path); err == nil {
				ids[i] = id
				// A read failure just means a cache miss. So does an entry
				// with the wrong embedding dimension: it was written by a
				// different model, and re-extracting overwrites it.
				if faces, ok, err := opts.Cache.Get(id); err == nil && ok && badDimension(faces) == nil {
					facesByImage[i] = faces
					stats.Cached++
					continue
				}
			}
		}
		pending = append(pending, types.ImageTask{Index: i, Path: path})
	}

	// 2. Push the rest through the worker pool.
	if len(pending) > 0 {
		if err := runPool(ctx, pending, opts, func(res poolResult) {
			if res.Err != nil {
				failed[res.Index] = true
				if !opts.Quiet {
					fmt.Fprintf(os.Stderr, "\n⚠️  Skipping %s: %v\n", paths[res.Index], res.Err)
				}
				return
			}
			facesByImage[res.Index] = res.Faces
			if opts.Cache != nil && ids[res.Index] != "" {
				if err := opts.Cache.Put(ids[res.Index], res.Faces); err != nil && !opts.Quiet {
					fmt.Fprintf(os.Stderr, "\n⚠️  Cache write failed for %s: %v\n", paths[res.Index], err)
				}
			}
		}); err != nil {
			return nil, stats, err
		}
	}

	// 3. Assemble the observations in input order.
	var observations []types.FaceObservation
	for i, faces := range facesByImage {
		for _, f := range faces {
			observations = append(observations, types.FaceObservation{Path: paths[i], Vec: f.Vec})
		}
	}
	stats.Faces = len(observations)
	for _, f := range failed {
		if f {
			stats.Failed++
		}
	}
	return observations, stats, nil
}

// runPool fans tasks out to the workers and hands every result to collect,
// which runs on the calling goroutine.
func runPool(ctx context.Context, tasks []types.ImageTask, opts Options, collect func(poolResult)) error {
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	if workers > len(tasks) {
		workers = len(tasks)
	}

	// Start the workers up front so a broken setup fails before any work is
	// dispatched. Losing some workers is survivable, losing all is not.
	var started []startedWorker
	var lastErr error
	for id := 0; id < workers; id++ {
		ex, err := opts.Factory(id)
		if err != nil {
			lastErr = err
			if !opts.Quiet {
				fmt.Fprintf(os.Stderr, "⚠️  Worker %d failed to start: %v\n", id, err)
			}
			continue
		}
		started = append(started, startedWorker{id: id, ex: ex})
	}
	if len(started) == 0 {
		return fmt.Errorf("no workers could be started: %w", lastErr)
	}

	barWriter := io.Writer(os.Stderr)
	if opts.Quiet {
		barWriter = io.Discard
	}
	bar := progressbar.NewOptions(len(tasks),
		progressbar.OptionSetDescription("🧠 Extracting faces"),
		progressbar.OptionSetWriter(barWriter),
		progressbar.OptionShowCount(),
	)

	taskChan := make(chan types.ImageTask, len(started))
	resultsChan := make(chan poolResult, len(started)*2)
	var wg sync.WaitGroup

	for _, w := range started {
		wg.Add(1)
		go func(w startedWorker) {
			defer wg.Done()
			defer w.ex.Close()
			drain(w, taskChan, resultsChan, opts.Quiet)
		}(w)
	}

	go func() {
		wg.Wait()
		close(resultsChan)
	}()

	go func() {
		defer close(taskChan)
		for _, task := range tasks {
			select {
			case taskChan <- task:
			case <-ctx.Done():
				return
			}
		}
	}()

	for res := range resultsChan {
		collect(res)
		bar.Add(1)
	}
	return ctx.Err()
}

// drain runs one worker's task loop. After a transport failure the process is
// gone, so the remaining tasks it receives fail fast instead of blocking the
// feeder.
func drain(w startedWorker, tasks <-chan types.ImageTask, results chan<- poolResult, quiet bool) {
	var broken error
	for task := range tasks {
		if broken != nil {
			results <- poolResult{Index: task.Index, Err: broken}
			continue
		}

		faces, err := w.ex.Extract(task.Path)
		if err != nil {
			var imgErr *ImageError
			if !errors.As(err, &imgErr) {
				if !quiet {
					fmt.Fprintf(os.Stderr, "\n⚠️  Worker %d died: %v\n", w.id, err)
					if logs := w.ex.Logs(); logs != "" {
						fmt.Fprintf(os.Stderr, "PYTHON CRASH LOGS:\n%s\n", logs)
					}
				}
				broken = err
			}
			results <- poolResult{Index: task.Index, Err: err}
			continue
		}

		if bad := badDimension(faces); bad != nil {
			results <- poolResult{Index: task.Index, Err: &ImageError{Path: task.Path, Msg: bad.Error()}}
			continue
		}
		results <- poolResult{Index: task.Index, Faces: faces}
	}
}

// badDimension rejects embeddings whose length does not match the model's.
// A short vector would corrupt every distance computed against it.
func badDimension(faces []types.FaceResult) error {
	for _, f := range faces {
		if len(f.Vec) != types.EmbeddingDim {
			return fmt.Errorf("embedding has %d dimensions, want %d", len(f.Vec), types.EmbeddingDim)
		}
	}
	return nil
}
