package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/andresmejia3/facesort/internal/cache"
	"github.com/andresmejia3/facesort/internal/cluster"
	"github.com/andresmejia3/facesort/internal/extract"
	"github.com/andresmejia3/facesort/internal/organize"
	"github.com/andresmejia3/facesort/internal/utils"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var sortOpts Options

var sortCmd = &cobra.Command{
	Use:   "sort",
	Short: "Cluster faces and sort photos into per-person folders",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		mergeSortConfig(cmd)
		factory := func(id int) (extract.Extractor, error) {
			return extract.NewPythonWorker(id, sortOpts.WorkerScript)
		}
		return runSort(cmd.Context(), sortOpts, factory)
	},
}

func init() {
	sortCmd.Flags().StringVarP(&sortOpts.InputDir, "input", "i", "", "Directory containing the photos to sort")
	sortCmd.Flags().StringVarP(&sortOpts.OutputDir, "output", "o", "", "Directory to write the Person_N folders into")
	sortCmd.Flags().Float64Var(&sortOpts.Eps, "eps", 0.55, "Neighborhood radius for clustering (lower is stricter)")
	sortCmd.Flags().IntVar(&sortOpts.MinFaces, "min-faces", 2, "Minimum faces required to seed a cluster")
	sortCmd.Flags().IntVarP(&sortOpts.Workers, "workers", "e", 4, "Number of parallel extraction workers")
	sortCmd.Flags().StringVar(&sortOpts.Index, "index", "auto", "Neighbor index: auto, brute, or kdtree")
	sortCmd.Flags().BoolVar(&sortOpts.NoCache, "no-cache", false, "Re-extract every image instead of using the embedding cache")
	sortCmd.Flags().StringVar(&sortOpts.CacheDir, "cache-dir", "", "Embedding cache location (default: user cache dir)")
	sortCmd.Flags().StringVar(&sortOpts.WorkerScript, "worker", "", "Path to the Python extraction script (default: python/embed_worker.py)")
	sortCmd.Flags().Float64VarP(&sortOpts.MatchThreshold, "threshold", "t", 0.6, "Registry matching threshold (lower is stricter)")

	sortCmd.MarkFlagRequired("input")
	sortCmd.MarkFlagRequired("output")
	rootCmd.AddCommand(sortCmd)
}

// mergeSortConfig layers config file values under any flags the user left unset.
func mergeSortConfig(cmd *cobra.Command) {
	flags := cmd.Flags()
	if !flags.Changed("eps") {
		sortOpts.Eps = cfg.Eps
	}
	if !flags.Changed("min-faces") {
		sortOpts.MinFaces = cfg.MinFaces
	}
	if !flags.Changed("workers") {
		sortOpts.Workers = cfg.Workers
	}
	if !flags.Changed("index") {
		sortOpts.Index = cfg.Index
	}
	if !flags.Changed("worker") {
		sortOpts.WorkerScript = cfg.WorkerScript
	}
	if !flags.Changed("cache-dir") && !sortOpts.NoCache {
		if dir, err := cfg.ResolveCacheDir(); err == nil {
			sortOpts.CacheDir = dir
		}
	}
}

// runSort orchestrates the sorting pipeline: image discovery, parallel face
// extraction, DBSCAN clustering, folder materialization, and registry sync.
func runSort(ctx context.Context, opts Options, factory extract.Factory) error {
	if err := validateSortFlags(&opts); err != nil {
		utils.ShowError("Invalid arguments", err, nil)
		return err
	}

	// 1. Discover images
	fmt.Fprintf(os.Stderr, "🔍 Scanning %s for photos...\n", opts.InputDir)
	paths, err := utils.FindImageFiles(opts.InputDir)
	if err != nil {
		utils.ShowError("Image discovery failed", err, nil)
		return err
	}
	if len(paths) == 0 {
		fmt.Println("❌ No supported image files found.")
		return nil
	}
	fmt.Fprintf(os.Stderr, "📷 Found %d photos\n", len(paths))

	// 2. Open the embedding cache
	var embCache *cache.Cache
	if !opts.NoCache && opts.CacheDir != "" {
		embCache, err = cache.Open(cache.Options{Dir: opts.CacheDir})
		if err != nil {
			fmt.Fprintf(os.Stderr, "⚠️  Embedding cache unavailable (%v), continuing without it\n", err)
			embCache = nil
		} else {
			defer embCache.Close()
		}
	}

	// 3. Register the run
	var runID uuid.UUID
	if DB != nil {
		runID, err = DB.BeginRun(ctx, opts.InputDir, opts.OutputDir, opts.Eps, opts.MinFaces)
		if err != nil {
			utils.ShowError("Failed to register run", err, nil)
			return err
		}
		fmt.Fprintf(os.Stderr, "🗄️  Registered run %s\n", runID.String()[:8])
	}

	// 4. Extract face embeddings
	fmt.Fprintf(os.Stderr, "⚙️  Spawning %d extraction workers...\n", opts.Workers)
	obs, stats, err := extract.Run(ctx, paths, extract.Options{
		Workers: opts.Workers,
		Factory: factory,
		Cache:   embCache,
	})
	if err != nil {
		utils.ShowError("Face extraction failed", err, nil)
		return err
	}
	if len(obs) == 0 {
		fmt.Println("❌ No faces detected in any image.")
		if DB != nil {
			if err := DB.FinishRun(ctx, runID, stats.Images, 0, 0, 0); err != nil {
				utils.ShowError("Failed to finalize run", err, nil)
				return err
			}
		}
		return nil
	}

	// 5. Cluster the embeddings
	points := make([][]float64, len(obs))
	for i, o := range obs {
		points[i] = o.Vec
	}
	res, err := cluster.Run(points, cluster.Config{
		Eps:    opts.Eps,
		MinPts: opts.MinFaces,
		Index:  cluster.IndexKind(opts.Index),
	})
	if err != nil {
		utils.ShowError("Clustering failed", err, nil)
		return err
	}
	noise := 0
	for _, l := range res.Labels {
		if l == cluster.Noise {
			noise++
		}
	}
	if res.Clusters == 0 {
		fmt.Fprintln(os.Stderr, "⚠️  No clusters found, every face stayed unmatched")
	}

	// 6. Sync clusters with the person registry. Clusters matched to a
	// labeled person get that name as their output folder.
	groups := organize.Groups(obs, res.Labels, res.Clusters)
	var names map[int]string
	if DB != nil {
		names, err = syncRegistry(ctx, points, res, groups, opts.MatchThreshold)
		if err != nil {
			utils.ShowError("Registry sync failed", err, nil)
			return err
		}
	}

	// 7. Materialize the per-person folders
	cs, err := organize.Copy(opts.OutputDir, groups, names, false)
	if err != nil {
		utils.ShowError("Failed to materialize folders", err, nil)
		return err
	}
	if DB != nil {
		if err := DB.FinishRun(ctx, runID, stats.Images, len(obs), res.Clusters, noise); err != nil {
			utils.ShowError("Failed to finalize run", err, nil)
			return err
		}
	}

	// 8. Final report
	fmt.Fprintf(os.Stderr, "\n---------------------------------------------------------\n")
	fmt.Fprintf(os.Stderr, "📊 SORT SUMMARY\n")
	fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")
	fmt.Fprintf(os.Stderr, "📷 Photos Processed:   %d (%d cached, %d skipped)\n", stats.Images, stats.Cached, stats.Failed)
	fmt.Fprintf(os.Stderr, "🧠 Faces Detected:     %d\n", stats.Faces)
	fmt.Fprintf(os.Stderr, "👤 People Found:       %d\n", res.Clusters)
	fmt.Fprintf(os.Stderr, "👁️  Noise Faces:        %d\n", noise)
	fmt.Fprintf(os.Stderr, "📁 Photos Copied:      %d (%d already present, %d failed)\n", cs.Copied, cs.Skipped, cs.Failed)
	fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")
	fmt.Fprintf(os.Stderr, "🏁 Sorted %d people into %s\n", res.Clusters, opts.OutputDir)
	return nil
}

// syncRegistry matches each cluster centroid against the person registry,
// folding matched clusters into their existing identity and creating new
// people for the rest. The returned map carries folder-name overrides for
// clusters whose person has been labeled with a real name.
func syncRegistry(ctx context.Context, points [][]float64, res cluster.Result, groups []organize.Group, threshold float64) (map[int]string, error) {
	if res.Clusters == 0 {
		return nil, nil
	}
	centroids := cluster.Centroids(points, res.Labels, res.Clusters)
	counts := make([]int, res.Clusters)
	for _, l := range res.Labels {
		if l != cluster.Noise {
			counts[l]++
		}
	}

	fmt.Fprintln(os.Stderr, "🗄️  Syncing clusters with the person registry...")
	names := make(map[int]string)
	for _, g := range groups {
		c := g.Label
		id, dist, err := DB.FindClosestPerson(ctx, centroids[c], threshold)
		if err != nil {
			return nil, fmt.Errorf("registry lookup for %s: %w", g.FolderName(), err)
		}
		if id == -1 {
			id, err = DB.CreatePerson(ctx, centroids[c], counts[c])
			if err != nil {
				return nil, fmt.Errorf("creating person for %s: %w", g.FolderName(), err)
			}
			fmt.Fprintf(os.Stderr, "   %s -> new person (ID %d)\n", g.FolderName(), id)
			continue
		}
		if err := DB.UpdatePerson(ctx, id, centroids[c], counts[c]); err != nil {
			return nil, fmt.Errorf("updating person %d: %w", id, err)
		}
		person, err := DB.GetPerson(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("loading person %d: %w", id, err)
		}
		// Auto-generated "Person N" registry names stay out of the folder
		// layout; only names assigned through the label command carry over.
		if person.Name != fmt.Sprintf("Person %d", person.ID) {
			names[c] = person.Name
		}
		fmt.Fprintf(os.Stderr, "   %s -> %s (ID %d, distance %.3f)\n", g.FolderName(), person.Name, id, dist)
	}
	return names, nil
}

// validateSortFlags ensures all CLI arguments are valid before any workers are spawned.
func validateSortFlags(opts *Options) error {
	info, err := os.Stat(opts.InputDir)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("input directory %s does not exist", opts.InputDir)
		}
		return fmt.Errorf("unable to access input directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", opts.InputDir)
	}
	if opts.OutputDir == "" {
		return fmt.Errorf("output directory is required")
	}
	if opts.Eps <= 0 {
		return fmt.Errorf("eps must be positive, got %f", opts.Eps)
	}
	if opts.MinFaces < 1 {
		return fmt.Errorf("min-faces must be >= 1, got %d", opts.MinFaces)
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.MatchThreshold <= 0 {
		return fmt.Errorf("threshold must be positive, got %f", opts.MatchThreshold)
	}
	switch cluster.IndexKind(opts.Index) {
	case cluster.IndexAuto, cluster.IndexBrute, cluster.IndexKDTree:
	default:
		return fmt.Errorf("unknown index kind %q (use auto, brute, or kdtree)", opts.Index)
	}
	return nil
}
