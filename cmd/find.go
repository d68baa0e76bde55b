package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/andresmejia3/facesort/internal/extract"
	"github.com/andresmejia3/facesort/internal/types"
	"github.com/andresmejia3/facesort/internal/utils"
	"github.com/spf13/cobra"
)

var findOpts Options

var findCmd = &cobra.Command{
	Use:   "find <image_path>",
	Short: "Search for a face in the person registry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		if !cmd.Flags().Changed("worker") {
			findOpts.WorkerScript = cfg.WorkerScript
		}
		return runFind(cmd.Context(), args[0], findOpts)
	},
}

func init() {
	findCmd.Flags().Float64VarP(&findOpts.MatchThreshold, "threshold", "t", 0.6, "Face matching threshold (lower is stricter)")
	findCmd.Flags().StringVar(&findOpts.WorkerScript, "worker", "", "Path to the Python extraction script (default: python/embed_worker.py)")
	rootCmd.AddCommand(findCmd)
}

func runFind(ctx context.Context, imagePath string, opts Options) error {
	db, err := requireDB()
	if err != nil {
		utils.ShowError("Cannot search without a registry", err, nil)
		return err
	}

	if _, err := os.Stat(imagePath); os.IsNotExist(err) {
		utils.ShowError("Input file does not exist", err, nil)
		return err
	}

	fmt.Fprintln(os.Stderr, "🚀 Starting AI Engine...")
	// We use ID 0 for this ad-hoc worker
	w, err := extract.NewPythonWorker(0, opts.WorkerScript)
	if err != nil {
		utils.ShowError("Failed to start AI worker", err, nil)
		return err
	}
	defer w.Close()

	fmt.Fprintln(os.Stderr, "🔍 Analyzing face...")
	faces, err := w.Extract(imagePath)
	if err != nil {
		utils.ShowError("AI processing failed", err, w.Cmd)
		return err
	}

	if len(faces) == 0 {
		fmt.Println("❌ No faces detected in the provided image.")
		return nil
	}

	if len(faces) > 1 {
		fmt.Printf("⚠️  Multiple faces detected (%d). Using the largest face.\n", len(faces))
	}
	bestFace := largestFace(faces)

	fmt.Fprintln(os.Stderr, "🗄️  Searching registry...")
	id, dist, err := db.FindClosestPerson(ctx, bestFace.Vec, opts.MatchThreshold)
	if err != nil {
		utils.ShowError("Registry search failed", err, nil)
		return err
	}

	if id == -1 {
		fmt.Println("❌ No match found in the registry.")
		return nil
	}

	person, err := db.GetPerson(ctx, id)
	if err != nil {
		utils.ShowError("Failed to load person details", err, nil)
		return err
	}

	fmt.Printf("✅ Found Match: %s (ID: %d, distance %.3f)\n", person.Name, person.ID, dist)
	fmt.Printf("   Seen in %d faces since %s\n", person.Count, person.CreatedAt.Local().Format("2006-01-02 15:04"))
	return nil
}

// largestFace picks the face with the biggest bounding box. A face whose
// location the worker left malformed loses to any measurable one.
func largestFace(faces []types.FaceResult) types.FaceResult {
	best := faces[0]
	maxArea := faceArea(best)
	for _, f := range faces[1:] {
		if area := faceArea(f); area > maxArea {
			maxArea = area
			best = f
		}
	}
	return best
}

// faceArea computes the bounding-box area. Loc is [top, right, bottom, left],
// so height is bottom-top and width is right-left; anything but four
// coordinates measures zero.
func faceArea(f types.FaceResult) int {
	if len(f.Loc) != 4 {
		return 0
	}
	return (f.Loc[2] - f.Loc[0]) * (f.Loc[1] - f.Loc[3])
}
