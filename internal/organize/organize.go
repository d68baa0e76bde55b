// Package organize materializes a clustering as Person_N folders: one folder
// per cluster, holding a copy of every photo that cluster's faces came from.
package organize

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/schollz/progressbar/v3"

	"github.com/andresmejia3/facesort/internal/cluster"
	"github.com/andresmejia3/facesort/internal/types"
)

// Group is the set of photos belonging to one cluster. A photo with faces in
// several clusters appears in each of their groups; within one group a photo
// is listed once no matter how many of its faces matched.
type Group struct {
	Ordinal int      // 1-based, names the Person_N folder
	Label   int      // cluster id the group was built from
	Paths   []string // unique photo paths, in first-appearance order
}

// FolderName returns the directory name for this group.
func (g Group) FolderName() string {
	return fmt.Sprintf("Person_%d", g.Ordinal)
}

// SanitizeName makes a registry name safe to use as a directory name.
// Path separators and control characters become underscores, and the bare
// dot names are replaced whole: joined onto the output dir they would point
// at it or its parent instead of a folder inside it.
func SanitizeName(name string) string {
	out := []rune(name)
	for i, r := range out {
		if r == '/' || r == '\\' || r == os.PathSeparator || r < 0x20 {
			out[i] = '_'
		}
	}
	switch s := string(out); s {
	case ".", "..":
		return "_"
	default:
		return s
	}
}

// Groups converts a labeling into folder groups, numbered by first encounter:
// whichever cluster the earliest observation belongs to becomes Person_1,
// independent of the engine's internal cluster ids. The two orders differ when
// an early border point is absorbed by a cluster discovered later. Noise
// observations are dropped.
func Groups(obs []types.FaceObservation, labels []int, clusters int) []Group {
	if clusters == 0 {
		return nil
	}
	groups := make([]Group, 0, clusters)
	rank := make(map[int]int, clusters) // cluster id -> index into groups
	seen := make([]map[string]bool, 0, clusters)
	for i, o := range obs {
		c := labels[i]
		if c == cluster.Noise {
			continue
		}
		g, ok := rank[c]
		if !ok {
			g = len(groups)
			rank[c] = g
			groups = append(groups, Group{Ordinal: g + 1, Label: c})
			seen = append(seen, make(map[string]bool))
		}
		if !seen[g][o.Path] {
			seen[g][o.Path] = true
			groups[g].Paths = append(groups[g].Paths, o.Path)
		}
	}
	return groups
}

// CopyStats summarizes one materialization pass.
type CopyStats struct {
	Folders int
	Copied  int
	Skipped int // destination already existed
	Failed  int
}

// Copy materializes groups under outputDir. A group whose label appears in
// names gets that name as its folder instead of Person_N, so photos of people
// the registry already knows land in folders named after them. Destinations
// that already exist are skipped, which makes re-running over the same output
// idempotent and resolves basename collisions within a cluster in favor of the
// first photo. A photo that cannot be copied is logged and does not stop the
// pass.
func Copy(outputDir string, groups []Group, names map[int]string, quiet bool) (CopyStats, error) {
	var stats CopyStats
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return stats, err
	}

	total := 0
	for _, g := range groups {
		total += len(g.Paths)
	}
	barWriter := io.Writer(os.Stderr)
	if quiet {
		barWriter = io.Discard
	}
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetDescription("📁 Copying photos"),
		progressbar.OptionSetWriter(barWriter),
		progressbar.OptionShowCount(),
	)

	for _, g := range groups {
		folder := g.FolderName()
		if name, ok := names[g.Label]; ok && name != "" {
			folder = SanitizeName(name)
		}
		dir := filepath.Join(outputDir, folder)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return stats, err
		}
		stats.Folders++

		for _, src := range g.Paths {
			bar.Add(1)
			dst := filepath.Join(dir, filepath.Base(src))
			if _, err := os.Stat(dst); err == nil {
				stats.Skipped++
				continue
			}
			if err := copyFile(src, dst); err != nil {
				stats.Failed++
				if !quiet {
					fmt.Fprintf(os.Stderr, "\n⚠️  Failed to copy %s to %s: %v\n", filepath.Base(src), folder, err)
				}
				continue
			}
			stats.Copied++
		}
	}
	return stats, nil
}

// copyFile copies src to dst preserving the permission bits and modification
// time, the way shutil.copy2 does.
func copyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	if err := os.Chmod(dst, info.Mode().Perm()); err != nil {
		return err
	}
	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}
