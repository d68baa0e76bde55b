// Package cluster groups face-embedding vectors by density. It implements
// DBSCAN over Euclidean distance: two faces closer than eps are neighbors,
// and any point with at least minPts neighbors (itself included) seeds or
// extends a cluster. Faces that never join a dense region are labeled Noise.
//
// Results are deterministic for a fixed input order: cluster ids are dense,
// start at 0, and are allocated in the order clusters are discovered, so the
// same points in the same order always produce the same labeling regardless
// of which neighborhood index serves the queries.
package cluster

import "fmt"

// Noise is the label assigned to points that belong to no cluster.
const Noise = -1

// Config carries the parameters for one clustering run.
type Config struct {
	// Eps is the neighborhood radius. Two points are neighbors when their
	// Euclidean distance is at most Eps.
	Eps float64

	// MinPts is the density threshold: a point needs at least MinPts
	// neighbors, counting itself, to be a core point.
	MinPts int

	// Index selects the neighborhood index. The zero value means IndexAuto.
	Index IndexKind
}

func (c Config) validate() error {
	if c.Eps <= 0 {
		return fmt.Errorf("cluster: eps must be positive, got %g", c.Eps)
	}
	if c.MinPts < 1 {
		return fmt.Errorf("cluster: min points must be at least 1, got %d", c.MinPts)
	}
	return nil
}

// Result holds the labeling produced by Run.
type Result struct {
	// Labels has one entry per input point: a cluster id in [0, Clusters)
	// or Noise.
	Labels []int

	// Clusters is the number of clusters found.
	Clusters int
}

// Run clusters points with DBSCAN and returns one label per point, in input
// order. Points the algorithm cannot attach to any dense region keep the
// Noise label. An empty input yields an empty labeling and no error.
func Run(points [][]float64, cfg Config) (Result, error) {
	if err := cfg.validate(); err != nil {
		return Result{}, err
	}

	n := len(points)
	labels := make([]int, n)
	for i := range labels {
		labels[i] = Noise
	}
	if n == 0 {
		return Result{Labels: labels}, nil
	}

	index, err := newIndex(points, cfg.Index)
	if err != nil {
		return Result{}, err
	}

	visited := make([]bool, n)
	clusters := 0

	for i := 0; i < n; i++ {
		if visited[i] {
			continue
		}
		visited[i] = true

		neighbors := index.Neighbors(i, cfg.Eps)
		if len(neighbors) < cfg.MinPts {
			continue // noise for now, a later core point may still absorb it
		}

		c := clusters
		clusters++
		labels[i] = c

		frontier := make([]int, 0, len(neighbors))
		for _, j := range neighbors {
			if j != i {
				frontier = append(frontier, j)
			}
		}
		for len(frontier) > 0 {
			q := frontier[0]
			frontier = frontier[1:]

			if !visited[q] {
				visited[q] = true
				qn := index.Neighbors(q, cfg.Eps)
				if len(qn) >= cfg.MinPts {
					// q is a core point, its neighborhood joins the frontier
					frontier = append(frontier, qn...)
				}
			}
			if labels[q] == Noise {
				labels[q] = c
			}
		}
	}

	return Result{Labels: labels, Clusters: clusters}, nil
}

// Centroids returns the per-cluster mean vector for a labeling with k
// clusters. Noise points contribute to no centroid.
func Centroids(points [][]float64, labels []int, k int) [][]float64 {
	if k == 0 || len(points) == 0 {
		return nil
	}
	dim := len(points[0])
	sums := make([][]float64, k)
	counts := make([]int, k)
	for c := range sums {
		sums[c] = make([]float64, dim)
	}
	for i, p := range points {
		c := labels[i]
		if c == Noise {
			continue
		}
		for d, v := range p {
			sums[c][d] += v
		}
		counts[c]++
	}
	for c := range sums {
		if counts[c] == 0 {
			continue
		}
		for d := range sums[c] {
			sums[c][d] /= float64(counts[c])
		}
	}
	return sums
}
