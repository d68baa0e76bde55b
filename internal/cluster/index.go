package cluster

import "fmt"

// IndexKind selects the neighborhood index backing a clustering run.
type IndexKind string

const (
	// IndexAuto picks the k-d tree for larger inputs and brute force otherwise.
	IndexAuto IndexKind = "auto"
	// IndexBrute forces the linear-scan index.
	IndexBrute IndexKind = "brute"
	// IndexKDTree forces the k-d tree index.
	IndexKDTree IndexKind = "kdtree"
)

// autoThreshold is the point count above which IndexAuto switches from the
// brute-force scan to the k-d tree.
const autoThreshold = 512

// Index answers fixed-radius neighborhood queries over a point set that does
// not change after construction.
//
// Neighbors returns the indices of every point whose distance to point i is
// at most eps, in ascending order. The result always contains i itself.
// Implementations must be safe for concurrent queries.
type Index interface {
	Neighbors(i int, eps float64) []int
}

func newIndex(points [][]float64, kind IndexKind) (Index, error) {
	switch kind {
	case IndexBrute:
		return newBruteIndex(points), nil
	case IndexKDTree:
		return newKDTree(points), nil
	case IndexAuto, "":
		if len(points) > autoThreshold {
			return newKDTree(points), nil
		}
		return newBruteIndex(points), nil
	default:
		return nil, fmt.Errorf("cluster: unknown index kind %q", kind)
	}
}

// bruteIndex is the reference implementation: one linear scan per query.
type bruteIndex struct {
	points [][]float64
}

func newBruteIndex(points [][]float64) *bruteIndex {
	return &bruteIndex{points: points}
}

func (b *bruteIndex) Neighbors(i int, eps float64) []int {
	q := b.points[i]
	eps2 := eps * eps
	var out []int
	for j, p := range b.points {
		if sqDist(q, p) <= eps2 {
			out = append(out, j)
		}
	}
	return out
}
