package cluster

import "sort"

// kdTree is an exact k-d tree over the point set. Range queries return the
// same index set as bruteIndex: pruning uses the squared-distance test, so a
// subtree is skipped only when every point in it fails the membership test.
type kdTree struct {
	points [][]float64
	root   *kdNode
}

type kdNode struct {
	idx         int // index into points
	axis        int
	left, right *kdNode
}

func newKDTree(points [][]float64) *kdTree {
	t := &kdTree{points: points}
	if len(points) == 0 {
		return t
	}
	idxs := make([]int, len(points))
	for i := range idxs {
		idxs[i] = i
	}
	t.root = t.build(idxs, 0)
	return t
}

func (t *kdTree) build(idxs []int, depth int) *kdNode {
	if len(idxs) == 0 {
		return nil
	}
	axis := depth % len(t.points[idxs[0]])
	sort.Slice(idxs, func(a, b int) bool {
		va, vb := t.points[idxs[a]][axis], t.points[idxs[b]][axis]
		if va != vb {
			return va < vb
		}
		return idxs[a] < idxs[b] // fixed order for duplicate coordinates
	})
	mid := len(idxs) / 2
	n := &kdNode{idx: idxs[mid], axis: axis}
	n.left = t.build(idxs[:mid], depth+1)
	n.right = t.build(idxs[mid+1:], depth+1)
	return n
}

func (t *kdTree) Neighbors(i int, eps float64) []int {
	if t.root == nil {
		return nil
	}
	q := t.points[i]
	var out []int
	t.search(t.root, q, eps*eps, &out)
	sort.Ints(out)
	return out
}

func (t *kdTree) search(n *kdNode, q []float64, eps2 float64, out *[]int) {
	if n == nil {
		return
	}
	p := t.points[n.idx]
	if sqDist(q, p) <= eps2 {
		*out = append(*out, n.idx)
	}
	// d is the signed offset from the query to the splitting plane. Points in
	// the left subtree lie at or below p[axis], so when d > 0 the axis gap
	// alone already exceeds eps for the whole subtree unless d² <= eps².
	d := q[n.axis] - p[n.axis]
	if d <= 0 || d*d <= eps2 {
		t.search(n.left, q, eps2, out)
	}
	if d >= 0 || d*d <= eps2 {
		t.search(n.right, q, eps2, out)
	}
}
