package cluster

import "math"

// EuclideanDistance returns the L2 distance between two equal-length vectors.
func EuclideanDistance(a, b []float64) float64 {
	return math.Sqrt(sqDist(a, b))
}

// sqDist returns the squared L2 distance. The neighborhood indexes compare
// squared distances against eps² so that every implementation applies the
// exact same floating-point test to a candidate pair.
func sqDist(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}
