// Package vecmath holds the small set of vector arithmetic functions the
// vector indexes need. It is grounded in the example pack's
// math/vector similarity helpers (dot product, cosine similarity,
// normalization), trimmed to squared Euclidean distance as the canonical
// metric this engine ranks and fuses scores with.
package vecmath

import "math"

// SquaredEuclidean returns the squared L2 distance between a and b. It
// never takes a square root: kNN ranking and the hybrid scorer only need
// relative order, and skipping sqrt avoids floating point rounding that
// would otherwise have to be undone before the hybrid formula's
// normalization step.
func SquaredEuclidean(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum
}

// DotProduct returns the dot product of a and b as a float64, matching the
// precision used by the proximity graph's internal distance comparisons.
func DotProduct(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// Norm returns the Euclidean norm (magnitude) of v.
func Norm(v []float32) float64 {
	return math.Sqrt(DotProduct(v, v))
}
