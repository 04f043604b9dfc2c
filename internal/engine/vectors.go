package engine

import "math"

// CosineSimilarity returns the cosine of the angle between two vectors in
// [-1, 1]. Mismatched lengths and zero-magnitude vectors score 0 so that
// degenerate embeddings rank last instead of failing a whole scan.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// EuclideanDistance returns the L2 distance between two vectors. Shorter
// vectors are treated as zero-padded so truncated and full embeddings can be
// compared without a length check at every call site.
func EuclideanDistance(a, b []float32) float64 {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		var av, bv float64
		if i < len(a) {
			av = float64(a[i])
		}
		if i < len(b) {
			bv = float64(b[i])
		}
		d := av - bv
		sum += d * d
	}
	return math.Sqrt(sum)
}

// TruncateVector returns the first dims coordinates of v. Vectors already at
// or below the bound are returned as-is; callers must not mutate the result.
func TruncateVector(v []float32, dims int) []float32 {
	if dims <= 0 || len(v) <= dims {
		return v
	}
	return v[:dims]
}
