package engine

import "math/rand"

// runKMeans partitions points into k clusters by Lloyd's algorithm:
// centroids start at k distinct random points, each point joins its nearest
// centroid by Euclidean distance, and centroids move to the mean of their
// members until the assignment stops changing or maxIterations is hit. A
// cluster that loses all members keeps its last centroid; there is no
// reseeding, so the caller may receive empty clusters.
//
// The rng is injected so clustering runs are reproducible under test.
func runKMeans(points [][]float32, k, maxIterations int, rng *rand.Rand) (centroids [][]float32, assignments []int) {
	if len(points) == 0 || k < 1 {
		return nil, nil
	}
	if k > len(points) {
		k = len(points)
	}

	centroids = make([][]float32, k)
	for i, idx := range rng.Perm(len(points))[:k] {
		centroids[i] = append([]float32(nil), points[idx]...)
	}

	assignments = make([]int, len(points))
	for i := range assignments {
		assignments[i] = -1
	}

	for iter := 0; iter < maxIterations; iter++ {
		next := assignPoints(points, centroids)
		if equalInts(next, assignments) {
			break
		}
		assignments = next
		recomputeCentroids(centroids, points, assignments)
	}
	return centroids, assignments
}

// assignPoints maps each point to its nearest centroid, lowest index winning
// ties.
func assignPoints(points, centroids [][]float32) []int {
	assignments := make([]int, len(points))
	for i, p := range points {
		best := 0
		bestDist := EuclideanDistance(p, centroids[0])
		for c := 1; c < len(centroids); c++ {
			if d := EuclideanDistance(p, centroids[c]); d < bestDist {
				best, bestDist = c, d
			}
		}
		assignments[i] = best
	}
	return assignments
}

// recomputeCentroids moves each centroid to the mean of its members,
// leaving centroids of empty clusters where they are.
func recomputeCentroids(centroids, points [][]float32, assignments []int) {
	counts := make([]int, len(centroids))
	sums := make([][]float64, len(centroids))
	for c := range sums {
		sums[c] = make([]float64, len(centroids[c]))
	}

	for i, p := range points {
		c := assignments[i]
		counts[c]++
		for d := range p {
			if d < len(sums[c]) {
				sums[c][d] += float64(p[d])
			}
		}
	}

	for c := range centroids {
		if counts[c] == 0 {
			continue
		}
		for d := range centroids[c] {
			centroids[c][d] = float32(sums[c][d] / float64(counts[c]))
		}
	}
}

// equalInts reports whether two int slices are elementwise equal.
func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
