package engine

import (
	"math"
	"testing"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1.0},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0.0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1.0},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0.0},
		{"mismatched lengths", []float32{1, 2}, []float32{1, 2, 3}, 0.0},
		{"empty", nil, nil, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineSimilarity(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("CosineSimilarity(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestCosineSimilaritySymmetry(t *testing.T) {
	a := []float32{0.3, -0.7, 0.2, 0.9}
	b := []float32{-0.1, 0.4, 0.8, 0.5}
	if got, want := CosineSimilarity(a, b), CosineSimilarity(b, a); math.Abs(got-want) > 1e-12 {
		t.Errorf("similarity not symmetric: %v vs %v", got, want)
	}
}

func TestCosineSimilarityScaleInvariant(t *testing.T) {
	a := []float32{1, 2, 3}
	scaled := []float32{10, 20, 30}
	if got := CosineSimilarity(a, scaled); math.Abs(got-1.0) > 1e-6 {
		t.Errorf("scaled copy should have similarity 1.0, got %v", got)
	}
}

func TestEuclideanDistance(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 0},
		{"unit apart", []float32{0, 0}, []float32{1, 0}, 1},
		{"pythagorean", []float32{0, 0}, []float32{3, 4}, 5},
		{"shorter treated as zero padded", []float32{3, 4}, nil, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EuclideanDistance(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("EuclideanDistance(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestTruncateVector(t *testing.T) {
	v := []float32{1, 2, 3, 4, 5}

	got := TruncateVector(v, 3)
	if len(got) != 3 || got[0] != 1 || got[2] != 3 {
		t.Errorf("TruncateVector(5-dim, 3) = %v", got)
	}

	if got := TruncateVector(v, 10); len(got) != 5 {
		t.Errorf("truncation to larger dims should be a no-op, got %d dims", len(got))
	}

	if got := TruncateVector(v, 0); len(got) != 5 {
		t.Errorf("non-positive dims should be a no-op, got %d dims", len(got))
	}
}
