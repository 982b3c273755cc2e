package vectors

import (
	"errors"
	"fmt"
	"math"
)

// ErrDimensionMismatch is returned when two vectors (or a vector and the
// established embedding dimension) do not agree. Normalizing dimensions is an
// upstream collaborator's job, not this package's.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// ErrEmptyVector is returned when an operation receives a zero-length vector.
var ErrEmptyVector = errors.New("empty embedding vector")

// CheckDim verifies that vec has the expected dimension.
func CheckDim(vec []float32, want int) error {
	if len(vec) == 0 {
		return ErrEmptyVector
	}
	if len(vec) != want {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), want)
	}
	return nil
}

// CosineSimilarity returns the cosine similarity between a and b.
// Zero vectors yield similarity 0.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) == 0 || len(b) == 0 {
		return 0, ErrEmptyVector
	}
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}

// CosineDistance returns 1 - CosineSimilarity(a, b).
func CosineDistance(a, b []float32) (float64, error) {
	sim, err := CosineSimilarity(a, b)
	if err != nil {
		return 0, err
	}
	return 1 - sim, nil
}

// Centroid returns the element-wise mean of the given vectors.
// Returns nil for an empty input. All vectors must share one dimension.
func Centroid(vecs [][]float32) ([]float32, error) {
	if len(vecs) == 0 {
		return nil, nil
	}

	dim := len(vecs[0])
	if dim == 0 {
		return nil, ErrEmptyVector
	}

	sum := make([]float64, dim)
	for _, v := range vecs {
		if len(v) != dim {
			return nil, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(v), dim)
		}
		for i := range v {
			sum[i] += float64(v[i])
		}
	}

	out := make([]float32, dim)
	n := float64(len(vecs))
	for i := range sum {
		out[i] = float32(sum[i] / n)
	}
	return out, nil
}
