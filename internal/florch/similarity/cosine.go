// Package similarity computes pairwise client similarity matrices from update
// vectors and from gradient-norm time series.
package similarity

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/AIoTwin-Adaptive-FL-Orch/gcfl-orchestrator/internal/common"
)

// CosineSimilarity returns the cosine of the angle between a and b. A zero
// vector has similarity 0 to everything.
func CosineSimilarity(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d != %d", common.ErrDimensionMismatch, len(a), len(b))
	}
	if common.HasNaN(a) || common.HasNaN(b) {
		return 0, fmt.Errorf("%w: non-finite value in cosine input", common.ErrNumerical)
	}

	normA := floats.Norm(a, 2)
	normB := floats.Norm(b, 2)
	if normA == 0 || normB == 0 {
		return 0, nil
	}

	return floats.Dot(a, b) / (normA * normB), nil
}

// PairwiseCosine builds the symmetric n×n cosine similarity matrix of the
// given vectors. The diagonal is 1 and carries no meaning for cuts.
func PairwiseCosine(vectors [][]float64) (*mat.SymDense, error) {
	n := len(vectors)
	if n == 0 {
		return nil, fmt.Errorf("%w: no vectors", common.ErrNumerical)
	}

	similarities := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		similarities.SetSym(i, i, 1)
		for j := i + 1; j < n; j++ {
			s, err := CosineSimilarity(vectors[i], vectors[j])
			if err != nil {
				return nil, fmt.Errorf("similarity of %d and %d: %w", i, j, err)
			}
			similarities.SetSym(i, j, s)
		}
	}

	return similarities, nil
}

// Submatrix restricts a similarity matrix to the given indices, in order.
func Submatrix(m mat.Symmetric, indices []int) *mat.SymDense {
	sub := mat.NewSymDense(len(indices), nil)
	for a, i := range indices {
		for b := a; b < len(indices); b++ {
			sub.SetSym(a, b, m.At(i, indices[b]))
		}
	}
	return sub
}

// DistancesToSimilarities maps a distance matrix D to max(D) - D so that
// larger values mean more similar.
func DistancesToSimilarities(distances mat.Symmetric) (*mat.SymDense, error) {
	n := distances.SymmetricDim()
	maxDistance := math.Inf(-1)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			d := distances.At(i, j)
			if math.IsNaN(d) {
				return nil, fmt.Errorf("%w: NaN distance between %d and %d", common.ErrNumerical, i, j)
			}
			maxDistance = math.Max(maxDistance, d)
		}
	}

	similarities := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			similarities.SetSym(i, j, maxDistance-distances.At(i, j))
		}
	}
	return similarities, nil
}
