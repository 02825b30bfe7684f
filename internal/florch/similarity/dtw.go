package similarity

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/AIoTwin-Adaptive-FL-Orch/gcfl-orchestrator/internal/common"
)

// Sequence is a time series of per-round samples; every sample may be a
// vector (e.g. per-layer norms) but all samples share one dimension.
type Sequence [][]float64

func (s Sequence) dim() (int, error) {
	if len(s) == 0 {
		return 0, fmt.Errorf("%w: empty sequence", common.ErrNumerical)
	}
	d := len(s[0])
	for t, sample := range s {
		if len(sample) != d {
			return 0, fmt.Errorf("%w: sample %d has %d values, expected %d", common.ErrDimensionMismatch, t, len(sample), d)
		}
		if common.HasNaN(sample) {
			return 0, fmt.Errorf("%w: non-finite value in sample %d", common.ErrNumerical, t)
		}
	}
	return d, nil
}

// Standardize scales every dimension of s to zero mean and unit population
// variance over time. Constant dimensions are centred only.
func Standardize(s Sequence) (Sequence, error) {
	d, err := s.dim()
	if err != nil {
		return nil, err
	}

	out := make(Sequence, len(s))
	for t := range out {
		out[t] = make([]float64, d)
	}

	column := make([]float64, len(s))
	for k := 0; k < d; k++ {
		for t := range s {
			column[t] = s[t][k]
		}
		mean, std := stat.PopMeanStdDev(column, nil)
		for t := range s {
			centred := s[t][k] - mean
			if std > 0 {
				centred /= std
			}
			out[t][k] = centred
		}
	}
	return out, nil
}

// DTW returns the dynamic time warping distance between a and b: the square
// root of the cheapest cumulative squared euclidean alignment cost, built
// with the match/insertion/deletion recurrence.
func DTW(a, b Sequence) (float64, error) {
	da, err := a.dim()
	if err != nil {
		return 0, err
	}
	db, err := b.dim()
	if err != nil {
		return 0, err
	}
	if da != db {
		return 0, fmt.Errorf("%w: sample dimensions %d != %d", common.ErrDimensionMismatch, da, db)
	}

	n, m := len(a), len(b)
	prev := make([]float64, m+1)
	curr := make([]float64, m+1)
	for j := 1; j <= m; j++ {
		prev[j] = math.Inf(1)
	}

	for i := 1; i <= n; i++ {
		curr[0] = math.Inf(1)
		for j := 1; j <= m; j++ {
			cost := squaredDistance(a[i-1], b[j-1])
			curr[j] = cost + math.Min(prev[j-1], math.Min(prev[j], curr[j-1]))
		}
		prev, curr = curr, prev
	}

	return math.Sqrt(prev[m]), nil
}

// PairwiseDTW builds the symmetric DTW distance matrix over the sequences,
// optionally standardizing each sequence first.
func PairwiseDTW(sequences []Sequence, standardize bool) (*mat.SymDense, error) {
	n := len(sequences)
	if n == 0 {
		return nil, fmt.Errorf("%w: no sequences", common.ErrNumerical)
	}

	prepared := sequences
	if standardize {
		prepared = make([]Sequence, n)
		for i, s := range sequences {
			standardized, err := Standardize(s)
			if err != nil {
				return nil, fmt.Errorf("standardize sequence %d: %w", i, err)
			}
			prepared[i] = standardized
		}
	}

	distances := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d, err := DTW(prepared[i], prepared[j])
			if err != nil {
				return nil, fmt.Errorf("distance of %d and %d: %w", i, j, err)
			}
			distances.SetSym(i, j, d)
		}
	}
	return distances, nil
}

func squaredDistance(x, y []float64) float64 {
	var sum float64
	for k := range x {
		diff := x[k] - y[k]
		sum += diff * diff
	}
	return sum
}
