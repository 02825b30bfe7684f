package clustering

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/AIoTwin-Adaptive-FL-Orch/gcfl-orchestrator/internal/common"
	"github.com/AIoTwin-Adaptive-FL-Orch/gcfl-orchestrator/internal/florch/similarity"
)

var divergingDeltas = [][]float64{
	{5, 0},
	{-5, 0},
	{0.2, 0},
	{0.2, 0},
}

func TestUpdateNorms(t *testing.T) {
	stats, err := UpdateNorms(divergingDeltas)
	require.NoError(t, err)
	assert.InDelta(t, 5.0, stats.MaxNorm, 1e-12)
	assert.InDelta(t, 0.1, stats.MeanNorm, 1e-12)
	assert.Equal(t, 4, stats.Size)
}

func TestUpdateNormsErrors(t *testing.T) {
	_, err := UpdateNorms(nil)
	assert.ErrorIs(t, err, common.ErrNumerical)

	_, err = UpdateNorms([][]float64{{1, 2}, {1}})
	assert.ErrorIs(t, err, common.ErrDimensionMismatch)
}

func TestShouldSplitAtRound21(t *testing.T) {
	criteria := NewSplitCriteria(0.4, 2.0, common.DEFAULT_WARMUP_ROUNDS)
	stats, err := UpdateNorms(divergingDeltas)
	require.NoError(t, err)

	assert.True(t, criteria.ShouldSplit(stats, 21, true))
	assert.False(t, criteria.ShouldSplit(stats, 21, false))
}

func TestNoSplitBelowThreshold(t *testing.T) {
	criteria := NewSplitCriteria(0.4, 2.0, 20)
	base := NormStats{MaxNorm: 5, MeanNorm: 0.1, Size: 4}

	cases := map[string]struct {
		stats NormStats
		round int
	}{
		"mean norm too large": {NormStats{MaxNorm: 5, MeanNorm: 0.4, Size: 4}, 21},
		"max norm too small":  {NormStats{MaxNorm: 2, MeanNorm: 0.1, Size: 4}, 21},
		"cluster too small":   {NormStats{MaxNorm: 5, MeanNorm: 0.1, Size: 2}, 21},
		"during warmup":       {base, 20},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.False(t, criteria.ShouldSplit(tc.stats, tc.round, true))
		})
	}
}

func TestSplitScenarioProducesDisjointNonemptyChildren(t *testing.T) {
	members := []int{0, 1, 2, 3}
	p := NewPartition(6)
	_, err := p.Split(0, members, []int{4, 5})
	require.NoError(t, err)
	_, err = p.Split(2, []int{4}, []int{5})
	require.NoError(t, err)
	require.Equal(t, 3, p.Len())

	similarities, err := similarity.PairwiseCosine(divergingDeltas)
	require.NoError(t, err)

	a, b, err := NewStoerWagner().Bisect(similarities)
	require.NoError(t, err)

	children, err := p.Split(1, ToClients(members, a), ToClients(members, b))
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2, 3}, children[0].Members)
	assert.Equal(t, []int{1}, children[1].Members)
	assert.Equal(t, 4, p.Len())
	require.NoError(t, ValidatePartition(p.Clusters(), 6))
}

func twoBlockSimilarities() *mat.SymDense {
	// clients 0,1,2 and 3,4 are strongly connected, one weak bridge 2-3
	m := mat.NewSymDense(5, nil)
	set := func(i, j int, v float64) { m.SetSym(i, j, v) }
	for i := 0; i < 5; i++ {
		set(i, i, 1)
	}
	set(0, 1, 0.9)
	set(0, 2, 0.8)
	set(1, 2, 0.95)
	set(3, 4, 0.9)
	set(2, 3, 0.1)
	set(0, 4, -0.7)
	return m
}

func TestStoerWagnerFindsMinimumCut(t *testing.T) {
	m := twoBlockSimilarities()
	a, b, err := NewStoerWagner().Bisect(m)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, a)
	assert.Equal(t, []int{3, 4}, b)
	assert.InDelta(t, 0.1, CutWeight(m, a, b), 1e-12)
}

func TestSpectralSeparatesBlocks(t *testing.T) {
	a, b, err := NewSpectral().Bisect(twoBlockSimilarities())
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, a)
	assert.Equal(t, []int{3, 4}, b)
}

func TestBisectorsAreDeterministic(t *testing.T) {
	for name, bisector := range map[string]IBisector{"stoer_wagner": NewStoerWagner(), "spectral": NewSpectral()} {
		t.Run(name, func(t *testing.T) {
			a1, b1, err := bisector.Bisect(twoBlockSimilarities())
			require.NoError(t, err)
			a2, b2, err := bisector.Bisect(twoBlockSimilarities())
			require.NoError(t, err)
			assert.Equal(t, a1, a2)
			assert.Equal(t, b1, b2)
		})
	}
}

func TestBisectErrors(t *testing.T) {
	_, _, err := NewStoerWagner().Bisect(mat.NewSymDense(1, []float64{1}))
	assert.ErrorIs(t, err, common.ErrDegenerateSplit)

	m := mat.NewSymDense(3, nil)
	m.SetSym(0, 1, math.NaN())
	_, _, err = NewSpectral().Bisect(m)
	assert.ErrorIs(t, err, common.ErrNumerical)
}
