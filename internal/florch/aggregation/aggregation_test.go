package aggregation

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AIoTwin-Adaptive-FL-Orch/gcfl-orchestrator/internal/common"
	"github.com/AIoTwin-Adaptive-FL-Orch/gcfl-orchestrator/internal/florch/clustering"
)

func TestAverageOfTwoClients(t *testing.T) {
	aggregate, err := Average([][]float64{{1, 1}, {3, 3}}, nil)
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 2}, aggregate)
}

func TestAverageDoesNotAliasInputs(t *testing.T) {
	a := []float64{1, 1}
	aggregate, err := Average([][]float64{a}, nil)
	require.NoError(t, err)
	aggregate[0] = 10
	assert.Equal(t, []float64{1, 1}, a)
}

func TestAverageWithSampleWeights(t *testing.T) {
	aggregate, err := Average([][]float64{{0}, {4}}, SampleWeights([]int{3, 1}))
	require.NoError(t, err)
	assert.InDelta(t, 1.0, aggregate[0], 1e-12)
}

func TestAverageErrors(t *testing.T) {
	_, err := Average(nil, nil)
	assert.ErrorIs(t, err, common.ErrNumerical)

	_, err = Average([][]float64{{1}, {1, 2}}, nil)
	assert.ErrorIs(t, err, common.ErrDimensionMismatch)

	_, err = Average([][]float64{{1}, {2}}, []float64{1})
	assert.ErrorIs(t, err, common.ErrDimensionMismatch)

	_, err = Average([][]float64{{1}, {2}}, []float64{0, 0})
	assert.ErrorIs(t, err, common.ErrNumerical)

	_, err = Average([][]float64{{math.NaN()}}, nil)
	assert.ErrorIs(t, err, common.ErrNumerical)
}

func TestClusterwise(t *testing.T) {
	clusters := []clustering.Cluster{
		{Id: 3, Members: []int{0, 2}},
		{Id: 4, Members: []int{1}},
	}
	vectors := [][]float64{{0, 0}, {5, 5}, {2, 4}}

	aggregates, err := Clusterwise(clusters, vectors, nil)
	require.NoError(t, err)
	require.Len(t, aggregates, 2)
	assert.Equal(t, []float64{1, 2}, aggregates[3])
	assert.Equal(t, []float64{5, 5}, aggregates[4])
}

func TestClusterwiseWeighted(t *testing.T) {
	clusters := []clustering.Cluster{{Id: 0, Members: []int{0, 1}}}
	aggregates, err := Clusterwise(clusters, [][]float64{{0}, {3}}, []float64{2, 1})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, aggregates[0][0], 1e-12)
}

func TestClusterwiseUnknownClient(t *testing.T) {
	_, err := Clusterwise([]clustering.Cluster{{Id: 0, Members: []int{5}}}, [][]float64{{1}}, nil)
	assert.ErrorIs(t, err, common.ErrStateInvariantViolation)
}

func TestPrototypeAggregates(t *testing.T) {
	prototypes := [][]float64{{1, 0}, {0, 1}}

	plain, err := Prototype(prototypes)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 0.5}, plain)

	weighted, err := ReputationWeighted(prototypes, []float64{0.75, 0.25})
	require.NoError(t, err)
	assert.InDelta(t, 0.75, weighted[0], 1e-12)
	assert.InDelta(t, 0.25, weighted[1], 1e-12)

	_, err = ReputationWeighted(prototypes, []float64{1})
	assert.ErrorIs(t, err, common.ErrDimensionMismatch)
}
