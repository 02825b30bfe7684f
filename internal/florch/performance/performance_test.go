package performance

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func logCurve(a, b float64, n int) []float64 {
	ys := make([]float64, n)
	for i := range ys {
		ys[i] = a + b*math.Log(float64(i+1)+1)
	}
	return ys
}

func TestLogarithmicRegressionRecoversCoefficients(t *testing.T) {
	xs := []float64{1, 2, 3, 4, 5, 6}
	lr, err := NewLogarithmicRegression(xs, logCurve(0.2, 0.1, 6))
	require.NoError(t, err)

	assert.InDelta(t, 0.2, lr.a, 1e-9)
	assert.InDelta(t, 0.1, lr.b, 1e-9)
	assert.InDelta(t, 0.2+0.1*math.Log(11), lr.PredictY(10), 1e-9)
	assert.InDelta(t, 10, lr.PredictX(0.2+0.1*math.Log(11)), 1e-6)
	assert.Contains(t, lr.PrintFunction(), "ln(x+1)")
}

func TestLogarithmicRegressionNeedsTwoPoints(t *testing.T) {
	_, err := NewLogarithmicRegression([]float64{1}, []float64{0.5})
	assert.Error(t, err)
	_, err = NewLogarithmicRegression([]float64{1, 2}, []float64{0.5})
	assert.Error(t, err)
}

func TestFlatCurveHasNoInverse(t *testing.T) {
	lr, err := NewLogarithmicRegression([]float64{1, 2, 3}, []float64{0.5, 0.5, 0.5})
	require.NoError(t, err)
	assert.True(t, math.IsNaN(lr.PredictX(0.9)) || math.IsInf(lr.PredictX(0.9), 0) || lr.PredictX(0.9) > 1e12)
}

func TestPredictRoundForAccuracy(t *testing.T) {
	accuracies := logCurve(0.2, 0.1, 10)
	losses := logCurve(2, -0.3, 10)
	pp, err := NewPerformancePrediction(accuracies, losses, LogarithmicRegression_PredictionType, 0)
	require.NoError(t, err)

	target := 0.2 + 0.1*math.Log(51)
	round := pp.PredictRoundForAccuracy(target)
	assert.InDelta(t, 50, round, 1)
	assert.InDelta(t, target, pp.PredictAccuracy(50), 1e-9)
	assert.Less(t, pp.PredictLoss(50), losses[9])
	assert.Greater(t, pp.PredictRoundForLoss(0.5), 10)
}

func TestPredictionTypeAndOffset(t *testing.T) {
	_, err := NewPerformancePrediction([]float64{0.1, 0.2}, []float64{1, 0.9}, "linear", 0)
	assert.Error(t, err)

	xs, ys := prepareXAndY([]float64{0.3, 0.4}, 5)
	assert.Equal(t, []float64{6, 7}, xs)
	assert.Equal(t, []float64{0.3, 0.4}, ys)
}

func TestToRound(t *testing.T) {
	assert.Equal(t, NoPrediction, toRound(math.NaN()))
	assert.Equal(t, NoPrediction, toRound(math.Inf(1)))
	assert.Equal(t, 4, toRound(3.2))
}
