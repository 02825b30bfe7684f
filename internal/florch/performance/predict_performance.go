// Package performance extrapolates accuracy and loss curves to estimate when
// a run reaches a target.
package performance

import (
	"fmt"
	"math"
)

const LogarithmicRegression_PredictionType = "log-reg"

// NoPrediction is returned when the fitted curve never reaches the value.
const NoPrediction = -1

type PerformancePrediction struct {
	regressionFunctionAccuracies IRegression
	regressionFunctionLosses     IRegression
}

// NewPerformancePrediction fits the per-round curves. Round i of the input
// is x = i + 1 + offset.
func NewPerformancePrediction(accuracies []float64, losses []float64, predictionType string, offset int) (*PerformancePrediction, error) {
	if predictionType != LogarithmicRegression_PredictionType {
		return nil, fmt.Errorf("invalid prediction type: %s", predictionType)
	}

	accXs, accYs := prepareXAndY(accuracies, offset)
	lossXs, lossYs := prepareXAndY(losses, offset)

	accuracyRegression, err := NewLogarithmicRegression(accXs, accYs)
	if err != nil {
		return nil, fmt.Errorf("accuracy regression: %w", err)
	}
	lossRegression, err := NewLogarithmicRegression(lossXs, lossYs)
	if err != nil {
		return nil, fmt.Errorf("loss regression: %w", err)
	}

	return &PerformancePrediction{
		regressionFunctionAccuracies: accuracyRegression,
		regressionFunctionLosses:     lossRegression,
	}, nil
}

func (pp *PerformancePrediction) PredictAccuracy(round int) float64 {
	return pp.regressionFunctionAccuracies.PredictY(float64(round))
}

func (pp *PerformancePrediction) PredictRoundForAccuracy(accuracy float64) int {
	return toRound(pp.regressionFunctionAccuracies.PredictX(accuracy))
}

func (pp *PerformancePrediction) PredictLoss(round int) float64 {
	return pp.regressionFunctionLosses.PredictY(float64(round))
}

func (pp *PerformancePrediction) PredictRoundForLoss(loss float64) int {
	return toRound(pp.regressionFunctionLosses.PredictX(loss))
}

func (pp *PerformancePrediction) PrintPrediction() string {
	return pp.regressionFunctionAccuracies.PrintFunction()
}

func toRound(x float64) int {
	if math.IsNaN(x) || math.IsInf(x, 0) || x > math.MaxInt32 {
		return NoPrediction
	}
	return int(math.Ceil(x))
}

func prepareXAndY(values []float64, offset int) ([]float64, []float64) {
	xs := make([]float64, len(values))
	ys := make([]float64, len(values))

	for i, v := range values {
		xs[i] = float64(i + 1 + offset)
		ys[i] = v
	}

	return xs, ys
}
