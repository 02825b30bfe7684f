package florch

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/AIoTwin-Adaptive-FL-Orch/gcfl-orchestrator/internal/common"
	"github.com/AIoTwin-Adaptive-FL-Orch/gcfl-orchestrator/internal/events"
	"github.com/AIoTwin-Adaptive-FL-Orch/gcfl-orchestrator/internal/florch/cost"
	"github.com/AIoTwin-Adaptive-FL-Orch/gcfl-orchestrator/internal/florch/performance"
)

type FlProgress struct {
	globalRound          int
	accuracies           []float64
	losses               []float64
	accuracyHasConverged bool
	currentCost          float64
	costPerGlobalRound   float64
	clusters             int
}

func newFlProgress() *FlProgress {
	return &FlProgress{
		accuracies: []float64{},
		losses:     []float64{},
		clusters:   1,
	}
}

// Status is a point-in-time view of a run, safe to read while it runs.
type Status struct {
	RunId        string  `json:"runId"`
	Strategy     string  `json:"strategy"`
	State        string  `json:"state"`
	Round        int     `json:"round"`
	Rounds       int     `json:"rounds"`
	Clusters     int     `json:"clusters"`
	MeanAccuracy float64 `json:"meanAccuracy"`
	MeanLoss     float64 `json:"meanLoss"`
	Cost         float64 `json:"cost"`
	Converged    bool    `json:"converged"`
}

func (orch *FlOrchestrator) Status() Status {
	orch.mu.RLock()
	defer orch.mu.RUnlock()

	status := Status{
		RunId:     orch.runId,
		Strategy:  orch.profile.Name,
		State:     orch.state,
		Round:     orch.progress.globalRound,
		Rounds:    orch.configuration.Rounds,
		Clusters:  orch.progress.clusters,
		Cost:      orch.progress.currentCost,
		Converged: orch.progress.accuracyHasConverged,
	}
	if n := len(orch.progress.accuracies); n > 0 {
		status.MeanAccuracy = orch.progress.accuracies[n-1]
		status.MeanLoss = orch.progress.losses[n-1]
	}
	return status
}

// finishRound books the round into the progress, publishes it and returns
// a non-empty reason when the run should stop early.
func (orch *FlOrchestrator) finishRound(ctx context.Context, round int, participants []int, duration time.Duration) string {
	accuracy := common.CalculateAverageFloat64(orch.lastAccuracies)
	loss := common.CalculateAverageFloat64(orch.lastLosses)
	costConfiguration := &orch.configuration.Cost

	orch.mu.Lock()
	progress := orch.progress
	progress.globalRound = round
	progress.accuracies = append(progress.accuracies, accuracy)
	progress.losses = append(progress.losses, loss)
	progress.costPerGlobalRound = cost.GetGlobalRoundCost(costConfiguration, len(participants), orch.configuration.LocalEpochs)
	progress.currentCost += progress.costPerGlobalRound
	progress.accuracyHasConverged = hasConverged(progress.accuracies, common.CONVERGENCE_THRESHOLD,
		common.CONVERGENCE_PATIENCE, common.CONVERGENCE_WINDOW)
	progress.clusters = orch.partition.Len()
	currentCost := progress.currentCost
	converged := progress.accuracyHasConverged
	orch.mu.Unlock()

	if round%common.PROGRESS_LOG_EVERY == 0 {
		orch.logger.Info(fmt.Sprintf("Finished global round %d", round), "accuracy", accuracy, "loss", loss,
			"cost", currentCost, "clusters", orch.partition.Len())
		orch.logPrediction()
	} else {
		orch.logger.Debug(fmt.Sprintf("Finished global round %d", round), "accuracy", accuracy, "loss", loss)
	}

	if orch.resultsFileName != "" {
		if err := writeResultsToFile(orch.resultsFileName, round, accuracy, loss, currentCost); err != nil {
			orch.logger.Error("Error while writing results", "error", err)
		}
	}

	roundEvent := events.RoundFinishedEvent{
		Round:        round,
		Participants: len(participants),
		Clusters:     orch.partition.Len(),
		MeanLoss:     loss,
		MeanAccuracy: accuracy,
		Cost:         currentCost,
	}
	orch.publish(common.ROUND_FINISHED_EVENT_TYPE, roundEvent)
	orch.metrics.ObserveRound(orch.profile.Name, orch.partition.Len(), accuracy, loss, currentCost, duration)
	if orch.recorder != nil {
		if err := orch.recorder.RecordRound(ctx, orch.runId, roundEvent); err != nil {
			orch.logger.Error("Error while recording round", "error", err)
		}
	}

	switch {
	case cost.BudgetExceeded(costConfiguration, currentCost):
		orch.logger.Info("Budget exceeded!", "total_cost", currentCost, "accuracy", accuracy)
		return "budget exceeded"
	case cost.TargetReached(costConfiguration, accuracy):
		orch.logger.Info("Target accuracy reached!", "total_cost", currentCost, "accuracy", accuracy)
		return "target accuracy reached"
	case orch.configuration.StopOnConvergence && converged:
		orch.logger.Info("Accuracy has converged!", "round", round, "accuracy", accuracy)
		return "accuracy converged"
	}
	return ""
}

func (orch *FlOrchestrator) logPrediction() {
	orch.mu.RLock()
	accuracies := append([]float64(nil), orch.progress.accuracies...)
	losses := append([]float64(nil), orch.progress.losses...)
	orch.mu.RUnlock()

	pp, err := performance.NewPerformancePrediction(accuracies, losses, performance.LogarithmicRegression_PredictionType, 0)
	if err != nil {
		orch.logger.Debug("No performance prediction", "error", err)
		return
	}
	orch.logger.Info("Accuracy trend", "function", pp.PrintPrediction(),
		"predicted_final", pp.PredictAccuracy(orch.configuration.Rounds))
}

func movingAverage(values []float64, windowSize int) []float64 {
	if len(values) < windowSize {
		return nil
	}
	averages := make([]float64, len(values)-windowSize+1)
	for i := 0; i <= len(values)-windowSize; i++ {
		sum := 0.0
		for j := i; j < i+windowSize; j++ {
			sum += values[j]
		}
		averages[i] = sum / float64(windowSize)
	}
	return averages
}

// hasConverged reports whether the last patience steps of the moving
// average all changed by at most threshold.
func hasConverged(accuracies []float64, threshold float64, patience int, windowSize int) bool {
	averages := movingAverage(accuracies, windowSize)
	if len(averages) < patience+1 {
		return false
	}

	for i := len(averages) - patience; i < len(averages); i++ {
		if math.Abs(averages[i]-averages[i-1]) > threshold {
			return false
		}
	}
	return true
}
