package florch

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/AIoTwin-Adaptive-FL-Orch/gcfl-orchestrator/internal/common"
	"github.com/AIoTwin-Adaptive-FL-Orch/gcfl-orchestrator/internal/events"
	"github.com/AIoTwin-Adaptive-FL-Orch/gcfl-orchestrator/internal/florch/clustering"
	"github.com/AIoTwin-Adaptive-FL-Orch/gcfl-orchestrator/internal/florch/performance"
	"github.com/AIoTwin-Adaptive-FL-Orch/gcfl-orchestrator/internal/model"
)

// Report is what a finished run hands back to its caller.
type Report struct {
	RunId           string               `json:"runId"`
	Strategy        string               `json:"strategy"`
	State           string               `json:"state"`
	RoundsCompleted int                  `json:"roundsCompleted"`
	StopReason      string               `json:"stopReason,omitempty"`
	Results         []model.ClientResult `json:"results"`
	Clusters        [][]int              `json:"clusters"`
	// Lineage lists every cluster that existed during the run, indexed by id.
	Lineage      []clustering.Cluster `json:"lineage"`
	CacheEntries int                  `json:"cacheEntries"`
	Accuracies   []float64            `json:"accuracies"`
	Losses       []float64            `json:"losses"`
	TotalCost    float64              `json:"totalCost"`
	Reputation   []float64            `json:"reputation,omitempty"`
	// PredictedTargetRound is the round the accuracy trend reaches the
	// target accuracy, -1 when it cannot be predicted.
	PredictedTargetRound int `json:"predictedTargetRound"`
}

func (r *Report) MeanAccuracy() float64 {
	accuracies := make([]float64, len(r.Results))
	for i, result := range r.Results {
		accuracies[i] = result.TestAcc
	}
	return common.CalculateAverageFloat64(accuracies)
}

// finish snapshots every model still in use into the cache and builds the
// per-client report from it.
func (orch *FlOrchestrator) finish(ctx context.Context, stopReason string) (*Report, error) {
	if err := orch.snapshotFinalModels(); err != nil {
		return nil, orch.fail(ctx, fmt.Errorf("final snapshot: %w", err))
	}

	best, err := orch.modelCache.BestAccuracies()
	if err != nil {
		return nil, orch.fail(ctx, err)
	}

	results := make([]model.ClientResult, len(orch.clients))
	for i, client := range orch.clients {
		clusterId, ok := orch.partition.ClusterOf(i)
		if !ok {
			return nil, orch.fail(ctx, fmt.Errorf("%w: client %d is in no cluster", common.ErrStateInvariantViolation, i))
		}
		results[i] = model.ClientResult{ClientId: client.Id(), Name: client.Name(), TestAcc: best[i], ClusterId: clusterId}
	}

	state := common.RUN_STATE_DONE
	if orch.stopRequested.Load() || ctx.Err() != nil {
		state = common.RUN_STATE_STOPPED
	}

	orch.mu.RLock()
	report := &Report{
		RunId:                orch.runId,
		Strategy:             orch.profile.Name,
		State:                state,
		RoundsCompleted:      orch.progress.globalRound,
		StopReason:           stopReason,
		Results:              results,
		CacheEntries:         orch.modelCache.Len(),
		Accuracies:           append([]float64(nil), orch.progress.accuracies...),
		Losses:               append([]float64(nil), orch.progress.losses...),
		TotalCost:            orch.progress.currentCost,
		PredictedTargetRound: performance.NoPrediction,
	}
	orch.mu.RUnlock()

	for _, cluster := range orch.partition.Clusters() {
		report.Clusters = append(report.Clusters, cluster.Members)
	}
	report.Lineage = orch.partition.Lineage()
	if orch.reputation != nil {
		report.Reputation = orch.reputation.Weights()
	}
	if target := orch.configuration.Cost.TargetAccuracy; target > 0 && len(report.Accuracies) >= 2 {
		pp, err := performance.NewPerformancePrediction(report.Accuracies, report.Losses,
			performance.LogarithmicRegression_PredictionType, 0)
		if err == nil {
			report.PredictedTargetRound = pp.PredictRoundForAccuracy(target)
		}
	}

	if orch.configuration.ResultsDir != "" {
		reportFile := filepath.Join(orch.configuration.ResultsDir, fmt.Sprintf("report_%s.csv", orch.runId))
		if err := writeReportToFile(reportFile, results, orch.modelCache.Matrix()); err != nil {
			orch.logger.Error("Error while writing report", "error", err)
		}
	}

	orch.persistReport(ctx, report)

	orch.setState(state)
	orch.publish(common.FL_FINISHED_EVENT_TYPE, events.FlFinishedEvent{ExitCode: 0, ExitMessage: stopReason})
	orch.logger.Info("FL finished", "run", orch.runId, "state", state, "rounds", report.RoundsCompleted,
		"mean_accuracy", report.MeanAccuracy(), "clusters", len(report.Clusters), "cache_entries", report.CacheEntries)

	return report, nil
}

func (orch *FlOrchestrator) snapshotFinalModels() error {
	round := orch.progress.globalRound

	switch {
	case !orch.profile.Aggregate:
		// every client is its own model
		for i, client := range orch.clients {
			if _, err := orch.modelCache.Append(i, round, []int{i}, client.Snapshot().Weights,
				[]float64{orch.lastAccuracies[i]}); err != nil {
				return err
			}
		}
	case orch.profile.Clustered:
		for _, cluster := range orch.partition.Clusters() {
			if _, err := orch.modelCache.Append(cluster.Id, round, cluster.Members, orch.clusterModels[cluster.Id],
				orch.memberAccuracies(cluster.Members)); err != nil {
				return err
			}
		}
	default:
		all := common.Range(len(orch.clients))
		if _, err := orch.modelCache.Append(0, round, all, orch.globalModel, orch.memberAccuracies(all)); err != nil {
			return err
		}
	}
	return nil
}

func (orch *FlOrchestrator) persistReport(ctx context.Context, report *Report) {
	if orch.recorder == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)

	if err := orch.recorder.RecordResults(ctx, orch.runId, report.Results); err != nil {
		orch.logger.Error("Error while recording results", "error", err)
	}
	if orch.sequences != nil {
		sequences := make(map[int][][]float64, len(orch.clients))
		for i := range orch.clients {
			if recent := orch.sequences.Recent(i); len(recent) > 0 {
				sequences[i] = recent
			}
		}
		if err := orch.recorder.RecordSequences(ctx, orch.runId, sequences); err != nil {
			orch.logger.Error("Error while recording sequences", "error", err)
		}
	}
	if err := orch.recorder.SetRunState(ctx, orch.runId, report.State, true); err != nil {
		orch.logger.Error("Error while recording run state", "error", err)
	}
}

func getResultsFileName(dir string, runId string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	fileName := filepath.Join(dir, fmt.Sprintf("results_%s.csv", runId))
	file, err := os.Create(fileName)
	if err != nil {
		return "", err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write([]string{"Round", "Accuracy", "Loss", "Cost"}); err != nil {
		return "", err
	}

	return fileName, nil
}

func writeResultsToFile(fileName string, round int, accuracy float64, loss float64, cost float64) error {
	file, err := os.OpenFile(fileName, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	row := []string{
		strconv.Itoa(round),
		strconv.FormatFloat(accuracy, 'f', -1, 64),
		strconv.FormatFloat(loss, 'f', -1, 64),
		strconv.FormatFloat(cost, 'f', -1, 64),
	}
	return writer.Write(row)
}

// writeReportToFile writes one row per client: its best accuracy followed by
// its accuracy under every cached model.
func writeReportToFile(fileName string, results []model.ClientResult, cacheMatrix [][]float64) error {
	file, err := os.Create(fileName)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)

	entries := 0
	if len(cacheMatrix) > 0 {
		entries = len(cacheMatrix[0])
	}
	header := []string{"Client", common.FINAL_CACHE_COLUMN}
	for i := 0; i < entries; i++ {
		header = append(header, fmt.Sprintf("Model %d", i))
	}
	if err := writer.Write(header); err != nil {
		return err
	}

	for i, result := range results {
		row := []string{result.Name, strconv.FormatFloat(result.TestAcc, 'f', -1, 64)}
		if i < len(cacheMatrix) {
			for _, acc := range cacheMatrix[i] {
				row = append(row, strconv.FormatFloat(acc, 'f', -1, 64))
			}
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}
