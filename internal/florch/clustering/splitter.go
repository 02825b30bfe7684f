// Package clustering decides when a cluster of clients diverged enough to be
// bisected and computes the bisection from a similarity matrix.
package clustering

import (
	"fmt"

	"gonum.org/v1/gonum/floats"

	"github.com/AIoTwin-Adaptive-FL-Orch/gcfl-orchestrator/internal/common"
)

// NormStats summarizes the weight updates of one cluster for a round.
type NormStats struct {
	MaxNorm  float64
	MeanNorm float64
	Size     int
}

// UpdateNorms returns the largest L2 norm of any update and the L2 norm of
// the mean update.
func UpdateNorms(deltas [][]float64) (NormStats, error) {
	if len(deltas) == 0 {
		return NormStats{}, fmt.Errorf("%w: no updates in cluster", common.ErrNumerical)
	}

	mean := make([]float64, len(deltas[0]))
	var maxNorm float64
	for i, delta := range deltas {
		if len(delta) != len(mean) {
			return NormStats{}, fmt.Errorf("%w: update %d has %d values, expected %d", common.ErrDimensionMismatch, i, len(delta), len(mean))
		}
		if common.HasNaN(delta) {
			return NormStats{}, fmt.Errorf("%w: non-finite value in update %d", common.ErrNumerical, i)
		}
		if norm := floats.Norm(delta, 2); norm > maxNorm {
			maxNorm = norm
		}
		floats.Add(mean, delta)
	}
	floats.Scale(1/float64(len(deltas)), mean)

	return NormStats{
		MaxNorm:  maxNorm,
		MeanNorm: floats.Norm(mean, 2),
		Size:     len(deltas),
	}, nil
}

// SplitCriteria holds the thresholds of the split decision.
type SplitCriteria struct {
	Eps1           float64
	Eps2           float64
	WarmupRounds   int
	MinClusterSize int
}

func NewSplitCriteria(eps1, eps2 float64, warmupRounds int) SplitCriteria {
	return SplitCriteria{
		Eps1:           eps1,
		Eps2:           eps2,
		WarmupRounds:   warmupRounds,
		MinClusterSize: common.MIN_SPLITTABLE_CLUSTER_SIZE,
	}
}

// ShouldSplit fires when the cluster has converged on average but still
// holds at least one diverging client. sequencesReady must be true for
// strategies that cut on sequence distances and is ignored otherwise.
func (c SplitCriteria) ShouldSplit(stats NormStats, round int, sequencesReady bool) bool {
	return stats.MeanNorm < c.Eps1 &&
		stats.MaxNorm > c.Eps2 &&
		stats.Size >= c.MinClusterSize &&
		round > c.WarmupRounds &&
		sequencesReady
}
