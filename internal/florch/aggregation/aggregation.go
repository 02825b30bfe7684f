// Package aggregation combines client parameter vectors and prototypes into
// aggregate models.
package aggregation

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/AIoTwin-Adaptive-FL-Orch/gcfl-orchestrator/internal/common"
	"github.com/AIoTwin-Adaptive-FL-Orch/gcfl-orchestrator/internal/florch/clustering"
)

// Average returns the weighted mean of the vectors. Nil weights mean equal
// weighting. Weights are normalized by their sum.
func Average(vectors [][]float64, weights []float64) ([]float64, error) {
	if len(vectors) == 0 {
		return nil, fmt.Errorf("%w: nothing to aggregate", common.ErrNumerical)
	}
	if weights != nil && len(weights) != len(vectors) {
		return nil, fmt.Errorf("%w: %d weights for %d vectors", common.ErrDimensionMismatch, len(weights), len(vectors))
	}

	var total float64
	for i := range vectors {
		w := weightAt(weights, i)
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return nil, fmt.Errorf("%w: invalid weight %v for vector %d", common.ErrNumerical, w, i)
		}
		total += w
	}
	if total == 0 {
		return nil, fmt.Errorf("%w: aggregation weights sum to zero", common.ErrNumerical)
	}

	aggregate := make([]float64, len(vectors[0]))
	for i, v := range vectors {
		if len(v) != len(aggregate) {
			return nil, fmt.Errorf("%w: vector %d has %d values, expected %d", common.ErrDimensionMismatch, i, len(v), len(aggregate))
		}
		if common.HasNaN(v) {
			return nil, fmt.Errorf("%w: non-finite value in vector %d", common.ErrNumerical, i)
		}
		floats.AddScaled(aggregate, weightAt(weights, i)/total, v)
	}

	return aggregate, nil
}

// SampleWeights weights every client by its training set size.
func SampleWeights(trainSizes []int) []float64 {
	weights := make([]float64, len(trainSizes))
	for i, size := range trainSizes {
		weights[i] = float64(size)
	}
	return weights
}

// Clusterwise averages the vectors of every cluster independently. vectors
// and weights are indexed by client; entries of clients not in any cluster
// are ignored. The result is keyed by cluster id.
func Clusterwise(clusters []clustering.Cluster, vectors [][]float64, weights []float64) (map[int][]float64, error) {
	aggregates := make(map[int][]float64, len(clusters))
	for _, c := range clusters {
		members := make([][]float64, 0, c.Size())
		var memberWeights []float64
		if weights != nil {
			memberWeights = make([]float64, 0, c.Size())
		}
		for _, client := range c.Members {
			if client < 0 || client >= len(vectors) {
				return nil, fmt.Errorf("%w: cluster %d references client %d", common.ErrStateInvariantViolation, c.Id, client)
			}
			members = append(members, vectors[client])
			if weights != nil {
				memberWeights = append(memberWeights, weights[client])
			}
		}

		aggregate, err := Average(members, memberWeights)
		if err != nil {
			return nil, fmt.Errorf("aggregate cluster %d: %w", c.Id, err)
		}
		aggregates[c.Id] = aggregate
	}
	return aggregates, nil
}

// Prototype is the unweighted prototype aggregate.
func Prototype(prototypes [][]float64) ([]float64, error) {
	return Average(prototypes, nil)
}

// ReputationWeighted mixes prototypes by the reputation of their clients.
func ReputationWeighted(prototypes [][]float64, reputations []float64) ([]float64, error) {
	if len(reputations) != len(prototypes) {
		return nil, fmt.Errorf("%w: %d reputations for %d prototypes", common.ErrDimensionMismatch, len(reputations), len(prototypes))
	}
	return Average(prototypes, reputations)
}

func weightAt(weights []float64, i int) float64 {
	if weights == nil {
		return 1
	}
	return weights[i]
}
