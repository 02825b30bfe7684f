package florch

import (
	"context"
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/AIoTwin-Adaptive-FL-Orch/gcfl-orchestrator/internal/common"
	"github.com/AIoTwin-Adaptive-FL-Orch/gcfl-orchestrator/internal/events"
	"github.com/AIoTwin-Adaptive-FL-Orch/gcfl-orchestrator/internal/florch/aggregation"
	"github.com/AIoTwin-Adaptive-FL-Orch/gcfl-orchestrator/internal/florch/clustering"
	"github.com/AIoTwin-Adaptive-FL-Orch/gcfl-orchestrator/internal/florch/flconfig"
	"github.com/AIoTwin-Adaptive-FL-Orch/gcfl-orchestrator/internal/florch/similarity"
	"github.com/AIoTwin-Adaptive-FL-Orch/gcfl-orchestrator/internal/model"
)

// runRound executes one round of the configured strategy and evaluates every
// client afterwards. It returns the participants of the round.
func (orch *FlOrchestrator) runRound(ctx context.Context, round int) ([]int, error) {
	participants, err := orch.selectParticipants(round)
	if err != nil {
		return nil, err
	}

	switch {
	case orch.profile.Clustered:
		err = orch.clusteredRound(ctx, round, participants)
	case orch.profile.Prototype:
		err = orch.prototypeRound(ctx, round, participants)
	default:
		err = orch.averagingRound(ctx, round, participants)
	}
	if err != nil {
		return nil, err
	}

	if err := orch.evaluateAll(ctx, round); err != nil {
		return nil, err
	}
	return participants, nil
}

// selectParticipants returns everyone in round 1 and for strategies that
// need every client's update, a fresh sample otherwise.
func (orch *FlOrchestrator) selectParticipants(round int) ([]int, error) {
	n := len(orch.clients)
	if !orch.profile.Sampled {
		return common.Range(n), nil
	}
	return orch.sampler.ForRound(round, n, orch.configuration.Fraction)
}

func (orch *FlOrchestrator) snapshots(indices []int) []model.ClientUpdate {
	updates := make([]model.ClientUpdate, len(indices))
	for i, idx := range indices {
		updates[i] = orch.clients[idx].Snapshot()
	}
	return updates
}

func (orch *FlOrchestrator) aggregationWeights(updates []model.ClientUpdate) []float64 {
	if orch.configuration.Weighting != flconfig.Samples_Weighting {
		return nil
	}
	sizes := make([]int, len(updates))
	for i, u := range updates {
		sizes[i] = u.TrainSize
	}
	return aggregation.SampleWeights(sizes)
}

// averagingRound is FedAvg and FedProx: local training, one global average,
// distribution to the participants.
func (orch *FlOrchestrator) averagingRound(ctx context.Context, round int, participants []int) error {
	epochs := orch.configuration.LocalEpochs
	err := orch.forEachClient(ctx, round, participants, func(ctx context.Context, _ int, client model.IFlClient) error {
		if orch.profile.Proximal {
			return client.LocalTrainProx(ctx, epochs, orch.configuration.Mu)
		}
		return client.LocalTrain(ctx, epochs)
	})
	if err != nil {
		return err
	}

	updates := orch.snapshots(participants)
	vectors := make([][]float64, len(updates))
	for i, u := range updates {
		vectors[i] = u.Weights
	}

	aggregate, err := aggregation.Average(vectors, orch.aggregationWeights(updates))
	if err != nil {
		return fmt.Errorf("aggregate: %w", err)
	}
	orch.globalModel = aggregate

	for _, idx := range participants {
		client := orch.clients[idx]
		if err := client.Download(common.CopyVector(aggregate)); err != nil {
			return &common.ParticipantError{ClientId: client.Id(), Round: round, Cause: err}
		}
		if orch.profile.Proximal {
			client.CacheWeights()
		}
	}
	return nil
}

// clusteredRound is GCFL and its sequence variants: every client computes
// an update without committing it, active clusters are checked for a split
// and then aggregated independently.
func (orch *FlOrchestrator) clusteredRound(ctx context.Context, round int, participants []int) error {
	epochs := orch.configuration.LocalEpochs
	err := orch.forEachClient(ctx, round, participants, func(ctx context.Context, _ int, client model.IFlClient) error {
		if err := client.ComputeWeightUpdate(ctx, epochs); err != nil {
			return err
		}
		return client.Reset()
	})
	if err != nil {
		return err
	}

	updates := orch.snapshots(common.Range(len(orch.clients)))
	if orch.sequences != nil {
		for _, idx := range participants {
			orch.sequences.Append(idx, orch.sequenceSample(updates[idx]))
		}
	}

	for _, cluster := range orch.partition.Clusters() {
		if err := orch.evaluateSplit(ctx, round, cluster, updates); err != nil {
			return err
		}
	}

	proposed := make([][]float64, len(updates))
	for i, u := range updates {
		if proposed[i], err = u.Proposed(); err != nil {
			return fmt.Errorf("client %d: %w", u.ClientId, err)
		}
	}

	clusters := orch.partition.Clusters()
	models, err := aggregation.Clusterwise(clusters, proposed, orch.aggregationWeights(updates))
	if err != nil {
		return fmt.Errorf("aggregate clusterwise: %w", err)
	}
	orch.clusterModels = models

	for _, cluster := range clusters {
		for _, idx := range cluster.Members {
			client := orch.clients[idx]
			if err := client.Download(common.CopyVector(models[cluster.Id])); err != nil {
				return &common.ParticipantError{ClientId: client.Id(), Round: round, Cause: err}
			}
		}
	}
	return nil
}

func (orch *FlOrchestrator) sequenceSample(update model.ClientUpdate) []float64 {
	if orch.profile.SequenceSource == flconfig.DeltaSequence {
		return update.DeltaNorms
	}
	return update.GradNorms
}

// evaluateSplit bisects the cluster when its update norms show converged but
// diverging members. Degenerate cuts leave the cluster untouched.
func (orch *FlOrchestrator) evaluateSplit(ctx context.Context, round int, cluster clustering.Cluster,
	updates []model.ClientUpdate) error {
	deltas := make([][]float64, cluster.Size())
	for i, idx := range cluster.Members {
		deltas[i] = updates[idx].Delta
	}

	stats, err := clustering.UpdateNorms(deltas)
	if err != nil {
		return fmt.Errorf("cluster %d: %w", cluster.Id, err)
	}

	sequencesReady := orch.sequences == nil || orch.sequences.Ready(cluster.Members)
	if !orch.criteria.ShouldSplit(stats, round, sequencesReady) {
		return nil
	}

	similarities, err := orch.clusterSimilarities(cluster, deltas)
	if err != nil {
		return fmt.Errorf("cluster %d: %w", cluster.Id, err)
	}

	a, b, err := orch.bisector.Bisect(similarities)
	if err == nil {
		err = orch.commitSplit(ctx, round, cluster,
			clustering.ToClients(cluster.Members, a), clustering.ToClients(cluster.Members, b), stats, updates)
	}
	if err == nil {
		return nil
	}
	if errors.Is(err, common.ErrDegenerateSplit) {
		orch.logger.Warn("Degenerate split rejected", "round", round, "cluster", cluster.Id, "error", err)
		return nil
	}
	return fmt.Errorf("split of cluster %d: %w", cluster.Id, err)
}

func (orch *FlOrchestrator) clusterSimilarities(cluster clustering.Cluster, deltas [][]float64) (*mat.SymDense, error) {
	if orch.sequences == nil {
		return similarity.PairwiseCosine(deltas)
	}

	sequences := make([]similarity.Sequence, cluster.Size())
	for i, idx := range cluster.Members {
		sequences[i] = orch.sequences.Recent(idx)
	}
	distances, err := similarity.PairwiseDTW(sequences, orch.configuration.Standardize)
	if err != nil {
		return nil, err
	}
	return similarity.DistancesToSimilarities(distances)
}

// commitSplit caches the model the parent cluster held before the split,
// replaces it with its children, clears the sequence history of its members
// and reports the split. The bipartition is validated before anything is
// stored, and the partition changes only after the cache accepted the entry.
func (orch *FlOrchestrator) commitSplit(ctx context.Context, round int, parent clustering.Cluster,
	a, b []int, stats clustering.NormStats, updates []model.ClientUpdate) error {
	if err := orch.partition.ValidateSplit(parent.Id, a, b); err != nil {
		return err
	}

	weights := updates[parent.Members[0]].Weights
	if _, err := orch.modelCache.Append(parent.Id, round, parent.Members, weights, orch.memberAccuracies(parent.Members)); err != nil {
		return fmt.Errorf("cache cluster %d: %w", parent.Id, err)
	}

	children, err := orch.partition.Split(parent.Id, a, b)
	if err != nil {
		return err
	}

	if orch.sequences != nil {
		orch.sequences.Clear(parent.Members)
	}

	split := events.ClusterSplitEvent{
		Round:    round,
		ParentId: parent.Id,
		ChildIds: [2]int{children[0].Id, children[1].Id},
		Members:  [2][]int{children[0].Members, children[1].Members},
		MaxNorm:  stats.MaxNorm,
		MeanNorm: stats.MeanNorm,
	}
	orch.logger.Info(fmt.Sprintf("Cluster %d split into %v and %v", parent.Id, children[0].Members, children[1].Members),
		"round", round, "max_norm", stats.MaxNorm, "mean_norm", stats.MeanNorm)

	orch.publish(common.CLUSTER_SPLIT_EVENT_TYPE, split)
	orch.metrics.ObserveSplit(orch.profile.Name)
	if orch.recorder != nil {
		if err := orch.recorder.RecordSplit(ctx, orch.runId, split); err != nil {
			orch.logger.Error("Error while recording split", "error", err)
		}
	}
	return nil
}

func (orch *FlOrchestrator) memberAccuracies(members []int) []float64 {
	accuracies := make([]float64, len(members))
	for i, idx := range members {
		accuracies[i] = orch.lastAccuracies[idx]
	}
	return accuracies
}

// prototypeRound aggregates client prototypes, optionally weighted by
// reputation, and lets every participant train against the aggregate.
func (orch *FlOrchestrator) prototypeRound(ctx context.Context, round int, participants []int) error {
	if round == 1 {
		for _, idx := range participants {
			client := orch.protoClients[idx]
			if err := client.PrototypeUpdate(); err != nil {
				return &common.ParticipantError{ClientId: client.Id(), Round: round, Cause: err}
			}
		}
	}

	prototypes := make([][]float64, len(participants))
	for i, idx := range participants {
		prototypes[i] = orch.protoClients[idx].Prototype()
	}

	aggregate, err := orch.aggregatePrototypes(round, participants, prototypes)
	if err != nil {
		return fmt.Errorf("aggregate prototypes: %w", err)
	}
	orch.prototype = aggregate
	orch.globalModel = common.CopyVector(aggregate)

	if orch.reputation != nil {
		if err := orch.updateReputation(round, participants); err != nil {
			return err
		}
	}

	err = orch.forEachClient(ctx, round, participants, func(ctx context.Context, idx int, _ model.IFlClient) error {
		client := orch.protoClients[idx]
		if err := client.DownloadPrototype(common.CopyVector(aggregate)); err != nil {
			return err
		}
		return client.PrototypeTrain(ctx)
	})
	if err != nil {
		return err
	}

	// the second variant re-measures after local training
	if orch.profile.ReputationVariant == 2 {
		if err := orch.updateReputation(round, participants); err != nil {
			return err
		}
	}

	orch.clearPrototype(participants)
	return nil
}

func (orch *FlOrchestrator) aggregatePrototypes(round int, participants []int, prototypes [][]float64) ([]float64, error) {
	switch {
	case orch.profile.ReputationVariant == 0:
		return aggregation.Prototype(prototypes)
	case orch.profile.ReputationVariant == 2 && round == 1:
		return aggregation.Prototype(prototypes)
	default:
		return aggregation.ReputationWeighted(prototypes, orch.reputation.Select(participants))
	}
}

// updateReputation blends each participant's similarity to the current
// aggregate prototype into the reputation vector.
func (orch *FlOrchestrator) updateReputation(round int, participants []int) error {
	phi := make([]float64, len(participants))
	for i, idx := range participants {
		client := orch.protoClients[idx]
		s, err := client.CosineSimilar(common.CopyVector(orch.prototype))
		if err != nil {
			return &common.ParticipantError{ClientId: client.Id(), Round: round, Cause: err}
		}
		phi[i] = s
	}

	if err := orch.reputation.UpdatePartial(participants, phi); err != nil {
		return fmt.Errorf("reputation: %w", err)
	}
	orch.logger.Trace("Reputation updated", "round", round, "rs", orch.reputation.Weights())
	return nil
}

// clearPrototype drops the transient prototype state on the participants and
// on the server side.
func (orch *FlOrchestrator) clearPrototype(participants []int) {
	for _, idx := range participants {
		orch.protoClients[idx].ClearPrototype()
	}
	orch.prototype = nil
}
