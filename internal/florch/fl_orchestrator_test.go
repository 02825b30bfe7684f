package florch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/AIoTwin-Adaptive-FL-Orch/gcfl-orchestrator/internal/common"
	"github.com/AIoTwin-Adaptive-FL-Orch/gcfl-orchestrator/internal/events"
	"github.com/AIoTwin-Adaptive-FL-Orch/gcfl-orchestrator/internal/flclient/sim"
	"github.com/AIoTwin-Adaptive-FL-Orch/gcfl-orchestrator/internal/florch/cache"
	"github.com/AIoTwin-Adaptive-FL-Orch/gcfl-orchestrator/internal/florch/clustering"
	"github.com/AIoTwin-Adaptive-FL-Orch/gcfl-orchestrator/internal/florch/cost"
	"github.com/AIoTwin-Adaptive-FL-Orch/gcfl-orchestrator/internal/florch/flconfig"
	"github.com/AIoTwin-Adaptive-FL-Orch/gcfl-orchestrator/internal/model"
	"github.com/AIoTwin-Adaptive-FL-Orch/gcfl-orchestrator/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fixedClient reports a preset model after every local training.
type fixedClient struct {
	id      int
	weights []float64
	trained []float64
}

func (c *fixedClient) Id() int                                        { return c.id }
func (c *fixedClient) Name() string                                   { return "fixed" }
func (c *fixedClient) CacheWeights()                                  {}
func (c *fixedClient) Reset() error                                   { return nil }
func (c *fixedClient) Evaluate() (float64, float64, error)            { return 1, 0.5, nil }
func (c *fixedClient) LocalTrain(context.Context, int) error          { return c.train() }
func (c *fixedClient) ComputeWeightUpdate(context.Context, int) error { return c.train() }
func (c *fixedClient) LocalTrainProx(context.Context, int, float64) error {
	return c.train()
}

func (c *fixedClient) Download(weights []float64) error {
	c.weights = weights
	return nil
}

func (c *fixedClient) Snapshot() model.ClientUpdate {
	return model.ClientUpdate{ClientId: c.id, Weights: common.CopyVector(c.weights), TrainSize: 1}
}

func (c *fixedClient) train() error {
	c.weights = common.CopyVector(c.trained)
	return nil
}

type memoryRecorder struct {
	mu     sync.Mutex
	states []string
	rounds []events.RoundFinishedEvent
	splits []events.ClusterSplitEvent
	seqs   map[int][][]float64
	report []model.ClientResult
}

func (r *memoryRecorder) StartRun(context.Context, string, string, int) error { return nil }

func (r *memoryRecorder) SetRunState(_ context.Context, _ string, state string, _ bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
	return nil
}

func (r *memoryRecorder) RecordRound(_ context.Context, _ string, round events.RoundFinishedEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rounds = append(r.rounds, round)
	return nil
}

func (r *memoryRecorder) RecordSplit(_ context.Context, _ string, split events.ClusterSplitEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.splits = append(r.splits, split)
	return nil
}

func (r *memoryRecorder) RecordSequences(_ context.Context, _ string, sequences map[int][][]float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seqs = sequences
	return nil
}

func (r *memoryRecorder) RecordResults(_ context.Context, _ string, results []model.ClientResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.report = results
	return nil
}

func testConfiguration(strategy string, rounds int) *flconfig.FlConfiguration {
	config := flconfig.Default()
	config.Strategy = strategy
	config.Rounds = rounds
	config.WarmupRounds = 2
	config.SeqLength = 3
	config.Parallelism = 4
	return config
}

func population(t *testing.T, fail ...int) []model.IFlClient {
	t.Helper()

	popConfig := sim.DefaultPopulationConfig()
	popConfig.Jitter = 0.01
	profiles, err := sim.GroupedProfiles(popConfig, 7)
	require.NoError(t, err)
	for _, idx := range fail {
		profiles[idx].Fail = true
	}
	clients, err := sim.NewPopulation(profiles, 7)
	require.NoError(t, err)
	return sim.AsFlClients(clients)
}

func newTestOrchestrator(t *testing.T, clients []model.IFlClient, config *flconfig.FlConfiguration) (*FlOrchestrator, *memoryRecorder) {
	t.Helper()

	orch, err := NewFlOrchestrator(clients, config, events.NewEventBus(), hclog.NewNullLogger())
	require.NoError(t, err)
	recorder := &memoryRecorder{}
	return orch.WithRecorder(recorder), recorder
}

func TestFedAvgAveragesTrainedModels(t *testing.T) {
	clients := []model.IFlClient{
		&fixedClient{id: 0, weights: []float64{0, 0}, trained: []float64{1, 1}},
		&fixedClient{id: 1, weights: []float64{0, 0}, trained: []float64{3, 3}},
	}
	orch, recorder := newTestOrchestrator(t, clients, testConfiguration(flconfig.FedAvg_StrategyName, 1))

	report, err := orch.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []float64{2, 2}, orch.globalModel)
	for _, client := range clients {
		assert.Equal(t, []float64{2, 2}, client.Snapshot().Weights)
	}
	assert.Equal(t, common.RUN_STATE_DONE, report.State)
	assert.Equal(t, 1, report.RoundsCompleted)
	assert.Len(t, report.Results, 2)
	assert.Len(t, recorder.rounds, 1)
	assert.Equal(t, []string{common.RUN_STATE_DONE}, recorder.states)
}

func TestFedProxConverges(t *testing.T) {
	orch, _ := newTestOrchestrator(t, population(t), testConfiguration(flconfig.FedProx_StrategyName, 5))

	report, err := orch.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Accuracies, 5)
	assert.Equal(t, 1, orch.modelCache.Len())
	assert.Equal(t, [][]int{common.Range(8)}, report.Clusters)
}

func TestGcflSplitsDivergingGroups(t *testing.T) {
	config := testConfiguration(flconfig.Gcfl_StrategyName, 10)
	orch, recorder := newTestOrchestrator(t, population(t), config)

	report, err := orch.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, recorder.splits, 1)
	assert.Greater(t, recorder.splits[0].Round, config.WarmupRounds)
	assert.ElementsMatch(t, [][]int{{0, 1, 2, 3}, {4, 5, 6, 7}}, report.Clusters)
	require.NoError(t, clustering.ValidatePartition(orch.partition.Clusters(), 8))

	// the pre-split model plus one final entry per cluster
	assert.Equal(t, 3, report.CacheEntries)
	for _, result := range report.Results {
		assert.Greater(t, result.TestAcc, 0.0)
	}
	assert.Len(t, orch.clusterModels, 2)

	require.Len(t, report.Lineage, 3)
	assert.Equal(t, clustering.RootParentId, report.Lineage[0].Parent)
	for _, child := range report.Lineage[1:] {
		assert.Equal(t, 0, child.Parent)
	}
	for _, result := range report.Results {
		want := report.Lineage[1].Id
		if result.ClientId >= 4 {
			want = report.Lineage[2].Id
		}
		assert.Equal(t, want, result.ClusterId, "client %d", result.ClientId)
	}
}

func TestSpectralCutKeepsAPartition(t *testing.T) {
	config := testConfiguration(flconfig.Gcfl_StrategyName, 10)
	config.CutAlgorithm = flconfig.Spectral_CutAlgorithm
	orch, _ := newTestOrchestrator(t, population(t), config)

	_, err := orch.Run(context.Background())
	require.NoError(t, err)
	require.NoError(t, clustering.ValidatePartition(orch.partition.Clusters(), 8))
}

func TestSequenceStrategiesClearHistoryOnSplit(t *testing.T) {
	for _, strategy := range []string{flconfig.GcflPlus_StrategyName, flconfig.GcflPlusDWs_StrategyName} {
		t.Run(strategy, func(t *testing.T) {
			config := testConfiguration(strategy, 12)
			orch, recorder := newTestOrchestrator(t, population(t), config)

			_, err := orch.Run(context.Background())
			require.NoError(t, err)
			require.NoError(t, clustering.ValidatePartition(orch.partition.Clusters(), 8))
			require.NotEmpty(t, recorder.splits)

			// no split can happen before every member has a full window
			first := recorder.splits[0]
			assert.GreaterOrEqual(t, first.Round, config.SeqLength)

			last := recorder.splits[len(recorder.splits)-1]
			for _, members := range last.Members {
				for _, idx := range members {
					want := min(config.SeqLength, config.Rounds-last.Round)
					assert.Len(t, orch.sequences.Recent(idx), want, "client %d", idx)
				}
			}
		})
	}
}

func newSplitFixture(t *testing.T) (*FlOrchestrator, clustering.Cluster, []model.ClientUpdate) {
	t.Helper()

	clients := make([]model.IFlClient, 4)
	updates := make([]model.ClientUpdate, 4)
	for i := range clients {
		clients[i] = &fixedClient{id: i, weights: []float64{1, 2}, trained: []float64{1, 2}}
		updates[i] = clients[i].Snapshot()
	}
	orch, _ := newTestOrchestrator(t, clients, testConfiguration(flconfig.Gcfl_StrategyName, 1))
	orch.lastAccuracies = []float64{0.1, 0.2, 0.3, 0.4}

	return orch, orch.partition.Clusters()[0], updates
}

func TestCommitSplitCachesParentBeforeSplitting(t *testing.T) {
	orch, root, updates := newSplitFixture(t)

	err := orch.commitSplit(context.Background(), 21, root, []int{0, 2, 3}, []int{1}, clustering.NormStats{}, updates)
	require.NoError(t, err)

	require.Equal(t, 1, orch.modelCache.Len())
	entry := orch.modelCache.Entries()[0]
	assert.Equal(t, root.Id, entry.ClusterId)
	assert.Equal(t, 21, entry.Round)
	assert.Equal(t, []int{0, 1, 2, 3}, entry.Members)
	assert.Equal(t, []float64{0.1, 0.2, 0.3, 0.4}, entry.Accuracies)
	assert.Equal(t, 2, orch.partition.Len())
}

func TestRejectedSplitLeavesCacheAndPartitionUntouched(t *testing.T) {
	orch, root, updates := newSplitFixture(t)

	err := orch.commitSplit(context.Background(), 21, root, []int{0, 1}, []int{1, 2, 3}, clustering.NormStats{}, updates)
	assert.ErrorIs(t, err, common.ErrStateInvariantViolation)
	assert.Equal(t, 0, orch.modelCache.Len())
	assert.Equal(t, 1, orch.partition.Len())

	// a cache that cannot hold the parent keeps the partition as it was
	orch.modelCache = cache.NewModelCache(2)
	err = orch.commitSplit(context.Background(), 21, root, []int{0, 1}, []int{2, 3}, clustering.NormStats{}, updates)
	assert.ErrorIs(t, err, common.ErrStateInvariantViolation)
	assert.Equal(t, 1, orch.partition.Len())
	assert.Len(t, orch.partition.Lineage(), 1)
}

func TestPrototypeReputationStaysOnSimplex(t *testing.T) {
	for _, strategy := range []string{flconfig.ProtoReput_StrategyName, flconfig.ProtoReput2_StrategyName} {
		t.Run(strategy, func(t *testing.T) {
			orch, _ := newTestOrchestrator(t, population(t), testConfiguration(strategy, 6))

			report, err := orch.Run(context.Background())
			require.NoError(t, err)

			require.Len(t, report.Reputation, 8)
			sum := 0.0
			for _, r := range report.Reputation {
				assert.GreaterOrEqual(t, r, common.DEFAULT_REPUTATION_FLOOR-1e-12)
				sum += r
			}
			assert.InDelta(t, 1.0, sum, 1e-9)
			assert.Len(t, report.Losses, 6)
			assert.Nil(t, orch.prototype)
		})
	}
}

func TestPrototypeWithoutReputation(t *testing.T) {
	orch, _ := newTestOrchestrator(t, population(t), testConfiguration(flconfig.Prototype_StrategyName, 3))

	report, err := orch.Run(context.Background())
	require.NoError(t, err)
	assert.Nil(t, report.Reputation)
	assert.Equal(t, 1, report.CacheEntries)
}

func TestPrototypeNeedsPrototypeClients(t *testing.T) {
	clients := []model.IFlClient{&fixedClient{id: 0, weights: []float64{0}, trained: []float64{0}}}

	_, err := NewFlOrchestrator(clients, testConfiguration(flconfig.ProtoReput_StrategyName, 1), nil, hclog.NewNullLogger())
	assert.ErrorIs(t, err, common.ErrUnsupportedClient)
}

func TestInvalidConfigurationIsRejected(t *testing.T) {
	config := testConfiguration(flconfig.FedAvg_StrategyName, 0)

	_, err := NewFlOrchestrator(population(t), config, nil, hclog.NewNullLogger())
	assert.ErrorIs(t, err, common.ErrInvalidConfiguration)

	_, err = NewFlOrchestrator(nil, testConfiguration(flconfig.FedAvg_StrategyName, 1), nil, hclog.NewNullLogger())
	assert.ErrorIs(t, err, common.ErrNoParticipants)
}

func TestParticipantFailureFailsTheRun(t *testing.T) {
	bus := events.NewEventBus()
	finished := make(chan events.Event, 1)
	bus.Subscribe(common.FL_FINISHED_EVENT_TYPE, finished)

	orch, err := NewFlOrchestrator(population(t, 5), testConfiguration(flconfig.FedAvg_StrategyName, 3), bus, hclog.NewNullLogger())
	require.NoError(t, err)
	recorder := &memoryRecorder{}
	orch.WithRecorder(recorder)

	report, err := orch.Run(context.Background())
	require.Error(t, err)
	assert.Nil(t, report)
	assert.ErrorIs(t, err, common.ErrParticipantFailure)
	assert.ErrorIs(t, err, sim.ErrSimulatedFailure)

	var participantErr *common.ParticipantError
	require.True(t, errors.As(err, &participantErr))
	assert.Equal(t, 5, participantErr.ClientId)
	assert.Equal(t, 1, participantErr.Round)

	assert.Equal(t, common.RUN_STATE_FAILED, orch.State())
	assert.Equal(t, []string{common.RUN_STATE_FAILED}, recorder.states)

	event := <-finished
	assert.Equal(t, int32(1), event.Data.(events.FlFinishedEvent).ExitCode)
}

func TestStopBeforeFirstRound(t *testing.T) {
	orch, recorder := newTestOrchestrator(t, population(t), testConfiguration(flconfig.Gcfl_StrategyName, 10))
	orch.Stop()

	report, err := orch.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, common.RUN_STATE_STOPPED, report.State)
	assert.Equal(t, "stop requested", report.StopReason)
	assert.Equal(t, 0, report.RoundsCompleted)
	assert.Len(t, report.Results, 8)
	assert.Empty(t, recorder.rounds)
}

// cancelingClient cancels the run once the shared evaluation count is reached.
type cancelingClient struct {
	model.IFlClient
	evaluations *atomic.Int32
	after       int32
	cancel      context.CancelFunc
}

func (c *cancelingClient) Evaluate() (float64, float64, error) {
	if c.evaluations.Add(1) == c.after {
		c.cancel()
	}
	return c.IFlClient.Evaluate()
}

func TestCancelledContextStopsBetweenRounds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	evaluations := &atomic.Int32{}
	clients := population(t)
	for i, client := range clients {
		// initial evaluation plus the one after round 1
		clients[i] = &cancelingClient{IFlClient: client, evaluations: evaluations, after: 16, cancel: cancel}
	}
	orch, recorder := newTestOrchestrator(t, clients, testConfiguration(flconfig.FedAvg_StrategyName, 10))

	report, err := orch.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, common.RUN_STATE_STOPPED, report.State)
	assert.Equal(t, 1, report.RoundsCompleted)
	assert.Contains(t, report.StopReason, "context canceled")
	assert.Len(t, recorder.rounds, 1)
	assert.Equal(t, []string{common.RUN_STATE_STOPPED}, recorder.states)
}

func TestSelfTrainReportsOwnModels(t *testing.T) {
	orch, _ := newTestOrchestrator(t, population(t), testConfiguration(flconfig.SelfTrain_StrategyName, 5))

	report, err := orch.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 8, report.CacheEntries)
	assert.Equal(t, 1, report.RoundsCompleted)
	for _, entry := range orch.modelCache.Entries() {
		assert.Len(t, entry.Members, 1)
	}
}

func TestBudgetStopsTheRun(t *testing.T) {
	config := testConfiguration(flconfig.FedAvg_StrategyName, 10)
	config.Cost.CostType = cost.TotalBudget_CostType
	config.Cost.ModelSize = 1
	config.Cost.Budget = 40
	orch, _ := newTestOrchestrator(t, population(t), config)

	report, err := orch.Run(context.Background())
	require.NoError(t, err)

	// 8 clients upload and download one model per round
	assert.Equal(t, 3, report.RoundsCompleted)
	assert.Equal(t, "budget exceeded", report.StopReason)
	assert.InDelta(t, 48.0, report.TotalCost, 1e-9)
}

func TestResultsFilesAreWritten(t *testing.T) {
	config := testConfiguration(flconfig.Gcfl_StrategyName, 10)
	config.ResultsDir = t.TempDir()
	orch, _ := newTestOrchestrator(t, population(t), config)

	_, err := orch.Run(context.Background())
	require.NoError(t, err)

	results, err := os.ReadFile(filepath.Join(config.ResultsDir, "results_"+orch.RunId()+".csv"))
	require.NoError(t, err)
	assert.Contains(t, string(results), "Round,Accuracy,Loss,Cost")

	report, err := os.ReadFile(filepath.Join(config.ResultsDir, "report_"+orch.RunId()+".csv"))
	require.NoError(t, err)
	assert.Contains(t, string(report), "Client,FL Model,Model 0,Model 1,Model 2")
}

func TestRunIsPersisted(t *testing.T) {
	runStore, err := store.NewRunStore(":memory:", hclog.NewNullLogger())
	require.NoError(t, err)
	defer runStore.Close()

	orch, err := NewFlOrchestrator(population(t), testConfiguration(flconfig.Gcfl_StrategyName, 10), nil, hclog.NewNullLogger())
	require.NoError(t, err)
	orch.WithRunId("gcfl-run").WithRecorder(runStore)

	_, err = orch.Run(context.Background())
	require.NoError(t, err)

	ctx := context.Background()
	state, err := runStore.RunState(ctx, "gcfl-run")
	require.NoError(t, err)
	assert.Equal(t, common.RUN_STATE_DONE, state)

	rounds, err := runStore.Rounds(ctx, "gcfl-run")
	require.NoError(t, err)
	assert.Len(t, rounds, 10)

	splits, err := runStore.Splits(ctx, "gcfl-run")
	require.NoError(t, err)
	assert.Len(t, splits, 1)

	results, err := runStore.Results(ctx, "gcfl-run")
	require.NoError(t, err)
	assert.Len(t, results, 8)
}

func TestHasConverged(t *testing.T) {
	assert.False(t, hasConverged([]float64{0.1, 0.2}, 0.001, 5, 3))
	assert.False(t, hasConverged([]float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9}, 0.001, 5, 3))
	flat := []float64{0.1, 0.5, 0.8, 0.9, 0.9, 0.9, 0.9, 0.9, 0.9, 0.9, 0.9}
	assert.True(t, hasConverged(flat, 0.001, 5, 3))
	assert.Equal(t, []float64{2, 4}, movingAverage([]float64{1, 3, 5}, 2))
}
