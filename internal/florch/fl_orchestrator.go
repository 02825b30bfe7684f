package florch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"

	"github.com/AIoTwin-Adaptive-FL-Orch/gcfl-orchestrator/internal/common"
	"github.com/AIoTwin-Adaptive-FL-Orch/gcfl-orchestrator/internal/events"
	"github.com/AIoTwin-Adaptive-FL-Orch/gcfl-orchestrator/internal/florch/cache"
	"github.com/AIoTwin-Adaptive-FL-Orch/gcfl-orchestrator/internal/florch/clustering"
	"github.com/AIoTwin-Adaptive-FL-Orch/gcfl-orchestrator/internal/florch/flconfig"
	"github.com/AIoTwin-Adaptive-FL-Orch/gcfl-orchestrator/internal/florch/reputation"
	"github.com/AIoTwin-Adaptive-FL-Orch/gcfl-orchestrator/internal/florch/sampling"
	"github.com/AIoTwin-Adaptive-FL-Orch/gcfl-orchestrator/internal/florch/similarity"
	"github.com/AIoTwin-Adaptive-FL-Orch/gcfl-orchestrator/internal/metrics"
	"github.com/AIoTwin-Adaptive-FL-Orch/gcfl-orchestrator/internal/model"
)

// IRunRecorder persists what a run produces. Recording failures are logged
// and do not stop the run.
type IRunRecorder interface {
	StartRun(ctx context.Context, runId string, strategy string, clients int) error
	SetRunState(ctx context.Context, runId string, state string, finished bool) error
	RecordRound(ctx context.Context, runId string, round events.RoundFinishedEvent) error
	RecordSplit(ctx context.Context, runId string, split events.ClusterSplitEvent) error
	RecordSequences(ctx context.Context, runId string, sequences map[int][][]float64) error
	RecordResults(ctx context.Context, runId string, results []model.ClientResult) error
}

// FlOrchestrator drives one experiment from INIT through the configured
// rounds to DONE. Rounds are sequential; the local computation of a round
// runs in parallel and is joined before any aggregation starts. All
// aggregation state is owned by the goroutine calling Run.
type FlOrchestrator struct {
	clients       []model.IFlClient
	protoClients  []model.IPrototypeClient
	configuration *flconfig.FlConfiguration
	profile       flconfig.StrategyProfile
	eventBus      *events.EventBus
	logger        hclog.Logger
	metrics       *metrics.FlMetrics
	recorder      IRunRecorder
	runId         string

	resultsFileName string

	sampler    *sampling.RandomSampler
	bisector   clustering.IBisector
	criteria   clustering.SplitCriteria
	partition  *clustering.Partition
	sequences  *similarity.SequenceLog
	reputation *reputation.Tracker
	modelCache *cache.ModelCache

	globalModel    []float64
	clusterModels  map[int][]float64
	prototype      []float64
	lastAccuracies []float64
	lastLosses     []float64

	mu            sync.RWMutex
	state         string
	progress      *FlProgress
	stopRequested atomic.Bool
}

func NewFlOrchestrator(clients []model.IFlClient, configuration *flconfig.FlConfiguration, eventBus *events.EventBus,
	logger hclog.Logger) (*FlOrchestrator, error) {
	if err := configuration.Validate(); err != nil {
		return nil, err
	}
	if len(clients) == 0 {
		return nil, fmt.Errorf("%w: no clients", common.ErrNoParticipants)
	}

	profile, err := flconfig.ProfileFor(configuration.Strategy)
	if err != nil {
		return nil, err
	}

	orch := &FlOrchestrator{
		clients:       clients,
		configuration: configuration,
		profile:       profile,
		eventBus:      eventBus,
		logger:        logger.Named("florch"),
		runId:         uuid.NewString(),
		sampler:       sampling.NewRandomSampler(configuration.Seed),
		partition:     clustering.NewPartition(len(clients)),
		modelCache:    cache.NewModelCache(len(clients)),
		clusterModels: make(map[int][]float64),
		state:         common.RUN_STATE_INIT,
		progress:      newFlProgress(),
	}

	switch configuration.Strategy {
	case flconfig.SelfTrain_StrategyName, flconfig.FedAvg_StrategyName, flconfig.FedProx_StrategyName:
	case flconfig.Gcfl_StrategyName, flconfig.GcflPlus_StrategyName, flconfig.GcflPlusDWs_StrategyName:
		orch.criteria = clustering.NewSplitCriteria(configuration.Eps1, configuration.Eps2, configuration.WarmupRounds)
		switch configuration.CutAlgorithm {
		case flconfig.Spectral_CutAlgorithm:
			orch.bisector = clustering.NewSpectral()
		default:
			orch.bisector = clustering.NewStoerWagner()
		}
		if profile.SequenceSource != flconfig.NoSequence {
			orch.sequences = similarity.NewSequenceLog(configuration.SeqLength)
		}
	case flconfig.Prototype_StrategyName, flconfig.ProtoReput_StrategyName, flconfig.ProtoReput2_StrategyName:
		orch.protoClients = make([]model.IPrototypeClient, len(clients))
		for i, client := range clients {
			protoClient, ok := client.(model.IPrototypeClient)
			if !ok {
				return nil, fmt.Errorf("%w: client %s has no prototype hooks", common.ErrUnsupportedClient, client.Name())
			}
			orch.protoClients[i] = protoClient
		}
		if profile.ReputationVariant > 0 {
			tracker, err := reputation.NewTracker(len(clients), configuration.Reputation.Retain, configuration.Reputation.Floor)
			if err != nil {
				return nil, err
			}
			orch.reputation = tracker
		}
	default:
		return nil, fmt.Errorf("invalid strategy: %s", configuration.Strategy)
	}

	for _, warning := range configuration.Warnings() {
		orch.logger.Warn(warning)
	}

	return orch, nil
}

func (orch *FlOrchestrator) WithRunId(runId string) *FlOrchestrator {
	orch.runId = runId
	return orch
}

func (orch *FlOrchestrator) WithMetrics(m *metrics.FlMetrics) *FlOrchestrator {
	orch.metrics = m
	return orch
}

func (orch *FlOrchestrator) WithRecorder(recorder IRunRecorder) *FlOrchestrator {
	orch.recorder = recorder
	return orch
}

func (orch *FlOrchestrator) RunId() string {
	return orch.runId
}

// Run executes the experiment. Stop or cancellation of ctx end it between
// rounds with a regular report.
func (orch *FlOrchestrator) Run(ctx context.Context) (*Report, error) {
	orch.metrics.RunStarted()
	defer orch.metrics.RunFinished()

	orch.logger.Info("Starting FL", "run", orch.runId, "strategy", orch.profile.Name,
		"clients", len(orch.clients), "rounds", orch.configuration.Rounds)
	if orch.recorder != nil {
		if err := orch.recorder.StartRun(ctx, orch.runId, orch.profile.Name, len(orch.clients)); err != nil {
			orch.logger.Error("Error while recording run start", "error", err)
		}
	}

	if err := orch.initialize(ctx); err != nil {
		return nil, orch.fail(ctx, fmt.Errorf("init: %w", err))
	}

	if !orch.profile.Aggregate {
		return orch.runSelfTrain(ctx)
	}

	stopReason := ""
	for round := 1; round <= orch.configuration.Rounds; round++ {
		if stopReason = orch.interruption(ctx); stopReason != "" {
			break
		}

		orch.setState(common.RUN_STATE_ROUND)
		start := time.Now()

		participants, err := orch.runRound(ctx, round)
		if err != nil {
			return nil, orch.fail(ctx, fmt.Errorf("round %d: %w", round, err))
		}

		if stopReason = orch.finishRound(ctx, round, participants, time.Since(start)); stopReason != "" {
			break
		}
	}

	return orch.finish(ctx, stopReason)
}

// Stop asks a running experiment to end after the current round.
func (orch *FlOrchestrator) Stop() {
	if orch.stopRequested.CompareAndSwap(false, true) {
		orch.logger.Info("Stop requested", "run", orch.runId)
	}
}

func (orch *FlOrchestrator) State() string {
	orch.mu.RLock()
	defer orch.mu.RUnlock()
	return orch.state
}

func (orch *FlOrchestrator) setState(state string) {
	orch.mu.Lock()
	orch.state = state
	orch.mu.Unlock()
}

func (orch *FlOrchestrator) interruption(ctx context.Context) string {
	if orch.stopRequested.Load() {
		return "stop requested"
	}
	if err := ctx.Err(); err != nil {
		return fmt.Sprintf("context: %s", err)
	}
	return ""
}

func (orch *FlOrchestrator) initialize(ctx context.Context) error {
	initial := orch.clients[0].Snapshot().Weights
	orch.globalModel = common.CopyVector(initial)
	orch.clusterModels[0] = common.CopyVector(initial)

	if orch.profile.Prototype {
		for _, client := range orch.protoClients {
			if err := client.MotifConstruction(); err != nil {
				return &common.ParticipantError{ClientId: client.Id(), Round: 0, Cause: err}
			}
		}
	} else {
		// every client starts from the same model
		for _, client := range orch.clients {
			if err := client.Download(common.CopyVector(initial)); err != nil {
				return &common.ParticipantError{ClientId: client.Id(), Round: 0, Cause: err}
			}
			if orch.profile.Proximal {
				client.CacheWeights()
			}
		}
	}

	if orch.configuration.ResultsDir != "" {
		fileName, err := getResultsFileName(orch.configuration.ResultsDir, orch.runId)
		if err != nil {
			orch.logger.Error("Error while preparing results file", "error", err)
		} else {
			orch.resultsFileName = fileName
		}
	}

	return orch.evaluateAll(ctx, 0)
}

func (orch *FlOrchestrator) runSelfTrain(ctx context.Context) (*Report, error) {
	orch.setState(common.RUN_STATE_ROUND)
	start := time.Now()

	all := common.Range(len(orch.clients))
	err := orch.forEachClient(ctx, 1, all, func(ctx context.Context, _ int, client model.IFlClient) error {
		return client.LocalTrain(ctx, orch.configuration.LocalEpochs)
	})
	if err == nil {
		err = orch.evaluateAll(ctx, 1)
	}
	if err != nil {
		return nil, orch.fail(ctx, fmt.Errorf("self training: %w", err))
	}

	orch.globalModel = nil
	orch.finishRound(ctx, 1, all, time.Since(start))
	return orch.finish(ctx, "")
}

// forEachClient runs step for every listed client with at most
// Parallelism steps in flight and returns after all of them finished.
func (orch *FlOrchestrator) forEachClient(ctx context.Context, round int, indices []int,
	step func(ctx context.Context, idx int, client model.IFlClient) error) error {
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(orch.configuration.Parallelism)

	for _, idx := range indices {
		client := orch.clients[idx]
		group.Go(func() error {
			if err := step(groupCtx, idx, client); err != nil {
				return &common.ParticipantError{ClientId: client.Id(), Round: round, Cause: err}
			}
			return nil
		})
	}

	return group.Wait()
}

// evaluateAll refreshes the loss and accuracy of every client.
func (orch *FlOrchestrator) evaluateAll(ctx context.Context, round int) error {
	n := len(orch.clients)
	losses := make([]float64, n)
	accuracies := make([]float64, n)

	err := orch.forEachClient(ctx, round, common.Range(n), func(_ context.Context, i int, client model.IFlClient) error {
		loss, acc, err := client.Evaluate()
		if err != nil {
			return err
		}
		losses[i] = loss
		accuracies[i] = acc
		return nil
	})
	if err != nil {
		return err
	}

	orch.lastLosses = losses
	orch.lastAccuracies = accuracies
	return nil
}

func (orch *FlOrchestrator) fail(ctx context.Context, err error) error {
	orch.setState(common.RUN_STATE_FAILED)
	orch.logger.Error("FL failed", "run", orch.runId, "error", err)

	if errors.Is(err, common.ErrParticipantFailure) {
		orch.metrics.ObserveParticipantFailure(orch.profile.Name)
	}
	if orch.recorder != nil {
		if recErr := orch.recorder.SetRunState(context.WithoutCancel(ctx), orch.runId, common.RUN_STATE_FAILED, true); recErr != nil {
			orch.logger.Error("Error while recording run state", "error", recErr)
		}
	}
	orch.publish(common.FL_FINISHED_EVENT_TYPE, events.FlFinishedEvent{ExitCode: 1, ExitMessage: err.Error()})

	return err
}

func (orch *FlOrchestrator) publish(eventType string, data interface{}) {
	if orch.eventBus == nil {
		return
	}
	orch.eventBus.Publish(events.Event{Type: eventType, RunId: orch.runId, Data: data})
}
