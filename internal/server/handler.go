package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/hashicorp/go-hclog"

	"github.com/AIoTwin-Adaptive-FL-Orch/gcfl-orchestrator/internal/common"
	"github.com/AIoTwin-Adaptive-FL-Orch/gcfl-orchestrator/internal/events"
	"github.com/AIoTwin-Adaptive-FL-Orch/gcfl-orchestrator/internal/flclient/sim"
	"github.com/AIoTwin-Adaptive-FL-Orch/gcfl-orchestrator/internal/florch"
	"github.com/AIoTwin-Adaptive-FL-Orch/gcfl-orchestrator/internal/metrics"
)

// DefaultRunRetention is how long a finished run stays queryable.
const DefaultRunRetention = time.Hour

// flRun is one orchestrator running in the background. finishedAt, report
// and err are written before done is closed.
type flRun struct {
	orch   *florch.FlOrchestrator
	cancel context.CancelFunc
	done   chan struct{}

	finishedAt time.Time
	report     *florch.Report
	err        error
}

type Handler struct {
	logger    hclog.Logger
	eventBus  *events.EventBus
	metrics   *metrics.FlMetrics
	recorder  florch.IRunRecorder
	retention time.Duration

	mu   sync.Mutex
	runs map[string]*flRun
}

func NewHandler(logger hclog.Logger, eventBus *events.EventBus, flMetrics *metrics.FlMetrics, recorder florch.IRunRecorder) *Handler {
	return &Handler{
		logger:    logger,
		eventBus:  eventBus,
		metrics:   flMetrics,
		recorder:  recorder,
		retention: DefaultRunRetention,
		runs:      map[string]*flRun{},
	}
}

func (handler *Handler) WithRetention(retention time.Duration) *Handler {
	handler.retention = retention
	return handler
}

func (handler *Handler) StartFl(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Add("Content-Type", "application/json")

	request := newStartFlRequest()
	if err := fromJSON(request, r.Body); err != nil {
		handler.logger.Error("error starting FL", "error", err)
		writeError(rw, http.StatusBadRequest, fmt.Sprintf("invalid request: %s", err))
		return
	}

	profiles, err := sim.GroupedProfiles(request.Population, request.Seed)
	if err != nil {
		writeError(rw, http.StatusBadRequest, err.Error())
		return
	}
	clients, err := sim.NewPopulation(profiles, request.Seed)
	if err != nil {
		writeError(rw, http.StatusBadRequest, err.Error())
		return
	}

	configuration := request.Configuration
	flOrchestrator, err := florch.NewFlOrchestrator(sim.AsFlClients(clients), &configuration, handler.eventBus, handler.logger)
	if err != nil {
		handler.logger.Error("error starting FL", "error", err)
		writeError(rw, http.StatusBadRequest, err.Error())
		return
	}

	runId := uuid.New().String()
	flOrchestrator.WithRunId(runId).WithMetrics(handler.metrics)
	if handler.recorder != nil {
		flOrchestrator.WithRecorder(handler.recorder)
	}

	handler.logger.Info(fmt.Sprintf("Starting FL with strategy %s and %d clients", configuration.Strategy, len(clients)),
		"run", runId, "rounds", configuration.Rounds)

	handler.start(runId, flOrchestrator)

	rw.WriteHeader(http.StatusOK)
	toJSON(StartFlResponse{RunId: runId}, rw)
}

func (handler *Handler) start(runId string, flOrchestrator *florch.FlOrchestrator) {
	ctx, cancel := context.WithCancel(context.Background())
	run := &flRun{orch: flOrchestrator, cancel: cancel, done: make(chan struct{})}

	handler.mu.Lock()
	handler.runs[runId] = run
	handler.mu.Unlock()

	go func() {
		defer close(run.done)
		defer cancel()
		run.report, run.err = flOrchestrator.Run(ctx)
		run.finishedAt = time.Now()
	}()
}

func (handler *Handler) StopFl(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Add("Content-Type", "application/json")

	runId := getURLParameter(r, "runId")

	handler.logger.Info(fmt.Sprintf("Stopping FL with run ID: %s", runId))

	run := handler.getRun(runId)
	if run == nil {
		writeError(rw, http.StatusNotFound, "no run with the given ID")
		return
	}

	run.orch.Stop()
	rw.WriteHeader(http.StatusOK)
	toJSON(run.orch.Status(), rw)
}

func (handler *Handler) GetStatus(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Add("Content-Type", "application/json")

	run := handler.getRun(getURLParameter(r, "runId"))
	if run == nil {
		writeError(rw, http.StatusNotFound, "no run with the given ID")
		return
	}

	rw.WriteHeader(http.StatusOK)
	toJSON(run.orch.Status(), rw)
}

func (handler *Handler) GetReport(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Add("Content-Type", "application/json")

	run := handler.getRun(getURLParameter(r, "runId"))
	if run == nil {
		writeError(rw, http.StatusNotFound, "no run with the given ID")
		return
	}

	select {
	case <-run.done:
	default:
		writeError(rw, http.StatusConflict, fmt.Sprintf("run is in state %s", run.orch.State()))
		return
	}

	if run.err != nil {
		status := http.StatusInternalServerError
		if errors.Is(run.err, common.ErrParticipantFailure) {
			status = http.StatusBadGateway
		}
		writeError(rw, status, run.err.Error())
		return
	}

	rw.WriteHeader(http.StatusOK)
	toJSON(run.report, rw)
}

// ActiveStatuses returns the status of every run that has not finished yet,
// ordered by run id.
func (handler *Handler) ActiveStatuses() []florch.Status {
	handler.mu.Lock()
	defer handler.mu.Unlock()

	statuses := []florch.Status{}
	for _, run := range handler.runs {
		select {
		case <-run.done:
		default:
			statuses = append(statuses, run.orch.Status())
		}
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].RunId < statuses[j].RunId })
	return statuses
}

// PruneFinished forgets runs that finished longer than the retention ago
// and returns how many were removed.
func (handler *Handler) PruneFinished(now time.Time) int {
	handler.mu.Lock()
	defer handler.mu.Unlock()

	pruned := 0
	for runId, run := range handler.runs {
		select {
		case <-run.done:
		default:
			continue
		}
		if now.Sub(run.finishedAt) >= handler.retention {
			delete(handler.runs, runId)
			pruned++
		}
	}
	if pruned > 0 {
		handler.logger.Debug("Pruned finished runs", "count", pruned, "remaining", len(handler.runs))
	}
	return pruned
}

// Shutdown cancels every run and waits until all of them returned.
func (handler *Handler) Shutdown() {
	handler.mu.Lock()
	runs := make([]*flRun, 0, len(handler.runs))
	for _, run := range handler.runs {
		runs = append(runs, run)
	}
	handler.mu.Unlock()

	for _, run := range runs {
		run.orch.Stop()
		run.cancel()
	}
	for _, run := range runs {
		<-run.done
	}
}

func (handler *Handler) getRun(runId string) *flRun {
	handler.mu.Lock()
	defer handler.mu.Unlock()
	return handler.runs[runId]
}

func writeError(rw http.ResponseWriter, status int, message string) {
	rw.WriteHeader(status)
	toJSON(ErrorResponse{Message: message}, rw)
}

func getURLParameter(r *http.Request, parameter string) string {
	vars := mux.Vars(r)
	id := vars[parameter]
	return id
}
