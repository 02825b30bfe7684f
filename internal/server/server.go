package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
)

// NewRouter wires the FL control endpoints and the metrics endpoint.
func NewRouter(handler *Handler, gatherer prometheus.Gatherer) *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/fl/start", handler.StartFl).Methods(http.MethodPost)
	router.HandleFunc("/fl/stop/{runId}", handler.StopFl).Methods(http.MethodPost)
	router.HandleFunc("/fl/status/{runId}", handler.GetStatus).Methods(http.MethodGet)
	router.HandleFunc("/fl/report/{runId}", handler.GetReport).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	return router
}

// StatusReporter periodically logs the progress of every active run and
// forgets finished runs past their retention.
type StatusReporter struct {
	logger        hclog.Logger
	handler       *Handler
	cronScheduler *cron.Cron
}

func NewStatusReporter(logger hclog.Logger, handler *Handler) *StatusReporter {
	return &StatusReporter{
		logger:        logger.Named("status"),
		handler:       handler,
		cronScheduler: cron.New(cron.WithSeconds()),
	}
}

// Start schedules the report, e.g. "@every 30s".
func (reporter *StatusReporter) Start(spec string) error {
	if _, err := reporter.cronScheduler.AddFunc(spec, reporter.report); err != nil {
		return fmt.Errorf("invalid status schedule %q: %w", spec, err)
	}
	reporter.cronScheduler.Start()
	return nil
}

// Stop halts the schedule and waits for a running report to finish.
func (reporter *StatusReporter) Stop() {
	<-reporter.cronScheduler.Stop().Done()
}

func (reporter *StatusReporter) report() {
	reporter.handler.PruneFinished(time.Now())
	for _, status := range reporter.handler.ActiveStatuses() {
		reporter.logger.Info(fmt.Sprintf("Run %s at round %d/%d", status.RunId, status.Round, status.Rounds),
			"strategy", status.Strategy, "state", status.State, "clusters", status.Clusters,
			"accuracy", status.MeanAccuracy, "cost", status.Cost)
	}
}

func StartHttpServer(logger hclog.Logger, defaultRouter http.Handler, port int, onShutdown func()) {
	// create a new server
	server := &http.Server{
		Addr:     fmt.Sprintf(":%d", port),                              // configure the bind address
		Handler:  defaultRouter,                                         // set the default handler
		ErrorLog: logger.StandardLogger(&hclog.StandardLoggerOptions{}), // set the logger for the server
	}

	// start the server
	go func() {
		logger.Info(fmt.Sprintf("Starting server on port: %d", port))

		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Error starting server", "error", err)
			os.Exit(1)
		}
	}()

	// trap sigterm or interupt and gracefully shutdown the server
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	signal.Notify(c, syscall.SIGTERM)

	// Block until a signal is received.
	sig := <-c
	logger.Info("Got signal", "signal", sig)

	// gracefully shutdown the server, waiting max 30 seconds for current operations to complete
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Error shutting down server", "error", err)
	}
	if onShutdown != nil {
		onShutdown()
	}
}
