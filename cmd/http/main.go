package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/AIoTwin-Adaptive-FL-Orch/gcfl-orchestrator/internal/events"
	"github.com/AIoTwin-Adaptive-FL-Orch/gcfl-orchestrator/internal/metrics"
	"github.com/AIoTwin-Adaptive-FL-Orch/gcfl-orchestrator/internal/server"
	"github.com/AIoTwin-Adaptive-FL-Orch/gcfl-orchestrator/internal/store"
)

func main() {
	var (
		port           int
		dbPath         string
		logLevel       string
		statusSchedule string
		retention      time.Duration
	)

	rootCmd := &cobra.Command{
		Use:   "fl-orch-http",
		Short: "HTTP control plane for clustered federated learning runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(port, dbPath, logLevel, statusSchedule, retention)
		},
	}
	rootCmd.Flags().IntVar(&port, "port", 8080, "listen port")
	rootCmd.Flags().StringVar(&dbPath, "db", "data/runs.db", "SQLite database for run history")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "DEBUG", "log level")
	rootCmd.Flags().StringVar(&statusSchedule, "status-every", "@every 30s", "schedule of the run status log")
	rootCmd.Flags().DurationVar(&retention, "retention", server.DefaultRunRetention, "how long finished runs stay queryable")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func serve(port int, dbPath string, logLevel string, statusSchedule string, retention time.Duration) error {
	_ = os.Mkdir("log", 0777)
	logFile, err := os.OpenFile("log/run.log", os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0777)
	if err != nil {
		return err
	}
	defer logFile.Close()

	logger := hclog.New(&hclog.LoggerOptions{
		Name:   "fl-orch",
		Level:  hclog.LevelFromString(logLevel),
		Output: io.MultiWriter(os.Stdout, logFile),
	})

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return err
	}
	runStore, err := store.NewRunStore(dbPath, logger)
	if err != nil {
		return err
	}
	defer runStore.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	flMetrics, err := metrics.NewFlMetrics(registry)
	if err != nil {
		return err
	}

	eventBus := events.NewEventBus()
	handler := server.NewHandler(logger, eventBus, flMetrics, runStore).WithRetention(retention)

	reporter := server.NewStatusReporter(logger, handler)
	if err := reporter.Start(statusSchedule); err != nil {
		return err
	}
	defer reporter.Stop()

	server.StartHttpServer(logger, server.NewRouter(handler, registry), port, handler.Shutdown)
	return nil
}
