package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/AIoTwin-Adaptive-FL-Orch/gcfl-orchestrator/internal/common"
	"github.com/AIoTwin-Adaptive-FL-Orch/gcfl-orchestrator/internal/events"
	"github.com/AIoTwin-Adaptive-FL-Orch/gcfl-orchestrator/internal/flclient/sim"
	"github.com/AIoTwin-Adaptive-FL-Orch/gcfl-orchestrator/internal/florch"
	"github.com/AIoTwin-Adaptive-FL-Orch/gcfl-orchestrator/internal/florch/flconfig"
	"github.com/AIoTwin-Adaptive-FL-Orch/gcfl-orchestrator/internal/store"
)

type options struct {
	configPath     string
	populationPath string
	strategy       string
	rounds         int
	resultsDir     string
	dbPath         string
	seed           int64
	logLevel       string
}

func main() {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:   "fl-orch-sim",
		Short: "Run one federated learning experiment over simulated clients",
		Long: `Runs a strategy against an in-process population whose clients are
grouped around distinct targets, and prints the final report as JSON.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts)
		},
	}

	flags := rootCmd.Flags()
	flags.StringVar(&opts.configPath, "config", "", "YAML run configuration")
	flags.StringVar(&opts.populationPath, "population", "", "YAML population description")
	flags.StringVar(&opts.strategy, "strategy", "", fmt.Sprintf("override the strategy, one of %v", flconfig.StrategyNames()))
	flags.IntVar(&opts.rounds, "rounds", 0, "override the number of rounds")
	flags.StringVar(&opts.resultsDir, "out", common.RESULTS_DIRECTORY, "directory for CSV results")
	flags.StringVar(&opts.dbPath, "db", "", "SQLite database to record the run in")
	flags.Int64Var(&opts.seed, "seed", 1, "population seed")
	flags.StringVar(&opts.logLevel, "log-level", "INFO", "log level")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, opts *options) error {
	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "fl-orch",
		Level: hclog.LevelFromString(opts.logLevel),
	})

	configuration := flconfig.Default()
	if opts.configPath != "" {
		loaded, err := flconfig.LoadFromFile(opts.configPath)
		if err != nil {
			return err
		}
		configuration = loaded
	}
	if opts.strategy != "" {
		configuration.Strategy = opts.strategy
	}
	if opts.rounds > 0 {
		configuration.Rounds = opts.rounds
	}
	configuration.ResultsDir = opts.resultsDir

	population, err := loadPopulation(opts.populationPath)
	if err != nil {
		return err
	}
	profiles, err := sim.GroupedProfiles(population, opts.seed)
	if err != nil {
		return err
	}
	clients, err := sim.NewPopulation(profiles, opts.seed)
	if err != nil {
		return err
	}

	flOrchestrator, err := florch.NewFlOrchestrator(sim.AsFlClients(clients), configuration, events.NewEventBus(), logger)
	if err != nil {
		return err
	}

	if opts.dbPath != "" {
		runStore, err := store.NewRunStore(opts.dbPath, logger)
		if err != nil {
			return err
		}
		defer runStore.Close()
		flOrchestrator.WithRecorder(runStore)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := flOrchestrator.Run(ctx)
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(report)
}

func loadPopulation(path string) (sim.PopulationConfig, error) {
	population := sim.DefaultPopulationConfig()
	if path == "" {
		return population, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return population, fmt.Errorf("failed to read population %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &population); err != nil {
		return population, fmt.Errorf("failed to parse population %s: %w", path, err)
	}
	return population, nil
}
