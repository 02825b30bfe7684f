package flconfig

import (
	"errors"
	"fmt"

	"github.com/AIoTwin-Adaptive-FL-Orch/gcfl-orchestrator/internal/common"
	"github.com/AIoTwin-Adaptive-FL-Orch/gcfl-orchestrator/internal/florch/cost"
)

// Validate checks every field and returns all violations joined. Settings
// that are legal but make splitting trivially impossible are reported by
// Warnings instead.
func (config *FlConfiguration) Validate() error {
	errs := []error{}
	invalid := func(field string, format string, args ...interface{}) {
		errs = append(errs, &common.ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)})
	}

	if _, err := ProfileFor(config.Strategy); err != nil {
		invalid("strategy", "unknown strategy %q", config.Strategy)
	}
	if config.Rounds < 1 {
		invalid("rounds", "must be at least 1, got %d", config.Rounds)
	}
	if config.LocalEpochs < 1 {
		invalid("local_epochs", "must be at least 1, got %d", config.LocalEpochs)
	}
	if config.Fraction <= 0 || config.Fraction > 1 {
		invalid("fraction", "must be in (0, 1], got %v", config.Fraction)
	}
	if config.Mu < 0 {
		invalid("mu", "must be nonnegative, got %v", config.Mu)
	}
	if config.SeqLength <= 0 {
		invalid("seq_length", "must be positive, got %d", config.SeqLength)
	}
	if config.Eps1 < 0 || config.Eps2 < 0 {
		invalid("eps1/eps2", "thresholds must be nonnegative")
	}
	if config.WarmupRounds < 0 {
		invalid("warmup_rounds", "must be nonnegative, got %d", config.WarmupRounds)
	}
	if config.CutAlgorithm != StoerWagner_CutAlgorithm && config.CutAlgorithm != Spectral_CutAlgorithm {
		invalid("cut_algorithm", "unknown algorithm %q", config.CutAlgorithm)
	}
	if config.Weighting != Uniform_Weighting && config.Weighting != Samples_Weighting {
		invalid("weighting", "unknown weighting %q", config.Weighting)
	}
	if config.Reputation.Retain < 0 || config.Reputation.Retain > 1 {
		invalid("reputation.retain", "must be in [0, 1], got %v", config.Reputation.Retain)
	}
	if config.Reputation.Floor <= 0 || config.Reputation.Floor >= 1 {
		invalid("reputation.floor", "must be in (0, 1), got %v", config.Reputation.Floor)
	}
	if config.Parallelism < 1 {
		invalid("parallelism", "must be at least 1, got %d", config.Parallelism)
	}
	switch config.Cost.CostType {
	case cost.None_CostType:
	case cost.TotalBudget_CostType:
		if config.Cost.Budget <= 0 {
			invalid("cost.budget", "must be positive for %s", config.Cost.CostType)
		}
	case cost.CostMinimization_CostType:
		if config.Cost.TargetAccuracy <= 0 || config.Cost.TargetAccuracy > 1 {
			invalid("cost.target_accuracy", "must be in (0, 1], got %v", config.Cost.TargetAccuracy)
		}
	default:
		invalid("cost.cost_type", "unknown cost type %q", config.Cost.CostType)
	}

	return errors.Join(errs...)
}

// Warnings lists settings that are valid but suspicious.
func (config *FlConfiguration) Warnings() []string {
	warnings := []string{}
	profile, err := ProfileFor(config.Strategy)
	if err == nil && profile.Clustered && config.Eps1 >= config.Eps2 {
		warnings = append(warnings, fmt.Sprintf("eps1 (%v) >= eps2 (%v): split condition is degenerate", config.Eps1, config.Eps2))
	}
	if err == nil && (profile.Clustered || profile.Prototype) && config.Fraction < 1 {
		warnings = append(warnings, fmt.Sprintf("%s always uses full participation; fraction is ignored", profile.Name))
	}
	return warnings
}
