package flconfig

import (
	"github.com/AIoTwin-Adaptive-FL-Orch/gcfl-orchestrator/internal/common"
	"github.com/AIoTwin-Adaptive-FL-Orch/gcfl-orchestrator/internal/florch/cost"
)

const SelfTrain_StrategyName = "selftrain"
const FedAvg_StrategyName = "fedavg"
const FedProx_StrategyName = "fedprox"
const Gcfl_StrategyName = "gcfl"
const GcflPlus_StrategyName = "gcflplus"
const GcflPlusDWs_StrategyName = "gcflplus_dws"
const Prototype_StrategyName = "prototype"
const ProtoReput_StrategyName = "protoreput"
const ProtoReput2_StrategyName = "protoreput2"

const StoerWagner_CutAlgorithm = "stoer_wagner"
const Spectral_CutAlgorithm = "spectral"

const Uniform_Weighting = "uniform"
const Samples_Weighting = "samples"

type ReputationConfiguration struct {
	// Retain is the EMA weight kept from the previous reputation.
	Retain float64 `json:"retain" yaml:"retain"`
	// Floor is the minimum reputation before renormalisation.
	Floor float64 `json:"floor" yaml:"floor"`
}

type FlConfiguration struct {
	Strategy          string                  `json:"strategy" yaml:"strategy"`
	Rounds            int                     `json:"rounds" yaml:"rounds"`
	LocalEpochs       int                     `json:"localEpochs" yaml:"local_epochs"`
	Mu                float64                 `json:"mu" yaml:"mu"`
	Fraction          float64                 `json:"fraction" yaml:"fraction"`
	Eps1              float64                 `json:"eps1" yaml:"eps1"`
	Eps2              float64                 `json:"eps2" yaml:"eps2"`
	SeqLength         int                     `json:"seqLength" yaml:"seq_length"`
	Standardize       bool                    `json:"standardize" yaml:"standardize"`
	WarmupRounds      int                     `json:"warmupRounds" yaml:"warmup_rounds"`
	CutAlgorithm      string                  `json:"cutAlgorithm" yaml:"cut_algorithm"`
	Weighting         string                  `json:"weighting" yaml:"weighting"`
	Reputation        ReputationConfiguration `json:"reputation" yaml:"reputation"`
	Parallelism       int                     `json:"parallelism" yaml:"parallelism"`
	Seed              int64                   `json:"seed" yaml:"seed"`
	StopOnConvergence bool                    `json:"stopOnConvergence" yaml:"stop_on_convergence"`
	Cost              cost.CostConfiguration  `json:"cost" yaml:"cost"`
	ResultsDir        string                  `json:"resultsDir" yaml:"results_dir"`
}

// Default returns a FedAvg configuration with every threshold at its
// documented default.
func Default() *FlConfiguration {
	return &FlConfiguration{
		Strategy:     FedAvg_StrategyName,
		Rounds:       common.DEFAULT_ROUNDS,
		LocalEpochs:  common.DEFAULT_LOCAL_EPOCHS,
		Mu:           common.DEFAULT_MU,
		Fraction:     common.DEFAULT_FRACTION,
		Eps1:         common.DEFAULT_EPS_1,
		Eps2:         common.DEFAULT_EPS_2,
		SeqLength:    common.DEFAULT_SEQ_LENGTH,
		WarmupRounds: common.DEFAULT_WARMUP_ROUNDS,
		CutAlgorithm: StoerWagner_CutAlgorithm,
		Weighting:    Uniform_Weighting,
		Reputation: ReputationConfiguration{
			Retain: common.DEFAULT_REPUTATION_RETAIN,
			Floor:  common.DEFAULT_REPUTATION_FLOOR,
		},
		Parallelism: 1,
		Seed:        1,
	}
}
