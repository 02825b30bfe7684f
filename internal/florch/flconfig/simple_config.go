package flconfig

import "fmt"

const NoSequence = ""
const GradientSequence = "grads"
const DeltaSequence = "deltas"

// StrategyProfile tells the orchestrator which round steps a strategy runs.
type StrategyProfile struct {
	Name string
	// Aggregate is false only for self-training.
	Aggregate bool
	Proximal  bool
	// Clustered strategies compute updates, evaluate splits and aggregate per cluster.
	Clustered      bool
	SequenceSource string
	Prototype      bool
	// ReputationVariant is 0 without reputation, 1 or 2 otherwise.
	ReputationVariant int
	// Sampled strategies honour the configured participation fraction.
	Sampled bool
}

var profiles = map[string]StrategyProfile{
	SelfTrain_StrategyName:   {Name: SelfTrain_StrategyName},
	FedAvg_StrategyName:      {Name: FedAvg_StrategyName, Aggregate: true, Sampled: true},
	FedProx_StrategyName:     {Name: FedProx_StrategyName, Aggregate: true, Proximal: true, Sampled: true},
	Gcfl_StrategyName:        {Name: Gcfl_StrategyName, Aggregate: true, Clustered: true},
	GcflPlus_StrategyName:    {Name: GcflPlus_StrategyName, Aggregate: true, Clustered: true, SequenceSource: GradientSequence},
	GcflPlusDWs_StrategyName: {Name: GcflPlusDWs_StrategyName, Aggregate: true, Clustered: true, SequenceSource: DeltaSequence},
	Prototype_StrategyName:   {Name: Prototype_StrategyName, Aggregate: true, Prototype: true},
	ProtoReput_StrategyName:  {Name: ProtoReput_StrategyName, Aggregate: true, Prototype: true, ReputationVariant: 1},
	ProtoReput2_StrategyName: {Name: ProtoReput2_StrategyName, Aggregate: true, Prototype: true, ReputationVariant: 2},
}

func ProfileFor(strategy string) (StrategyProfile, error) {
	profile, ok := profiles[strategy]
	if !ok {
		return StrategyProfile{}, fmt.Errorf("invalid strategy: %s", strategy)
	}
	return profile, nil
}

func StrategyNames() []string {
	return []string{SelfTrain_StrategyName, FedAvg_StrategyName, FedProx_StrategyName, Gcfl_StrategyName,
		GcflPlus_StrategyName, GcflPlusDWs_StrategyName, Prototype_StrategyName, ProtoReput_StrategyName,
		ProtoReput2_StrategyName}
}
