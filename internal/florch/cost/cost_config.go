package cost

type CostConfiguration struct {
	CostType       string     `json:"costType" yaml:"cost_type"`
	CostSource     CostSource `json:"costSource" yaml:"cost_source"`
	Budget         float64    `json:"budget" yaml:"budget"`
	TargetAccuracy float64    `json:"targetAccuracy" yaml:"target_accuracy"`
	// ModelSize is the transfer size of one parameter vector (MB).
	ModelSize float64 `json:"modelSize" yaml:"model_size"`
	// EpochEnergy is the energy one client spends per local epoch.
	EpochEnergy float64 `json:"epochEnergy" yaml:"epoch_energy"`
}

const None_CostType = ""
const TotalBudget_CostType = "totalBudget"
const CostMinimization_CostType = "costMin"
