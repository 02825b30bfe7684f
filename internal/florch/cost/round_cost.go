package cost

// GetGlobalRoundCost returns the cost of one communication round in which
// participants clients upload an update and download an aggregate.
func GetGlobalRoundCost(config *CostConfiguration, participants int, epochs int) float64 {
	if config == nil {
		return 0
	}

	if config.CostSource == ENERGY {
		return float64(participants) * float64(epochs) * config.EpochEnergy
	}

	// one upload and one download per participant
	return 2 * float64(participants) * config.ModelSize
}

// BudgetExceeded reports whether a total-budget run has spent its budget.
func BudgetExceeded(config *CostConfiguration, currentCost float64) bool {
	if config == nil || config.CostType != TotalBudget_CostType {
		return false
	}
	return currentCost >= config.Budget
}

// TargetReached reports whether a cost-minimisation run reached its target.
func TargetReached(config *CostConfiguration, accuracy float64) bool {
	if config == nil || config.CostType != CostMinimization_CostType {
		return false
	}
	return accuracy >= config.TargetAccuracy
}
