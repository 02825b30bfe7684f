package model

import "github.com/AIoTwin-Adaptive-FL-Orch/gcfl-orchestrator/internal/common"

// ClientUpdate is the snapshot a client hands over after local computation.
// All slices are owned by the snapshot.
type ClientUpdate struct {
	ClientId   int
	Name       string
	Weights    []float64
	Delta      []float64
	GradNorms  []float64
	DeltaNorms []float64
	TrainSize  int
}

// Proposed returns Weights+Delta, the parameters a client would hold had the
// computed update been committed.
func (u ClientUpdate) Proposed() ([]float64, error) {
	if len(u.Delta) == 0 {
		return common.CopyVector(u.Weights), nil
	}
	return common.AddVectors(u.Weights, u.Delta)
}

type ClientResult struct {
	ClientId int     `json:"clientId"`
	Name     string  `json:"name"`
	TestAcc  float64 `json:"testAcc"`
	// ClusterId is the active cluster the client ended in.
	ClusterId int `json:"clusterId"`
}
