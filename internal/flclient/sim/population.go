package sim

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/AIoTwin-Adaptive-FL-Orch/gcfl-orchestrator/internal/common"
	"github.com/AIoTwin-Adaptive-FL-Orch/gcfl-orchestrator/internal/model"
)

// PopulationConfig generates clients in groups whose targets lie on a
// circle, so that groups pull the shared model in different directions.
type PopulationConfig struct {
	Groups          int     `json:"groups" yaml:"groups"`
	ClientsPerGroup int     `json:"clientsPerGroup" yaml:"clients_per_group"`
	Dim             int     `json:"dim" yaml:"dim"`
	Spread          float64 `json:"spread" yaml:"spread"`
	Jitter          float64 `json:"jitter" yaml:"jitter"`
	LearningRate    float64 `json:"learningRate" yaml:"learning_rate"`
	Noise           float64 `json:"noise" yaml:"noise"`
	TrainSize       int     `json:"trainSize" yaml:"train_size"`
}

func DefaultPopulationConfig() PopulationConfig {
	return PopulationConfig{
		Groups:          2,
		ClientsPerGroup: 4,
		Dim:             4,
		Spread:          10,
		Jitter:          0.05,
		LearningRate:    0.5,
		TrainSize:       100,
	}
}

// GroupedProfiles returns ClientsPerGroup profiles per group, ordered by
// group.
func GroupedProfiles(config PopulationConfig, seed int64) ([]model.ClientProfile, error) {
	if config.Groups < 1 || config.ClientsPerGroup < 1 {
		return nil, &common.ConfigurationError{Field: "population", Reason: "needs at least one group with one client"}
	}
	if config.Dim < 2 {
		return nil, &common.ConfigurationError{Field: "population.dim", Reason: fmt.Sprintf("must be at least 2, got %d", config.Dim)}
	}

	rng := rand.New(rand.NewSource(seed))
	profiles := make([]model.ClientProfile, 0, config.Groups*config.ClientsPerGroup)
	for g := 0; g < config.Groups; g++ {
		angle := 2 * math.Pi * float64(g) / float64(config.Groups)
		for c := 0; c < config.ClientsPerGroup; c++ {
			target := make([]float64, config.Dim)
			target[0] = config.Spread * math.Cos(angle)
			target[1] = config.Spread * math.Sin(angle)
			for k := range target {
				target[k] += rng.NormFloat64() * config.Jitter * config.Spread
			}
			profiles = append(profiles, model.ClientProfile{
				Name:         fmt.Sprintf("g%d-c%d", g, c),
				Target:       target,
				TrainSize:    config.TrainSize,
				LearningRate: config.LearningRate,
				Noise:        config.Noise,
			})
		}
	}
	return profiles, nil
}

// NewPopulation creates one client per profile, all starting from the zero
// model.
func NewPopulation(profiles []model.ClientProfile, seed int64) ([]*SimClient, error) {
	if len(profiles) == 0 {
		return nil, fmt.Errorf("%w: empty population", common.ErrNoParticipants)
	}

	dim := len(profiles[0].Target)
	clients := make([]*SimClient, len(profiles))
	for i, profile := range profiles {
		client, err := NewSimClient(i, profile, make([]float64, dim), seed)
		if err != nil {
			return nil, err
		}
		clients[i] = client
	}
	return clients, nil
}

func AsFlClients(clients []*SimClient) []model.IFlClient {
	out := make([]model.IFlClient, len(clients))
	for i, c := range clients {
		out[i] = c
	}
	return out
}
