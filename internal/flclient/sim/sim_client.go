// Package sim provides deterministic in-process clients that train towards a
// private target vector. They implement both client capability interfaces and
// drive the CLI, the HTTP server and the orchestrator tests.
package sim

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"

	"gonum.org/v1/gonum/floats"

	"github.com/AIoTwin-Adaptive-FL-Orch/gcfl-orchestrator/internal/common"
	"github.com/AIoTwin-Adaptive-FL-Orch/gcfl-orchestrator/internal/florch/similarity"
	"github.com/AIoTwin-Adaptive-FL-Orch/gcfl-orchestrator/internal/model"
)

var ErrSimulatedFailure = errors.New("simulated client failure")

const prototypePull = 0.1

// SimClient minimizes 0.5*||W - target||^2 with noisy gradient steps. The
// parameter vector is split into two halves that play the role of layers
// when gradient and update norms are reported.
type SimClient struct {
	mu sync.Mutex

	id           int
	name         string
	target       []float64
	trainSize    int
	learningRate float64
	noise        float64
	fail         bool
	rng          *rand.Rand

	weights   []float64
	delta     []float64
	saved     []float64
	anchor    []float64
	gradNorms []float64

	motifReady      bool
	prototype       []float64
	globalPrototype []float64
}

func NewSimClient(id int, profile model.ClientProfile, initial []float64, seed int64) (*SimClient, error) {
	if len(profile.Target) != len(initial) {
		return nil, fmt.Errorf("%w: client %s target has %d values, model %d", common.ErrDimensionMismatch,
			profile.Name, len(profile.Target), len(initial))
	}
	if profile.LearningRate <= 0 {
		return nil, &common.ConfigurationError{Field: "learning_rate", Reason: fmt.Sprintf("client %s: must be positive", profile.Name)}
	}

	name := profile.Name
	if name == "" {
		name = fmt.Sprintf("client-%d", id)
	}

	return &SimClient{
		id:           id,
		name:         name,
		target:       common.CopyVector(profile.Target),
		trainSize:    profile.TrainSize,
		learningRate: profile.LearningRate,
		noise:        profile.Noise,
		fail:         profile.Fail,
		rng:          rand.New(rand.NewSource(seed + int64(id))),
		weights:      common.CopyVector(initial),
		anchor:       common.CopyVector(initial),
	}, nil
}

func (c *SimClient) Id() int {
	return c.id
}

func (c *SimClient) Name() string {
	return c.name
}

func (c *SimClient) Download(weights []float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(weights) != len(c.weights) {
		return fmt.Errorf("%w: download of %d values into %d", common.ErrDimensionMismatch, len(weights), len(c.weights))
	}
	c.weights = common.CopyVector(weights)
	return nil
}

func (c *SimClient) LocalTrain(ctx context.Context, epochs int) error {
	return c.train(ctx, epochs, 0)
}

func (c *SimClient) LocalTrainProx(ctx context.Context, epochs int, mu float64) error {
	return c.train(ctx, epochs, mu)
}

func (c *SimClient) CacheWeights() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.anchor = common.CopyVector(c.weights)
}

func (c *SimClient) ComputeWeightUpdate(ctx context.Context, epochs int) error {
	c.mu.Lock()
	c.saved = common.CopyVector(c.weights)
	c.mu.Unlock()

	return c.train(ctx, epochs, 0)
}

func (c *SimClient) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.saved == nil {
		return fmt.Errorf("client %d: reset without a computed update", c.id)
	}
	c.weights = c.saved
	c.saved = nil
	return nil
}

func (c *SimClient) Snapshot() model.ClientUpdate {
	c.mu.Lock()
	defer c.mu.Unlock()

	return model.ClientUpdate{
		ClientId:   c.id,
		Name:       c.name,
		Weights:    common.CopyVector(c.weights),
		Delta:      common.CopyVector(c.delta),
		GradNorms:  common.CopyVector(c.gradNorms),
		DeltaNorms: layerNorms(c.delta),
		TrainSize:  c.trainSize,
	}
}

// Evaluate returns the mean squared distance to the target and a bounded
// accuracy derived from it.
func (c *SimClient) Evaluate() (float64, float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	diff := make([]float64, len(c.weights))
	floats.SubTo(diff, c.weights, c.target)
	loss := floats.Dot(diff, diff) / float64(len(diff))
	return loss, 1 / (1 + loss), nil
}

func (c *SimClient) MotifConstruction() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.motifReady = true
	return nil
}

func (c *SimClient) PrototypeUpdate() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.motifReady {
		return fmt.Errorf("client %d: prototype update before motif construction", c.id)
	}
	c.prototype = common.CopyVector(c.weights)
	return nil
}

func (c *SimClient) Prototype() []float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return common.CopyVector(c.prototype)
}

func (c *SimClient) DownloadPrototype(prototype []float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(prototype) != len(c.weights) {
		return fmt.Errorf("%w: prototype of %d values for model of %d", common.ErrDimensionMismatch, len(prototype), len(c.weights))
	}
	c.globalPrototype = common.CopyVector(prototype)
	return nil
}

// PrototypeTrain takes one step towards the target regularized towards the
// downloaded global prototype, then refreshes the local prototype.
func (c *SimClient) PrototypeTrain(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.fail {
		return ErrSimulatedFailure
	}
	if c.globalPrototype == nil {
		return fmt.Errorf("client %d: prototype training without a global prototype", c.id)
	}

	before := common.CopyVector(c.weights)
	gradient := c.gradient()
	for i := range gradient {
		gradient[i] += prototypePull * (c.weights[i] - c.globalPrototype[i])
	}
	floats.AddScaled(c.weights, -c.learningRate, gradient)

	c.delta = make([]float64, len(c.weights))
	floats.SubTo(c.delta, c.weights, before)
	c.gradNorms = layerNorms(gradient)
	c.prototype = common.CopyVector(c.weights)
	return nil
}

func (c *SimClient) CosineSimilar(prototype []float64) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return similarity.CosineSimilarity(c.prototype, prototype)
}

func (c *SimClient) ClearPrototype() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.globalPrototype = nil
}

func (c *SimClient) train(ctx context.Context, epochs int, mu float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.fail {
		return ErrSimulatedFailure
	}

	before := common.CopyVector(c.weights)
	var gradient []float64
	for epoch := 0; epoch < epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		gradient = c.gradient()
		if mu > 0 {
			for i := range gradient {
				gradient[i] += mu * (c.weights[i] - c.anchor[i])
			}
		}
		floats.AddScaled(c.weights, -c.learningRate, gradient)
	}

	c.delta = make([]float64, len(c.weights))
	floats.SubTo(c.delta, c.weights, before)
	c.gradNorms = layerNorms(gradient)
	return nil
}

// gradient of the local objective with additive gaussian noise.
func (c *SimClient) gradient() []float64 {
	g := make([]float64, len(c.weights))
	floats.SubTo(g, c.weights, c.target)
	if c.noise > 0 {
		for i := range g {
			g[i] += c.rng.NormFloat64() * c.noise
		}
	}
	return g
}

func layerNorms(v []float64) []float64 {
	if len(v) == 0 {
		return nil
	}
	if len(v) == 1 {
		return []float64{floats.Norm(v, 2)}
	}
	half := len(v) / 2
	return []float64{floats.Norm(v[:half], 2), floats.Norm(v[half:], 2)}
}
