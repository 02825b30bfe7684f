package model

import "context"

// IFlClient is the capability contract the orchestrator consumes from every
// client. Training and evaluation are implemented outside this module.
type IFlClient interface {
	Id() int
	Name() string
	// Download adopts the given parameters as local state. The slice is the
	// client's own copy.
	Download(weights []float64) error
	LocalTrain(ctx context.Context, epochs int) error
	LocalTrainProx(ctx context.Context, epochs int, mu float64) error
	// CacheWeights stores the current parameters as the proximal anchor.
	CacheWeights()
	// ComputeWeightUpdate trains and records the delta; Reset restores the
	// parameters held before it.
	ComputeWeightUpdate(ctx context.Context, epochs int) error
	Reset() error
	Snapshot() ClientUpdate
	Evaluate() (loss float64, acc float64, err error)
}

// IPrototypeClient adds the hooks used by the prototype strategies.
type IPrototypeClient interface {
	IFlClient
	MotifConstruction() error
	PrototypeUpdate() error
	Prototype() []float64
	DownloadPrototype(prototype []float64) error
	PrototypeTrain(ctx context.Context) error
	CosineSimilar(prototype []float64) (float64, error)
	ClearPrototype()
}
