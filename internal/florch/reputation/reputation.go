// Package reputation keeps an adaptive trust weight per client.
package reputation

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/AIoTwin-Adaptive-FL-Orch/gcfl-orchestrator/internal/common"
)

// Tracker holds a reputation vector on the probability simplex with every
// entry at least floor. Every update blends in a similarity signal, clamps to
// the floor and renormalizes.
type Tracker struct {
	retain float64
	floor  float64
	rs     []float64
}

func NewTracker(clients int, retain, floor float64) (*Tracker, error) {
	if clients <= 0 {
		return nil, &common.ConfigurationError{Field: "clients", Reason: "reputation needs at least one client"}
	}
	if retain < 0 || retain > 1 {
		return nil, &common.ConfigurationError{Field: "reputation.retain", Reason: fmt.Sprintf("%v is outside [0,1]", retain)}
	}
	if floor <= 0 || floor*float64(clients) > 1 {
		return nil, &common.ConfigurationError{Field: "reputation.floor", Reason: fmt.Sprintf("%v cannot hold for %d clients", floor, clients)}
	}

	rs := make([]float64, clients)
	for i := range rs {
		rs[i] = 1 / float64(clients)
	}
	return &Tracker{retain: retain, floor: floor, rs: rs}, nil
}

// Update applies one round of the moving average with a signal per client.
func (t *Tracker) Update(phi []float64) error {
	if len(phi) != len(t.rs) {
		return fmt.Errorf("%w: %d signals for %d clients", common.ErrDimensionMismatch, len(phi), len(t.rs))
	}
	if common.HasNaN(phi) {
		return fmt.Errorf("%w: non-finite reputation signal", common.ErrNumerical)
	}

	next := make([]float64, len(t.rs))
	for i := range next {
		next[i] = math.Max(t.retain*t.rs[i]+(1-t.retain)*phi[i], t.floor)
	}
	floats.Scale(1/floats.Sum(next), next)
	t.rs = projectOnFloor(next, t.floor)
	return nil
}

// projectOnFloor pins entries that normalization pushed below floor to floor
// and rescales the others to fill the remaining mass. It terminates because
// floor*len(rs) <= 1.
func projectOnFloor(rs []float64, floor float64) []float64 {
	pinned := make([]bool, len(rs))
	for {
		changed := false
		for i, r := range rs {
			if !pinned[i] && r < floor {
				pinned[i] = true
				rs[i] = floor
				changed = true
			}
		}
		if !changed {
			return rs
		}

		var free float64
		k := 0
		for i, r := range rs {
			if pinned[i] {
				k++
			} else {
				free += r
			}
		}
		if free == 0 {
			return rs
		}
		scale := (1 - float64(k)*floor) / free
		for i := range rs {
			if !pinned[i] {
				rs[i] *= scale
			}
		}
	}
}

// UpdatePartial updates only the listed clients. Clients without a signal
// keep their weight apart from the renormalization.
func (t *Tracker) UpdatePartial(clients []int, phi []float64) error {
	if len(clients) != len(phi) {
		return fmt.Errorf("%w: %d signals for %d clients", common.ErrDimensionMismatch, len(phi), len(clients))
	}

	full := make([]float64, len(t.rs))
	copy(full, t.rs)
	for i, c := range clients {
		if c < 0 || c >= len(full) {
			return fmt.Errorf("%w: unknown client %d", common.ErrStateInvariantViolation, c)
		}
		full[c] = phi[i]
	}
	return t.Update(full)
}

// Weights returns a copy of the reputation vector.
func (t *Tracker) Weights() []float64 {
	return common.CopyVector(t.rs)
}

// Select returns the reputations of the listed clients.
func (t *Tracker) Select(clients []int) []float64 {
	out := make([]float64, len(clients))
	for i, c := range clients {
		out[i] = t.rs[c]
	}
	return out
}
