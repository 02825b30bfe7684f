// Package sampling selects the clients that participate in a round.
package sampling

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/AIoTwin-Adaptive-FL-Orch/gcfl-orchestrator/internal/common"
)

// RandomSampler draws an unbiased subset of clients without replacement.
// It is not safe for concurrent use.
type RandomSampler struct {
	rng *rand.Rand
}

func NewRandomSampler(seed int64) *RandomSampler {
	return NewSampler(rand.NewSource(seed))
}

func NewSampler(source rand.Source) *RandomSampler {
	return &RandomSampler{rng: rand.New(source)}
}

// SampleSize returns round(fraction*n), never less than one for n > 0.
func SampleSize(n int, fraction float64) int {
	size := int(math.Round(fraction * float64(n)))
	if size < 1 && n > 0 {
		size = 1
	}
	if size > n {
		size = n
	}
	return size
}

// Sample returns the indices of the participating clients in ascending order.
// fraction == 1 returns every client.
func (s *RandomSampler) Sample(n int, fraction float64) ([]int, error) {
	if fraction <= 0 || fraction > 1 {
		return nil, &common.ConfigurationError{Field: "fraction", Reason: fmt.Sprintf("must be in (0, 1], got %v", fraction)}
	}
	if n == 0 {
		return nil, common.ErrNoParticipants
	}
	if fraction == 1 {
		return common.Range(n), nil
	}

	selected := s.rng.Perm(n)[:SampleSize(n, fraction)]
	sort.Ints(selected)
	return selected, nil
}

// ForRound enforces full participation in the first round so every client
// holds a valid local state before any aggregation.
func (s *RandomSampler) ForRound(round int, n int, fraction float64) ([]int, error) {
	if round == 1 {
		return s.Sample(n, 1)
	}
	return s.Sample(n, fraction)
}
