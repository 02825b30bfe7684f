// Package cache records the final aggregate of every cluster so that each
// client can be credited with the best model it belonged to.
package cache

import (
	"fmt"
	"math"

	"github.com/AIoTwin-Adaptive-FL-Orch/gcfl-orchestrator/internal/common"
)

// Entry is an immutable snapshot of one cluster model. Accuracies are
// aligned with Members.
type Entry struct {
	Seq        int
	ClusterId  int
	Round      int
	Members    []int
	Weights    []float64
	Accuracies []float64
}

func (e Entry) copy() Entry {
	members := make([]int, len(e.Members))
	copy(members, e.Members)
	return Entry{
		Seq:        e.Seq,
		ClusterId:  e.ClusterId,
		Round:      e.Round,
		Members:    members,
		Weights:    common.CopyVector(e.Weights),
		Accuracies: common.CopyVector(e.Accuracies),
	}
}

// ModelCache is an append-only log of entries. It has a single writer and is
// not safe for concurrent use.
type ModelCache struct {
	clients int
	entries []Entry
}

func NewModelCache(clients int) *ModelCache {
	return &ModelCache{clients: clients}
}

// Append stores copies of the given snapshot.
func (c *ModelCache) Append(clusterId, round int, members []int, weights, accuracies []float64) (Entry, error) {
	if len(members) == 0 {
		return Entry{}, fmt.Errorf("%w: cache entry for cluster %d has no members", common.ErrStateInvariantViolation, clusterId)
	}
	if len(accuracies) != len(members) {
		return Entry{}, fmt.Errorf("%w: %d accuracies for %d members", common.ErrDimensionMismatch, len(accuracies), len(members))
	}
	for _, m := range members {
		if m < 0 || m >= c.clients {
			return Entry{}, fmt.Errorf("%w: cache entry references client %d", common.ErrStateInvariantViolation, m)
		}
	}

	entry := Entry{
		Seq:        len(c.entries),
		ClusterId:  clusterId,
		Round:      round,
		Members:    members,
		Weights:    weights,
		Accuracies: accuracies,
	}.copy()
	c.entries = append(c.entries, entry)
	return entry.copy(), nil
}

func (c *ModelCache) Len() int {
	return len(c.entries)
}

func (c *ModelCache) Entries() []Entry {
	entries := make([]Entry, len(c.entries))
	for i, e := range c.entries {
		entries[i] = e.copy()
	}
	return entries
}

// BestAccuracies returns, per client, the maximum accuracy over all entries
// that include it. A client without any entry is an error.
func (c *ModelCache) BestAccuracies() ([]float64, error) {
	best := make([]float64, c.clients)
	for i := range best {
		best[i] = math.Inf(-1)
	}

	for _, e := range c.entries {
		for i, m := range e.Members {
			best[m] = math.Max(best[m], e.Accuracies[i])
		}
	}

	for client, acc := range best {
		if math.IsInf(acc, -1) {
			return nil, fmt.Errorf("%w: client %d", common.ErrClientNotCovered, client)
		}
	}
	return best, nil
}

// Matrix lays the entries out as a clients × entries table with zero for
// clients that are not members of an entry.
func (c *ModelCache) Matrix() [][]float64 {
	table := make([][]float64, c.clients)
	for i := range table {
		table[i] = make([]float64, len(c.entries))
	}
	for j, e := range c.entries {
		for i, m := range e.Members {
			table[m][j] = e.Accuracies[i]
		}
	}
	return table
}
