package clustering

import (
	"fmt"
	"sort"

	"github.com/AIoTwin-Adaptive-FL-Orch/gcfl-orchestrator/internal/common"
)

const RootParentId = -1

// Cluster is a set of client indices aggregated together. Ids come from an
// arena owned by the Partition and are never reused.
type Cluster struct {
	Id      int   `json:"id"`
	Parent  int   `json:"parent"`
	Members []int `json:"members"`
}

func (c Cluster) Size() int {
	return len(c.Members)
}

func (c Cluster) copy() Cluster {
	members := make([]int, len(c.Members))
	copy(members, c.Members)
	return Cluster{Id: c.Id, Parent: c.Parent, Members: members}
}

// Partition holds the active clusters over clients 0..n-1 together with
// every cluster that ever existed.
type Partition struct {
	clients int
	active  []Cluster
	lineage []Cluster
}

// NewPartition starts with a single cluster containing every client.
func NewPartition(clients int) *Partition {
	root := Cluster{Id: 0, Parent: RootParentId, Members: common.Range(clients)}
	return &Partition{
		clients: clients,
		active:  []Cluster{root},
		lineage: []Cluster{root.copy()},
	}
}

func (p *Partition) Len() int {
	return len(p.active)
}

// Clusters returns copies of the active clusters in creation order.
func (p *Partition) Clusters() []Cluster {
	clusters := make([]Cluster, len(p.active))
	for i, c := range p.active {
		clusters[i] = c.copy()
	}
	return clusters
}

// Lineage returns every cluster created so far, indexed by id.
func (p *Partition) Lineage() []Cluster {
	clusters := make([]Cluster, len(p.lineage))
	for i, c := range p.lineage {
		clusters[i] = c.copy()
	}
	return clusters
}

// ClusterOf returns the id of the active cluster containing the client.
func (p *Partition) ClusterOf(client int) (int, bool) {
	for _, c := range p.active {
		if common.ContainsInt(c.Members, client) {
			return c.Id, true
		}
	}
	return 0, false
}

// ValidateSplit reports whether Split would accept the bipartition without
// changing the partition.
func (p *Partition) ValidateSplit(clusterId int, a, b []int) error {
	_, _, err := p.prepareSplit(clusterId, a, b)
	return err
}

// Split replaces the cluster with two children holding a and b. The
// resulting partition is validated before it replaces the current one, so a
// failed split leaves the partition untouched.
func (p *Partition) Split(clusterId int, a, b []int) ([2]Cluster, error) {
	candidate, children, err := p.prepareSplit(clusterId, a, b)
	if err != nil {
		return [2]Cluster{}, err
	}

	p.active = candidate
	p.lineage = append(p.lineage, children[0].copy(), children[1].copy())
	return [2]Cluster{children[0].copy(), children[1].copy()}, nil
}

func (p *Partition) prepareSplit(clusterId int, a, b []int) ([]Cluster, [2]Cluster, error) {
	if len(a) == 0 || len(b) == 0 {
		return nil, [2]Cluster{}, fmt.Errorf("%w: cluster %d into %d and %d clients", common.ErrDegenerateSplit, clusterId, len(a), len(b))
	}

	position := -1
	for i, c := range p.active {
		if c.Id == clusterId {
			position = i
			break
		}
	}
	if position < 0 {
		return nil, [2]Cluster{}, fmt.Errorf("%w: cluster %d is not active", common.ErrStateInvariantViolation, clusterId)
	}

	parent := p.active[position]
	if err := validateBipartition(parent.Members, a, b); err != nil {
		return nil, [2]Cluster{}, fmt.Errorf("split of cluster %d: %w", clusterId, err)
	}

	nextId := len(p.lineage)
	children := [2]Cluster{
		{Id: nextId, Parent: parent.Id, Members: common.SortedCopy(a)},
		{Id: nextId + 1, Parent: parent.Id, Members: common.SortedCopy(b)},
	}

	candidate := make([]Cluster, 0, len(p.active)+1)
	candidate = append(candidate, p.active[:position]...)
	candidate = append(candidate, children[0], children[1])
	candidate = append(candidate, p.active[position+1:]...)

	if err := ValidatePartition(candidate, p.clients); err != nil {
		return nil, [2]Cluster{}, err
	}
	return candidate, children, nil
}

// ValidatePartition checks that the clusters are nonempty, pairwise disjoint
// and together cover 0..clients-1.
func ValidatePartition(clusters []Cluster, clients int) error {
	seen := make([]bool, clients)
	covered := 0
	for _, c := range clusters {
		if len(c.Members) == 0 {
			return fmt.Errorf("%w: cluster %d is empty", common.ErrStateInvariantViolation, c.Id)
		}
		for _, m := range c.Members {
			if m < 0 || m >= clients {
				return fmt.Errorf("%w: cluster %d has unknown client %d", common.ErrStateInvariantViolation, c.Id, m)
			}
			if seen[m] {
				return fmt.Errorf("%w: client %d is in more than one cluster", common.ErrStateInvariantViolation, m)
			}
			seen[m] = true
			covered++
		}
	}
	if covered != clients {
		return fmt.Errorf("%w: %d of %d clients covered", common.ErrStateInvariantViolation, covered, clients)
	}
	return nil
}

func validateBipartition(members, a, b []int) error {
	union := make([]int, 0, len(a)+len(b))
	union = append(union, a...)
	union = append(union, b...)
	sort.Ints(union)

	expected := common.SortedCopy(members)
	if len(union) != len(expected) {
		return fmt.Errorf("%w: children hold %d clients, parent %d", common.ErrStateInvariantViolation, len(union), len(expected))
	}
	for i := range union {
		if union[i] != expected[i] {
			return fmt.Errorf("%w: children do not partition the parent", common.ErrStateInvariantViolation)
		}
	}
	return nil
}
