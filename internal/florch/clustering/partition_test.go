package clustering

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AIoTwin-Adaptive-FL-Orch/gcfl-orchestrator/internal/common"
)

func TestNewPartitionHasSingleCluster(t *testing.T) {
	p := NewPartition(4)
	clusters := p.Clusters()
	require.Len(t, clusters, 1)
	assert.Equal(t, []int{0, 1, 2, 3}, clusters[0].Members)
	assert.Equal(t, RootParentId, clusters[0].Parent)
	require.NoError(t, ValidatePartition(clusters, 4))
}

func TestSplitReplacesClusterWithChildren(t *testing.T) {
	p := NewPartition(6)
	children, err := p.Split(0, []int{5, 1, 3}, []int{0, 2, 4})
	require.NoError(t, err)

	assert.Equal(t, []int{1, 3, 5}, children[0].Members)
	assert.Equal(t, []int{0, 2, 4}, children[1].Members)
	assert.Equal(t, 0, children[0].Parent)
	assert.Equal(t, 2, p.Len())
	require.NoError(t, ValidatePartition(p.Clusters(), 6))

	_, err = p.Split(children[1].Id, []int{0}, []int{2, 4})
	require.NoError(t, err)
	assert.Equal(t, 3, p.Len())
	require.NoError(t, ValidatePartition(p.Clusters(), 6))

	lineage := p.Lineage()
	require.Len(t, lineage, 5)
	for i, c := range lineage {
		assert.Equal(t, i, c.Id)
	}
	assert.Equal(t, children[1].Id, lineage[3].Parent)

	id, ok := p.ClusterOf(4)
	require.True(t, ok)
	assert.Equal(t, 4, id)
}

func TestSplitRejectsDegenerateBipartition(t *testing.T) {
	p := NewPartition(3)
	_, err := p.Split(0, []int{0, 1, 2}, nil)
	assert.ErrorIs(t, err, common.ErrDegenerateSplit)
	assert.Equal(t, 1, p.Len())
}

func TestSplitRejectsInvalidChildrenWithoutMutation(t *testing.T) {
	p := NewPartition(4)
	before := p.Clusters()

	_, err := p.Split(0, []int{0, 1}, []int{1, 2})
	assert.ErrorIs(t, err, common.ErrStateInvariantViolation)

	_, err = p.Split(0, []int{0, 1}, []int{2})
	assert.ErrorIs(t, err, common.ErrStateInvariantViolation)

	_, err = p.Split(9, []int{0}, []int{1})
	assert.ErrorIs(t, err, common.ErrStateInvariantViolation)

	assert.Equal(t, before, p.Clusters())
	assert.Len(t, p.Lineage(), 1)
}

func TestValidatePartition(t *testing.T) {
	assert.NoError(t, ValidatePartition([]Cluster{{Id: 1, Members: []int{0, 2}}, {Id: 2, Members: []int{1}}}, 3))
	assert.ErrorIs(t, ValidatePartition([]Cluster{{Id: 1, Members: []int{0, 1}}, {Id: 2, Members: []int{1, 2}}}, 3), common.ErrStateInvariantViolation)
	assert.ErrorIs(t, ValidatePartition([]Cluster{{Id: 1, Members: []int{0, 1}}}, 3), common.ErrStateInvariantViolation)
	assert.ErrorIs(t, ValidatePartition([]Cluster{{Id: 1, Members: []int{0, 1, 2}}, {Id: 2}}, 3), common.ErrStateInvariantViolation)
	assert.ErrorIs(t, ValidatePartition([]Cluster{{Id: 1, Members: []int{0, 1, 7}}}, 3), common.ErrStateInvariantViolation)
}

func TestClustersReturnsCopies(t *testing.T) {
	p := NewPartition(3)
	clusters := p.Clusters()
	clusters[0].Members[0] = 42
	assert.Equal(t, []int{0, 1, 2}, p.Clusters()[0].Members)
}

func TestValidateSplitDoesNotCommit(t *testing.T) {
	p := NewPartition(4)

	require.NoError(t, p.ValidateSplit(0, []int{0, 1}, []int{2, 3}))
	assert.Equal(t, 1, p.Len())
	assert.Len(t, p.Lineage(), 1)

	assert.ErrorIs(t, p.ValidateSplit(0, []int{0, 1}, []int{1, 2, 3}), common.ErrStateInvariantViolation)
	assert.ErrorIs(t, p.ValidateSplit(0, []int{0, 1, 2, 3}, nil), common.ErrDegenerateSplit)

	children, err := p.Split(0, []int{0, 1}, []int{2, 3})
	require.NoError(t, err)
	assert.Equal(t, [2]int{1, 2}, [2]int{children[0].Id, children[1].Id})
}
