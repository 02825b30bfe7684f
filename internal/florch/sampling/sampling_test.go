package sampling

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AIoTwin-Adaptive-FL-Orch/gcfl-orchestrator/internal/common"
)

func TestFullParticipation(t *testing.T) {
	s := NewRandomSampler(7)
	selected, err := s.Sample(5, 1.0)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, selected)
}

func TestPartialParticipationIsSubsetWithoutReplacement(t *testing.T) {
	s := NewRandomSampler(7)
	for i := 0; i < 50; i++ {
		selected, err := s.Sample(10, 0.34)
		require.NoError(t, err)
		require.Len(t, selected, 3)

		seen := map[int]bool{}
		for j, idx := range selected {
			assert.GreaterOrEqual(t, idx, 0)
			assert.Less(t, idx, 10)
			assert.False(t, seen[idx])
			seen[idx] = true
			if j > 0 {
				assert.Less(t, selected[j-1], idx)
			}
		}
	}
}

func TestSamplesAreFreshlyDrawn(t *testing.T) {
	s := NewRandomSampler(3)
	draws := map[string]bool{}
	for i := 0; i < 20; i++ {
		selected, err := s.Sample(8, 0.5)
		require.NoError(t, err)
		draws[asKey(selected)] = true
	}
	assert.Greater(t, len(draws), 1)
}

func TestFirstRoundIsFull(t *testing.T) {
	s := NewRandomSampler(1)
	selected, err := s.ForRound(1, 6, 0.2)
	require.NoError(t, err)
	assert.Len(t, selected, 6)

	selected, err = s.ForRound(2, 6, 0.2)
	require.NoError(t, err)
	assert.Len(t, selected, 1)
}

func TestSampleRejectsInvalidFraction(t *testing.T) {
	s := NewRandomSampler(1)
	_, err := s.Sample(4, 0)
	assert.True(t, errors.Is(err, common.ErrInvalidConfiguration))
	_, err = s.Sample(4, 1.2)
	assert.True(t, errors.Is(err, common.ErrInvalidConfiguration))
	_, err = s.Sample(0, 1)
	assert.True(t, errors.Is(err, common.ErrNoParticipants))
}

func TestSampleSize(t *testing.T) {
	assert.Equal(t, 3, SampleSize(10, 0.25))
	assert.Equal(t, 1, SampleSize(10, 0.01))
	assert.Equal(t, 10, SampleSize(10, 1))
}

func asKey(ids []int) string {
	key := ""
	for _, id := range ids {
		key += string(rune('a' + id))
	}
	return key
}

func TestInjectedSourceIsDeterministic(t *testing.T) {
	a := NewSampler(rand.NewSource(42))
	b := NewSampler(rand.NewSource(42))
	for i := 0; i < 10; i++ {
		first, err := a.Sample(20, 0.3)
		require.NoError(t, err)
		second, err := b.Sample(20, 0.3)
		require.NoError(t, err)
		assert.Equal(t, first, second)
		assert.Len(t, first, 6)
	}
}
