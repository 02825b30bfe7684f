package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversToSubscribersOfType(t *testing.T) {
	bus := NewEventBus()
	rounds := make(chan Event, 1)
	splits := make(chan Event, 1)
	bus.Subscribe("RoundFinished", rounds)
	bus.Subscribe("ClusterSplit", splits)

	bus.Publish(Event{Type: "RoundFinished", RunId: "r1", Data: RoundFinishedEvent{Round: 3}})

	require.Len(t, rounds, 1)
	assert.Len(t, splits, 0)
	ev := <-rounds
	assert.Equal(t, "r1", ev.RunId)
	assert.False(t, ev.Timestamp.IsZero())
	assert.Equal(t, 3, ev.Data.(RoundFinishedEvent).Round)
}

func TestPublishDoesNotBlockOnFullSubscriber(t *testing.T) {
	bus := NewEventBus()
	ch := make(chan Event, 1)
	bus.Subscribe("RoundFinished", ch)

	bus.Publish(Event{Type: "RoundFinished"})
	bus.Publish(Event{Type: "RoundFinished"})

	assert.Len(t, ch, 1)
}

func TestUnsubscribe(t *testing.T) {
	bus := NewEventBus()
	a := make(chan Event, 1)
	b := make(chan Event, 1)
	bus.Subscribe("FlFinished", a)
	bus.Subscribe("FlFinished", b)

	bus.Unsubscribe("FlFinished", a)
	bus.Publish(Event{Type: "FlFinished"})

	assert.Len(t, a, 0)
	assert.Len(t, b, 1)
}
