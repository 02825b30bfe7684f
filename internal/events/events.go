package events

import (
	"sync"
	"time"
)

// Event represents a generic event structure
type Event struct {
	Type      string
	RunId     string
	Timestamp time.Time
	Data      interface{}
}

// RoundFinishedEvent is published after distribution of a round's aggregate
type RoundFinishedEvent struct {
	Round        int
	Participants int
	Clusters     int
	MeanLoss     float64
	MeanAccuracy float64
	Cost         float64
}

// ClusterSplitEvent is published after a split has been committed
type ClusterSplitEvent struct {
	Round    int
	ParentId int
	ChildIds [2]int
	Members  [2][]int
	MaxNorm  float64
	MeanNorm float64
}

// FlFinishedEvent represents the event structure for finishing FL
type FlFinishedEvent struct {
	ExitCode    int32
	ExitMessage string
}

// EventBus represents the event bus that handles event subscription and dispatching
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[string][]chan<- Event
}

// NewEventBus creates a new instance of the event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[string][]chan<- Event),
	}
}

// Subscribe adds a new subscriber for a given event type
func (eb *EventBus) Subscribe(eventType string, subscriber chan<- Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
}

// Unsubscribe removes a subscriber from a given event type
func (eb *EventBus) Unsubscribe(eventType string, subscriber chan<- Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	subscribers := eb.subscribers[eventType]
	for i, s := range subscribers {
		if s == subscriber {
			eb.subscribers[eventType] = append(subscribers[:i:i], subscribers[i+1:]...)
			return
		}
	}
}

// Publish sends an event to all subscribers of a given event type.
// Subscribers whose buffer is full miss the event.
func (eb *EventBus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	eb.mu.RLock()
	defer eb.mu.RUnlock()
	for _, subscriber := range eb.subscribers[event.Type] {
		select {
		case subscriber <- event:
		default:
		}
	}
}
