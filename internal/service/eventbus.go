package service

import (
	"sync"
)

type EventType string

const (
	// EventQueue signals that queue state changed and subscribers should
	// re-render from the engine.
	EventQueue EventType = "queue"
	// EventHealth signals that the remote API health changed.
	EventHealth EventType = "health"
)

type Event struct {
	Type EventType
}

// EventBus broadcasts engine events to every subscriber. The UI redraws
// the whole queue on any change, so there is a single broadcast topic
// rather than per-job channels.
type EventBus struct {
	mu          sync.Mutex
	subscribers []chan Event
}

func NewEventBus() *EventBus {
	return &EventBus{}
}

func (eb *EventBus) Subscribe() chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	ch := make(chan Event, 16)
	eb.subscribers = append(eb.subscribers, ch)
	return ch
}

func (eb *EventBus) Unsubscribe(ch chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	for i, sub := range eb.subscribers {
		if sub == ch {
			eb.subscribers = append(eb.subscribers[:i], eb.subscribers[i+1:]...)
			close(ch)
			break
		}
	}
}

func (eb *EventBus) Publish(event Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	for _, ch := range eb.subscribers {
		select {
		case ch <- event:
		default:
			// Drop event if subscriber is slow
		}
	}
}
