package service

import (
	"sync"

	"visualinternet/internal/orchestrator"
)

// EventType defines the type of event
type EventType string

const (
	EventTopologyUpdated = EventType(orchestrator.EventTopologyUpdated)
	EventCycleSkipped    = EventType(orchestrator.EventCycleSkipped)
	EventPortsScanned    EventType = "ports_scanned"
	EventTargetChanged   EventType = "target_changed"
	EventTopologyImport  EventType = "topology_imported"
	EventPortMemoCleared EventType = "gateway_port_invalidated"
)

// Event represents an event that occurred in the system
type Event struct {
	Type    EventType   `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// EventName names the event on the SSE stream
func (e Event) EventName() string {
	return string(e.Type)
}

// EventBus allows publishing and subscribing to events
type EventBus struct {
	mu          sync.RWMutex
	subscribers []chan<- Event
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make([]chan<- Event, 0),
	}
}

// Subscribe adds a subscriber to receive events
func (eb *EventBus) Subscribe(ch chan<- Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.subscribers = append(eb.subscribers, ch)
}

// Unsubscribe removes a subscriber
func (eb *EventBus) Unsubscribe(ch chan<- Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	for i, sub := range eb.subscribers {
		if sub == ch {
			eb.subscribers = append(eb.subscribers[:i], eb.subscribers[i+1:]...)
			return
		}
	}
}

// Publish sends an event to all subscribers
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	for _, ch := range eb.subscribers {
		select {
		case ch <- event:
		default:
			// Subscriber is slow, skip
		}
	}
}

// Publisher adapts the bus to the orchestrator's event callback
func (eb *EventBus) Publisher() orchestrator.EventFunc {
	return func(eventType string, payload any) {
		eb.Publish(Event{Type: EventType(eventType), Payload: payload})
	}
}
