// Package events implements an in-process pub/sub bus for alert lifecycle
// notifications. The HTTP layer streams these to SSE subscribers; slow
// consumers drop events rather than block publishers.
package events

import (
	"sync"
	"time"
)

// EventType identifies what happened.
type EventType string

const (
	EventAlertCreated    EventType = "alert.created"
	EventAlertEscalated  EventType = "alert.escalated"
	EventAlertAutoClosed EventType = "alert.auto_closed"
	EventAlertResolved   EventType = "alert.resolved"
	EventRuleChanged     EventType = "rule.changed"
	EventScanCompleted   EventType = "scan.completed"
)

// Event is a single bus notification. Payload is marshalled as-is for SSE
// delivery, so it should be a JSON-friendly value.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	AlertID   string    `json:"alert_id,omitempty"`
	Payload   any       `json:"payload,omitempty"`
}

// Bus fans events out to subscribers. A subscriber whose channel is full
// misses the event; the bus never blocks a publisher.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]chan Event
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string]chan Event)}
}

// Subscribe registers a subscriber under id and returns its event channel.
// Subscribing twice with the same id replaces (and closes) the old channel.
func (b *Bus) Subscribe(id string) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	if old, ok := b.subs[id]; ok {
		close(old)
	}
	ch := make(chan Event, 16)
	b.subs[id] = ch
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.subs[id]; ok {
		close(ch)
		delete(b.subs, id)
	}
}

// Publish delivers an event to all current subscribers. The timestamp is
// stamped here if the caller left it zero.
func (b *Bus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
			// Subscriber is backed up; drop rather than block.
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
