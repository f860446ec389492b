package storage

import "time"

// EventType represents the type of storage event emitted.
type EventType string

// Storage event type constants.
const (
	EventAttemptScheduled EventType = "delivery.attempt_scheduled"
	EventAttemptFinished  EventType = "delivery.attempt_finished"
	EventDeliveryClosed   EventType = "delivery.closed"
	EventFixtureLoaded    EventType = "fixture.loaded"
)

// Event represents a change inside the storage layer that other subsystems
// can react to. OperationID names the operation whose open deliveries may
// have changed; it is empty when all of them may have.
type Event struct {
	Type        EventType `json:"type"`
	OperationID string    `json:"operation_id,omitempty"`
	EntityID    string    `json:"entity_id,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Observer reacts to storage events.
type Observer interface {
	HandleStorageEvent(Event)
}

// ObserverFunc is a helper to turn a function into an Observer.
type ObserverFunc func(Event)

// HandleStorageEvent implements the Observer interface.
func (f ObserverFunc) HandleStorageEvent(e Event) {
	f(e)
}

func (s *Store) newEvent(eventType EventType, operationID, entityID string) Event {
	return Event{
		Type:        eventType,
		OperationID: operationID,
		EntityID:    entityID,
		Timestamp:   s.now().UTC(),
	}
}
