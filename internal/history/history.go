package history

import (
	"context"
	"time"
)

// EventType defines the kind of supervision event.
type EventType string

const (
	EventSpawn   EventType = "spawn"
	EventDetect  EventType = "detect"
	EventReady   EventType = "ready"
	EventFailed  EventType = "failed"
	EventExited  EventType = "exited"
	EventStop    EventType = "stop"
	EventRestart EventType = "restart"
)

// Event is one supervision lifecycle event exported to external systems.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Backend    string    `json:"backend"`
	PID        int       `json:"pid"`
	Owned      bool      `json:"owned"`
	State      string    `json:"state"`
	Attempt    int       `json:"attempt"`
	Message    string    `json:"message,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// Sink is a destination for history events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Lister is implemented by sinks that can read back recent events.
type Lister interface {
	List(ctx context.Context, limit int) ([]Event, error)
}
