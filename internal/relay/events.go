package relay

import (
	"time"

	"github.com/loykin/alfred/internal/health"
)

// Kind classifies a user-facing notification.
type Kind string

const (
	KindInfo    Kind = "info"
	KindSuccess Kind = "success"
	KindWarning Kind = "warning"
	KindError   Kind = "error"
)

// Notification is a one-off message for the user, e.g. a toast.
type Notification struct {
	Kind    Kind      `json:"kind"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// StatusEvent reports a supervision state change or readiness progress.
type StatusEvent struct {
	State       string        `json:"state"`
	Message     string        `json:"message"`
	Attempt     int           `json:"attempt,omitempty"`
	MaxAttempts int           `json:"max_attempts,omitempty"`
	Health      health.Status `json:"health"`
	At          time.Time     `json:"at"`
}

// EventType names the SSE event carrying an Event.
type EventType string

const (
	EventNotification EventType = "notification"
	EventStatus       EventType = "status"
)

// Event is what a Fanout subscriber receives: exactly one of the payloads is set.
type Event struct {
	Type         EventType     `json:"type"`
	Notification *Notification `json:"notification,omitempty"`
	Status       *StatusEvent  `json:"status,omitempty"`
}
