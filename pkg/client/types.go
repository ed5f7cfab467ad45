package client

import (
	"github.com/loykin/alfred/internal/backend"
	"github.com/loykin/alfred/internal/history"
	"github.com/loykin/alfred/internal/metrics"
	"github.com/loykin/alfred/internal/relay"
	"github.com/loykin/alfred/internal/supervisor"
)

// Wire types shared with the server.
type (
	Snapshot       = supervisor.Snapshot
	State          = supervisor.State
	Handle         = supervisor.Handle
	Event          = relay.Event
	Notification   = relay.Notification
	StatusEvent    = relay.StatusEvent
	HistoryEvent   = history.Event
	ResourceSample = metrics.ResourceSample

	BackendRequest   = backend.Request
	BackendResponse  = backend.Response
	ApplicationError = backend.ApplicationError
)

// Status is the body of every lifecycle endpoint.
type Status struct {
	Snapshot
	Error string `json:"error,omitempty"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// ActionError is returned when a check or restart finished without a ready
// backend. The accompanying Status is still valid.
type ActionError struct {
	StatusCode int
	Message    string
}

func (e *ActionError) Error() string { return e.Message }

// APIError is a non-2xx answer from the control API itself.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return "API error: " + e.Message
}
