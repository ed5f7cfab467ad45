package backend

import (
	"errors"
	"fmt"
)

// TransportError is a connection-level failure: refused, DNS, timeout or a
// truncated body. The backend never produced a status code.
type TransportError struct {
	Method string
	URL    string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ApplicationError is a response with status >= 400.
type ApplicationError struct {
	StatusCode int
	Message    string
	Data       any
}

func (e *ApplicationError) Error() string { return e.Message }

// IsTransport reports whether err is or wraps a *TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// AsApplication extracts an *ApplicationError from err.
func AsApplication(err error) (*ApplicationError, bool) {
	var ae *ApplicationError
	ok := errors.As(err, &ae)
	return ae, ok
}
