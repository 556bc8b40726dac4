// Package httperr defines controlled errors: failures that carry the HTTP
// status and description intended for the client.
package httperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is a controlled error. Its Status and Message are sent to the
// client verbatim.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d %s", e.Status, e.Message)
}

// New creates a controlled error. An empty message defaults to the
// standard status text.
func New(status int, message string) *Error {
	if message == "" {
		message = http.StatusText(status)
	}
	return &Error{Status: status, Message: message}
}

// NotFound returns a 404 controlled error.
func NotFound(message string) *Error { return New(http.StatusNotFound, message) }

// MethodNotAllowed returns a 405 controlled error.
func MethodNotAllowed(message string) *Error { return New(http.StatusMethodNotAllowed, message) }

// As reports whether err is, or wraps, a controlled error.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) && e != nil {
		return e, true
	}
	return nil, false
}
