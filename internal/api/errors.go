package api

import (
	"errors"
	"fmt"
	"time"
)

// Error classes returned by the Twitter API client.
var (
	ErrUnauthorized    = errors.New("twitter: unauthorized - invalid or missing API key")
	ErrRateLimited     = errors.New("twitter: rate limit exceeded")
	ErrServerError     = errors.New("twitter: server error")
	ErrClientError     = errors.New("twitter: request rejected")
	ErrInvalidResponse = errors.New("twitter: invalid response")
	ErrValidation      = errors.New("twitter: invalid record")
)

// Error carries the details of a failed request. It unwraps to one of the
// sentinel errors above, and to the transport error when there was one.
type Error struct {
	Kind       error
	Endpoint   string
	StatusCode int
	Body       string
	Attempts   int
	RetryAfter time.Duration
	Cause      error
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Endpoint != "" {
		msg += " (" + e.Endpoint + ")"
	}
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(": HTTP %d", e.StatusCode)
	}
	if e.Attempts > 1 {
		msg += fmt.Sprintf(" after %d attempts", e.Attempts)
	}
	if e.RetryAfter > 0 {
		msg += fmt.Sprintf(", retry after %s", e.RetryAfter)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	} else if e.Body != "" {
		msg += ": " + truncate(e.Body, 200)
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Kind, e.Cause}
	}
	return []error{e.Kind}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
