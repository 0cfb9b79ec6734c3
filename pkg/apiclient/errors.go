package apiclient

import (
	"errors"
	"fmt"
	"time"

	"eventclub/pkg/reqlog"
)

// ErrFailoverTriggered marks a call that escalated to the failover page.
// It is terminal for the current page and must never be replaced by
// substitute data.
var ErrFailoverTriggered = errors.New("FAILOVER_TRIGGERED")

var (
	ErrMalformedBody = errors.New("malformed response body")
	ErrTokenExpired  = errors.New("token expired")
)

type Kind string

const (
	KindTransport Kind = "transport"
	KindHTTP      Kind = "http"
	KindParse     Kind = "parse"
	KindCanceled  Kind = "canceled"
)

// Error is returned for every failed call that did not escalate to failover.
type Error struct {
	Kind     Kind
	Method   string
	URL      string
	Status   int
	Body     []byte
	Message  string
	Duration time.Duration
	Err      error

	category reqlog.Category
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindHTTP:
		if e.Message != "" {
			return fmt.Sprintf("HTTP error! status: %d: %s", e.Status, e.Message)
		}
		return fmt.Sprintf("HTTP error! status: %d", e.Status)
	case KindParse:
		return fmt.Sprintf("%s %s: %v", e.Method, e.URL, ErrMalformedBody)
	default:
		return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Category() reqlog.Category {
	return e.category
}

// FailoverError wraps the failure that caused the navigation to the
// failover page.
type FailoverError struct {
	Target string
	Reason string
	Cause  *Error
}

func (e *FailoverError) Error() string {
	return fmt.Sprintf("%v (%s, redirected to %s): %v", ErrFailoverTriggered, e.Reason, e.Target, e.Cause)
}

func (e *FailoverError) Is(target error) bool {
	return target == ErrFailoverTriggered
}

func (e *FailoverError) Unwrap() error {
	return e.Cause
}

// IsFailover reports whether err is, or wraps, a failover escalation.
func IsFailover(err error) bool {
	return errors.Is(err, ErrFailoverTriggered)
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}
