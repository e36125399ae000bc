package session

import (
	"errors"
	"fmt"
)

// ErrSessionViolation is matched by every error caused by the remote
// service invalidating the current transport identity.
var ErrSessionViolation = errors.New("session violation")

// ErrNotInitialized is wrapped in the *InitError returned when a request is
// attempted before Init has completed.
var ErrNotInitialized = errors.New("session not initialized")

// ViolationError reports the request whose response carried the
// invalidation marker.
type ViolationError struct {
	Method     string
	URL        string
	StatusCode int
}

func (e *ViolationError) Error() string {
	return fmt.Sprintf("session violation on %s %s (status=%d)", e.Method, e.URL, e.StatusCode)
}

func (e *ViolationError) Is(target error) bool { return target == ErrSessionViolation }

// InitError means no anti-forgery token or session cookie could be
// obtained through any bootstrap fallback.
type InitError struct {
	Stage string
	Err   error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("session init (%s): %v", e.Stage, e.Err)
}

func (e *InitError) Unwrap() error { return e.Err }

// TransportError is a request that failed twice at the connection level.
type TransportError struct {
	Method string
	URL    string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s %s: %v", e.Method, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// StatusError is an unexpected HTTP status from an endpoint.
type StatusError struct {
	Method string
	URL    string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s %s: http %d: %s", e.Method, e.URL, e.Code, e.Body)
	}
	return fmt.Sprintf("%s %s: http %d", e.Method, e.URL, e.Code)
}

func IsViolation(err error) bool {
	return errors.Is(err, ErrSessionViolation)
}

func IsInit(err error) bool {
	var ie *InitError
	return errors.As(err, &ie)
}

func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// StatusCode returns the HTTP status carried by err, if any.
func StatusCode(err error) (int, bool) {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code, true
	}
	return 0, false
}
