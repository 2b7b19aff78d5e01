package session

import (
	"errors"
	"fmt"
)

// SessionExpiredError means the credential pair can no longer be used. Session state has
// been cleared and the user has to authenticate again.
type SessionExpiredError struct {
	Reason string
}

func (e *SessionExpiredError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("session expired: %s", e.Reason)
	}
	return "session expired"
}

// NetworkError wraps a transport level failure. The operation may be retried later.
type NetworkError struct {
	Inner error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network failure: %v", e.Inner)
}

func (e *NetworkError) Unwrap() error {
	return e.Inner
}

// ServerError is a non-success response that is not handled by the renewal policy.
type ServerError struct {
	StatusCode int
	Message    string
	// Body is the raw response body, for endpoints that report structured details.
	Body []byte
}

func (e *ServerError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("server returned status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("server returned status %d", e.StatusCode)
}

func NewSessionExpiredError(reason string) error {
	return &SessionExpiredError{Reason: reason}
}

func NewNetworkError(inner error) error {
	return &NetworkError{Inner: inner}
}

func NewServerError(statusCode int, message string) error {
	return &ServerError{StatusCode: statusCode, Message: message}
}

func IsSessionExpiredError(err error) bool {
	var target *SessionExpiredError
	return errors.As(err, &target)
}

func IsNetworkError(err error) bool {
	var target *NetworkError
	return errors.As(err, &target)
}

// AsServerError returns the ServerError in err's chain, if any.
func AsServerError(err error) (*ServerError, bool) {
	var target *ServerError
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}
