package account

import (
	"errors"
	"fmt"
)

// ThrottledError is returned when the server refuses further attempts for now, e.g.
// after repeated wrong recovery secrets.
type ThrottledError struct {
	Message string
}

func (e *ThrottledError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("too many attempts: %s", e.Message)
	}
	return "too many attempts"
}

func NewThrottledError(message string) error {
	return &ThrottledError{Message: message}
}

func IsThrottledError(err error) bool {
	var target *ThrottledError
	return errors.As(err, &target)
}
