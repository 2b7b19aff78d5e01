package vault

import (
	"errors"
	"fmt"
	"strings"
)

// BatchFailure is one entry the server refused during a batch import.
type BatchFailure struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// BatchError reports the entries of a batch import that were not created. Entries not
// listed were stored.
type BatchError struct {
	Failures []BatchFailure
}

func (e *BatchError) Error() string {
	names := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		names = append(names, f.Name)
	}
	return fmt.Sprintf("%d entries failed to import: %s", len(e.Failures), strings.Join(names, ", "))
}

// InvalidFileError is returned when an attachment is rejected before upload.
type InvalidFileError struct {
	Name   string
	Reason string
}

func (e *InvalidFileError) Error() string {
	return fmt.Sprintf("invalid file %q: %s", e.Name, e.Reason)
}

func NewInvalidFileError(name, reason string) error {
	return &InvalidFileError{Name: name, Reason: reason}
}

func IsInvalidFileError(err error) bool {
	var target *InvalidFileError
	return errors.As(err, &target)
}

// AsBatchError returns the BatchError in err's chain, if any.
func AsBatchError(err error) (*BatchError, bool) {
	var target *BatchError
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}
