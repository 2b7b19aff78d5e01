package encryption

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptySecret is returned when a key derivation is attempted without a master secret.
	ErrEmptySecret = errors.New("master secret cannot be empty")
	// ErrEmptySalt is returned when a key derivation is attempted without a salt.
	ErrEmptySalt = errors.New("salt cannot be empty")
)

// KeyNotFoundError indicates that no encryption key is resident on this device.
type KeyNotFoundError struct{}

func (e *KeyNotFoundError) Error() string {
	return "encryption key not found"
}

// KeyUnavailableError is returned by cipher operations that could not obtain the active key.
type KeyUnavailableError struct {
	Inner error
}

func (e *KeyUnavailableError) Error() string {
	if e.Inner != nil {
		return fmt.Sprintf("encryption key unavailable: %v", e.Inner)
	}
	return "encryption key unavailable"
}

func (e *KeyUnavailableError) Unwrap() error {
	return e.Inner
}

// DecryptionFailedError indicates an authentication tag mismatch: wrong key, corrupted
// ciphertext, or an IV that does not belong to the ciphertext. Retrying cannot succeed.
type DecryptionFailedError struct {
	Inner error
}

func (e *DecryptionFailedError) Error() string {
	return "unable to decrypt this item"
}

func (e *DecryptionFailedError) Unwrap() error {
	return e.Inner
}

// InvalidParameterError reports a rejected cryptographic parameter.
type InvalidParameterError struct {
	Parameter string
	Reason    string
}

func (e *InvalidParameterError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Parameter, e.Reason)
}

// FileTooLargeError is returned when a file exceeds MaxPlaintextFileSize.
type FileTooLargeError struct {
	Limit int64
}

func (e *FileTooLargeError) Error() string {
	return fmt.Sprintf("file exceeds the %d byte limit", e.Limit)
}

func NewKeyNotFoundError() error {
	return &KeyNotFoundError{}
}

func NewKeyUnavailableError(inner error) error {
	return &KeyUnavailableError{Inner: inner}
}

func NewDecryptionFailedError(inner error) error {
	return &DecryptionFailedError{Inner: inner}
}

func NewInvalidParameterError(parameter, reason string) error {
	return &InvalidParameterError{Parameter: parameter, Reason: reason}
}

func IsKeyNotFoundError(err error) bool {
	var target *KeyNotFoundError
	return errors.As(err, &target)
}

func IsKeyUnavailableError(err error) bool {
	var target *KeyUnavailableError
	return errors.As(err, &target)
}

func IsDecryptionFailedError(err error) bool {
	var target *DecryptionFailedError
	return errors.As(err, &target)
}

func IsInvalidParameterError(err error) bool {
	var target *InvalidParameterError
	return errors.As(err, &target)
}

func IsFileTooLargeError(err error) bool {
	var target *FileTooLargeError
	return errors.As(err, &target)
}
