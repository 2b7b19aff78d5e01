package encryption

import (
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// DefaultIterations matches the iteration count the web client derives with,
	// so keys derived here decrypt entries written there.
	DefaultIterations = 100000
	MinIterations     = 100000
	MaxIterations     = 600000

	// DefaultKeyLength is the derived key size in bits (AES-256).
	DefaultKeyLength = 256
)

type deriveParams struct {
	iterations int
	keyLength  int
}

// DeriveOption tunes a single DeriveKey call.
type DeriveOption func(*deriveParams)

// WithIterations sets the PBKDF2 iteration count.
func WithIterations(iterations int) DeriveOption {
	return func(p *deriveParams) {
		p.iterations = iterations
	}
}

// WithKeyLength sets the derived key length in bits.
func WithKeyLength(bits int) DeriveOption {
	return func(p *deriveParams) {
		p.keyLength = bits
	}
}

// DeriveKey stretches masterSecret with salt into an AES-256-GCM key using PBKDF2-HMAC-SHA256.
// Identical inputs always produce identical key material.
func DeriveKey(masterSecret, salt string, opts ...DeriveOption) (*DerivedKey, error) {
	params := deriveParams{
		iterations: DefaultIterations,
		keyLength:  DefaultKeyLength,
	}
	for _, opt := range opts {
		opt(&params)
	}

	if masterSecret == "" {
		return nil, ErrEmptySecret
	}
	if salt == "" {
		return nil, ErrEmptySalt
	}
	if params.iterations < MinIterations || params.iterations > MaxIterations {
		return nil, NewInvalidParameterError("iterations",
			fmt.Sprintf("%d is outside %d..%d", params.iterations, MinIterations, MaxIterations))
	}
	if params.keyLength != DefaultKeyLength {
		return nil, NewInvalidParameterError("key length", fmt.Sprintf("%d bits is not supported", params.keyLength))
	}

	material := pbkdf2.Key([]byte(masterSecret), []byte(salt), params.iterations, params.keyLength/8, sha256.New)
	return newDerivedKey(material), nil
}
