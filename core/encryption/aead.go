package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
)

// IVLength is the GCM standard nonce size in bytes.
const IVLength = 12

// TagLength is the size of the authentication tag GCM appends to every ciphertext.
const TagLength = 16

// EncryptedPayload is the output of one encryption call. The IV is fresh per call and
// travels alongside the ciphertext; the GCM tag is appended to Ciphertext.
type EncryptedPayload struct {
	IV         []byte
	Ciphertext []byte
}

// AEAD seals and opens payloads under raw key material.
type AEAD interface {
	// Seal encrypts plaintext under key with a freshly generated IV
	Seal(key []byte, plaintext []byte) (*EncryptedPayload, error)
	// Open authenticates and decrypts ciphertext under key and iv
	Open(key []byte, ciphertext []byte, iv []byte) ([]byte, error)
}

// AESGCM implements AEAD with AES-256-GCM.
type AESGCM struct {
	random io.Reader
}

// NewAESGCM creates an AESGCM reading IVs from crypto/rand.
func NewAESGCM() *AESGCM {
	return &AESGCM{random: rand.Reader}
}

func (a *AESGCM) gcm(key []byte) (cipher.AEAD, error) {
	if len(key)*8 != DefaultKeyLength {
		return nil, NewInvalidParameterError("key", fmt.Sprintf("key is %d bits, want %d", len(key)*8, DefaultKeyLength))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func (a *AESGCM) Seal(key []byte, plaintext []byte) (*EncryptedPayload, error) {
	gcm, err := a.gcm(key)
	if err != nil {
		return nil, err
	}

	iv := make([]byte, IVLength)
	if _, err := io.ReadFull(a.random, iv); err != nil {
		return nil, fmt.Errorf("failed to generate iv: %w", err)
	}

	return &EncryptedPayload{
		IV:         iv,
		Ciphertext: gcm.Seal(nil, iv, plaintext, nil),
	}, nil
}

func (a *AESGCM) Open(key []byte, ciphertext []byte, iv []byte) ([]byte, error) {
	gcm, err := a.gcm(key)
	if err != nil {
		return nil, err
	}

	if len(iv) != IVLength {
		return nil, NewDecryptionFailedError(fmt.Errorf("iv is %d bytes, want %d", len(iv), IVLength))
	}
	if len(ciphertext) < gcm.Overhead() {
		return nil, NewDecryptionFailedError(fmt.Errorf("ciphertext too short"))
	}

	plaintext, err := gcm.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, NewDecryptionFailedError(err)
	}
	if plaintext == nil {
		plaintext = []byte{}
	}
	return plaintext, nil
}
