package encryption

import (
	"fmt"
	"io"

	"github.com/yeti47/cryovault/core/ccc/logging"
)

// MaxFileSize is the largest encrypted attachment the vault accepts (5 MiB). Files are
// encrypted as a single in-memory buffer, there is no streaming mode.
const MaxFileSize int64 = 5 * 1024 * 1024

// MaxPlaintextFileSize is the largest file whose ciphertext still fits MaxFileSize.
const MaxPlaintextFileSize = MaxFileSize - TagLength

// FileContent is a decrypted attachment.
type FileContent struct {
	Name string
	Data []byte
}

// VaultCipher encrypts and decrypts vault payloads with the custodian's active key.
type VaultCipher struct {
	logger    logging.Logger
	custodian KeyCustodian
	aead      AEAD
}

// NewVaultCipher creates a VaultCipher. A nil aead selects AES-256-GCM.
func NewVaultCipher(logger logging.Logger, custodian KeyCustodian, aead AEAD) *VaultCipher {
	if aead == nil {
		aead = NewAESGCM()
	}
	return &VaultCipher{
		logger:    logging.OrNop(logger),
		custodian: custodian,
		aead:      aead,
	}
}

func (c *VaultCipher) activeKey() (*DerivedKey, error) {
	key, err := c.custodian.Retrieve()
	if err != nil {
		return nil, NewKeyUnavailableError(err)
	}
	return key, nil
}

// Encrypt seals plaintext under the active key with a fresh 12 byte IV.
func (c *VaultCipher) Encrypt(plaintext []byte) (*EncryptedPayload, error) {
	key, err := c.activeKey()
	if err != nil {
		return nil, err
	}
	return c.SealWithKey(key, plaintext)
}

// Decrypt opens ciphertext under the active key. A tag mismatch yields a DecryptionFailedError.
func (c *VaultCipher) Decrypt(ciphertext, iv []byte) ([]byte, error) {
	key, err := c.activeKey()
	if err != nil {
		return nil, err
	}
	return c.OpenWithKey(key, ciphertext, iv)
}

// SealWithKey encrypts plaintext under an explicit key instead of the active one.
func (c *VaultCipher) SealWithKey(key *DerivedKey, plaintext []byte) (*EncryptedPayload, error) {
	var payload *EncryptedPayload
	err := key.use(func(material []byte) error {
		var err error
		payload, err = c.aead.Seal(material, plaintext)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt: %w", err)
	}
	return payload, nil
}

// OpenWithKey decrypts ciphertext under an explicit key instead of the active one.
func (c *VaultCipher) OpenWithKey(key *DerivedKey, ciphertext, iv []byte) ([]byte, error) {
	var plaintext []byte
	err := key.use(func(material []byte) error {
		var err error
		plaintext, err = c.aead.Open(material, ciphertext, iv)
		return err
	})
	if err != nil {
		if IsDecryptionFailedError(err) {
			c.logger.Warn("Authentication failed while decrypting payload", "ciphertext_bytes", len(ciphertext))
			return nil, err
		}
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return plaintext, nil
}

func (c *VaultCipher) EncryptPassword(password string) (*EncryptedPayload, error) {
	return c.Encrypt([]byte(password))
}

func (c *VaultCipher) DecryptPassword(ciphertext, iv []byte) (string, error) {
	plaintext, err := c.Decrypt(ciphertext, iv)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// EncryptFile reads r completely and encrypts its content. Inputs above
// MaxPlaintextFileSize are rejected with a FileTooLargeError before anything is encrypted.
func (c *VaultCipher) EncryptFile(r io.Reader) (*EncryptedPayload, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxPlaintextFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if int64(len(data)) > MaxPlaintextFileSize {
		return nil, &FileTooLargeError{Limit: MaxPlaintextFileSize}
	}
	return c.Encrypt(data)
}

func (c *VaultCipher) DecryptFile(ciphertext, iv []byte, name string) (*FileContent, error) {
	data, err := c.Decrypt(ciphertext, iv)
	if err != nil {
		return nil, err
	}
	return &FileContent{Name: name, Data: data}, nil
}
