package encryption

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yeti47/cryovault/core/ccc/logging"
)

// ActiveKeyID is the fixed logical identifier the vault key is stored under.
const ActiveKeyID = "encryptionKey"

// KeyCustodian persists, retrieves and destroys the device's single vault key.
type KeyCustodian interface {
	// Store replaces any previously stored key with key
	Store(key *DerivedKey) error
	// Retrieve returns the active key, or a KeyNotFoundError if there is none
	Retrieve() (*DerivedKey, error)
	// Delete removes the stored key. It is idempotent
	Delete() error
}

// Custodian is the KeyCustodian backed by a KeyRepository. It keeps the active key
// resident in a memguard enclave after the first load. All operations are serialised,
// so a logout cannot remove the key halfway through a store or a retrieve.
type Custodian struct {
	logger   logging.Logger
	repo     KeyRepository
	mu       sync.Mutex
	resident *DerivedKey
	now      func() time.Time
}

func NewCustodian(logger logging.Logger, repo KeyRepository) *Custodian {
	return &Custodian{
		logger: logging.OrNop(logger),
		repo:   repo,
		now:    time.Now,
	}
}

func (c *Custodian) Store(key *DerivedKey) error {
	if key == nil {
		return NewInvalidParameterError("key", "key is nil")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	jwk, err := key.Export()
	if err != nil {
		c.logger.Error("Failed to export key", "error", err)
		return err
	}
	encoded, err := json.Marshal(jwk)
	if err != nil {
		return fmt.Errorf("failed to encode key: %w", err)
	}

	record := &KeyRecord{
		KeyID:      ActiveKeyID,
		Generation: uuid.NewString(),
		JWK:        string(encoded),
		CreatedAt:  c.now().UTC(),
	}
	if err := c.repo.Replace(record); err != nil {
		c.logger.Error("Failed to persist key", "error", err)
		return fmt.Errorf("failed to store key: %w", err)
	}

	c.resident = key
	c.logger.Info("Stored encryption key", "generation", record.Generation)
	return nil
}

func (c *Custodian) Retrieve() (*DerivedKey, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.resident != nil {
		return c.resident, nil
	}

	record, err := c.repo.Get(ActiveKeyID)
	if err != nil {
		c.logger.Error("Failed to read key record", "error", err)
		return nil, fmt.Errorf("failed to retrieve key: %w", err)
	}
	if record == nil {
		return nil, NewKeyNotFoundError()
	}

	var jwk JSONWebKey
	if err := json.Unmarshal([]byte(record.JWK), &jwk); err != nil {
		return nil, fmt.Errorf("failed to decode key record: %w", err)
	}
	key, err := ImportKey(&jwk)
	if err != nil {
		c.logger.Error("Failed to import stored key", "generation", record.Generation, "error", err)
		return nil, err
	}

	c.resident = key
	c.logger.Debug("Loaded encryption key", "generation", record.Generation)
	return key, nil
}

func (c *Custodian) Delete() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.resident = nil
	if err := c.repo.Delete(); err != nil {
		c.logger.Error("Failed to delete key", "error", err)
		return fmt.Errorf("failed to delete key: %w", err)
	}

	c.logger.Info("Deleted encryption key")
	return nil
}
