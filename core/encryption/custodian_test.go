package encryption

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingKeyRepository struct {
	KeyRepository
	replaceErr error
}

func (r *failingKeyRepository) Replace(record *KeyRecord) error {
	if r.replaceErr != nil {
		return r.replaceErr
	}
	return r.KeyRepository.Replace(record)
}

func TestCustodianLifecycle(t *testing.T) {
	repo := newTestKeyRepository(t)
	custodian := NewCustodian(nil, repo)

	_, err := custodian.Retrieve()
	assert.True(t, IsKeyNotFoundError(err))

	key, err := DeriveKey("master password", "salt")
	require.NoError(t, err)
	require.NoError(t, custodian.Store(key))

	cipher := NewVaultCipher(nil, custodian, nil)
	payload, err := cipher.EncryptPassword("hunter2")
	require.NoError(t, err)

	// a fresh custodian over the same repository has to load the key from storage
	reloaded := NewCustodian(nil, repo)
	got, err := NewVaultCipher(nil, reloaded, nil).DecryptPassword(payload.Ciphertext, payload.IV)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", got)

	require.NoError(t, reloaded.Delete())
	_, err = reloaded.Retrieve()
	assert.True(t, IsKeyNotFoundError(err))

	_, err = NewCustodian(nil, repo).Retrieve()
	assert.True(t, IsKeyNotFoundError(err))

	require.NoError(t, reloaded.Delete(), "delete must be idempotent")
}

func TestCustodianStoreReplacesPreviousKey(t *testing.T) {
	repo := newTestKeyRepository(t)
	custodian := NewCustodian(nil, repo)

	first, err := DeriveKey("first", "salt")
	require.NoError(t, err)
	second, err := DeriveKey("second", "salt")
	require.NoError(t, err)

	require.NoError(t, custodian.Store(first))
	require.NoError(t, custodian.Store(second))

	n, err := repo.count()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := NewCustodian(nil, repo).Retrieve()
	require.NoError(t, err)
	assert.Equal(t, exportedMaterial(t, second), exportedMaterial(t, got))
}

func TestCustodianFailedStoreKeepsPreviousKey(t *testing.T) {
	repo := &failingKeyRepository{KeyRepository: newTestKeyRepository(t)}
	custodian := NewCustodian(nil, repo)

	first, err := DeriveKey("first", "salt")
	require.NoError(t, err)
	require.NoError(t, custodian.Store(first))

	repo.replaceErr = errors.New("disk full")
	second, err := DeriveKey("second", "salt")
	require.NoError(t, err)
	require.Error(t, custodian.Store(second))

	got, err := custodian.Retrieve()
	require.NoError(t, err)
	assert.Equal(t, exportedMaterial(t, first), exportedMaterial(t, got))
}

func TestCustodianRejectsNilKey(t *testing.T) {
	custodian := NewCustodian(nil, newTestKeyRepository(t))
	assert.True(t, IsInvalidParameterError(custodian.Store(nil)))
}
