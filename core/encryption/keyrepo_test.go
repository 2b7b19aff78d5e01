package encryption

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yeti47/cryovault/core/ccc/db"
)

func newTestKeyRepository(t *testing.T) *SQLiteKeyRepository {
	t.Helper()
	conn, err := db.NewInMemoryDB()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	repo, err := NewSQLiteKeyRepository(conn)
	require.NoError(t, err)
	return repo
}

func TestKeyRepositoryGetEmpty(t *testing.T) {
	repo := newTestKeyRepository(t)

	record, err := repo.Get(ActiveKeyID)
	require.NoError(t, err)
	assert.Nil(t, record)
}

func TestKeyRepositoryReplaceKeepsSingleRecord(t *testing.T) {
	repo := newTestKeyRepository(t)
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	require.NoError(t, repo.Replace(&KeyRecord{KeyID: ActiveKeyID, Generation: "gen-1", JWK: `{"k":"one"}`, CreatedAt: now}))
	require.NoError(t, repo.Replace(&KeyRecord{KeyID: ActiveKeyID, Generation: "gen-2", JWK: `{"k":"two"}`, CreatedAt: now.Add(time.Second)}))

	n, err := repo.count()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	record, err := repo.Get(ActiveKeyID)
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, "gen-2", record.Generation)
	assert.Equal(t, `{"k":"two"}`, record.JWK)
	assert.True(t, record.CreatedAt.Equal(now.Add(time.Second)))
}

func TestKeyRepositoryFailedReplaceKeepsPreviousKey(t *testing.T) {
	repo := newTestKeyRepository(t)
	now := time.Now().UTC()

	require.NoError(t, repo.Replace(&KeyRecord{KeyID: ActiveKeyID, Generation: "gen-1", JWK: `{"k":"one"}`, CreatedAt: now}))

	// reusing a generation violates the primary key, so the insert half of the replace fails
	err := repo.Replace(&KeyRecord{KeyID: ActiveKeyID, Generation: "gen-1", JWK: `{"k":"two"}`, CreatedAt: now})
	require.Error(t, err)

	record, err := repo.Get(ActiveKeyID)
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, `{"k":"one"}`, record.JWK)
}

func TestKeyRepositoryDeleteIsIdempotent(t *testing.T) {
	repo := newTestKeyRepository(t)

	require.NoError(t, repo.Delete())
	require.NoError(t, repo.Replace(&KeyRecord{KeyID: ActiveKeyID, Generation: "gen-1", JWK: `{}`, CreatedAt: time.Now()}))
	require.NoError(t, repo.Delete())
	require.NoError(t, repo.Delete())

	record, err := repo.Get(ActiveKeyID)
	require.NoError(t, err)
	assert.Nil(t, record)
}
