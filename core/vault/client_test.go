package vault

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yeti47/cryovault/core/ccc/db"
	"github.com/yeti47/cryovault/core/encryption"
	"github.com/yeti47/cryovault/core/session"
)

const testAccessToken = "access-1"

// fakeVault keeps entries in memory and speaks the vault API wire format.
type fakeVault struct {
	mu        sync.Mutex
	nextID    int64
	entries   map[int64]*Entry
	saltCalls int
	rawBodies []string
}

func newFakeVault(t *testing.T) (*fakeVault, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	vault := &fakeVault{nextID: 1, entries: map[int64]*Entry{}}

	router := gin.New()
	api := router.Group("/api", func(c *gin.Context) {
		if c.GetHeader("Authorization") != "Bearer "+testAccessToken {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Given token not valid for any token type"})
			return
		}
		body, _ := c.GetRawData()
		if len(body) > 0 {
			vault.mu.Lock()
			vault.rawBodies = append(vault.rawBodies, string(body))
			vault.mu.Unlock()
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))
		c.Next()
	})

	api.GET("/salt", func(c *gin.Context) {
		vault.mu.Lock()
		vault.saltCalls++
		vault.mu.Unlock()
		c.JSON(http.StatusOK, gin.H{"salt": "abcd1234"})
	})
	api.POST("/vault/add", func(c *gin.Context) {
		var req entryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": "Entry creation failed"})
			return
		}
		vault.mu.Lock()
		defer vault.mu.Unlock()
		for _, e := range vault.entries {
			if e.Name == req.Name {
				c.JSON(http.StatusBadRequest, gin.H{"message": "Entry with the same name already exists"})
				return
			}
		}
		id := vault.create(req)
		c.JSON(http.StatusOK, gin.H{"message": "Entry created", "id": id})
	})
	api.POST("/vault/add-batch", func(c *gin.Context) {
		var req batchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": "Failed to create entries"})
			return
		}
		vault.mu.Lock()
		defer vault.mu.Unlock()
		var failures []gin.H
	entries:
		for _, entry := range req.Entries {
			for _, existing := range vault.entries {
				if existing.Name == entry.Name {
					failures = append(failures, gin.H{"name": entry.Name, "message": "Entry with the same name already exists"})
					continue entries
				}
			}
			vault.create(entry)
		}
		if len(failures) > 0 {
			c.JSON(http.StatusBadRequest, gin.H{"message": "Failed to create entries", "errors": failures})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Success"})
	})
	api.POST("/vault/edit", func(c *gin.Context) {
		var req entryRequest
		_ = c.ShouldBindJSON(&req)
		vault.mu.Lock()
		defer vault.mu.Unlock()
		entry, ok := vault.entries[req.ID]
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"message": "Failed to edit entry"})
			return
		}
		entry.Name, entry.Username, entry.Password, entry.IV = req.Name, req.Username, req.Password, req.IV
		c.JSON(http.StatusOK, gin.H{"message": "Entry edited"})
	})
	api.POST("/vault/delete", func(c *gin.Context) {
		var req idRequest
		_ = c.ShouldBindJSON(&req)
		vault.mu.Lock()
		defer vault.mu.Unlock()
		if _, ok := vault.entries[req.ID]; !ok {
			c.JSON(http.StatusBadRequest, gin.H{"message": "Failed to delete entry"})
			return
		}
		delete(vault.entries, req.ID)
		c.JSON(http.StatusOK, gin.H{"message": "Entry deleted"})
	})
	api.GET("/vault/retrieve", func(c *gin.Context) {
		vault.mu.Lock()
		defer vault.mu.Unlock()
		entries := make([]Entry, 0, len(vault.entries))
		for id := int64(1); id < vault.nextID; id++ {
			if e, ok := vault.entries[id]; ok {
				entries = append(entries, *e)
			}
		}
		c.JSON(http.StatusOK, entries)
	})
	api.POST("/vault/files/add", func(c *gin.Context) {
		var req fileRequest
		_ = c.ShouldBindJSON(&req)
		vault.mu.Lock()
		defer vault.mu.Unlock()
		entry, ok := vault.entries[req.EntryID]
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"message": "Failed to upload file"})
			return
		}
		id := vault.nextID
		vault.nextID++
		entry.Files = append(entry.Files, File{ID: id, Name: req.Name, Data: req.File, IV: req.IV})
		c.JSON(http.StatusOK, gin.H{"message": "File uploaded", "id": id})
	})
	api.POST("/vault/files/delete", func(c *gin.Context) {
		var req idRequest
		_ = c.ShouldBindJSON(&req)
		vault.mu.Lock()
		defer vault.mu.Unlock()
		for _, entry := range vault.entries {
			for i, f := range entry.Files {
				if f.ID == req.ID {
					entry.Files = append(entry.Files[:i], entry.Files[i+1:]...)
					c.JSON(http.StatusOK, gin.H{"message": "File deleted"})
					return
				}
			}
		}
		c.JSON(http.StatusBadRequest, gin.H{"message": "Failed to delete file"})
	})

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return vault, server
}

// create must be called with mu held.
func (v *fakeVault) create(req entryRequest) int64 {
	id := v.nextID
	v.nextID++
	v.entries[id] = &Entry{ID: id, Name: req.Name, Username: req.Username, Password: req.Password, IV: req.IV}
	return id
}

func newTestSession(t *testing.T, serverURL string) *session.Manager {
	t.Helper()
	conn, err := db.NewInMemoryDB()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	keys := &session.DeviceKeys{
		HashKey:  bytes.Repeat([]byte{1}, 32),
		BlockKey: bytes.Repeat([]byte{2}, 32),
	}
	jar, err := session.NewSQLiteJar(nil, conn, serverURL, keys)
	require.NoError(t, err)

	manager := session.NewManager(nil, jar, serverURL)
	require.NoError(t, manager.Establish(session.Credential{AccessToken: testAccessToken, RefreshToken: "refresh-1"}))
	return manager
}

func newTestCipher(t *testing.T, masterPassword string) *encryption.VaultCipher {
	t.Helper()
	conn, err := db.NewInMemoryDB()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	repo, err := encryption.NewSQLiteKeyRepository(conn)
	require.NoError(t, err)
	custodian := encryption.NewCustodian(nil, repo)

	key, err := encryption.DeriveKey(masterPassword, "abcd1234")
	require.NoError(t, err)
	require.NoError(t, custodian.Store(key))

	return encryption.NewVaultCipher(nil, custodian, nil)
}

func newTestClient(t *testing.T) (*Client, *fakeVault) {
	t.Helper()
	fake, server := newFakeVault(t)
	return NewClient(nil, newTestSession(t, server.URL), newTestCipher(t, "correct horse battery staple")), fake
}

func TestClientAddAndRetrieveDecrypted(t *testing.T) {
	client, fake := newTestClient(t)
	ctx := context.Background()

	id, err := client.Add(ctx, Credentials{Name: "github", Username: "alice", Password: "hunter2"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	require.Len(t, fake.rawBodies, 1)
	assert.NotContains(t, fake.rawBodies[0], "hunter2")
	assert.Contains(t, fake.rawBodies[0], `"iv":{"0":`)

	stored := fake.entries[id]
	assert.Len(t, stored.IV, encryption.IVLength)

	entries, err := client.RetrieveDecrypted(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "github", entries[0].Name)
	assert.Equal(t, "alice", entries[0].Username)
	assert.Equal(t, "hunter2", entries[0].Password)
	assert.NoError(t, entries[0].Err)
}

func TestClientRetrieveDecryptedReportsPerItemFailures(t *testing.T) {
	client, fake := newTestClient(t)
	ctx := context.Background()

	_, err := client.Add(ctx, Credentials{Name: "github", Username: "alice", Password: "hunter2"})
	require.NoError(t, err)

	foreign := NewClient(nil, client.session, newTestCipher(t, "someone else"))
	_, err = foreign.Add(ctx, Credentials{Name: "gitlab", Username: "bob", Password: "swordfish"})
	require.NoError(t, err)
	require.Len(t, fake.entries, 2)

	entries, err := client.RetrieveDecrypted(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "hunter2", entries[0].Password)
	assert.NoError(t, entries[0].Err)

	assert.Empty(t, entries[1].Password)
	assert.Equal(t, "gitlab", entries[1].Name)
	assert.True(t, encryption.IsDecryptionFailedError(entries[1].Err), "got %v", entries[1].Err)
}

func TestClientEditAndDelete(t *testing.T) {
	client, fake := newTestClient(t)
	ctx := context.Background()

	id, err := client.Add(ctx, Credentials{Name: "github", Username: "alice", Password: "hunter2"})
	require.NoError(t, err)
	before := append(Bytes(nil), fake.entries[id].IV...)

	require.NoError(t, client.Edit(ctx, id, Credentials{Name: "github", Username: "alice", Password: "new password"}))
	assert.NotEqual(t, before, fake.entries[id].IV, "every encryption uses a fresh IV")

	entries, err := client.RetrieveDecrypted(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "new password", entries[0].Password)

	require.NoError(t, client.Delete(ctx, id))
	assert.Empty(t, fake.entries)

	err = client.Delete(ctx, id)
	serverErr, ok := session.AsServerError(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, "Failed to delete entry", serverErr.Message)
}

func TestClientAddBatchReportsFailures(t *testing.T) {
	client, fake := newTestClient(t)
	ctx := context.Background()

	_, err := client.Add(ctx, Credentials{Name: "github", Username: "alice", Password: "hunter2"})
	require.NoError(t, err)

	err = client.AddBatch(ctx, []Credentials{
		{Name: "github", Username: "alice", Password: "dup"},
		{Name: "mail", Username: "alice@example.com", Password: "pw"},
	})
	batchErr, ok := AsBatchError(err)
	require.True(t, ok, "got %v", err)
	require.Len(t, batchErr.Failures, 1)
	assert.Equal(t, "github", batchErr.Failures[0].Name)
	assert.Equal(t, "Entry with the same name already exists", batchErr.Failures[0].Message)

	assert.Len(t, fake.entries, 2)

	require.NoError(t, client.AddBatch(ctx, []Credentials{{Name: "bank", Username: "a", Password: "b"}}))
	require.NoError(t, client.AddBatch(ctx, nil))
	assert.Len(t, fake.entries, 3)
}

func TestClientFiles(t *testing.T) {
	client, fake := newTestClient(t)
	ctx := context.Background()

	entryID, err := client.Add(ctx, Credentials{Name: "github", Username: "alice", Password: "hunter2"})
	require.NoError(t, err)

	fileID, err := client.AddFile(ctx, entryID, "recovery-codes.txt", strings.NewReader("1111 2222 3333"))
	require.NoError(t, err)
	require.Len(t, fake.entries[entryID].Files, 1)
	assert.NotContains(t, string(fake.entries[entryID].Files[0].Data), "1111")

	entries, err := client.Retrieve(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Len(t, entries[0].Files, 1)

	content, err := client.DecryptFile(entries[0].Files[0])
	require.NoError(t, err)
	assert.Equal(t, "recovery-codes.txt", content.Name)
	assert.Equal(t, "1111 2222 3333", string(content.Data))

	require.NoError(t, client.DeleteFile(ctx, fileID))
	assert.Empty(t, fake.entries[entryID].Files)
}

func TestClientAddFileRejectsInvalidFiles(t *testing.T) {
	client, fake := newTestClient(t)
	ctx := context.Background()

	for _, name := range []string{"payload.exe", "archive.tar.gz", "", "NOTES.TXT"} {
		_, err := client.AddFile(ctx, 1, name, strings.NewReader("data"))
		assert.True(t, IsInvalidFileError(err), "%q: got %v", name, err)
	}

	_, err := client.AddFile(ctx, 1, "big.zip", bytes.NewReader(make([]byte, encryption.MaxPlaintextFileSize+1)))
	assert.True(t, encryption.IsFileTooLargeError(err), "got %v", err)

	assert.Empty(t, fake.rawBodies, "rejected files never reach the server")
}

func TestClientSaltIsFetchedOnce(t *testing.T) {
	client, fake := newTestClient(t)
	ctx := context.Background()

	salt, err := client.Salt(ctx)
	require.NoError(t, err)
	assert.Equal(t, "abcd1234", salt)

	salt, err = client.Salt(ctx)
	require.NoError(t, err)
	assert.Equal(t, "abcd1234", salt)
	assert.Equal(t, 1, fake.saltCalls)
}

func TestClientWithoutKeyFailsBeforeDispatch(t *testing.T) {
	fake, server := newFakeVault(t)

	conn, err := db.NewInMemoryDB()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	repo, err := encryption.NewSQLiteKeyRepository(conn)
	require.NoError(t, err)
	cipher := encryption.NewVaultCipher(nil, encryption.NewCustodian(nil, repo), nil)

	client := NewClient(nil, newTestSession(t, server.URL), cipher)
	_, err = client.Add(context.Background(), Credentials{Name: "github", Username: "alice", Password: "hunter2"})
	assert.True(t, encryption.IsKeyUnavailableError(err), "got %v", err)
	assert.Empty(t, fake.rawBodies)
}
