package vault

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/yeti47/cryovault/core/ccc/logging"
	"github.com/yeti47/cryovault/core/encryption"
	"github.com/yeti47/cryovault/core/session"
)

// AllowedFileExtensions are the attachment types the server accepts.
var AllowedFileExtensions = []string{".txt", ".csv", ".json", ".pdf", ".zip"}

// Session is the part of session.Manager the vault client needs.
type Session interface {
	Do(ctx context.Context, req session.Request) (*session.Response, error)
	Salt() (string, error)
	SetSalt(salt string) error
}

// Cipher is the part of encryption.VaultCipher the vault client needs.
type Cipher interface {
	EncryptPassword(password string) (*encryption.EncryptedPayload, error)
	DecryptPassword(ciphertext, iv []byte) (string, error)
	EncryptFile(r io.Reader) (*encryption.EncryptedPayload, error)
	DecryptFile(ciphertext, iv []byte, name string) (*encryption.FileContent, error)
}

// Client performs vault operations against the server. Secrets are encrypted before
// they are dispatched and only ever leave the device as ciphertext.
type Client struct {
	logger  logging.Logger
	session Session
	cipher  Cipher
}

func NewClient(logger logging.Logger, session Session, cipher Cipher) *Client {
	return &Client{
		logger:  logging.OrNop(logger),
		session: session,
		cipher:  cipher,
	}
}

// Salt returns the user's key derivation salt, fetching it from the server when it is
// not cached yet.
func (c *Client) Salt(ctx context.Context) (string, error) {
	salt, err := c.session.Salt()
	if err != nil {
		return "", err
	}
	if salt != "" {
		return salt, nil
	}

	resp, err := c.session.Do(ctx, session.Request{Method: http.MethodGet, Path: "/api/salt"})
	if err != nil {
		return "", fmt.Errorf("failed to fetch salt: %w", err)
	}
	var payload saltResponse
	if err := resp.Decode(&payload); err != nil {
		return "", err
	}
	if payload.Salt == "" {
		return "", fmt.Errorf("server returned an empty salt")
	}

	if err := c.session.SetSalt(payload.Salt); err != nil {
		return "", fmt.Errorf("failed to cache salt: %w", err)
	}
	return payload.Salt, nil
}

func (c *Client) sealEntry(id int64, credentials Credentials) (entryRequest, error) {
	payload, err := c.cipher.EncryptPassword(credentials.Password)
	if err != nil {
		return entryRequest{}, err
	}
	return entryRequest{
		ID:       id,
		Name:     credentials.Name,
		Username: credentials.Username,
		Password: payload.Ciphertext,
		IV:       payload.IV,
	}, nil
}

// Add creates an entry and returns its server id.
func (c *Client) Add(ctx context.Context, credentials Credentials) (int64, error) {
	body, err := c.sealEntry(0, credentials)
	if err != nil {
		return 0, err
	}

	resp, err := c.session.Do(ctx, session.Request{Method: http.MethodPost, Path: "/api/vault/add", Body: body})
	if err != nil {
		return 0, fmt.Errorf("failed to add entry: %w", err)
	}
	var created createdResponse
	if err := resp.Decode(&created); err != nil {
		return 0, err
	}

	c.logger.Info("Vault entry added", "entry_id", created.ID)
	return created.ID, nil
}

// AddBatch creates several entries in one request. Entries the server refuses are
// reported in a BatchError; the others are stored.
func (c *Client) AddBatch(ctx context.Context, entries []Credentials) error {
	if len(entries) == 0 {
		return nil
	}

	request := batchRequest{Entries: make([]entryRequest, 0, len(entries))}
	for _, credentials := range entries {
		sealed, err := c.sealEntry(0, credentials)
		if err != nil {
			return fmt.Errorf("failed to encrypt entry %q: %w", credentials.Name, err)
		}
		request.Entries = append(request.Entries, sealed)
	}

	_, err := c.session.Do(ctx, session.Request{Method: http.MethodPost, Path: "/api/vault/add-batch", Body: request})
	if err != nil {
		if serverErr, ok := session.AsServerError(err); ok && serverErr.StatusCode == http.StatusBadRequest {
			var payload batchResponse
			if json.Unmarshal(serverErr.Body, &payload) == nil && len(payload.Errors) > 0 {
				c.logger.Warn("Batch import partially failed", "failed", len(payload.Errors), "total", len(entries))
				return &BatchError{Failures: payload.Errors}
			}
		}
		return fmt.Errorf("failed to import entries: %w", err)
	}

	c.logger.Info("Vault entries imported", "count", len(entries))
	return nil
}

// Edit replaces the content of entry id.
func (c *Client) Edit(ctx context.Context, id int64, credentials Credentials) error {
	body, err := c.sealEntry(id, credentials)
	if err != nil {
		return err
	}

	if _, err := c.session.Do(ctx, session.Request{Method: http.MethodPost, Path: "/api/vault/edit", Body: body}); err != nil {
		return fmt.Errorf("failed to edit entry %d: %w", id, err)
	}
	return nil
}

func (c *Client) Delete(ctx context.Context, id int64) error {
	if _, err := c.session.Do(ctx, session.Request{Method: http.MethodPost, Path: "/api/vault/delete", Body: idRequest{ID: id}}); err != nil {
		return fmt.Errorf("failed to delete entry %d: %w", id, err)
	}
	c.logger.Info("Vault entry deleted", "entry_id", id)
	return nil
}

// Retrieve lists the user's entries with their ciphertext.
func (c *Client) Retrieve(ctx context.Context) ([]Entry, error) {
	resp, err := c.session.Do(ctx, session.Request{Method: http.MethodGet, Path: "/api/vault/retrieve"})
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve entries: %w", err)
	}
	var entries []Entry
	if err := resp.Decode(&entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// RetrieveDecrypted lists the user's entries with their passwords opened. An entry
// that fails to decrypt carries the error in DecryptedEntry.Err.
func (c *Client) RetrieveDecrypted(ctx context.Context) ([]DecryptedEntry, error) {
	entries, err := c.Retrieve(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]DecryptedEntry, 0, len(entries))
	failed := 0
	for _, entry := range entries {
		decrypted := DecryptedEntry{
			ID:       entry.ID,
			Name:     entry.Name,
			Username: entry.Username,
			Files:    entry.Files,
		}
		password, err := c.cipher.DecryptPassword(entry.Password, entry.IV)
		if err != nil {
			if encryption.IsKeyUnavailableError(err) {
				return nil, err
			}
			decrypted.Err = err
			failed++
		} else {
			decrypted.Password = password
		}
		result = append(result, decrypted)
	}

	if failed > 0 {
		c.logger.Warn("Some vault entries could not be decrypted", "failed", failed, "total", len(entries))
	}
	return result, nil
}

// AddFile encrypts the content of r and attaches it to entry entryID.
func (c *Client) AddFile(ctx context.Context, entryID int64, name string, r io.Reader) (int64, error) {
	if err := validateFileName(name); err != nil {
		return 0, err
	}

	payload, err := c.cipher.EncryptFile(r)
	if err != nil {
		return 0, fmt.Errorf("failed to encrypt file %q: %w", name, err)
	}

	body := fileRequest{EntryID: entryID, Name: name, File: payload.Ciphertext, IV: payload.IV}
	resp, err := c.session.Do(ctx, session.Request{Method: http.MethodPost, Path: "/api/vault/files/add", Body: body})
	if err != nil {
		return 0, fmt.Errorf("failed to upload file %q: %w", name, err)
	}
	var created createdResponse
	if err := resp.Decode(&created); err != nil {
		return 0, err
	}

	c.logger.Info("File attached", "entry_id", entryID, "file_id", created.ID, "bytes", len(payload.Ciphertext))
	return created.ID, nil
}

func (c *Client) DeleteFile(ctx context.Context, fileID int64) error {
	if _, err := c.session.Do(ctx, session.Request{Method: http.MethodPost, Path: "/api/vault/files/delete", Body: idRequest{ID: fileID}}); err != nil {
		return fmt.Errorf("failed to delete file %d: %w", fileID, err)
	}
	return nil
}

// DecryptFile opens an attachment returned by Retrieve.
func (c *Client) DecryptFile(file File) (*encryption.FileContent, error) {
	return c.cipher.DecryptFile(file.Data, file.IV, file.Name)
}

func validateFileName(name string) error {
	if strings.TrimSpace(name) == "" {
		return NewInvalidFileError(name, "file name is empty")
	}
	ext := filepath.Ext(name)
	for _, allowed := range AllowedFileExtensions {
		if ext == allowed {
			return nil
		}
	}
	return NewInvalidFileError(name, fmt.Sprintf("extension %q is not one of %s", ext, strings.Join(AllowedFileExtensions, " ")))
}
