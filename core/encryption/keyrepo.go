package encryption

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/yeti47/cryovault/core/ccc/db"
)

// KeyRecord is the persisted form of a DerivedKey.
type KeyRecord struct {
	KeyID      string    // Fixed logical identifier, see ActiveKeyID
	Generation string    // Unique per stored key; distinguishes successive keys under the same KeyID
	JWK        string    // JSON encoded JSONWebKey
	CreatedAt  time.Time // Timestamp when this generation was stored
}

type KeyRepository interface {
	// Replace persists record and removes every other generation in one step
	Replace(record *KeyRecord) error
	// Get returns the newest record for keyID, or nil if none exists
	Get(keyID string) (*KeyRecord, error)
	// Delete removes the whole keyspace. Deleting an empty keyspace is not an error
	Delete() error
}

// SQLiteKeyRepository implements KeyRepository using SQLite
type SQLiteKeyRepository struct {
	db *sql.DB
}

// NewSQLiteKeyRepository creates a new SQLite-based KeyRepository
func NewSQLiteKeyRepository(db *sql.DB) (*SQLiteKeyRepository, error) {
	repo := &SQLiteKeyRepository{db: db}
	if err := repo.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return repo, nil
}

func (r *SQLiteKeyRepository) createTables() error {
	createKeyTable := `
	CREATE TABLE IF NOT EXISTS encryption_keys (
		generation TEXT PRIMARY KEY,
		key_id TEXT NOT NULL,
		jwk TEXT NOT NULL,
		created_at TEXT NOT NULL
	);`

	_, err := r.db.Exec(createKeyTable)
	return err
}

// Replace writes the new generation before deleting the old ones, inside a single
// transaction, so an interrupted replace leaves the previous key in place.
func (r *SQLiteKeyRepository) Replace(record *KeyRecord) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin key replace: %w", err)
	}
	defer tx.Rollback()

	insert := `
	INSERT INTO encryption_keys (generation, key_id, jwk, created_at)
	VALUES (?, ?, ?, ?)`
	if _, err := tx.Exec(insert, record.Generation, record.KeyID, record.JWK, db.TimeToString(record.CreatedAt)); err != nil {
		return fmt.Errorf("failed to insert key: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM encryption_keys WHERE generation <> ?`, record.Generation); err != nil {
		return fmt.Errorf("failed to delete previous keys: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit key replace: %w", err)
	}
	return nil
}

func (r *SQLiteKeyRepository) Get(keyID string) (*KeyRecord, error) {
	query := `
	SELECT generation, key_id, jwk, created_at
	FROM encryption_keys
	WHERE key_id = ?
	ORDER BY created_at DESC
	LIMIT 1`

	record := &KeyRecord{}
	var createdAtStr string
	err := r.db.QueryRow(query, keyID).Scan(&record.Generation, &record.KeyID, &record.JWK, &createdAtStr)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get key: %w", err)
	}

	record.CreatedAt, err = db.StringToTime(createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at timestamp: %w", err)
	}

	return record, nil
}

func (r *SQLiteKeyRepository) Delete() error {
	if _, err := r.db.Exec(`DELETE FROM encryption_keys`); err != nil {
		return fmt.Errorf("failed to delete keys: %w", err)
	}
	return nil
}

// count is used by tests to check the single-record invariant.
func (r *SQLiteKeyRepository) count() (int, error) {
	var n int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM encryption_keys`).Scan(&n)
	return n, err
}
