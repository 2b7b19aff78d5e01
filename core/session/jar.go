package session

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/gorilla/securecookie"
	_ "github.com/mattn/go-sqlite3"

	"github.com/yeti47/cryovault/core/ccc/db"
	"github.com/yeti47/cryovault/core/ccc/logging"
)

// Names of the values kept in the jar.
const (
	AccessTokenName  = "access_token"
	RefreshTokenName = "refresh_token"
	SaltName         = "salt"
	UsernameName     = "username"
)

// Jar persists session values on the device.
type Jar interface {
	// Get returns the value stored under name, or "" if there is none
	Get(name string) (string, error)
	// Set stores value under name, replacing any previous value
	Set(name, value string) error
	// Remove deletes the given names. Missing names are ignored
	Remove(names ...string) error
}

// SQLiteJar stores sealed session values in SQLite. Values are authenticated and
// encrypted with securecookie, and the seal is bound to the server origin: values
// written for one origin do not decode for another.
type SQLiteJar struct {
	logger logging.Logger
	db     *sql.DB
	codec  *securecookie.SecureCookie
	origin string
}

func NewSQLiteJar(logger logging.Logger, db *sql.DB, origin string, keys *DeviceKeys) (*SQLiteJar, error) {
	if keys == nil {
		return nil, fmt.Errorf("device keys are required")
	}

	codec := securecookie.New(keys.HashKey, keys.BlockKey)
	// refresh tokens outlive securecookie's default max age; expiry is the server's call
	codec.MaxAge(0)
	codec.MaxLength(0)

	jar := &SQLiteJar{
		logger: logging.OrNop(logger),
		db:     db,
		codec:  codec,
		origin: origin,
	}
	if err := jar.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return jar, nil
}

func (j *SQLiteJar) createTables() error {
	createValuesTable := `
	CREATE TABLE IF NOT EXISTS session_values (
		name TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);`

	_, err := j.db.Exec(createValuesTable)
	return err
}

func (j *SQLiteJar) scopedName(name string) string {
	return j.origin + "#" + name
}

func (j *SQLiteJar) Get(name string) (string, error) {
	var sealed string
	err := j.db.QueryRow(`SELECT value FROM session_values WHERE name = ?`, name).Scan(&sealed)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", fmt.Errorf("failed to read session value %s: %w", name, err)
	}

	var value string
	if err := j.codec.Decode(j.scopedName(name), sealed, &value); err != nil {
		// like a browser dropping a cookie it cannot verify
		j.logger.Warn("Discarding unreadable session value", "name", name, "error", err)
		return "", nil
	}
	return value, nil
}

func (j *SQLiteJar) Set(name, value string) error {
	sealed, err := j.codec.Encode(j.scopedName(name), value)
	if err != nil {
		return fmt.Errorf("failed to seal session value %s: %w", name, err)
	}

	query := `
	INSERT INTO session_values (name, value, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`
	if _, err := j.db.Exec(query, name, sealed, db.TimeToString(time.Now().UTC())); err != nil {
		return fmt.Errorf("failed to store session value %s: %w", name, err)
	}
	return nil
}

func (j *SQLiteJar) Remove(names ...string) error {
	for _, name := range names {
		if _, err := j.db.Exec(`DELETE FROM session_values WHERE name = ?`, name); err != nil {
			return fmt.Errorf("failed to remove session value %s: %w", name, err)
		}
	}
	return nil
}
