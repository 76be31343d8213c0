// Package store provides the SQLite-backed persistence for user settings and
// acknowledged event state.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/edumarques81/yoganc/internal/domain/events"
	"github.com/edumarques81/yoganc/internal/infra/vpc"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/rs/zerolog/log"
)

const (
	// CurrentSchemaVersion is the current database schema version.
	CurrentSchemaVersion = "1"

	// DefaultDBPath is the default path for the settings database.
	DefaultDBPath = "data/yoganc.db"
)

var errNotOpen = errors.New("database not open")

// DB is the settings database.
type DB struct {
	mu   sync.RWMutex
	db   *sql.DB
	path string
}

// NewDB creates a new database instance.
func NewDB(path string) *DB {
	if path == "" {
		path = DefaultDBPath
	}
	return &DB{path: path}
}

// Path returns the database file path.
func (d *DB) Path() string { return d.path }

// Open opens the database and initializes the schema.
func (d *DB) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	dir := filepath.Dir(d.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite3", d.path+"?_journal=WAL&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("failed to open settings database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite only supports one writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	d.db = db

	if err := d.initSchema(); err != nil {
		d.db.Close()
		d.db = nil
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	log.Debug().Str("path", d.path).Msg("Settings database opened")
	return nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.db != nil {
		err := d.db.Close()
		d.db = nil
		return err
	}
	return nil
}

func (d *DB) initSchema() error {
	currentVersion := d.getSchemaVersion()

	if currentVersion == "" {
		if err := d.createSchema(); err != nil {
			return err
		}
		return d.setMeta("schema_version", CurrentSchemaVersion)
	}

	if currentVersion != CurrentSchemaVersion {
		log.Info().
			Str("current", currentVersion).
			Str("target", CurrentSchemaVersion).
			Msg("Migrating settings schema")
		return d.setMeta("schema_version", CurrentSchemaVersion)
	}

	return nil
}

func (d *DB) createSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS defaults (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TEXT DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS event_classes (
		class TEXT PRIMARY KEY,
		open INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS events (
		class TEXT NOT NULL,
		code INTEGER NOT NULL,
		acknowledged INTEGER NOT NULL DEFAULT 0,
		payload TEXT,
		PRIMARY KEY (class, code)
	);

	CREATE TABLE IF NOT EXISTS store_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TEXT DEFAULT CURRENT_TIMESTAMP
	);
	`
	_, err := d.db.Exec(schema)
	return err
}

func (d *DB) getSchemaVersion() string {
	var version string
	err := d.db.QueryRow("SELECT value FROM store_meta WHERE key = 'schema_version'").Scan(&version)
	if err != nil {
		return ""
	}
	return version
}

func (d *DB) setMeta(key, value string) error {
	now := time.Now().Format(time.RFC3339)
	_, err := d.db.Exec(`
		INSERT INTO store_meta (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = ?, updated_at = ?
	`, key, value, now, value, now)
	return err
}

// Get returns the value stored under key.
func (d *DB) Get(key string) (vpc.Value, bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.db == nil {
		return vpc.Value{}, false, errNotOpen
	}

	var raw string
	err := d.db.QueryRow("SELECT value FROM defaults WHERE key = ?", key).Scan(&raw)
	if err == sql.ErrNoRows {
		return vpc.Value{}, false, nil
	}
	if err != nil {
		return vpc.Value{}, false, fmt.Errorf("failed to read %s: %w", key, err)
	}

	var v vpc.Value
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return vpc.Value{}, false, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return v, v.IsValid(), nil
}

// Set stores v under key.
func (d *DB) Set(key string, v vpc.Value) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.db == nil {
		return errNotOpen
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	now := time.Now().Format(time.RFC3339)
	_, err = d.db.Exec(`
		INSERT INTO defaults (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = ?, updated_at = ?
	`, key, string(raw), now, string(raw), now)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (d *DB) Delete(key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.db == nil {
		return errNotOpen
	}
	if _, err := d.db.Exec("DELETE FROM defaults WHERE key = ?", key); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// List returns every stored setting.
func (d *DB) List() (map[string]vpc.Value, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.db == nil {
		return nil, errNotOpen
	}

	rows, err := d.db.Query("SELECT key, value FROM defaults ORDER BY key")
	if err != nil {
		return nil, fmt.Errorf("failed to list settings: %w", err)
	}
	defer rows.Close()

	out := make(map[string]vpc.Value)
	for rows.Next() {
		var key, raw string
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, err
		}
		var v vpc.Value
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("Skipping undecodable setting")
			continue
		}
		out[key] = v
	}
	return out, rows.Err()
}

// LoadEvents returns the persisted subscription state of class.
func (d *DB) LoadEvents(class string) (events.State, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	st := events.State{
		Acknowledged: make(map[uint32]bool),
		Known:        make(map[uint32]vpc.Value),
	}
	if d.db == nil {
		return st, errNotOpen
	}

	var open int
	err := d.db.QueryRow("SELECT open FROM event_classes WHERE class = ?", class).Scan(&open)
	if err != nil && err != sql.ErrNoRows {
		return st, fmt.Errorf("failed to read class state: %w", err)
	}
	st.Open = open != 0

	rows, err := d.db.Query("SELECT code, acknowledged, payload FROM events WHERE class = ?", class)
	if err != nil {
		return st, fmt.Errorf("failed to read events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			code    int64
			ack     int
			payload sql.NullString
		)
		if err := rows.Scan(&code, &ack, &payload); err != nil {
			return st, err
		}
		st.Acknowledged[uint32(code)] = ack != 0
		if payload.Valid {
			var v vpc.Value
			if err := json.Unmarshal([]byte(payload.String), &v); err == nil && v.IsValid() {
				st.Known[uint32(code)] = v
			}
		}
	}
	return st, rows.Err()
}

// SaveEvents replaces the persisted subscription state of class.
func (d *DB) SaveEvents(class string, st events.State) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.db == nil {
		return errNotOpen
	}

	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	open := 0
	if st.Open {
		open = 1
	}
	if _, err := tx.Exec(`
		INSERT INTO event_classes (class, open) VALUES (?, ?)
		ON CONFLICT(class) DO UPDATE SET open = ?
	`, class, open, open); err != nil {
		return fmt.Errorf("failed to write class state: %w", err)
	}

	if _, err := tx.Exec("DELETE FROM events WHERE class = ?", class); err != nil {
		return fmt.Errorf("failed to clear events: %w", err)
	}

	stmt, err := tx.Prepare("INSERT INTO events (class, code, acknowledged, payload) VALUES (?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	codes := make(map[uint32]struct{}, len(st.Acknowledged)+len(st.Known))
	for code := range st.Acknowledged {
		codes[code] = struct{}{}
	}
	for code := range st.Known {
		codes[code] = struct{}{}
	}
	for code := range codes {
		ack := 0
		if st.Acknowledged[code] {
			ack = 1
		}
		var payload sql.NullString
		if v, ok := st.Known[code]; ok && v.IsValid() {
			raw, err := json.Marshal(v)
			if err != nil {
				return fmt.Errorf("failed to encode event %#x: %w", code, err)
			}
			payload = sql.NullString{String: string(raw), Valid: true}
		}
		if _, err := stmt.Exec(class, int64(code), ack, payload); err != nil {
			return fmt.Errorf("failed to write event %#x: %w", code, err)
		}
	}

	return tx.Commit()
}
