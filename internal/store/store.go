package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned by Get when no value has been stored under a key
var ErrNotFound = errors.New("no value stored under key")

const schema = `
CREATE TABLE IF NOT EXISTS kv (
  key TEXT NOT NULL PRIMARY KEY,
  value TEXT NOT NULL,
  updated_at TEXT NOT NULL
);
`

// DB is a small embedded store holding the co-pilot's durable state: scalar
// config values, per-capability enabled flags, the reward-id cache, and the
// serialized music deck
type DB struct {
	db *sql.DB
}

func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database at %s: %w", path, err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=wal;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &DB{db: db}, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

// Get returns the string value stored under key, or ErrNotFound
func (d *DB) Get(ctx context.Context, key string) (string, error) {
	var value string
	row := d.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key)
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	return value, nil
}

// GetOrDefault returns the value stored under key, or fallback if no value is
// stored
func (d *DB) GetOrDefault(ctx context.Context, key string, fallback string) (string, error) {
	value, err := d.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return fallback, nil
	}
	return value, err
}

// Set stores value under key, overwriting any previous value
func (d *DB) Set(ctx context.Context, key string, value string) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().UTC().Format(time.RFC3339Nano))
	return err
}

// Delete removes the value stored under key, if any
func (d *DB) Delete(ctx context.Context, key string) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key)
	return err
}

// GetBool interprets the value stored under key as a boolean flag, returning
// fallback if the key is unset
func (d *DB) GetBool(ctx context.Context, key string, fallback bool) (bool, error) {
	value, err := d.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return fallback, nil
	}
	if err != nil {
		return false, err
	}
	return value == "1" || value == "true", nil
}

// SetBool stores a boolean flag under key
func (d *DB) SetBool(ctx context.Context, key string, value bool) error {
	s := "0"
	if value {
		s = "1"
	}
	return d.Set(ctx, key, s)
}
