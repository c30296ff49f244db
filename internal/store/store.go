package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// StorageError wraps low level storage engine failures (disk full,
// corruption, locked database) so callers can tell them apart from
// domain errors such as a missing plan.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage [%s]: %s", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func NewStorageError(op string, err error) *StorageError {
	return &StorageError{Op: op, Err: err}
}

// AsStorageError reports whether err carries a StorageError anywhere
// in its chain.
func AsStorageError(err error) bool {
	var storageErr *StorageError
	return errors.As(err, &storageErr)
}

// DB is the embedded entity store. All repositories share one instance,
// it is the only process wide mutable resource.
type DB struct {
	*sql.DB
	path string
}

// Open opens (or creates) the sqlite database at dbPath, configures the
// pragmas and runs all pending schema migrations.
func Open(ctx context.Context, dbPath string) (*DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := os.Chmod(dbPath, 0600); err != nil && !os.IsNotExist(err) {
		_ = db.Close()
		return nil, fmt.Errorf("set database permissions: %w", err)
	}

	d := &DB{DB: db, path: dbPath}

	if err := d.configurePragmas(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("configure pragmas: %w", err)
	}

	if err := d.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return d, nil
}

func (d *DB) Path() string {
	return d.path
}

func (d *DB) Close() error {
	if d.DB != nil {
		return d.DB.Close()
	}
	return nil
}

func (d *DB) configurePragmas(ctx context.Context) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := d.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}
	return nil
}

// GetMeta returns the value stored under key, or sql.ErrNoRows when absent.
func (d *DB) GetMeta(ctx context.Context, key string) (string, error) {
	var value string
	err := d.
		QueryRowContext(ctx, "SELECT value FROM meta WHERE key = ?", key).
		Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", err
		}
		return "", NewStorageError("meta.get", err)
	}
	return value, nil
}

// SetMeta inserts or replaces the value stored under key.
func (d *DB) SetMeta(ctx context.Context, key, value string) error {
	_, err := d.ExecContext(ctx,
		"INSERT INTO meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value,
	)
	if err != nil {
		return NewStorageError("meta.set", err)
	}
	return nil
}

// DeleteMeta removes key from the meta table, a no-op when absent.
func (d *DB) DeleteMeta(ctx context.Context, key string) error {
	if _, err := d.ExecContext(ctx, "DELETE FROM meta WHERE key = ?", key); err != nil {
		return NewStorageError("meta.delete", err)
	}
	return nil
}
