package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"linkrescue/internal/storage"
)

// SQLiteStore implements the storage.Store interface for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New opens (or creates) the SQLite database file and runs migrations.
func New(ctx context.Context, dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn(dataSourceName))
	if err != nil {
		return nil, fmt.Errorf("unable to open sqlite database: %w", err)
	}
	// One writer keeps modernc from returning SQLITE_BUSY under concurrent probes.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	store := &SQLiteStore{db: db}
	if err := store.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return store, nil
}

func dsn(name string) string {
	if name == ":memory:" {
		return name
	}
	sep := "?"
	if strings.Contains(name, "?") {
		sep = "&"
	}
	return name + sep + "_pragma=journal_mode(WAL)&_pragma=busy_timeout(10000)"
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) migrate(ctx context.Context) error {
	schema := `
CREATE TABLE IF NOT EXISTS cache_entries (
	namespace  TEXT NOT NULL,
	key        TEXT NOT NULL,
	value      BLOB NOT NULL,
	expires_at INTEGER NOT NULL,
	PRIMARY KEY (namespace, key)
);
CREATE INDEX IF NOT EXISTS idx_cache_entries_expires_at ON cache_entries (expires_at);
`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Get returns the stored value or storage.ErrNotFound.
func (s *SQLiteStore) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM cache_entries WHERE namespace = ? AND key = ?`, namespace, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cache entry: %w", err)
	}
	return value, nil
}

// Set upserts a value.
func (s *SQLiteStore) Set(ctx context.Context, namespace, key string, value []byte, expiresAt time.Time) error {
	query := `
INSERT INTO cache_entries (namespace, key, value, expires_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(namespace, key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`
	if _, err := s.db.ExecContext(ctx, query, namespace, key, value, expiresAt.UnixMilli()); err != nil {
		if isFull(err) {
			return fmt.Errorf("%w: %v", storage.ErrFull, err)
		}
		return fmt.Errorf("failed to set cache entry: %w", err)
	}
	return nil
}

// Delete removes a single entry. Deleting a missing key is not an error.
func (s *SQLiteStore) Delete(ctx context.Context, namespace, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE namespace = ? AND key = ?`, namespace, key); err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}

// Clear removes all entries of a namespace.
func (s *SQLiteStore) Clear(ctx context.Context, namespace string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE namespace = ?`, namespace)
	if err != nil {
		return 0, fmt.Errorf("failed to clear namespace %s: %w", namespace, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// PurgeExpired removes entries that expired at or before now.
func (s *SQLiteStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE expires_at <= ?`, now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired entries: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// isFull matches SQLITE_FULL by message; modernc wraps the code in its own error type.
func isFull(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database or disk is full") || strings.Contains(msg, "sqlite_full")
}
