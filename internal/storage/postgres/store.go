package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"linkrescue/internal/storage"
)

// PostgresStore implements the storage.Store interface for PostgreSQL.
// It lets several relay instances share one cache.
type PostgresStore struct {
	db *pgxpool.Pool
}

// New creates a new PostgresStore and establishes a connection to the database.
// It also runs migrations to ensure the schema is up to date.
func New(ctx context.Context, connString string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	store := &PostgresStore{db: pool}
	if err := store.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS cache_entries (
		namespace  TEXT NOT NULL,
		key        TEXT NOT NULL,
		value      BYTEA NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (namespace, key)
	);
	CREATE INDEX IF NOT EXISTS idx_cache_entries_expires_at ON cache_entries (expires_at);
	`
	_, err := s.db.Exec(ctx, schema)
	return err
}

// Get implements the Store interface.
func (s *PostgresStore) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRow(ctx, `SELECT value FROM cache_entries WHERE namespace = $1 AND key = $2`, namespace, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cache entry: %w", err)
	}
	return value, nil
}

// Set implements the Store interface.
func (s *PostgresStore) Set(ctx context.Context, namespace, key string, value []byte, expiresAt time.Time) error {
	query := `
	INSERT INTO cache_entries (namespace, key, value, expires_at)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (namespace, key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at`
	if _, err := s.db.Exec(ctx, query, namespace, key, value, expiresAt.UTC()); err != nil {
		var pgErr *pgconn.PgError
		// 53100 disk_full, 53200 out_of_memory
		if errors.As(err, &pgErr) && (pgErr.Code == "53100" || pgErr.Code == "53200") {
			return fmt.Errorf("%w: %v", storage.ErrFull, err)
		}
		return fmt.Errorf("failed to set cache entry: %w", err)
	}
	return nil
}

// Delete implements the Store interface.
func (s *PostgresStore) Delete(ctx context.Context, namespace, key string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM cache_entries WHERE namespace = $1 AND key = $2`, namespace, key); err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}

// Clear implements the Store interface.
func (s *PostgresStore) Clear(ctx context.Context, namespace string) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM cache_entries WHERE namespace = $1`, namespace)
	if err != nil {
		return 0, fmt.Errorf("failed to clear namespace %s: %w", namespace, err)
	}
	return tag.RowsAffected(), nil
}

// PurgeExpired implements the Store interface.
func (s *PostgresStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM cache_entries WHERE expires_at <= $1`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired entries: %w", err)
	}
	return tag.RowsAffected(), nil
}
