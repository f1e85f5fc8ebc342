package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a key has no stored value
	ErrNotFound = errors.New("not found")
	// ErrFull is returned when the store refuses a write for lack of space
	ErrFull = errors.New("store full")
)

// Store defines the raw key/value operations the cache layer is built on.
// Values are opaque bytes; the caller owns their encoding and decides
// whether a value is still fresh. ExpiresAt is only used to reclaim space.
type Store interface {
	Get(ctx context.Context, namespace, key string) ([]byte, error)
	Set(ctx context.Context, namespace, key string, value []byte, expiresAt time.Time) error
	Delete(ctx context.Context, namespace, key string) error

	// Clear removes every entry in namespace and returns how many were removed.
	Clear(ctx context.Context, namespace string) (int64, error)
	// PurgeExpired removes entries whose expiresAt is at or before now.
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)

	Close() error
}
