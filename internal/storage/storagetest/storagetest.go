// Package storagetest holds the behaviour every storage.Store must share.
package storagetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"linkrescue/internal/storage"
)

// Run exercises a fresh store returned by newStore.
func Run(t *testing.T, newStore func(t *testing.T) storage.Store) {
	t.Helper()
	ctx := context.Background()
	future := time.Now().Add(time.Hour)

	t.Run("missing key", func(t *testing.T) {
		s := newStore(t)
		if _, err := s.Get(ctx, "liveness", "nope"); !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("set then get", func(t *testing.T) {
		s := newStore(t)
		if err := s.Set(ctx, "liveness", "k", []byte(`{"a":1}`), future); err != nil {
			t.Fatalf("set: %v", err)
		}
		got, err := s.Get(ctx, "liveness", "k")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if string(got) != `{"a":1}` {
			t.Errorf("got %q", got)
		}
	})

	t.Run("overwrite", func(t *testing.T) {
		s := newStore(t)
		_ = s.Set(ctx, "archive", "k", []byte("one"), future)
		if err := s.Set(ctx, "archive", "k", []byte("two"), future); err != nil {
			t.Fatalf("overwrite: %v", err)
		}
		got, _ := s.Get(ctx, "archive", "k")
		if string(got) != "two" {
			t.Errorf("got %q, want two", got)
		}
	})

	t.Run("namespaces are independent", func(t *testing.T) {
		s := newStore(t)
		_ = s.Set(ctx, "liveness", "k", []byte("L"), future)
		_ = s.Set(ctx, "archive", "k", []byte("A"), future)
		l, _ := s.Get(ctx, "liveness", "k")
		a, _ := s.Get(ctx, "archive", "k")
		if string(l) != "L" || string(a) != "A" {
			t.Errorf("liveness=%q archive=%q", l, a)
		}

		n, err := s.Clear(ctx, "liveness")
		if err != nil {
			t.Fatalf("clear: %v", err)
		}
		if n != 1 {
			t.Errorf("cleared %d, want 1", n)
		}
		if _, err := s.Get(ctx, "liveness", "k"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("liveness entry survived clear: %v", err)
		}
		if _, err := s.Get(ctx, "archive", "k"); err != nil {
			t.Errorf("archive entry lost: %v", err)
		}
	})

	t.Run("delete", func(t *testing.T) {
		s := newStore(t)
		_ = s.Set(ctx, "liveness", "k", []byte("x"), future)
		if err := s.Delete(ctx, "liveness", "k"); err != nil {
			t.Fatalf("delete: %v", err)
		}
		if _, err := s.Get(ctx, "liveness", "k"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got %v", err)
		}
		if err := s.Delete(ctx, "liveness", "k"); err != nil {
			t.Errorf("deleting a missing key should not fail: %v", err)
		}
	})

	t.Run("purge expired", func(t *testing.T) {
		s := newStore(t)
		now := time.Now()
		_ = s.Set(ctx, "liveness", "old", []byte("x"), now.Add(-time.Minute))
		_ = s.Set(ctx, "archive", "edge", []byte("x"), now)
		_ = s.Set(ctx, "archive", "fresh", []byte("x"), now.Add(time.Minute))

		n, err := s.PurgeExpired(ctx, now)
		if err != nil {
			t.Fatalf("purge: %v", err)
		}
		if n != 2 {
			t.Errorf("purged %d, want 2", n)
		}
		if _, err := s.Get(ctx, "archive", "fresh"); err != nil {
			t.Errorf("fresh entry purged: %v", err)
		}
	})
}
