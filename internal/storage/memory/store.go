package memory

import (
	"context"
	"sync"
	"time"

	"linkrescue/internal/storage"
)

type entry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryStore implements storage.Store in process memory.
// A positive capacity bounds the number of entries across all namespaces;
// writes of new keys beyond it fail with storage.ErrFull.
type MemoryStore struct {
	mu       sync.RWMutex
	capacity int
	data     map[string]map[string]entry
}

// New creates a MemoryStore. capacity <= 0 means unbounded.
func New(capacity int) *MemoryStore {
	return &MemoryStore{
		capacity: capacity,
		data:     make(map[string]map[string]entry),
	}
}

func (s *MemoryStore) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.data[namespace][key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

func (s *MemoryStore) Set(ctx context.Context, namespace, key string, value []byte, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ns, ok := s.data[namespace]
	if !ok {
		ns = make(map[string]entry)
		s.data[namespace] = ns
	}
	if _, exists := ns[key]; !exists && s.capacity > 0 && s.lenLocked() >= s.capacity {
		return storage.ErrFull
	}
	v := make([]byte, len(value))
	copy(v, value)
	ns[key] = entry{value: v, expiresAt: expiresAt}
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, namespace, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data[namespace], key)
	return nil
}

func (s *MemoryStore) Clear(ctx context.Context, namespace string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := int64(len(s.data[namespace]))
	delete(s.data, namespace)
	return n, nil
}

func (s *MemoryStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, ns := range s.data {
		for k, e := range ns {
			if !e.expiresAt.IsZero() && !e.expiresAt.After(now) {
				delete(ns, k)
				n++
			}
		}
	}
	return n, nil
}

// Len returns the number of stored entries across all namespaces.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lenLocked()
}

func (s *MemoryStore) lenLocked() int {
	n := 0
	for _, ns := range s.data {
		n += len(ns)
	}
	return n
}

func (s *MemoryStore) Close() error { return nil }
