package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a single-process Store used in tests and local development.
type MemoryStore struct {
	mu   sync.Mutex
	keys map[string]time.Time // key -> expiry
	now  func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		keys: make(map[string]time.Time),
		now:  time.Now,
	}
}

func (s *MemoryStore) CheckAndMark(_ context.Context, namespace, key string, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, ErrInvalidKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	full := namespace + key
	if exp, ok := s.keys[full]; ok && s.now().Before(exp) {
		return false, nil
	}
	s.keys[full] = s.now().Add(ttl)
	return true, nil
}

func (s *MemoryStore) Remove(_ context.Context, namespace, key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, namespace+key)
	return nil
}
