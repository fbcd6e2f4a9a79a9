package cache

import (
	"context"
	"sync"
	"time"

	"github.com/erp/nfse-bridge/internal/domain/integration"
)

// InMemoryNonceStore implements NonceStore with a time-indexed map.
// Expired entries are pruned on every access, so no background goroutine
// is needed. Suitable for single-instance deployments and testing.
type InMemoryNonceStore struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

// NewInMemoryNonceStore creates a new in-memory nonce store
func NewInMemoryNonceStore() *InMemoryNonceStore {
	return &InMemoryNonceStore{
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

// Add records a nonce that stays valid for ttl
func (s *InMemoryNonceStore) Add(ctx context.Context, nonce string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.pruneLocked(now)
	s.entries[nonce] = now.Add(ttl)
	return nil
}

// Consume removes the nonce and reports whether it was present and unexpired
func (s *InMemoryNonceStore) Consume(ctx context.Context, nonce string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked(s.now())
	if _, ok := s.entries[nonce]; !ok {
		return false, nil
	}
	delete(s.entries, nonce)
	return true, nil
}

// Size returns the number of live entries (for testing/monitoring)
func (s *InMemoryNonceStore) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked(s.now())
	return len(s.entries)
}

func (s *InMemoryNonceStore) pruneLocked(now time.Time) {
	for nonce, expiresAt := range s.entries {
		if !now.Before(expiresAt) {
			delete(s.entries, nonce)
		}
	}
}

// Ensure InMemoryNonceStore implements NonceStore
var _ integration.NonceStore = (*InMemoryNonceStore)(nil)
