package cache

import (
	"context"
	"sync"
	"time"
)

// ExpiryStore is the secondary key-value store for product expiry dates,
// used when the backing products table has no expiry column.
type ExpiryStore interface {
	Get(ctx context.Context, sku string) (*time.Time, bool, error)
	Set(ctx context.Context, sku string, expiry time.Time) error
	Delete(ctx context.Context, sku string) error
}

// MemoryExpiryStore keeps expiry dates in process memory. It is the default
// fallback when no Redis address is configured.
type MemoryExpiryStore struct {
	mu      sync.RWMutex
	entries map[string]time.Time
}

func NewMemoryExpiryStore() *MemoryExpiryStore {
	return &MemoryExpiryStore{entries: make(map[string]time.Time)}
}

func (s *MemoryExpiryStore) Get(_ context.Context, sku string) (*time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	expiry, ok := s.entries[sku]
	if !ok {
		return nil, false, nil
	}
	return &expiry, true, nil
}

func (s *MemoryExpiryStore) Set(_ context.Context, sku string, expiry time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[sku] = expiry
	return nil
}

func (s *MemoryExpiryStore) Delete(_ context.Context, sku string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, sku)
	return nil
}
