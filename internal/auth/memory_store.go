package auth

import (
	"context"
	"sync"
	"time"
)

// MemoryTokenStore keeps token records in-memory. It is safe for concurrent
// use and primarily intended for development or single-instance deployments.
type MemoryTokenStore struct {
	mu     sync.RWMutex
	tokens map[string]TokenRecord
}

// NewMemoryTokenStore constructs an in-memory store implementation.
func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{tokens: make(map[string]TokenRecord)}
}

// Save records the token details for the provided subject.
func (s *MemoryTokenStore) Save(ctx context.Context, record TokenRecord) error {
	s.mu.Lock()
	s.tokens[record.Subject] = record
	s.mu.Unlock()
	return nil
}

// List returns every provisioned token record.
func (s *MemoryTokenStore) List(ctx context.Context) ([]TokenRecord, error) {
	s.mu.RLock()
	records := make([]TokenRecord, 0, len(s.tokens))
	for _, record := range s.tokens {
		records = append(records, record)
	}
	s.mu.RUnlock()
	return records, nil
}

// Delete removes the subject's token from the store.
func (s *MemoryTokenStore) Delete(ctx context.Context, subject string) error {
	s.mu.Lock()
	delete(s.tokens, subject)
	s.mu.Unlock()
	return nil
}

// PurgeExpired removes any expired tokens from the store.
func (s *MemoryTokenStore) PurgeExpired(ctx context.Context, now time.Time) error {
	s.mu.Lock()
	for subject, record := range s.tokens {
		if record.Expired(now) {
			delete(s.tokens, subject)
		}
	}
	s.mu.Unlock()
	return nil
}

// Ping always reports success for the in-memory token store.
func (s *MemoryTokenStore) Ping(context.Context) error {
	return nil
}
