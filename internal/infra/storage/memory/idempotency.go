package memory

import (
	"context"
	"sync"
	"time"

	"hotelsaga/internal/app/middleware"
)

// IdempotencyStore keeps command results in memory for ttl.
type IdempotencyStore struct {
	mu     sync.RWMutex
	ttl    time.Duration
	now    func() time.Time
	items  map[string]middleware.IdempotencyRecord
	claims map[string]time.Time
}

func NewIdempotencyStore(ttl time.Duration) *IdempotencyStore {
	return &IdempotencyStore{
		ttl:    ttl,
		now:    time.Now,
		items:  make(map[string]middleware.IdempotencyRecord),
		claims: make(map[string]time.Time),
	}
}

func (s *IdempotencyStore) Get(ctx context.Context, key string) (middleware.IdempotencyRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.items[key]
	if !ok || s.expired(rec) {
		return middleware.IdempotencyRecord{}, false, nil
	}
	return rec, true, nil
}

func (s *IdempotencyStore) Save(ctx context.Context, rec middleware.IdempotencyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, item := range s.items {
		if s.expired(item) {
			delete(s.items, key)
		}
	}
	s.items[rec.Key] = rec
	return nil
}

func (s *IdempotencyStore) Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if until, ok := s.claims[key]; ok && now.Before(until) {
		return false, nil
	}
	s.claims[key] = now.Add(ttl)
	return true, nil
}

func (s *IdempotencyStore) Release(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.claims, key)
	return nil
}

func (s *IdempotencyStore) expired(rec middleware.IdempotencyRecord) bool {
	return s.ttl > 0 && s.now().Sub(rec.OccurredAt) > s.ttl
}

var _ middleware.IdempotencyStore = (*IdempotencyStore)(nil)
