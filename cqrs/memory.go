package cqrs

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// NoopTransactor runs fn directly, for read models that have no transactions.
type NoopTransactor struct{}

func (NoopTransactor) WithTransaction(ctx context.Context, fn TransactionalHandler) error {
	return fn(ctx)
}

// InMemoryIdempotencyStore keeps processed marks in memory.
type InMemoryIdempotencyStore struct {
	mu        sync.RWMutex
	processed map[string]map[uuid.UUID]struct{}
}

func NewInMemoryIdempotencyStore() *InMemoryIdempotencyStore {
	return &InMemoryIdempotencyStore{processed: map[string]map[uuid.UUID]struct{}{}}
}

func (s *InMemoryIdempotencyStore) IsProcessed(_ context.Context, eventID uuid.UUID, subscriberID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.processed[subscriberID][eventID]
	return ok, nil
}

func (s *InMemoryIdempotencyStore) MarkAsProcessed(_ context.Context, eventID uuid.UUID, subscriberID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.processed[subscriberID] == nil {
		s.processed[subscriberID] = map[uuid.UUID]struct{}{}
	}
	s.processed[subscriberID][eventID] = struct{}{}
	return nil
}

// Forget drops every mark of a subscriber.
func (s *InMemoryIdempotencyStore) Forget(_ context.Context, subscriberID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.processed, subscriberID)
	return nil
}

var (
	_ Transactor       = NoopTransactor{}
	_ IdempotencyStore = (*InMemoryIdempotencyStore)(nil)
)
