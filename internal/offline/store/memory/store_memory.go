// Package memory provides an in-memory offline queue store for tests and
// single-process deployments.
package memory

import (
	"context"
	"sync"

	"ballotcore/pkg/domain"
	"ballotcore/pkg/platform/sentinel"

	"ballotcore/internal/offline/models"
)

// Store keeps queued items in enqueue order behind a mutex.
type Store struct {
	mu      sync.Mutex
	items   []*models.Item
	applied map[string]struct{}
}

// New creates an empty Store.
func New() *Store {
	return &Store{applied: make(map[string]struct{})}
}

func (s *Store) Enqueue(_ context.Context, item *models.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, cloneItem(item))
	return nil
}

func (s *Store) List(_ context.Context) ([]*models.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Item, 0, len(s.items))
	for _, item := range s.items {
		out = append(out, cloneItem(item))
	}
	return out, nil
}

func (s *Store) Update(_ context.Context, item *models.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.items {
		if existing.ID == item.ID {
			s.items[i] = cloneItem(item)
			return nil
		}
	}
	return sentinel.ErrNotFound
}

func (s *Store) Remove(_ context.Context, id domain.QueueItemID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.items {
		if existing.ID == id {
			s.items = append(s.items[:i], s.items[i+1:]...)
			return nil
		}
	}
	return sentinel.ErrNotFound
}

func (s *Store) MarkApplied(_ context.Context, idempotencyKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applied[idempotencyKey] = struct{}{}
	return nil
}

func (s *Store) IsApplied(_ context.Context, idempotencyKey string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.applied[idempotencyKey]
	return ok, nil
}

func cloneItem(item *models.Item) *models.Item {
	c := *item
	if item.Payload != nil {
		c.Payload = append([]byte(nil), item.Payload...)
	}
	return &c
}
