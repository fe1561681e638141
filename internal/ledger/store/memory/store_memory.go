package memory

import (
	"context"
	"fmt"
	"sync"

	"ballotcore/internal/ledger/models"
	"ballotcore/pkg/platform/sentinel"
)

// Store keeps ledger entries in an append-only slice indexed by position.
// No mutation API exists at all; tampering in tests goes through Corrupt.
type Store struct {
	mu      sync.RWMutex
	entries []*models.Entry
}

// New constructs an empty in-memory ledger store.
func New() *Store {
	return &Store{}
}

func (s *Store) Tail(_ context.Context) (*models.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.entries) == 0 {
		return nil, fmt.Errorf("ledger empty: %w", sentinel.ErrNotFound)
	}
	return cloneEntry(s.entries[len(s.entries)-1]), nil
}

func (s *Store) Append(_ context.Context, entry *models.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.Position != int64(len(s.entries)) {
		return fmt.Errorf("position %d is not the next sequence value: %w",
			entry.Position, sentinel.ErrConflict)
	}
	s.entries = append(s.entries, cloneEntry(entry))
	return nil
}

func (s *Store) Range(_ context.Context, from, to int64) ([]*models.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if from < 0 {
		from = 0
	}
	if to >= int64(len(s.entries)) {
		to = int64(len(s.entries)) - 1
	}
	var out []*models.Entry
	for i := from; i <= to; i++ {
		out = append(out, cloneEntry(s.entries[i]))
	}
	return out, nil
}

func (s *Store) Get(_ context.Context, position int64) (*models.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if position < 0 || position >= int64(len(s.entries)) {
		return nil, fmt.Errorf("ledger position %d: %w", position, sentinel.ErrNotFound)
	}
	return cloneEntry(s.entries[position]), nil
}

func (s *Store) MaxPosition(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.entries)) - 1, nil
}

// Corrupt overwrites the stored metadata at a position, simulating tampering
// for chain verification tests. Not part of the Store contract.
func (s *Store) Corrupt(position int64, mutate func(*models.Entry)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if position < 0 || position >= int64(len(s.entries)) {
		return fmt.Errorf("ledger position %d: %w", position, sentinel.ErrNotFound)
	}
	mutate(s.entries[position])
	return nil
}

func cloneEntry(e *models.Entry) *models.Entry {
	dup := *e
	if e.Metadata != nil {
		dup.Metadata = make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			dup.Metadata[k] = v
		}
	}
	if e.Signature != nil {
		dup.Signature = append([]byte(nil), e.Signature...)
	}
	return &dup
}
