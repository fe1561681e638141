package memory

import (
	"context"
	"fmt"
	"sync"

	"ballotcore/internal/token/models"
	"ballotcore/pkg/domain"
	"ballotcore/pkg/platform/sentinel"
)

// Error Contract:
// All store methods follow this pattern:
// - Return ErrNotFound when the requested token does not exist
// - Return ErrConflict when a non-invalidated token already exists for the
//   (voter, election) pair
// - Return ErrInvalidState when a status transition's source does not match
// - Return nil for successful operations

// Store keeps ballot tokens in memory for tests and dev mode.
type Store struct {
	mu     sync.RWMutex
	tokens map[domain.TokenID]*models.BallotToken
}

// New constructs an empty in-memory token store.
func New() *Store {
	return &Store{tokens: make(map[domain.TokenID]*models.BallotToken)}
}

func (s *Store) Create(_ context.Context, token *models.BallotToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.tokens {
		if existing.VoterID == token.VoterID &&
			existing.ElectionID == token.ElectionID &&
			existing.Status != models.StatusInvalidated {
			return fmt.Errorf("active token exists for voter %s in election %s: %w",
				token.VoterID, token.ElectionID, sentinel.ErrConflict)
		}
	}

	dup := *token
	dup.Signature = append([]byte(nil), token.Signature...)
	s.tokens[token.ID] = &dup
	return nil
}

func (s *Store) Get(_ context.Context, id domain.TokenID) (*models.BallotToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	token, ok := s.tokens[id]
	if !ok {
		return nil, fmt.Errorf("ballot token %s: %w", id, sentinel.ErrNotFound)
	}
	dup := *token
	dup.Signature = append([]byte(nil), token.Signature...)
	return &dup, nil
}

func (s *Store) UpdateStatus(_ context.Context, id domain.TokenID, from, to models.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.tokens[id]
	if !ok {
		return fmt.Errorf("ballot token %s: %w", id, sentinel.ErrNotFound)
	}
	if token.Status != from {
		return fmt.Errorf("token %s is %s, not %s: %w", id, token.Status, from, sentinel.ErrInvalidState)
	}
	token.Status = to
	return nil
}
