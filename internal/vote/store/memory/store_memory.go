package memory

import (
	"context"
	"fmt"
	"sync"

	"ballotcore/internal/vote/models"
	"ballotcore/pkg/domain"
	"ballotcore/pkg/platform/sentinel"
)

type recordKey struct {
	handle     string
	electionID domain.ElectionID
}

// Store keeps anonymized vote records in memory for tests and dev mode.
type Store struct {
	mu      sync.RWMutex
	records map[recordKey]*models.AnonymousVoteRecord
}

// New constructs an empty in-memory vote store.
func New() *Store {
	return &Store{records: make(map[recordKey]*models.AnonymousVoteRecord)}
}

func (s *Store) Create(_ context.Context, record *models.AnonymousVoteRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := recordKey{handle: record.Handle, electionID: record.ElectionID}
	if _, ok := s.records[key]; ok {
		return fmt.Errorf("vote exists for handle %s: %w", record.Handle, sentinel.ErrConflict)
	}
	s.records[key] = cloneRecord(record)
	return nil
}

func (s *Store) GetByHandle(_ context.Context, handle string, electionID domain.ElectionID) (*models.AnonymousVoteRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[recordKey{handle: handle, electionID: electionID}]
	if !ok {
		return nil, fmt.Errorf("vote for handle %s: %w", handle, sentinel.ErrNotFound)
	}
	return cloneRecord(record), nil
}

func (s *Store) Exists(_ context.Context, handle string, electionID domain.ElectionID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.records[recordKey{handle: handle, electionID: electionID}]
	return ok, nil
}

func cloneRecord(r *models.AnonymousVoteRecord) *models.AnonymousVoteRecord {
	dup := *r
	dup.Payload.Ciphertext = append([]byte(nil), r.Payload.Ciphertext...)
	dup.Payload.Nonce = append([]byte(nil), r.Payload.Nonce...)
	dup.PayloadSignature = append([]byte(nil), r.PayloadSignature...)
	return &dup
}
