package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"ballotcore/internal/vote/models"
	"ballotcore/pkg/domain"
	"ballotcore/pkg/platform/sentinel"
	txcontext "ballotcore/pkg/platform/tx"
)

// Store persists anonymized vote records in PostgreSQL. A unique index on
// (handle, election_id) backs the exactly-one-vote invariant under
// concurrent transactions.
type Store struct {
	db *sql.DB
}

// New constructs a PostgreSQL-backed vote store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type dbHandle interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) handle(ctx context.Context) dbHandle {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *Store) Create(ctx context.Context, record *models.AnonymousVoteRecord) error {
	query := `
		INSERT INTO anonymous_votes (handle, election_id, ciphertext, nonce, key_commitment, payload_signature, submitted_at, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.handle(ctx).ExecContext(ctx, query,
		record.Handle,
		uuid.UUID(record.ElectionID),
		record.Payload.Ciphertext,
		record.Payload.Nonce,
		record.Payload.KeyCommitment,
		record.PayloadSignature,
		record.SubmittedAt,
		string(record.Status),
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("vote exists for handle %s: %w", record.Handle, sentinel.ErrConflict)
		}
		return fmt.Errorf("insert vote record: %w", err)
	}
	return nil
}

func (s *Store) GetByHandle(ctx context.Context, handle string, electionID domain.ElectionID) (*models.AnonymousVoteRecord, error) {
	query := `
		SELECT handle, election_id, ciphertext, nonce, key_commitment, payload_signature, submitted_at, status
		FROM anonymous_votes
		WHERE handle = $1 AND election_id = $2
	`
	var (
		record models.AnonymousVoteRecord
		elID   uuid.UUID
		status string
	)
	err := s.handle(ctx).QueryRowContext(ctx, query, handle, uuid.UUID(electionID)).Scan(
		&record.Handle,
		&elID,
		&record.Payload.Ciphertext,
		&record.Payload.Nonce,
		&record.Payload.KeyCommitment,
		&record.PayloadSignature,
		&record.SubmittedAt,
		&status,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("vote for handle %s: %w", handle, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("query vote record: %w", err)
	}

	record.ElectionID = domain.ElectionID(elID)
	record.Status = models.Status(status)
	record.SubmittedAt = record.SubmittedAt.UTC()
	return &record, nil
}

func (s *Store) Exists(ctx context.Context, handle string, electionID domain.ElectionID) (bool, error) {
	var exists bool
	err := s.handle(ctx).QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM anonymous_votes WHERE handle = $1 AND election_id = $2)`,
		handle, uuid.UUID(electionID),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check vote handle: %w", err)
	}
	return exists, nil
}
