package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"ballotcore/internal/token/models"
	"ballotcore/pkg/domain"
	"ballotcore/pkg/platform/sentinel"
	txcontext "ballotcore/pkg/platform/tx"
)

// Store persists ballot tokens in PostgreSQL. The one-active-token
// invariant is backed by a partial unique index on (voter_id, election_id)
// WHERE status <> 'invalidated', so it holds even against concurrent
// transactions.
type Store struct {
	db *sql.DB
}

// New constructs a PostgreSQL-backed token store.
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

func (s *Store) Create(ctx context.Context, token *models.BallotToken) error {
	query := `
		INSERT INTO ballot_tokens (id, voter_id, election_id, issued_at, expires_at, signature, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.handle(ctx).ExecContext(ctx, query,
		uuid.UUID(token.ID),
		uuid.UUID(token.VoterID),
		uuid.UUID(token.ElectionID),
		token.IssuedAt,
		token.ExpiresAt,
		token.Signature,
		string(token.Status),
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("active token exists for voter %s in election %s: %w",
				token.VoterID, token.ElectionID, sentinel.ErrConflict)
		}
		return fmt.Errorf("insert ballot token: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id domain.TokenID) (*models.BallotToken, error) {
	query := `
		SELECT id, voter_id, election_id, issued_at, expires_at, signature, status
		FROM ballot_tokens
		WHERE id = $1
	`
	var (
		token                        models.BallotToken
		tokenID, voterID, electionID uuid.UUID
		status                       string
	)
	err := s.handle(ctx).QueryRowContext(ctx, query, uuid.UUID(id)).Scan(
		&tokenID, &voterID, &electionID,
		&token.IssuedAt, &token.ExpiresAt, &token.Signature, &status,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("ballot token %s: %w", id, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("query ballot token: %w", err)
	}

	token.ID = domain.TokenID(tokenID)
	token.VoterID = domain.VoterID(voterID)
	token.ElectionID = domain.ElectionID(electionID)
	token.Status = models.Status(status)
	token.IssuedAt = token.IssuedAt.UTC()
	token.ExpiresAt = token.ExpiresAt.UTC()
	return &token, nil
}

// UpdateStatus performs a conditional transition. The WHERE clause carries
// the expected source status, so a lost race surfaces as ErrInvalidState
// instead of silently overwriting a concurrent transition.
func (s *Store) UpdateStatus(ctx context.Context, id domain.TokenID, from, to models.Status) error {
	query := `
		UPDATE ballot_tokens
		SET status = $1
		WHERE id = $2 AND status = $3
	`
	res, err := s.handle(ctx).ExecContext(ctx, query, string(to), uuid.UUID(id), string(from))
	if err != nil {
		return fmt.Errorf("update token status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update token status: %w", err)
	}
	if affected == 0 {
		// Distinguish missing token from wrong status.
		if _, getErr := s.Get(ctx, id); getErr != nil {
			return getErr
		}
		return fmt.Errorf("token %s is not %s: %w", id, from, sentinel.ErrInvalidState)
	}
	return nil
}
