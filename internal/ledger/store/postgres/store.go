package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"ballotcore/internal/ledger/models"
	"ballotcore/pkg/platform/sentinel"
	txcontext "ballotcore/pkg/platform/tx"
)

// Store persists ledger entries in PostgreSQL. This store is pure I/O;
// sequencing and chain rules belong to the ledger service.
type Store struct {
	db *sql.DB
}

// New constructs a PostgreSQL-backed ledger store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type dbHandle interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) handle(ctx context.Context) dbHandle {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// Tail returns the highest-position entry. Inside a transaction the row is
// locked, so two concurrent appends can never observe the same tail.
func (s *Store) Tail(ctx context.Context) (*models.Entry, error) {
	query := `
		SELECT position, event_type, actor_ref, metadata, created_at, content_hash, prev_hash, signature
		FROM audit_entries
		ORDER BY position DESC
		LIMIT 1
	`
	if _, inTx := txcontext.From(ctx); inTx {
		query += ` FOR UPDATE`
	}

	entry, err := scanEntry(s.handle(ctx).QueryRowContext(ctx, query))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("ledger empty: %w", sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("query ledger tail: %w", err)
	}
	return entry, nil
}

func (s *Store) Append(ctx context.Context, entry *models.Entry) error {
	metadata, err := json.Marshal(entry.Metadata)
	if err != nil {
		return fmt.Errorf("marshal entry metadata: %w", err)
	}

	query := `
		INSERT INTO audit_entries (position, event_type, actor_ref, metadata, created_at, content_hash, prev_hash, signature)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = s.handle(ctx).ExecContext(ctx, query,
		entry.Position,
		string(entry.Type),
		nullableString(entry.ActorRef),
		metadata,
		entry.Timestamp,
		entry.ContentHash,
		entry.PrevHash,
		entry.Signature,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("position %d already claimed: %w", entry.Position, sentinel.ErrConflict)
		}
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (s *Store) Range(ctx context.Context, from, to int64) ([]*models.Entry, error) {
	query := `
		SELECT position, event_type, actor_ref, metadata, created_at, content_hash, prev_hash, signature
		FROM audit_entries
		WHERE position >= $1 AND position <= $2
		ORDER BY position ASC
	`
	rows, err := s.handle(ctx).QueryContext(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("query ledger range: %w", err)
	}
	defer rows.Close()

	var entries []*models.Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return entries, nil
}

func (s *Store) Get(ctx context.Context, position int64) (*models.Entry, error) {
	query := `
		SELECT position, event_type, actor_ref, metadata, created_at, content_hash, prev_hash, signature
		FROM audit_entries
		WHERE position = $1
	`
	entry, err := scanEntry(s.handle(ctx).QueryRowContext(ctx, query, position))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("ledger position %d: %w", position, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("query ledger position: %w", err)
	}
	return entry, nil
}

func (s *Store) MaxPosition(ctx context.Context) (int64, error) {
	var max sql.NullInt64
	err := s.handle(ctx).QueryRowContext(ctx, `SELECT MAX(position) FROM audit_entries`).Scan(&max)
	if err != nil {
		return -1, fmt.Errorf("query ledger max position: %w", err)
	}
	if !max.Valid {
		return -1, nil
	}
	return max.Int64, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*models.Entry, error) {
	var (
		entry    models.Entry
		actorRef sql.NullString
		metadata []byte
	)
	err := row.Scan(
		&entry.Position,
		&entry.Type,
		&actorRef,
		&metadata,
		&entry.Timestamp,
		&entry.ContentHash,
		&entry.PrevHash,
		&entry.Signature,
	)
	if err != nil {
		return nil, err
	}
	if actorRef.Valid {
		entry.ActorRef = actorRef.String
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &entry.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal entry metadata: %w", err)
		}
	}
	entry.Timestamp = entry.Timestamp.UTC()
	return &entry, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// isUniqueViolation matches PostgreSQL error code 23505 (unique_violation).
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
