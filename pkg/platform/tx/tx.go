// Package tx provides the unit-of-work boundary for the core.
//
// Token issuance, vote intake, and audit appends each span multiple tables
// that must commit or roll back together. A Runner wraps that boundary;
// stores discover the active transaction through the context so service
// code composes mutations without threading *sql.Tx through every call.
package tx

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
)

type ctxKey struct{}

var txKey = ctxKey{}

// WithTx stores a SQL transaction in context for downstream store usage.
func WithTx(ctx context.Context, tx *sql.Tx) context.Context {
	if tx == nil {
		return ctx
	}
	return context.WithValue(ctx, txKey, tx)
}

// From extracts a SQL transaction from context if present.
func From(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txKey).(*sql.Tx)
	return tx, ok
}

// Runner executes fn inside one atomic unit of work. If fn returns an
// error, every mutation made through the context rolls back.
type Runner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// SQLRunner runs units of work as serializable database transactions.
// Serializable isolation is what makes the uniqueness invariants (one token
// per voter and election, one vote per handle, gapless audit positions)
// hold under concurrent callers.
type SQLRunner struct {
	db *sql.DB
}

// NewSQLRunner wraps a database handle.
func NewSQLRunner(db *sql.DB) *SQLRunner {
	return &SQLRunner{db: db}
}

func (r *SQLRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	sqlTx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(WithTx(ctx, sqlTx)); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback after %w: %v", err, rbErr)
		}
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// MemoryRunner serializes units of work behind a single mutex. Memory
// stores do not support rollback, so services must order reads-then-writes
// such that no mutation happens after a fallible step; the lock guarantees
// no interleaving is observed either way.
type MemoryRunner struct {
	mu sync.Mutex
}

// NewMemoryRunner constructs a mutex-backed runner for tests and dev mode.
func NewMemoryRunner() *MemoryRunner {
	return &MemoryRunner{}
}

func (r *MemoryRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(ctx)
}
