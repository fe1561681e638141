// Package service implements the audit ledger: a hash-chained, signed,
// append-only record of every security-relevant action in the core.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"ballotcore/internal/crypto/signer"
	"ballotcore/internal/ledger/models"
	dErrors "ballotcore/pkg/domain-errors"
	"ballotcore/pkg/platform/sentinel"
	"ballotcore/pkg/platform/tx"
	"ballotcore/pkg/requestcontext"
)

// Store persists ledger entries. Only this service may append; sequencing
// ownership lives here to keep positions gapless.
type Store interface {
	// Tail returns the highest-position entry, locking it against
	// concurrent appends for the duration of the surrounding transaction.
	// Returns sentinel.ErrNotFound on an empty ledger.
	Tail(ctx context.Context) (*models.Entry, error)
	Append(ctx context.Context, entry *models.Entry) error
	// Range returns entries with from <= position <= to, ordered by position.
	Range(ctx context.Context, from, to int64) ([]*models.Entry, error)
	// Get returns the entry at an exact position.
	Get(ctx context.Context, position int64) (*models.Entry, error)
	// MaxPosition returns the current tail position, or -1 when empty.
	MaxPosition(ctx context.Context) (int64, error)
}

// Service owns audit sequencing and chain verification.
type Service struct {
	store      Store
	signer     *signer.Signer
	runner     tx.Runner
	logger     *slog.Logger
	quickDepth int

	// sink receives committed entries for streaming to external consumers.
	// Sends never block; a slow consumer loses stream delivery, never the
	// durable entry.
	sink chan<- *models.Entry
}

// Option tunes Service construction.
type Option func(*Service)

// WithSink attaches a channel that receives committed entries.
func WithSink(sink chan<- *models.Entry) Option {
	return func(s *Service) { s.sink = sink }
}

// WithQuickDepth sets how many trailing entries quick verification checks.
func WithQuickDepth(n int) Option {
	return func(s *Service) { s.quickDepth = n }
}

// NewService constructs the ledger service.
func NewService(store Store, sig *signer.Signer, runner tx.Runner, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:      store,
		signer:     sig,
		runner:     runner,
		logger:     logger,
		quickDepth: 100,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append records one event as its own unit of work.
func (s *Service) Append(ctx context.Context, eventType models.EventType, actorRef string, metadata map[string]string) (*models.Entry, error) {
	var entry *models.Entry
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		var txErr error
		entry, txErr = s.AppendInTx(ctx, eventType, actorRef, metadata)
		return txErr
	})
	if err != nil {
		return nil, err
	}
	s.publish(entry)
	return entry, nil
}

// AppendInTx records one event inside an already-open unit of work. Token
// issuance and vote intake use this so their audit entries commit or roll
// back with the rest of the transaction. The caller must publish the entry
// (PublishCommitted) only after its transaction commits.
func (s *Service) AppendInTx(ctx context.Context, eventType models.EventType, actorRef string, metadata map[string]string) (*models.Entry, error) {
	if !eventType.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "unknown audit event type")
	}

	position := int64(0)
	prevHash := models.GenesisPrevHash
	tail, err := s.store.Tail(ctx)
	switch {
	case err == nil:
		position = tail.Position + 1
		prevHash = tail.ContentHash
	case errors.Is(err, sentinel.ErrNotFound):
		// Empty ledger; this entry is genesis.
	default:
		return nil, fmt.Errorf("fetch ledger tail: %w", err)
	}

	ts := requestcontext.Now(ctx).UTC()
	entry := &models.Entry{
		Position:    position,
		Type:        eventType,
		ActorRef:    actorRef,
		Metadata:    metadata,
		Timestamp:   ts,
		ContentHash: models.ComputeContentHash(eventType, actorRef, metadata, ts),
		PrevHash:    prevHash,
	}

	entry.Signature, err = s.signer.Sign(entry.SigningPayload())
	if err != nil {
		return nil, fmt.Errorf("sign audit entry: %w", err)
	}

	if err := s.store.Append(ctx, entry); err != nil {
		return nil, fmt.Errorf("append audit entry: %w", err)
	}
	return entry, nil
}

// PublishCommitted hands committed entries to the stream sink. Call after
// the surrounding transaction commits, never before.
func (s *Service) PublishCommitted(entries ...*models.Entry) {
	for _, entry := range entries {
		s.publish(entry)
	}
}

func (s *Service) publish(entry *models.Entry) {
	if s.sink == nil || entry == nil {
		return
	}
	select {
	case s.sink <- entry:
	default:
		s.logger.Warn("audit stream sink full, dropping stream delivery",
			"position", entry.Position)
	}
}

// ChainFailure describes one position that failed verification.
type ChainFailure struct {
	Position int64
	Reason   string
}

// ChainVerificationResult reports chain health over a verified range.
// Failures are data, not errors: partial corruption stays diagnosable.
type ChainVerificationResult struct {
	From     int64
	To       int64
	Checked  int
	Failures []ChainFailure
}

// Valid reports whether every checked entry passed.
func (r ChainVerificationResult) Valid() bool { return len(r.Failures) == 0 }

// VerifyChain refolds the ledger over [from, to]: recomputes each content
// hash, checks each previous-hash link, and verifies each signature.
// Tampering is reported, never repaired.
func (s *Service) VerifyChain(ctx context.Context, from, to int64) (ChainVerificationResult, error) {
	if from < 0 || to < from {
		return ChainVerificationResult{}, dErrors.New(dErrors.CodeInvalidInput, "invalid verification range")
	}

	result := ChainVerificationResult{From: from, To: to}

	entries, err := s.store.Range(ctx, from, to)
	if err != nil {
		return result, fmt.Errorf("load ledger range: %w", err)
	}

	// The link of the first in-range entry points outside the range; fetch
	// its predecessor so the link is still checked.
	prevHash := models.GenesisPrevHash
	if from > 0 {
		prev, err := s.store.Get(ctx, from-1)
		if err != nil {
			return result, fmt.Errorf("load predecessor entry %d: %w", from-1, err)
		}
		prevHash = prev.ContentHash
	}

	expected := from
	pub := s.signer.PublicKey()
	for _, entry := range entries {
		if entry.Position != expected {
			result.Failures = append(result.Failures, ChainFailure{
				Position: expected,
				Reason:   fmt.Sprintf("sequence gap: expected position %d, found %d", expected, entry.Position),
			})
			expected = entry.Position
		}
		result.Checked++

		if recomputed := models.ComputeContentHash(entry.Type, entry.ActorRef, entry.Metadata, entry.Timestamp); recomputed != entry.ContentHash {
			result.Failures = append(result.Failures, ChainFailure{
				Position: entry.Position,
				Reason:   "content hash mismatch",
			})
		}
		if entry.PrevHash != prevHash {
			result.Failures = append(result.Failures, ChainFailure{
				Position: entry.Position,
				Reason:   "previous-hash link broken",
			})
		}
		if !signer.Verify(entry.SigningPayload(), entry.Signature, pub) {
			result.Failures = append(result.Failures, ChainFailure{
				Position: entry.Position,
				Reason:   "invalid signature",
			})
		}

		prevHash = entry.ContentHash
		expected++
	}

	if expected <= to && len(entries) > 0 {
		result.Failures = append(result.Failures, ChainFailure{
			Position: expected,
			Reason:   "entries missing at end of range",
		})
	}

	return result, nil
}

// VerifyFull walks the entire chain from genesis.
func (s *Service) VerifyFull(ctx context.Context) (ChainVerificationResult, error) {
	max, err := s.store.MaxPosition(ctx)
	if err != nil {
		return ChainVerificationResult{}, fmt.Errorf("ledger max position: %w", err)
	}
	if max < 0 {
		return ChainVerificationResult{From: 0, To: -1}, nil
	}
	return s.VerifyChain(ctx, 0, max)
}

// VerifyQuick checks only the most recent entries for low-latency health
// probes.
func (s *Service) VerifyQuick(ctx context.Context) (ChainVerificationResult, error) {
	max, err := s.store.MaxPosition(ctx)
	if err != nil {
		return ChainVerificationResult{}, fmt.Errorf("ledger max position: %w", err)
	}
	if max < 0 {
		return ChainVerificationResult{From: 0, To: -1}, nil
	}
	from := max - int64(s.quickDepth) + 1
	if from < 0 {
		from = 0
	}
	return s.VerifyChain(ctx, from, max)
}

// Recent returns up to limit entries ending at the chain tail, for
// operator inspection.
func (s *Service) Recent(ctx context.Context, limit int) ([]*models.Entry, error) {
	if limit <= 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "limit must be positive")
	}
	max, err := s.store.MaxPosition(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger max position: %w", err)
	}
	if max < 0 {
		return nil, nil
	}
	from := max - int64(limit) + 1
	if from < 0 {
		from = 0
	}
	return s.store.Range(ctx, from, max)
}
