// Package service implements vote intake: token consumption, payload
// verification, anonymization, and duplicate rejection, all inside one
// atomic unit of work.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"ballotcore/internal/crypto/signer"
	ledgermodels "ballotcore/internal/ledger/models"
	ledger "ballotcore/internal/ledger/service"
	tokensvc "ballotcore/internal/token/service"
	"ballotcore/internal/vote/anonymizer"
	"ballotcore/internal/vote/models"
	"ballotcore/pkg/domain"
	dErrors "ballotcore/pkg/domain-errors"
	"ballotcore/pkg/platform/sentinel"
	"ballotcore/pkg/platform/tx"
	"ballotcore/pkg/requestcontext"
)

// Store persists anonymized vote records. This service exclusively owns
// their creation.
//
// Error contract: Create returns sentinel.ErrConflict when a record with
// the same (handle, election) already exists; GetByHandle returns
// sentinel.ErrNotFound for unknown handles.
type Store interface {
	Create(ctx context.Context, record *models.AnonymousVoteRecord) error
	GetByHandle(ctx context.Context, handle string, electionID domain.ElectionID) (*models.AnonymousVoteRecord, error)
	Exists(ctx context.Context, handle string, electionID domain.ElectionID) (bool, error)
}

// CastRequest carries one encrypted vote submission.
type CastRequest struct {
	TokenID          domain.TokenID
	TokenSignature   []byte
	ElectionID       domain.ElectionID
	Payload          models.EncryptedPayload
	PayloadSignature []byte
}

// Service accepts and anonymizes encrypted votes.
type Service struct {
	store   Store
	tokens  *tokensvc.Service
	deriver *anonymizer.Deriver
	signer  *signer.Signer
	ledger  *ledger.Service
	runner  tx.Runner
	logger  *slog.Logger
}

// NewService constructs the vote intake service.
func NewService(store Store, tokens *tokensvc.Service, deriver *anonymizer.Deriver, sig *signer.Signer, led *ledger.Service, runner tx.Runner, logger *slog.Logger) *Service {
	return &Service{
		store:   store,
		tokens:  tokens,
		deriver: deriver,
		signer:  sig,
		ledger:  led,
		runner:  runner,
		logger:  logger,
	}
}

// Cast runs the full intake flow atomically: token check, payload
// signature verification, handle derivation, duplicate rejection, record
// persistence, token consumption, and the token_validated and vote_cast
// audit entries. Any failure rolls the whole unit of work back; a vote is
// never recorded against a token that does not end validated.
func (s *Service) Cast(ctx context.Context, req CastRequest) (*models.VoteReceipt, error) {
	if len(req.Payload.Ciphertext) == 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "encrypted payload is required")
	}
	if req.Payload.KeyCommitment == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "key commitment is required")
	}

	handle := s.deriver.Handle(req.TokenID, req.ElectionID)
	now := requestcontext.Now(ctx).UTC()

	var committed []*ledgermodels.Entry
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		if _, err := s.tokens.CheckInTx(ctx, req.TokenID, req.TokenSignature, req.ElectionID); err != nil {
			return s.asTokenValidationFailure(err)
		}

		if !s.signer.Verify(req.Payload.SigningBytes(), req.PayloadSignature, s.signer.PublicKey()) {
			return dErrors.New(dErrors.CodeInvalidVoteSignature, "vote payload signature mismatch")
		}

		// The single authoritative anti-double-voting check. The unique
		// index on (handle, election) in the Postgres store backs it up
		// under concurrency.
		exists, err := s.store.Exists(ctx, handle, req.ElectionID)
		if err != nil {
			return fmt.Errorf("check vote handle: %w", err)
		}
		if exists {
			return dErrors.New(dErrors.CodeDuplicateVote, "a vote was already cast with this token")
		}

		record := &models.AnonymousVoteRecord{
			Handle:           handle,
			ElectionID:       req.ElectionID,
			Payload:          req.Payload,
			PayloadSignature: req.PayloadSignature,
			SubmittedAt:      now,
			Status:           models.StatusCast,
		}
		if err := s.store.Create(ctx, record); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return dErrors.New(dErrors.CodeDuplicateVote, "a vote was already cast with this token")
			}
			return fmt.Errorf("persist vote record: %w", err)
		}

		if err := s.tokens.MarkValidatedInTx(ctx, req.TokenID); err != nil {
			return s.asTokenValidationFailure(err)
		}

		validated, err := s.ledger.AppendInTx(ctx, ledgermodels.EventTokenValidated, "", map[string]string{
			"token_id":    req.TokenID.String(),
			"election_id": req.ElectionID.String(),
		})
		if err != nil {
			return err
		}
		cast, err := s.ledger.AppendInTx(ctx, ledgermodels.EventVoteCast, "", map[string]string{
			"handle":      handle,
			"election_id": req.ElectionID.String(),
		})
		if err != nil {
			return err
		}
		committed = []*ledgermodels.Entry{validated, cast}
		return nil
	})
	if err != nil {
		s.recordRejection(ctx, handle, req.ElectionID, err)
		return nil, err
	}
	s.ledger.PublishCommitted(committed...)

	s.logger.Info("vote cast", "election_id", req.ElectionID, "handle", handle)
	return &models.VoteReceipt{
		Handle:      handle,
		ElectionID:  req.ElectionID,
		SubmittedAt: now,
	}, nil
}

// Verify re-checks the stored payload signature for a receipt handle. The
// content is never decrypted; the server holds no decryption key.
func (s *Service) Verify(ctx context.Context, handle string, electionID domain.ElectionID) (*models.VerificationResult, error) {
	record, err := s.store.GetByHandle(ctx, handle, electionID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "no vote recorded for this handle")
		}
		return nil, fmt.Errorf("load vote record: %w", err)
	}

	return &models.VerificationResult{
		Handle:         record.Handle,
		ElectionID:     record.ElectionID,
		SignatureValid: s.signer.Verify(record.Payload.SigningBytes(), record.PayloadSignature, s.signer.PublicKey()),
		Status:         record.Status,
		SubmittedAt:    record.SubmittedAt,
	}, nil
}

// asTokenValidationFailure wraps token-stage failures so callers see the
// vote-level taxonomy while the underlying precondition stays inspectable.
func (s *Service) asTokenValidationFailure(err error) error {
	switch dErrors.CodeOf(err) {
	case dErrors.CodeInvalidSignature, dErrors.CodeTokenExpired,
		dErrors.CodeTokenAlreadyUsed, dErrors.CodeNotFound:
		return dErrors.Wrap(err, dErrors.CodeTokenValidationFailed, dErrors.MessageOf(err))
	default:
		return err
	}
}

// recordRejection appends a vote_rejected entry in its own unit of work,
// after the failed intake transaction rolled back. Only domain failures
// are recorded; infrastructure errors are not security events.
func (s *Service) recordRejection(ctx context.Context, handle string, electionID domain.ElectionID, cause error) {
	code := dErrors.CodeOf(cause)
	if code == dErrors.CodeInternal {
		return
	}
	if _, err := s.ledger.Append(ctx, ledgermodels.EventVoteRejected, "", map[string]string{
		"handle":      handle,
		"election_id": electionID.String(),
		"reason":      string(code),
	}); err != nil {
		s.logger.Error("record vote rejection", "error", err)
	}
}
