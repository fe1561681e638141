// Package service implements the ballot token manager. It exclusively owns
// token status transitions; no other component mutates tokens.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ballotcore/internal/crypto/signer"
	"ballotcore/internal/election"
	ledgermodels "ballotcore/internal/ledger/models"
	ledger "ballotcore/internal/ledger/service"
	"ballotcore/internal/token/models"
	"ballotcore/pkg/domain"
	dErrors "ballotcore/pkg/domain-errors"
	"ballotcore/pkg/platform/sentinel"
	"ballotcore/pkg/platform/tx"
	"ballotcore/pkg/requestcontext"
)

// Store persists ballot tokens.
//
// Error contract: Create returns sentinel.ErrConflict when a
// non-invalidated token already exists for the (voter, election) pair;
// Get returns sentinel.ErrNotFound for unknown ids; UpdateStatus returns
// sentinel.ErrInvalidState when the current status does not match the
// expected transition source.
type Store interface {
	Create(ctx context.Context, token *models.BallotToken) error
	Get(ctx context.Context, id domain.TokenID) (*models.BallotToken, error)
	UpdateStatus(ctx context.Context, id domain.TokenID, from, to models.Status) error
}

// Service issues, validates, and invalidates ballot tokens.
type Service struct {
	store     Store
	signer    *signer.Signer
	elections election.Directory
	ledger    *ledger.Service
	runner    tx.Runner
	logger    *slog.Logger
}

// NewService constructs the token manager.
func NewService(store Store, sig *signer.Signer, elections election.Directory, led *ledger.Service, runner tx.Runner, logger *slog.Logger) *Service {
	return &Service{
		store:     store,
		signer:    sig,
		elections: elections,
		ledger:    led,
		runner:    runner,
		logger:    logger,
	}
}

// Issue creates, signs, and persists a single-use token for the voter in
// the given election, and records token_issued in the audit ledger within
// the same unit of work.
func (s *Service) Issue(ctx context.Context, voterID domain.VoterID, electionID domain.ElectionID) (*models.BallotToken, error) {
	el, err := s.elections.Lookup(ctx, electionID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "unknown election")
		}
		return nil, fmt.Errorf("lookup election: %w", err)
	}

	now := requestcontext.Now(ctx).UTC()
	if !el.ActiveAt(now) {
		return nil, dErrors.New(dErrors.CodeElectionNotActive, "election is not in its voting window")
	}

	token := &models.BallotToken{
		ID:         domain.NewTokenID(),
		VoterID:    voterID,
		ElectionID: electionID,
		IssuedAt:   now,
		ExpiresAt:  models.ComputeExpiry(now, el.Ends),
		Status:     models.StatusIssued,
	}
	token.Signature, err = s.signer.Sign(token.SigningPayload())
	if err != nil {
		return nil, fmt.Errorf("sign ballot token: %w", err)
	}

	var issued *ledgermodels.Entry
	err = s.runner.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.Create(ctx, token); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return dErrors.New(dErrors.CodeDuplicateToken, "voter already holds a token for this election")
			}
			return fmt.Errorf("persist ballot token: %w", err)
		}

		issued, err = s.ledger.AppendInTx(ctx, ledgermodels.EventTokenIssued, voterID.String(), map[string]string{
			"token_id":    token.ID.String(),
			"election_id": electionID.String(),
			"expires_at":  token.ExpiresAt.Format(time.RFC3339Nano),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.ledger.PublishCommitted(issued)

	s.logger.Info("ballot token issued",
		"token_id", token.ID, "election_id", electionID)
	return token, nil
}

// Validate checks a token without consuming it. The issued→validated
// transition is deferred to vote intake so a validated-but-unused token
// can never be replayed.
func (s *Service) Validate(ctx context.Context, tokenID domain.TokenID, signature []byte, electionID domain.ElectionID) (*models.ValidationResult, error) {
	token, err := s.load(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	if err := s.check(ctx, token, signature, electionID); err != nil {
		// Forged signatures leave evidence in the ledger. Appended in its
		// own unit of work; CheckInTx callers handle their own rejection
		// entries after rollback.
		if dErrors.HasCode(err, dErrors.CodeInvalidSignature) {
			s.reportForgery(ctx, token)
		}
		return nil, err
	}
	return &models.ValidationResult{
		TokenID:    token.ID,
		VoterID:    token.VoterID,
		ElectionID: token.ElectionID,
		ExpiresAt:  token.ExpiresAt,
	}, nil
}

// CheckInTx revalidates a token inside an open unit of work. Vote intake
// calls this as step one of its atomic flow; failures propagate unchanged.
func (s *Service) CheckInTx(ctx context.Context, tokenID domain.TokenID, signature []byte, electionID domain.ElectionID) (*models.BallotToken, error) {
	token, err := s.load(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	if err := s.check(ctx, token, signature, electionID); err != nil {
		return nil, err
	}
	return token, nil
}

// MarkValidatedInTx consumes the token within vote intake's transaction.
// The transition is conditional on the stored status still being issued;
// a concurrent invalidation rolls the whole vote back.
func (s *Service) MarkValidatedInTx(ctx context.Context, tokenID domain.TokenID) error {
	err := s.store.UpdateStatus(ctx, tokenID, models.StatusIssued, models.StatusValidated)
	if err != nil {
		if errors.Is(err, sentinel.ErrInvalidState) {
			return dErrors.New(dErrors.CodeTokenAlreadyUsed, "token is no longer issuable")
		}
		return fmt.Errorf("consume ballot token: %w", err)
	}
	return nil
}

// Invalidate revokes a token on the administrative path. Idempotent:
// invalidating an already-invalidated token is a no-op, not an error.
func (s *Service) Invalidate(ctx context.Context, tokenID domain.TokenID, reason string) error {
	var entry *ledgermodels.Entry
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		token, err := s.store.Get(ctx, tokenID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeNotFound, "unknown token")
			}
			return fmt.Errorf("load ballot token: %w", err)
		}
		if token.Status == models.StatusInvalidated {
			return nil
		}

		if err := s.store.UpdateStatus(ctx, tokenID, token.Status, models.StatusInvalidated); err != nil {
			return fmt.Errorf("invalidate ballot token: %w", err)
		}

		entry, err = s.ledger.AppendInTx(ctx, ledgermodels.EventTokenInvalidated, requestcontext.ActorID(ctx), map[string]string{
			"token_id":    tokenID.String(),
			"election_id": token.ElectionID.String(),
			"reason":      reason,
		})
		return err
	})
	if err != nil {
		return err
	}
	s.ledger.PublishCommitted(entry)
	return nil
}

func (s *Service) load(ctx context.Context, tokenID domain.TokenID) (*models.BallotToken, error) {
	token, err := s.store.Get(ctx, tokenID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "unknown token")
		}
		return nil, fmt.Errorf("load ballot token: %w", err)
	}
	return token, nil
}

// check enforces the validation order: signature, then expiry, then status.
func (s *Service) check(ctx context.Context, token *models.BallotToken, signature []byte, electionID domain.ElectionID) error {
	if token.ElectionID != electionID {
		return dErrors.New(dErrors.CodeInvalidSignature, "token was not issued for this election")
	}
	if !s.signer.Verify(token.SigningPayload(), signature, s.signer.PublicKey()) {
		return dErrors.New(dErrors.CodeInvalidSignature, "token signature mismatch")
	}

	now := requestcontext.Now(ctx).UTC()
	if token.ExpiredAt(now) {
		// Best-effort bookkeeping; expiry is enforced by time either way.
		if token.Status == models.StatusIssued {
			_ = s.store.UpdateStatus(ctx, token.ID, models.StatusIssued, models.StatusExpired)
		}
		return dErrors.New(dErrors.CodeTokenExpired, "token has expired")
	}
	if token.Status != models.StatusIssued {
		return dErrors.New(dErrors.CodeTokenAlreadyUsed, "token has already been used or revoked")
	}
	return nil
}

// reportForgery records a security_violation entry for a failed token
// signature check. Appended outside the caller's transaction: the ledger
// must keep the evidence even though the request fails.
func (s *Service) reportForgery(ctx context.Context, token *models.BallotToken) {
	_, err := s.ledger.Append(ctx, ledgermodels.EventSecurityViolation, "", map[string]string{
		"violation":   "token_signature_mismatch",
		"token_id":    token.ID.String(),
		"election_id": token.ElectionID.String(),
		"client_ip":   requestcontext.ClientIP(ctx),
		"user_agent":  requestcontext.UserAgent(ctx),
	})
	if err != nil {
		s.logger.Error("record security violation", "error", err)
	}
}
