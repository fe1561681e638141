// Package core is the façade over the election-integrity services. Transport
// layers and the offline replay path talk to Core only; Core owns the
// cross-cutting concerns (tracing, metrics) and keeps the domain services
// free of them.
package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"ballotcore/pkg/domain"
	dErrors "ballotcore/pkg/domain-errors"
	"ballotcore/pkg/requestcontext"

	ledgermodels "ballotcore/internal/ledger/models"
	ledgersvc "ballotcore/internal/ledger/service"
	"ballotcore/internal/offline/coordinator"
	offlinemodels "ballotcore/internal/offline/models"
	"ballotcore/internal/platform/metrics"
	tokenmodels "ballotcore/internal/token/models"
	tokensvc "ballotcore/internal/token/service"
	votemodels "ballotcore/internal/vote/models"
	votesvc "ballotcore/internal/vote/service"
)

const tracerName = "ballotcore/internal/core"

// Core exposes the public operations of the election-integrity module.
type Core struct {
	tokens  *tokensvc.Service
	votes   *votesvc.Service
	ledger  *ledgersvc.Service
	offline *coordinator.Coordinator
	metrics *metrics.Metrics
	logger  *slog.Logger
	tracer  trace.Tracer
}

// New wires the façade over the already-constructed services.
func New(tokens *tokensvc.Service, votes *votesvc.Service, ledger *ledgersvc.Service, offline *coordinator.Coordinator, m *metrics.Metrics, logger *slog.Logger) *Core {
	return &Core{
		tokens:  tokens,
		votes:   votes,
		ledger:  ledger,
		offline: offline,
		metrics: m,
		logger:  logger,
		tracer:  otel.Tracer(tracerName),
	}
}

// IssueToken issues a signed single-use ballot token for the voter in the
// election.
func (c *Core) IssueToken(ctx context.Context, voterID domain.VoterID, electionID domain.ElectionID) (*tokenmodels.BallotToken, error) {
	ctx, span := c.tracer.Start(ctx, "core.IssueToken",
		trace.WithAttributes(attribute.String("election_id", electionID.String())))
	defer span.End()

	token, err := c.tokens.Issue(ctx, voterID, electionID)
	if err != nil {
		return nil, err
	}
	c.metrics.TokensIssued.Inc()
	c.metrics.AuditAppended.Inc()
	return token, nil
}

// ValidateToken checks a token without consuming it.
func (c *Core) ValidateToken(ctx context.Context, tokenID domain.TokenID, signature []byte, electionID domain.ElectionID) (*tokenmodels.ValidationResult, error) {
	ctx, span := c.tracer.Start(ctx, "core.ValidateToken")
	defer span.End()

	return c.tokens.Validate(ctx, tokenID, signature, electionID)
}

// InvalidateToken administratively revokes a token.
func (c *Core) InvalidateToken(ctx context.Context, tokenID domain.TokenID, reason string) error {
	ctx, span := c.tracer.Start(ctx, "core.InvalidateToken")
	defer span.End()

	if err := c.tokens.Invalidate(ctx, tokenID, reason); err != nil {
		return err
	}
	c.metrics.TokensInvalidated.Inc()
	c.metrics.AuditAppended.Inc()
	return nil
}

// CastVote runs the atomic vote intake flow and returns the voter's receipt.
func (c *Core) CastVote(ctx context.Context, req votesvc.CastRequest) (*votemodels.VoteReceipt, error) {
	ctx, span := c.tracer.Start(ctx, "core.CastVote",
		trace.WithAttributes(attribute.String("election_id", req.ElectionID.String())))
	defer span.End()

	start := requestcontext.Now(ctx)
	receipt, err := c.votes.Cast(ctx, req)
	c.metrics.CastDuration.Observe(requestcontext.Now(ctx).Sub(start).Seconds())
	if err != nil {
		c.metrics.VotesRejected.WithLabelValues(string(dErrors.CodeOf(err))).Inc()
		return nil, err
	}
	c.metrics.VotesCast.Inc()
	// token_validated and vote_cast.
	c.metrics.AuditAppended.Add(2)
	return receipt, nil
}

// VerifyVote re-checks the stored signature for a receipt handle.
func (c *Core) VerifyVote(ctx context.Context, handle string, electionID domain.ElectionID) (*votemodels.VerificationResult, error) {
	ctx, span := c.tracer.Start(ctx, "core.VerifyVote")
	defer span.End()

	return c.votes.Verify(ctx, handle, electionID)
}

// AppendAuditEvent records an operator-originated event, for example an
// admin_action, in the ledger.
func (c *Core) AppendAuditEvent(ctx context.Context, eventType ledgermodels.EventType, actorRef string, metadata map[string]string) (*ledgermodels.Entry, error) {
	ctx, span := c.tracer.Start(ctx, "core.AppendAuditEvent",
		trace.WithAttributes(attribute.String("event_type", string(eventType))))
	defer span.End()

	entry, err := c.ledger.Append(ctx, eventType, actorRef, metadata)
	if err != nil {
		return nil, err
	}
	c.metrics.AuditAppended.Inc()
	return entry, nil
}

// VerifyAuditChain refolds the whole ledger, or only its most recent entries
// when quick is set.
func (c *Core) VerifyAuditChain(ctx context.Context, quick bool) (ledgersvc.ChainVerificationResult, error) {
	ctx, span := c.tracer.Start(ctx, "core.VerifyAuditChain",
		trace.WithAttributes(attribute.Bool("quick", quick)))
	defer span.End()

	var (
		result ledgersvc.ChainVerificationResult
		err    error
	)
	if quick {
		result, err = c.ledger.VerifyQuick(ctx)
	} else {
		result, err = c.ledger.VerifyFull(ctx)
	}
	if err != nil {
		return result, err
	}
	if n := len(result.Failures); n > 0 {
		c.metrics.ChainFailures.Add(float64(n))
		c.logger.ErrorContext(ctx, "audit chain verification failed",
			slog.Int("failures", n),
			slog.Int64("from", result.From),
			slog.Int64("to", result.To))
	}
	return result, nil
}

// RecentAuditEntries returns up to limit entries ending at the chain tail.
func (c *Core) RecentAuditEntries(ctx context.Context, limit int) ([]*ledgermodels.Entry, error) {
	return c.ledger.Recent(ctx, limit)
}

// EnqueueOffline buffers an operation for later replay. The idempotency key
// must be stable across retries of the same logical operation.
func (c *Core) EnqueueOffline(ctx context.Context, op offlinemodels.OperationType, payload json.RawMessage, idempotencyKey string) (*offlinemodels.Item, error) {
	ctx, span := c.tracer.Start(ctx, "core.EnqueueOffline",
		trace.WithAttributes(attribute.String("op", string(op))))
	defer span.End()

	item, err := c.offline.Enqueue(ctx, op, payload, idempotencyKey)
	if err != nil {
		return nil, err
	}
	c.metrics.OfflineEnqueued.Inc()
	return item, nil
}

// ReplayOfflineQueue drains the offline queue through the live services.
func (c *Core) ReplayOfflineQueue(ctx context.Context) (*coordinator.ReplayReport, error) {
	ctx, span := c.tracer.Start(ctx, "core.ReplayOfflineQueue")
	defer span.End()

	report, err := c.offline.Replay(ctx, c)
	if err != nil {
		return report, err
	}
	c.metrics.OfflineReplayed.Add(float64(report.Applied))
	c.metrics.OfflineSkipped.Add(float64(report.Skipped))
	c.logger.InfoContext(ctx, "offline queue replayed",
		slog.Int("attempted", report.Attempted),
		slog.Int("applied", report.Applied),
		slog.Int("skipped", report.Skipped),
		slog.Int("failed", report.Failed))
	return report, nil
}

// PendingOffline lists the queued offline items.
func (c *Core) PendingOffline(ctx context.Context) ([]*offlinemodels.Item, error) {
	return c.offline.Pending(ctx)
}

// DispatchIssueToken replays a queued token issuance.
func (c *Core) DispatchIssueToken(ctx context.Context, cmd offlinemodels.IssueTokenCommand) error {
	voterID, err := domain.ParseVoterID(cmd.VoterID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid voter id in queued item")
	}
	electionID, err := domain.ParseElectionID(cmd.ElectionID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid election id in queued item")
	}

	token, err := c.tokens.Issue(ctx, voterID, electionID)
	if err != nil {
		return err
	}
	c.metrics.TokensIssued.Inc()
	c.metrics.AuditAppended.Inc()
	c.logger.InfoContext(ctx, "replayed token issuance",
		slog.String("token_id", token.ID.String()))
	return nil
}

// DispatchCastVote replays a queued vote submission.
func (c *Core) DispatchCastVote(ctx context.Context, cmd offlinemodels.CastVoteCommand) error {
	req, err := castRequestFromCommand(cmd)
	if err != nil {
		return err
	}
	if _, err := c.votes.Cast(ctx, req); err != nil {
		return err
	}
	c.metrics.VotesCast.Inc()
	c.metrics.AuditAppended.Add(2)
	return nil
}

func castRequestFromCommand(cmd offlinemodels.CastVoteCommand) (votesvc.CastRequest, error) {
	tokenID, err := domain.ParseTokenID(cmd.TokenID)
	if err != nil {
		return votesvc.CastRequest{}, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid token id in queued item")
	}
	electionID, err := domain.ParseElectionID(cmd.ElectionID)
	if err != nil {
		return votesvc.CastRequest{}, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid election id in queued item")
	}
	if len(cmd.Ciphertext) == 0 {
		return votesvc.CastRequest{}, dErrors.New(dErrors.CodeInvalidInput, "queued vote has no ciphertext")
	}
	return votesvc.CastRequest{
		TokenID:        tokenID,
		TokenSignature: cmd.TokenSignature,
		ElectionID:     electionID,
		Payload: votemodels.EncryptedPayload{
			Ciphertext:    cmd.Ciphertext,
			Nonce:         cmd.Nonce,
			KeyCommitment: cmd.KeyCommitment,
		},
		PayloadSignature: cmd.PayloadSignature,
	}, nil
}

var _ coordinator.Dispatcher = (*Core)(nil)

// NewIdempotencyKey derives a stable idempotency key for one logical
// operation from its identifying fields.
func NewIdempotencyKey(op offlinemodels.OperationType, parts ...string) string {
	key := string(op)
	for _, p := range parts {
		key = fmt.Sprintf("%s:%s", key, p)
	}
	return key
}
