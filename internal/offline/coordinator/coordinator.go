// Package coordinator replays operations that were queued while the node had
// no connectivity. Replay preserves enqueue order and treats duplicate
// rejections from the core as proof the operation already landed before the
// acknowledgement was lost.
package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	dErrors "ballotcore/pkg/domain-errors"
	"ballotcore/pkg/domain"
	"ballotcore/pkg/requestcontext"

	"ballotcore/internal/offline/models"
)

// Store is the durable queue backing the coordinator.
//
// List returns items in enqueue order. IsApplied / MarkApplied track
// idempotency keys whose operations are known to have landed, so a crashed
// replay never applies an item twice.
type Store interface {
	Enqueue(ctx context.Context, item *models.Item) error
	List(ctx context.Context) ([]*models.Item, error)
	Update(ctx context.Context, item *models.Item) error
	Remove(ctx context.Context, id domain.QueueItemID) error
	MarkApplied(ctx context.Context, idempotencyKey string) error
	IsApplied(ctx context.Context, idempotencyKey string) (bool, error)
}

// Dispatcher hands a replayed command to the live core.
type Dispatcher interface {
	DispatchIssueToken(ctx context.Context, cmd models.IssueTokenCommand) error
	DispatchCastVote(ctx context.Context, cmd models.CastVoteCommand) error
}

// ReplayFailure records one item that stayed queued after a replay pass.
type ReplayFailure struct {
	ItemID         domain.QueueItemID
	IdempotencyKey string
	Error          string
}

// ReplayReport summarises one replay pass over the queue.
type ReplayReport struct {
	Attempted int
	Applied   int
	Skipped   int
	Failed    int
	Failures  []ReplayFailure
}

// Coordinator owns the offline queue lifecycle.
type Coordinator struct {
	store  Store
	logger *slog.Logger
}

// New builds a Coordinator over the given store.
func New(store Store, logger *slog.Logger) *Coordinator {
	return &Coordinator{store: store, logger: logger}
}

// Enqueue captures an operation for later replay. The idempotency key must be
// stable across retries of the same logical operation.
func (c *Coordinator) Enqueue(ctx context.Context, op models.OperationType, payload json.RawMessage, idempotencyKey string) (*models.Item, error) {
	if !op.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("unsupported offline operation %q", op))
	}
	if idempotencyKey == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "idempotency key is required")
	}
	if len(payload) == 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "payload is required")
	}

	item := &models.Item{
		ID:             domain.NewQueueItemID(),
		Op:             op,
		Payload:        payload,
		IdempotencyKey: idempotencyKey,
		EnqueuedAt:     requestcontext.Now(ctx),
	}
	if err := c.store.Enqueue(ctx, item); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "enqueue offline item")
	}

	c.logger.InfoContext(ctx, "offline item enqueued",
		slog.String("item_id", item.ID.String()),
		slog.String("op", string(item.Op)))
	return item, nil
}

// Pending returns the queued items in enqueue order.
func (c *Coordinator) Pending(ctx context.Context) ([]*models.Item, error) {
	items, err := c.store.List(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list offline queue")
	}
	return items, nil
}

// Replay drains the queue in order against the dispatcher. Items whose
// idempotency key is already marked applied are dropped without dispatch.
// Duplicate rejections count as applied: the original attempt landed but its
// acknowledgement was lost. Any other failure leaves the item queued with an
// incremented retry count.
func (c *Coordinator) Replay(ctx context.Context, dispatcher Dispatcher) (*ReplayReport, error) {
	items, err := c.store.List(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list offline queue")
	}

	report := &ReplayReport{Attempted: len(items)}
	for _, item := range items {
		applied, err := c.store.IsApplied(ctx, item.IdempotencyKey)
		if err != nil {
			return report, dErrors.Wrap(err, dErrors.CodeInternal, "check applied key")
		}
		if applied {
			if err := c.store.Remove(ctx, item.ID); err != nil {
				return report, dErrors.Wrap(err, dErrors.CodeInternal, "remove applied item")
			}
			report.Skipped++
			continue
		}

		dispatchErr := c.dispatch(ctx, dispatcher, item)
		switch {
		case dispatchErr == nil:
			if err := c.settle(ctx, item); err != nil {
				return report, err
			}
			report.Applied++
		case isAlreadyApplied(dispatchErr):
			// The first attempt succeeded but the ack never reached
			// the queue. The state machine already holds the result.
			c.logger.InfoContext(ctx, "offline item already applied",
				slog.String("item_id", item.ID.String()),
				slog.String("code", string(dErrors.CodeOf(dispatchErr))))
			if err := c.settle(ctx, item); err != nil {
				return report, err
			}
			report.Skipped++
		default:
			item.RetryCount++
			item.LastError = dispatchErr.Error()
			if err := c.store.Update(ctx, item); err != nil {
				return report, dErrors.Wrap(err, dErrors.CodeInternal, "update failed item")
			}
			report.Failed++
			report.Failures = append(report.Failures, ReplayFailure{
				ItemID:         item.ID,
				IdempotencyKey: item.IdempotencyKey,
				Error:          dispatchErr.Error(),
			})
			c.logger.WarnContext(ctx, "offline replay failed",
				slog.String("item_id", item.ID.String()),
				slog.String("op", string(item.Op)),
				slog.Int("retry_count", item.RetryCount),
				slog.String("error", dispatchErr.Error()))
		}
	}
	return report, nil
}

func (c *Coordinator) dispatch(ctx context.Context, dispatcher Dispatcher, item *models.Item) error {
	switch item.Op {
	case models.OpIssueToken:
		var cmd models.IssueTokenCommand
		if err := json.Unmarshal(item.Payload, &cmd); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInvalidInput, "decode issue token payload")
		}
		return dispatcher.DispatchIssueToken(ctx, cmd)
	case models.OpCastVote:
		var cmd models.CastVoteCommand
		if err := json.Unmarshal(item.Payload, &cmd); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInvalidInput, "decode cast vote payload")
		}
		return dispatcher.DispatchCastVote(ctx, cmd)
	default:
		return dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("unsupported offline operation %q", item.Op))
	}
}

// settle marks the item's key applied and destroys the item.
func (c *Coordinator) settle(ctx context.Context, item *models.Item) error {
	if err := c.store.MarkApplied(ctx, item.IdempotencyKey); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "mark item applied")
	}
	if err := c.store.Remove(ctx, item.ID); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "remove replayed item")
	}
	return nil
}

func isAlreadyApplied(err error) bool {
	return dErrors.HasCode(err, dErrors.CodeDuplicateToken) ||
		dErrors.HasCode(err, dErrors.CodeDuplicateVote) ||
		dErrors.HasCode(err, dErrors.CodeTokenAlreadyUsed)
}
