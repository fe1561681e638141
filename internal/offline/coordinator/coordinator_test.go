package coordinator

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ballotcore/internal/offline/models"
	"ballotcore/internal/offline/store/memory"
	dErrors "ballotcore/pkg/domain-errors"
)

// stubDispatcher records dispatch order and fails the keys it is told to.
type stubDispatcher struct {
	issued []models.IssueTokenCommand
	cast   []models.CastVoteCommand
	fail   map[string]error
}

func (d *stubDispatcher) DispatchIssueToken(_ context.Context, cmd models.IssueTokenCommand) error {
	if err := d.fail[cmd.VoterID]; err != nil {
		return err
	}
	d.issued = append(d.issued, cmd)
	return nil
}

func (d *stubDispatcher) DispatchCastVote(_ context.Context, cmd models.CastVoteCommand) error {
	if err := d.fail[cmd.TokenID]; err != nil {
		return err
	}
	d.cast = append(d.cast, cmd)
	return nil
}

func newCoordinator(t *testing.T) (*Coordinator, *memory.Store) {
	t.Helper()
	store := memory.New()
	return New(store, slog.Default()), store
}

func issuePayload(t *testing.T, voterID string) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(models.IssueTokenCommand{
		VoterID:    voterID,
		ElectionID: uuid.NewString(),
	})
	require.NoError(t, err)
	return raw
}

func TestEnqueue_Validation(t *testing.T) {
	c, _ := newCoordinator(t)
	payload := issuePayload(t, uuid.NewString())

	t.Run("unknown op", func(t *testing.T) {
		_, err := c.Enqueue(context.Background(), "defragment", payload, "key-1")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("missing idempotency key", func(t *testing.T) {
		_, err := c.Enqueue(context.Background(), models.OpIssueToken, payload, "")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("missing payload", func(t *testing.T) {
		_, err := c.Enqueue(context.Background(), models.OpIssueToken, nil, "key-1")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}

func TestReplay_AppliesInEnqueueOrder(t *testing.T) {
	c, _ := newCoordinator(t)
	ctx := context.Background()

	voterA, voterB := uuid.NewString(), uuid.NewString()
	_, err := c.Enqueue(ctx, models.OpIssueToken, issuePayload(t, voterA), "key-a")
	require.NoError(t, err)
	_, err = c.Enqueue(ctx, models.OpIssueToken, issuePayload(t, voterB), "key-b")
	require.NoError(t, err)

	dispatcher := &stubDispatcher{}
	report, err := c.Replay(ctx, dispatcher)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Attempted)
	assert.Equal(t, 2, report.Applied)
	assert.Zero(t, report.Failed)
	require.Len(t, dispatcher.issued, 2)
	assert.Equal(t, voterA, dispatcher.issued[0].VoterID)
	assert.Equal(t, voterB, dispatcher.issued[1].VoterID)

	// The queue is empty afterwards.
	pending, err := c.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestReplay_SkipsAppliedKeys(t *testing.T) {
	c, store := newCoordinator(t)
	ctx := context.Background()

	_, err := c.Enqueue(ctx, models.OpIssueToken, issuePayload(t, uuid.NewString()), "key-a")
	require.NoError(t, err)
	require.NoError(t, store.MarkApplied(ctx, "key-a"))

	dispatcher := &stubDispatcher{}
	report, err := c.Replay(ctx, dispatcher)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Skipped)
	assert.Empty(t, dispatcher.issued, "an applied item must never be dispatched again")
}

func TestReplay_DuplicateMeansAlreadyApplied(t *testing.T) {
	// A duplicate rejection during replay is the lost-acknowledgement case:
	// the operation landed the first time. The item is settled, not retried.
	c, store := newCoordinator(t)
	ctx := context.Background()

	voter := uuid.NewString()
	_, err := c.Enqueue(ctx, models.OpIssueToken, issuePayload(t, voter), "key-a")
	require.NoError(t, err)

	dispatcher := &stubDispatcher{fail: map[string]error{
		voter: dErrors.New(dErrors.CodeDuplicateToken, "voter already holds a token for this election"),
	}}
	report, err := c.Replay(ctx, dispatcher)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Skipped)
	assert.Zero(t, report.Failed)

	applied, err := store.IsApplied(ctx, "key-a")
	require.NoError(t, err)
	assert.True(t, applied)

	pending, err := c.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestReplay_FailureLeavesItemQueued(t *testing.T) {
	c, _ := newCoordinator(t)
	ctx := context.Background()

	voter := uuid.NewString()
	_, err := c.Enqueue(ctx, models.OpIssueToken, issuePayload(t, voter), "key-a")
	require.NoError(t, err)

	dispatcher := &stubDispatcher{fail: map[string]error{
		voter: dErrors.New(dErrors.CodeElectionNotActive, "election is not in its voting window"),
	}}
	report, err := c.Replay(ctx, dispatcher)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "key-a", report.Failures[0].IdempotencyKey)

	pending, err := c.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].RetryCount)
	assert.NotEmpty(t, pending[0].LastError)

	t.Run("second failed pass increments again", func(t *testing.T) {
		_, err := c.Replay(ctx, dispatcher)
		require.NoError(t, err)

		pending, err := c.Pending(ctx)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, 2, pending[0].RetryCount)
	})

	t.Run("succeeds once the failure clears", func(t *testing.T) {
		report, err := c.Replay(ctx, &stubDispatcher{})
		require.NoError(t, err)
		assert.Equal(t, 1, report.Applied)

		pending, err := c.Pending(ctx)
		require.NoError(t, err)
		assert.Empty(t, pending)
	})
}

func TestReplay_MalformedPayloadKeepsItem(t *testing.T) {
	c, _ := newCoordinator(t)
	ctx := context.Background()

	_, err := c.Enqueue(ctx, models.OpCastVote, json.RawMessage(`{"token_id": 42}`), "key-a")
	require.NoError(t, err)

	report, err := c.Replay(ctx, &stubDispatcher{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
}

func TestReplay_MixedOutcomes(t *testing.T) {
	c, _ := newCoordinator(t)
	ctx := context.Background()

	good, bad := uuid.NewString(), uuid.NewString()
	_, err := c.Enqueue(ctx, models.OpIssueToken, issuePayload(t, good), "key-good")
	require.NoError(t, err)
	_, err = c.Enqueue(ctx, models.OpIssueToken, issuePayload(t, bad), "key-bad")
	require.NoError(t, err)

	dispatcher := &stubDispatcher{fail: map[string]error{
		bad: dErrors.New(dErrors.CodeUnavailable, "ledger store offline"),
	}}
	report, err := c.Replay(ctx, dispatcher)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Attempted)
	assert.Equal(t, 1, report.Applied)
	assert.Equal(t, 1, report.Failed)

	// Only the failed item is still queued.
	pending, err := c.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "key-bad", pending[0].IdempotencyKey)
}
