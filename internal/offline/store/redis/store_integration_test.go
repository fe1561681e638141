//go:build integration

package redis_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"ballotcore/internal/offline/models"
	redisstore "ballotcore/internal/offline/store/redis"
	platformredis "ballotcore/internal/platform/redis"
	"ballotcore/pkg/domain"
	"ballotcore/pkg/platform/sentinel"
	"ballotcore/pkg/testutil/containers"
)

type RedisStoreSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *redisstore.Store
}

func TestRedisStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisStoreSuite))
}

func (s *RedisStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.redis = mgr.GetRedis(s.T())
	s.store = redisstore.New(&platformredis.Client{Client: s.redis.Client})
}

func (s *RedisStoreSuite) SetupTest() {
	ctx := context.Background()
	err := s.redis.FlushAll(ctx)
	s.Require().NoError(err)
}

func newTestItem(op models.OperationType) *models.Item {
	payload, _ := json.Marshal(models.IssueTokenCommand{
		VoterID:    uuid.NewString(),
		ElectionID: uuid.NewString(),
	})
	return &models.Item{
		ID:             domain.NewQueueItemID(),
		Op:             op,
		Payload:        payload,
		IdempotencyKey: "key-" + uuid.NewString(),
		EnqueuedAt:     time.Now().UTC().Truncate(time.Millisecond),
	}
}

func (s *RedisStoreSuite) TestEnqueuePreservesOrder() {
	ctx := context.Background()

	first := newTestItem(models.OpIssueToken)
	second := newTestItem(models.OpCastVote)
	third := newTestItem(models.OpIssueToken)
	for _, item := range []*models.Item{first, second, third} {
		s.Require().NoError(s.store.Enqueue(ctx, item))
	}

	items, err := s.store.List(ctx)
	s.Require().NoError(err)
	s.Require().Len(items, 3)
	s.Equal(first.ID, items[0].ID)
	s.Equal(second.ID, items[1].ID)
	s.Equal(third.ID, items[2].ID)

	// Full round trip of the first item.
	s.Equal(first.Op, items[0].Op)
	s.JSONEq(string(first.Payload), string(items[0].Payload))
	s.Equal(first.IdempotencyKey, items[0].IdempotencyKey)
	s.True(items[0].EnqueuedAt.Equal(first.EnqueuedAt))
	s.Equal(0, items[0].RetryCount)
	s.Empty(items[0].LastError)
}

func (s *RedisStoreSuite) TestListEmpty() {
	items, err := s.store.List(context.Background())
	s.Require().NoError(err)
	s.Empty(items)
}

func (s *RedisStoreSuite) TestUpdateRetryBookkeeping() {
	ctx := context.Background()
	item := newTestItem(models.OpCastVote)
	s.Require().NoError(s.store.Enqueue(ctx, item))

	item.RetryCount = 3
	item.LastError = "dispatch cast vote: connection refused"
	s.Require().NoError(s.store.Update(ctx, item))

	items, err := s.store.List(ctx)
	s.Require().NoError(err)
	s.Require().Len(items, 1)
	s.Equal(3, items[0].RetryCount)
	s.Equal(item.LastError, items[0].LastError)

	// Updating a removed item reports not found.
	missing := newTestItem(models.OpCastVote)
	s.ErrorIs(s.store.Update(ctx, missing), sentinel.ErrNotFound)
}

func (s *RedisStoreSuite) TestRemove() {
	ctx := context.Background()
	keep := newTestItem(models.OpIssueToken)
	drop := newTestItem(models.OpIssueToken)
	s.Require().NoError(s.store.Enqueue(ctx, keep))
	s.Require().NoError(s.store.Enqueue(ctx, drop))

	s.Require().NoError(s.store.Remove(ctx, drop.ID))

	items, err := s.store.List(ctx)
	s.Require().NoError(err)
	s.Require().Len(items, 1)
	s.Equal(keep.ID, items[0].ID)

	s.ErrorIs(s.store.Remove(ctx, drop.ID), sentinel.ErrNotFound)
}

func (s *RedisStoreSuite) TestAppliedKeysSurviveItemRemoval() {
	ctx := context.Background()
	item := newTestItem(models.OpIssueToken)
	s.Require().NoError(s.store.Enqueue(ctx, item))

	applied, err := s.store.IsApplied(ctx, item.IdempotencyKey)
	s.Require().NoError(err)
	s.False(applied)

	s.Require().NoError(s.store.MarkApplied(ctx, item.IdempotencyKey))
	s.Require().NoError(s.store.Remove(ctx, item.ID))

	// The applied marker outlives the queue item; a re-enqueued duplicate
	// is detected on the next replay.
	applied, err = s.store.IsApplied(ctx, item.IdempotencyKey)
	s.Require().NoError(err)
	s.True(applied)

	// MarkApplied is idempotent.
	s.Require().NoError(s.store.MarkApplied(ctx, item.IdempotencyKey))
}
