// Package redis provides a Redis-backed offline queue store. Order is kept in
// a list of item IDs, item bodies live in a hash, and applied idempotency keys
// in a set, so a crash between steps never loses an item.
package redis

import (
	"context"
	"encoding/json"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"ballotcore/pkg/domain"
	"ballotcore/pkg/platform/sentinel"

	platformredis "ballotcore/internal/platform/redis"

	"ballotcore/internal/offline/models"
)

const (
	orderKey   = "ballotcore:offline:order"
	itemsKey   = "ballotcore:offline:items"
	appliedKey = "ballotcore:offline:applied"
)

// Store persists the offline queue in Redis.
type Store struct {
	client *platformredis.Client
}

// New creates a Store over the shared Redis client.
func New(client *platformredis.Client) *Store {
	return &Store{client: client}
}

func (s *Store) Enqueue(ctx context.Context, item *models.Item) error {
	body, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("encode offline item: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, itemsKey, item.ID.String(), body)
	pipe.RPush(ctx, orderKey, item.ID.String())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("enqueue offline item: %w", err)
	}
	return nil
}

func (s *Store) List(ctx context.Context) ([]*models.Item, error) {
	ids, err := s.client.LRange(ctx, orderKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read offline order: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	fields := make([]string, len(ids))
	copy(fields, ids)
	bodies, err := s.client.HMGet(ctx, itemsKey, fields...).Result()
	if err != nil {
		return nil, fmt.Errorf("read offline items: %w", err)
	}

	items := make([]*models.Item, 0, len(bodies))
	for _, body := range bodies {
		raw, ok := body.(string)
		if !ok {
			// The order list can briefly reference an item removed by a
			// concurrent replay. Skip the dangling ID.
			continue
		}
		var item models.Item
		if err := json.Unmarshal([]byte(raw), &item); err != nil {
			return nil, fmt.Errorf("decode offline item: %w", err)
		}
		items = append(items, &item)
	}
	return items, nil
}

func (s *Store) Update(ctx context.Context, item *models.Item) error {
	exists, err := s.client.HExists(ctx, itemsKey, item.ID.String()).Result()
	if err != nil {
		return fmt.Errorf("check offline item: %w", err)
	}
	if !exists {
		return sentinel.ErrNotFound
	}

	body, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("encode offline item: %w", err)
	}
	if err := s.client.HSet(ctx, itemsKey, item.ID.String(), body).Err(); err != nil {
		return fmt.Errorf("update offline item: %w", err)
	}
	return nil
}

func (s *Store) Remove(ctx context.Context, id domain.QueueItemID) error {
	pipe := s.client.TxPipeline()
	removed := pipe.LRem(ctx, orderKey, 1, id.String())
	pipe.HDel(ctx, itemsKey, id.String())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("remove offline item: %w", err)
	}
	if removed.Val() == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *Store) MarkApplied(ctx context.Context, idempotencyKey string) error {
	if err := s.client.SAdd(ctx, appliedKey, idempotencyKey).Err(); err != nil {
		return fmt.Errorf("mark applied: %w", err)
	}
	return nil
}

func (s *Store) IsApplied(ctx context.Context, idempotencyKey string) (bool, error) {
	ok, err := s.client.SIsMember(ctx, appliedKey, idempotencyKey).Result()
	if err != nil && err != goredis.Nil {
		return false, fmt.Errorf("check applied: %w", err)
	}
	return ok, nil
}
