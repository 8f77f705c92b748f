package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"boardflow-api/domain"
)

type backend interface {
	ListItems(ctx context.Context, accountID string, board domain.BoardType) ([]domain.Item, error)
	GetItem(ctx context.Context, accountID, itemID string) (domain.Item, error)
	CreateItem(ctx context.Context, accountID string, item domain.Item) (domain.Item, error)
	UpdateItemStage(ctx context.Context, accountID, itemID string, status domain.PersistedStatus) (domain.Item, error)
	DeleteItem(ctx context.Context, accountID, itemID string) error
	PublishEvent(ctx context.Context, accountID string, ev domain.BoardEvent) error
}

// Cache wraps a Storage instance with a Redis read-through cache of board
// item lists. The cached copy is a view-session convenience, never the
// source of truth: any successful mutation evicts the account's boards
// wholesale instead of attempting a fine-grained merge, and Redis failures
// silently fall back to the backing storage.
//
// The Snapshot/Patch/Restore operations exist for the transition
// controller's optimistic two-phase move: patch the cached copy while the
// write is in flight, restore the snapshot if the write is declined.
type Cache struct {
	*Storage
	base  backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching wrapper using the provided Redis client and
// TTL. A nil client disables caching; every operation passes through.
func NewCache(base backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	c := &Cache{
		base:  base,
		redis: client,
		ttl:   ttl,
	}
	if s, ok := base.(*Storage); ok {
		c.Storage = s
	}
	return c
}

func (c *Cache) ListItems(ctx context.Context, accountID string, board domain.BoardType) ([]domain.Item, error) {
	if items, ok := c.SnapshotItems(ctx, accountID, board); ok {
		return items, nil
	}

	items, err := c.base.ListItems(ctx, accountID, board)
	if err != nil {
		return nil, err
	}

	c.storeItems(ctx, accountID, board, items)
	return items, nil
}

func (c *Cache) GetItem(ctx context.Context, accountID, itemID string) (domain.Item, error) {
	return c.base.GetItem(ctx, accountID, itemID)
}

func (c *Cache) CreateItem(ctx context.Context, accountID string, item domain.Item) (domain.Item, error) {
	created, err := c.base.CreateItem(ctx, accountID, item)
	if err != nil {
		return domain.Item{}, err
	}
	c.evict(ctx, accountID)
	return created, nil
}

func (c *Cache) UpdateItemStage(ctx context.Context, accountID, itemID string, status domain.PersistedStatus) (domain.Item, error) {
	updated, err := c.base.UpdateItemStage(ctx, accountID, itemID, status)
	if err != nil {
		return domain.Item{}, err
	}
	c.evict(ctx, accountID)
	return updated, nil
}

func (c *Cache) DeleteItem(ctx context.Context, accountID, itemID string) error {
	if err := c.base.DeleteItem(ctx, accountID, itemID); err != nil {
		return err
	}
	c.evict(ctx, accountID)
	return nil
}

func (c *Cache) PublishEvent(ctx context.Context, accountID string, ev domain.BoardEvent) error {
	return c.base.PublishEvent(ctx, accountID, ev)
}

// SnapshotItems returns the cached copy of a board, if one exists. It
// never reaches for the backing storage.
func (c *Cache) SnapshotItems(ctx context.Context, accountID string, board domain.BoardType) ([]domain.Item, bool) {
	if c.redis == nil {
		return nil, false
	}
	key := itemsCacheKey(accountID, board)
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, key).Err()
		}
		return nil, false
	}
	var items []domain.Item
	if err := json.Unmarshal(data, &items); err != nil {
		_ = c.redis.Del(ctx, key).Err()
		return nil, false
	}
	return items, true
}

// PatchItemStage rewrites one item's status inside the cached board copy
// so concurrent readers see the optimistic move while the authoritative
// write is in flight. A cache miss is a no-op.
func (c *Cache) PatchItemStage(ctx context.Context, accountID string, board domain.BoardType, itemID string, status domain.PersistedStatus) {
	items, ok := c.SnapshotItems(ctx, accountID, board)
	if !ok {
		return
	}
	for i := range items {
		if items[i].ID == itemID {
			items[i].Status = status
			break
		}
	}
	c.storeItems(ctx, accountID, board, items)
}

// RestoreItems writes a previously captured snapshot back, undoing an
// optimistic patch after a declined write.
func (c *Cache) RestoreItems(ctx context.Context, accountID string, board domain.BoardType, items []domain.Item) {
	c.storeItems(ctx, accountID, board, items)
}

// Invalidate drops the cached copy of one board.
func (c *Cache) Invalidate(ctx context.Context, accountID string, board domain.BoardType) {
	if c.redis == nil {
		return
	}
	_ = c.redis.Del(ctx, itemsCacheKey(accountID, board)).Err()
}

func (c *Cache) storeItems(ctx context.Context, accountID string, board domain.BoardType, items []domain.Item) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := json.Marshal(items)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, itemsCacheKey(accountID, board), data, c.ttl).Err()
}

func (c *Cache) evict(ctx context.Context, accountID string) {
	if c.redis == nil {
		return
	}
	_, _ = c.redis.Del(ctx,
		itemsCacheKey(accountID, domain.BoardDeals),
		itemsCacheKey(accountID, domain.BoardTasks),
	).Result()
}

func itemsCacheKey(accountID string, board domain.BoardType) string {
	return "items:" + accountID + ":" + string(board)
}
