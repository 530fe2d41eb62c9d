package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"todo-api/domain"
	"todo-api/todo"
)

// Cache wraps a task store with Redis-backed caching of the per-owner task
// list. Mutations invalidate the owner's cached list; Redis faults fall back
// to the backing store without failing the request.
type Cache struct {
	todo.Store
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching wrapper using the provided Redis client and TTL.
func NewCache(base todo.Store, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base store is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{Store: base, redis: client, ttl: ttl}
}

func (c *Cache) ListByOwner(ctx context.Context, ownerID string) ([]domain.Task, error) {
	if tasks, ok := c.loadFromCache(ctx, ownerID); ok {
		return tasks, nil
	}

	tasks, err := c.Store.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	c.storeTasks(ctx, ownerID, tasks)
	return tasks, nil
}

func (c *Cache) InsertTask(ctx context.Context, t *domain.Task) error {
	if err := c.Store.InsertTask(ctx, t); err != nil {
		return err
	}
	c.evict(ctx, t.UserID)
	return nil
}

func (c *Cache) UpdateTask(ctx context.Context, t domain.Task) error {
	if err := c.Store.UpdateTask(ctx, t); err != nil {
		return err
	}
	c.evict(ctx, t.UserID)
	return nil
}

func (c *Cache) DeleteTask(ctx context.Context, id int, ownerID string) error {
	if err := c.Store.DeleteTask(ctx, id, ownerID); err != nil {
		return err
	}
	c.evict(ctx, ownerID)
	return nil
}

func (c *Cache) SetPosition(ctx context.Context, id int, ownerID string, position int) (bool, error) {
	ok, err := c.Store.SetPosition(ctx, id, ownerID, position)
	if err != nil {
		return false, err
	}
	if ok {
		c.evict(ctx, ownerID)
	}
	return ok, nil
}

func (c *Cache) loadFromCache(ctx context.Context, ownerID string) ([]domain.Task, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, tasksCacheKey(ownerID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing store without failing.
			_ = c.redis.Del(ctx, tasksCacheKey(ownerID)).Err()
		}
		return nil, false
	}
	var tasks []domain.Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		_ = c.redis.Del(ctx, tasksCacheKey(ownerID)).Err()
		return nil, false
	}
	return tasks, true
}

func (c *Cache) storeTasks(ctx context.Context, ownerID string, tasks []domain.Task) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := json.Marshal(tasks)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, tasksCacheKey(ownerID), data, c.ttl).Err()
}

func (c *Cache) evict(ctx context.Context, ownerID string) {
	if c.redis == nil {
		return
	}
	_, _ = c.redis.Del(ctx, tasksCacheKey(ownerID)).Result()
}

func tasksCacheKey(ownerID string) string {
	return "tasks:" + ownerID
}
