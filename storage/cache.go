package storage

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"nudge-core/domain"
)

const tasksSnapshotKey = "nudge:tasks:snapshot"

type backend interface {
	LoadTasks(ctx context.Context) ([]domain.Task, error)
	UpsertTask(ctx context.Context, t domain.Task) error
	DeleteTask(ctx context.Context, id string) error
	InsertBrainDump(ctx context.Context, d domain.BrainDump) error
	CountBrainDumpsSince(ctx context.Context, since time.Time) (int, error)
}

// Cache wraps a Store with a Redis-backed snapshot of the task collection
// so warm restarts skip the full table scan. Writes evict; Redis being down
// just falls through to the backing store.
type Cache struct {
	base  backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching wrapper around base.
func NewCache(base backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func (c *Cache) LoadTasks(ctx context.Context) ([]domain.Task, error) {
	if tasks, ok := c.loadSnapshot(ctx); ok {
		return tasks, nil
	}
	tasks, err := c.base.LoadTasks(ctx)
	if err != nil {
		return nil, err
	}
	c.storeSnapshot(ctx, tasks)
	return tasks, nil
}

func (c *Cache) UpsertTask(ctx context.Context, t domain.Task) error {
	if err := c.base.UpsertTask(ctx, t); err != nil {
		return err
	}
	c.evict(ctx)
	return nil
}

func (c *Cache) DeleteTask(ctx context.Context, id string) error {
	if err := c.base.DeleteTask(ctx, id); err != nil {
		return err
	}
	c.evict(ctx)
	return nil
}

func (c *Cache) InsertBrainDump(ctx context.Context, d domain.BrainDump) error {
	return c.base.InsertBrainDump(ctx, d)
}

func (c *Cache) CountBrainDumpsSince(ctx context.Context, since time.Time) (int, error) {
	return c.base.CountBrainDumpsSince(ctx, since)
}

func (c *Cache) loadSnapshot(ctx context.Context) ([]domain.Task, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, tasksSnapshotKey).Bytes()
	if err != nil {
		if err != redis.Nil {
			_ = c.redis.Del(ctx, tasksSnapshotKey).Err()
		}
		return nil, false
	}
	var tasks []domain.Task
	if err := sonic.Unmarshal(data, &tasks); err != nil {
		_ = c.redis.Del(ctx, tasksSnapshotKey).Err()
		return nil, false
	}
	return tasks, true
}

func (c *Cache) storeSnapshot(ctx context.Context, tasks []domain.Task) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := sonic.Marshal(tasks)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, tasksSnapshotKey, data, c.ttl).Err()
}

func (c *Cache) evict(ctx context.Context) {
	if c.redis == nil {
		return
	}
	_ = c.redis.Del(ctx, tasksSnapshotKey).Err()
}
