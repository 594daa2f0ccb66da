package cache

import (
	"context"
	"time"

	"minerfleet/plane/internal/db/database"
)

/*
RedisStore 基于 Redis 的缓存实现
功能：TTL 由 Redis 原生过期保证，前缀删除走 SCAN
*/
type RedisStore struct {
	client *database.RedisClient
}

func NewRedisStore(client *database.RedisClient) *RedisStore {
	return &RedisStore{client: client}
}

func (r *RedisStore) Name() string { return "redis" }

func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := r.client.Get(ctx, key)
	if database.IsNil(err) {
		return nil, ErrMiss
	}
	return data, err
}

func (r *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl)
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, key)
}

func (r *RedisStore) DeletePattern(ctx context.Context, prefix string) (int, error) {
	return r.client.DeleteByPrefix(ctx, prefix)
}

func (r *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	return r.client.Exists(ctx, key)
}
