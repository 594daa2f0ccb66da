package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"minerfleet/plane/internal/metrics"

	"go.uber.org/atomic"
)

/*
Cache 类型化缓存门面
功能：JSON 编解码 + 命中率统计，底层 Store 可为 Redis 或内存
*/
type Cache struct {
	store   Store
	metrics *metrics.Metrics

	hits   atomic.Int64
	misses atomic.Int64
}

func New(store Store, m *metrics.Metrics) *Cache {
	if m == nil {
		m = metrics.NewNop()
	}
	return &Cache{store: store, metrics: m}
}

/* Store 底层存储 */
func (c *Cache) Store() Store {
	return c.store
}

/*
GetJSON 读取并解码到 out
功能：未命中返回 false, nil；存储错误或解码错误原样返回
*/
func (c *Cache) GetJSON(ctx context.Context, key string, out interface{}) (bool, error) {
	data, err := c.store.Get(ctx, key)
	if errors.Is(err, ErrMiss) {
		c.misses.Inc()
		c.metrics.CacheRequests.WithLabelValues("miss").Inc()
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("cache decode %s: %w", key, err)
	}
	c.hits.Inc()
	c.metrics.CacheRequests.WithLabelValues("hit").Inc()
	return true, nil
}

/* Get 泛型读取 */
func Get[T any](ctx context.Context, c *Cache, key string) (T, bool, error) {
	var v T
	ok, err := c.GetJSON(ctx, key, &v)
	return v, ok, err
}

/* Set ttl <= 0 永不过期 */
func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache encode %s: %w", key, err)
	}
	if err := c.store.Set(ctx, key, data, ttl); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("cache delete %s: %w", key, err)
	}
	return nil
}

func (c *Cache) DeletePattern(ctx context.Context, prefix string) (int, error) {
	n, err := c.store.DeletePattern(ctx, prefix)
	if err != nil {
		return n, fmt.Errorf("cache delete pattern %s: %w", prefix, err)
	}
	return n, nil
}

func (c *Cache) Exists(ctx context.Context, key string) (bool, error) {
	return c.store.Exists(ctx, key)
}

/* Stats 命中统计 */
type Stats struct {
	Backend string `json:"backend"`
	Hits    int64  `json:"hits"`
	Misses  int64  `json:"misses"`
}

func (c *Cache) Stats() Stats {
	return Stats{
		Backend: c.store.Name(),
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
	}
}
