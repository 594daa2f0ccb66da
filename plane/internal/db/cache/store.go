/*
Package cache 状态缓存

Store 是键值存储策略接口，有两个实现：Redis（外部 TTL 存储）和 Memory（进程内带过期的 map），
构造时选定，对外行为一致。Cache 在 Store 之上提供 JSON 序列化与命中统计，
调用方按 cache-aside 模式使用：先读缓存，未命中再访问设备并回填。
*/
package cache

import (
	"context"
	"errors"
	"time"
)

/* ErrMiss 键不存在或已过期 */
var ErrMiss = errors.New("cache: miss")

/*
Store 缓存存储策略
功能：ttl <= 0 表示永不过期；过期后的 Get 必须表现为未命中
*/
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	DeletePattern(ctx context.Context, prefix string) (int, error)
	Exists(ctx context.Context, key string) (bool, error)
	Name() string
}
