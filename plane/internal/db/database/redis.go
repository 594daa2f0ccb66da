package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

/*
RedisConfig Redis 连接配置
*/
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	PoolSize     int
	MinIdleConns int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

/* DefaultRedisConfig 默认连接池参数，Addr 需调用方填写 */
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		PoolSize:     10,
		MinIdleConns: 3,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

/* ErrNil 键不存在 */
var ErrNil = redis.Nil

/*
RedisClient Redis 客户端封装
功能：状态缓存与任务存储的外部后端，以及任务事件发布通道
*/
type RedisClient struct {
	client *redis.Client
}

/*
NewRedisClient 创建并探测 Redis 连接
功能：Addr 为空返回 nil, nil（Redis 为可选组件）；连接失败返回错误，由调用方决定降级
*/
func NewRedisClient(ctx context.Context, cfg *RedisConfig) (*RedisClient, error) {
	if cfg == nil || cfg.Addr == "" {
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping [%s]: %w", cfg.Addr, err)
	}

	zap.L().Named("redis").Info("redis connected", zap.String("addr", cfg.Addr))
	return &RedisClient{client: client}, nil
}

/* NewRedisClientFrom 包装已有 go-redis 客户端（测试使用） */
func NewRedisClientFrom(client *redis.Client) *RedisClient {
	return &RedisClient{client: client}
}

// Client 底层 go-redis 客户端
func (r *RedisClient) Client() *redis.Client {
	return r.client
}

/* Set ttl <= 0 表示永不过期 */
func (r *RedisClient) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	return r.client.Set(ctx, key, value, ttl).Err()
}

/* Get 键不存在时返回 ErrNil */
func (r *RedisClient) Get(ctx context.Context, key string) ([]byte, error) {
	return r.client.Get(ctx, key).Bytes()
}

func (r *RedisClient) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return r.client.Del(ctx, keys...).Err()
}

func (r *RedisClient) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, key).Result()
	return n > 0, err
}

/*
DeleteByPrefix 删除指定前缀的所有键
功能：SCAN 增量遍历避免 KEYS 阻塞，返回删除数量
*/
func (r *RedisClient) DeleteByPrefix(ctx context.Context, prefix string) (int, error) {
	var (
		cursor  uint64
		deleted int
	)
	pattern := escapeGlob(prefix) + "*"
	for {
		keys, next, err := r.client.Scan(ctx, cursor, pattern, 200).Result()
		if err != nil {
			return deleted, err
		}
		if len(keys) > 0 {
			n, err := r.client.Del(ctx, keys...).Result()
			if err != nil {
				return deleted, err
			}
			deleted += int(n)
		}
		cursor = next
		if cursor == 0 {
			return deleted, nil
		}
	}
}

/* Publish 发布消息 */
func (r *RedisClient) Publish(ctx context.Context, channel string, message interface{}) error {
	return r.client.Publish(ctx, channel, message).Err()
}

// Close 关闭连接
func (r *RedisClient) Close() error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Close()
}

/* IsAvailable Ping 探测 */
func (r *RedisClient) IsAvailable(ctx context.Context) bool {
	if r == nil || r.client == nil {
		return false
	}
	return r.client.Ping(ctx).Err() == nil
}

/* IsNil 判断是否为键不存在 */
func IsNil(err error) bool {
	return errors.Is(err, redis.Nil)
}

/* escapeGlob 转义 SCAN MATCH 的通配符，前缀按字面匹配 */
func escapeGlob(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '*', '?', '[', ']', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}
