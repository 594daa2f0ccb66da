package database

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

/*
Manager 存储管理器
功能：持有注册表的 GORM 连接与可选的 Redis 连接，负责初始化、迁移、健康检查和关闭
*/
type Manager struct {
	DB    *gorm.DB
	Redis *RedisClient

	dbConfig *Config
	logger   *zap.Logger
}

// ManagerConfig 聚合数据库与 Redis 配置
type ManagerConfig struct {
	Database *Config
	Redis    *RedisConfig
}

/*
NewManager 创建存储管理器
功能：连接数据库并迁移；Redis 连接失败只记录警告，继续以进程内缓存运行
*/
func NewManager(ctx context.Context, cfg *ManagerConfig) (*Manager, error) {
	if cfg == nil {
		cfg = &ManagerConfig{}
	}
	if cfg.Database == nil {
		cfg.Database = DefaultConfig()
	}

	m := &Manager{
		dbConfig: cfg.Database,
		logger:   zap.L().Named("storage"),
	}

	db, err := NewDatabase(cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := AutoMigrate(db); err != nil {
		return nil, err
	}
	m.DB = db

	if cfg.Redis != nil && cfg.Redis.Addr != "" {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		rc, err := NewRedisClient(pingCtx, cfg.Redis)
		if err != nil {
			m.logger.Warn("redis unavailable, falling back to in-memory cache", zap.Error(err))
		} else {
			m.Redis = rc
		}
	}

	return m, nil
}

/* HasRedis Redis 是否已连接 */
func (m *Manager) HasRedis() bool {
	return m.Redis != nil
}

// Close 关闭所有连接
func (m *Manager) Close() error {
	var errs []error

	if m.DB != nil {
		if sqlDB, err := m.DB.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close database: %w", err))
			}
		}
	}
	if m.Redis != nil {
		if err := m.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close storage: %v", errs)
	}
	return nil
}

/*
HealthCheck 健康检查
功能：数据库 Ping + 连接池统计，Redis 连接状态
*/
func (m *Manager) HealthCheck(ctx context.Context) map[string]interface{} {
	result := map[string]interface{}{
		"database_type": string(m.dbConfig.Type),
	}

	if sqlDB, err := m.DB.DB(); err == nil {
		if err := sqlDB.PingContext(ctx); err == nil {
			stats := sqlDB.Stats()
			result["database_status"] = "connected"
			result["database_stats"] = map[string]interface{}{
				"open_connections": stats.OpenConnections,
				"in_use":           stats.InUse,
				"idle":             stats.Idle,
			}
		} else {
			result["database_status"] = "error"
			result["database_error"] = err.Error()
		}
	}

	switch {
	case m.Redis == nil:
		result["redis_status"] = "not_configured"
	case m.Redis.IsAvailable(ctx):
		result["redis_status"] = "connected"
	default:
		result["redis_status"] = "disconnected"
	}
	return result
}
