package database

import (
	"context"
	"testing"
	"time"

	"minerfleet/plane/internal/db/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memoryConfig() *Config {
	return &Config{Type: DBTypeSQLite, SQLitePath: SQLiteMemory, LogLevel: "silent"}
}

func TestNewManagerSQLiteOnly(t *testing.T) {
	m, err := NewManager(context.Background(), &ManagerConfig{Database: memoryConfig()})
	require.NoError(t, err)
	defer m.Close()

	assert.False(t, m.HasRedis())
	assert.True(t, m.DB.Migrator().HasTable(&models.Device{}))
	assert.True(t, m.DB.Migrator().HasTable(&models.DeviceTag{}))

	health := m.HealthCheck(context.Background())
	assert.Equal(t, "sqlite", health["database_type"])
	assert.Equal(t, "connected", health["database_status"])
	assert.Equal(t, "not_configured", health["redis_status"])
}

func TestNewManagerWithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := DefaultRedisConfig()
	rc.Addr = mr.Addr()

	m, err := NewManager(context.Background(), &ManagerConfig{Database: memoryConfig(), Redis: rc})
	require.NoError(t, err)
	defer m.Close()

	require.True(t, m.HasRedis())
	assert.Equal(t, "connected", m.HealthCheck(context.Background())["redis_status"])

	mr.Close()
	assert.Equal(t, "disconnected", m.HealthCheck(context.Background())["redis_status"])
}

func TestNewManagerRedisUnreachableFallsBack(t *testing.T) {
	rc := DefaultRedisConfig()
	rc.Addr = "127.0.0.1:1"
	rc.DialTimeout = 200 * time.Millisecond

	m, err := NewManager(context.Background(), &ManagerConfig{Database: memoryConfig(), Redis: rc})
	require.NoError(t, err, "Redis 不可用不影响启动")
	defer m.Close()
	assert.False(t, m.HasRedis())
}

func TestNewDatabaseRejectsUnknownType(t *testing.T) {
	_, err := NewDatabase(&Config{Type: "oracle"})
	assert.Error(t, err)
}
