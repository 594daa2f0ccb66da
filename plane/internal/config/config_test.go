package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigMatchesDevicePolicy(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 30*time.Second, cfg.Device.RequestTimeout)
	assert.Equal(t, 3, cfg.Device.MaxRetries)
	assert.Equal(t, time.Second, cfg.Device.InitialBackoff)
	assert.Equal(t, 10*time.Second, cfg.Device.MaxBackoff)
	assert.Equal(t, 2.0, cfg.Device.BackoffMultiplier)
	assert.Equal(t, 80, cfg.Device.DefaultPort)
	assert.Equal(t, "root", cfg.Device.DefaultUsername)
	assert.Equal(t, 60*time.Second, cfg.Cache.StatusTTL)
	assert.Equal(t, time.Hour, cfg.Cache.JobTTL)
	assert.Equal(t, 10, cfg.Batch.MaxConcurrency)
	assert.NoError(t, cfg.Validate())
}

func TestSaveAndLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := DefaultConfig()
	cfg.Server.Port = 9090
	cfg.Device.MaxRetries = 5
	cfg.Cache.StatusTTL = 15 * time.Second

	require.NoError(t, SaveConfig(cfg, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, loaded.Server.Port)
	assert.Equal(t, 5, loaded.Device.MaxRetries)
	assert.Equal(t, 15*time.Second, loaded.Cache.StatusTTL)
}

func TestLoadConfigKeepsDefaultsForMissingKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 7000\ndevice:\n  request_timeout: 5s\n"), 0600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Device.RequestTimeout)
	assert.Equal(t, 3, cfg.Device.MaxRetries)
	assert.Equal(t, "sqlite", cfg.Database.Type)
}

func TestValidateRejectsBadRetryPolicy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Device.MaxRetries = -1
	cfg.Device.BackoffJitter = 1.5
	cfg.Batch.MaxConcurrency = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_retries")
	assert.Contains(t, err.Error(), "backoff_jitter")
	assert.Contains(t, err.Error(), "max_concurrency")
}

func TestLoadConfigOrDefaultFallsBack(t *testing.T) {
	cfg := LoadConfigOrDefault(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("MINERFLEET_SERVER_PORT", "9100")
	t.Setenv("MINERFLEET_REDIS_ADDR", "redis:6379")
	t.Setenv("MINERFLEET_LOG_LEVEL", "debug")

	cfg := DefaultConfig()
	require.NoError(t, cfg.ApplyEnv())
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, "debug", cfg.Log.Level)

	t.Setenv("MINERFLEET_DB_PORT", "not-a-number")
	assert.Error(t, cfg.ApplyEnv())
}

func TestLoadEnvFile(t *testing.T) {
	assert.NoError(t, LoadEnvFile(filepath.Join(t.TempDir(), "absent.env")))

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("MINERFLEET_TEST_ONLY_KEY=from-file\n"), 0600))
	t.Cleanup(func() { os.Unsetenv("MINERFLEET_TEST_ONLY_KEY") })

	require.NoError(t, LoadEnvFile(path))
	assert.Equal(t, "from-file", os.Getenv("MINERFLEET_TEST_ONLY_KEY"))
}
