package initializer

import (
	"path/filepath"
	"testing"

	"minerfleet/plane/internal/config"
	"minerfleet/plane/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitConfigWritesOperator(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "config.yaml")
	assert.True(t, IsFirstRun(path))

	require.NoError(t, InitConfig(path))
	assert.False(t, IsFirstRun(path))

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Auth.JWTSecret, 64)
	require.Len(t, cfg.Auth.Operators, 1)
	assert.Equal(t, DefaultOperator, cfg.Auth.Operators[0].Username)
	assert.NotEmpty(t, cfg.Auth.Operators[0].PasswordHash)
}

func TestBootstrapPasswordLogsIn(t *testing.T) {
	cfg, password, err := bootstrapConfig()
	require.NoError(t, err)
	assert.Len(t, password, 16)

	auth := service.NewAuthService(cfg.Auth)
	issued, err := auth.Login(DefaultOperator, password)
	require.NoError(t, err)
	assert.Equal(t, DefaultOperator, issued.Username)

	other, _, err := bootstrapConfig()
	require.NoError(t, err)
	assert.NotEqual(t, cfg.Auth.JWTSecret, other.Auth.JWTSecret)
}
