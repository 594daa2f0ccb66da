package service

import (
	"testing"
	"time"

	"minerfleet/plane/internal/config"
	"minerfleet/plane/internal/pkg/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newTestAuth(t *testing.T) *AuthService {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter22"), bcrypt.MinCost)
	require.NoError(t, err)
	return NewAuthService(config.AuthConfig{
		JWTSecret:     "test-secret-0123456789",
		JWTExpiration: 1,
		Operators:     []config.OperatorAccount{{Username: "ops", PasswordHash: string(hash)}},
	})
}

func TestAuthLoginAndValidate(t *testing.T) {
	s := newTestAuth(t)

	issued, err := s.Login("ops", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, "ops", issued.Username)
	assert.NotEmpty(t, issued.Token)

	claims, err := s.ValidateToken(issued.Token)
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Username)
}

func TestAuthLoginRejectsBadCredentials(t *testing.T) {
	s := newTestAuth(t)

	_, err := s.Login("ops", "wrong")
	assert.True(t, errs.Is(err, errs.KindUnauthorized))

	_, err = s.Login("nobody", "hunter22")
	assert.True(t, errs.Is(err, errs.KindUnauthorized))
	assert.Equal(t, "invalid username or password", errs.Message(err), "两种失败返回同样的信息")
}

func TestAuthValidateRejects(t *testing.T) {
	s := newTestAuth(t)
	issued, err := s.Login("ops", "hunter22")
	require.NoError(t, err)

	other := NewAuthService(config.AuthConfig{JWTSecret: "another-secret-abcdef"})
	_, err = other.ValidateToken(issued.Token)
	assert.True(t, errs.Is(err, errs.KindUnauthorized), "其他密钥签名的令牌无效")

	_, err = s.ValidateToken("")
	assert.True(t, errs.Is(err, errs.KindUnauthorized))

	_, err = s.ValidateToken("not.a.jwt")
	assert.True(t, errs.Is(err, errs.KindUnauthorized))

	s.SetClock(func() time.Time { return time.Now().Add(2 * time.Hour) })
	_, err = s.ValidateToken(issued.Token)
	assert.True(t, errs.Is(err, errs.KindUnauthorized), "过期令牌无效")
}

func TestHashPassword(t *testing.T) {
	hash, err := HashPassword("s3cret")
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("s3cret")))
}
