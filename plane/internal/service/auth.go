package service

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"minerfleet/plane/internal/config"
	"minerfleet/plane/internal/pkg/errs"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

/* OperatorClaims 运维令牌声明 */
type OperatorClaims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

/* IssuedToken 登录结果 */
type IssuedToken struct {
	Token     string    `json:"token"`
	Username  string    `json:"username"`
	ExpiresAt time.Time `json:"expiresAt"`
}

/*
AuthService 运维认证服务
功能：用配置中的 bcrypt 哈希校验运维账号，签发与校验 HS256 JWT
*/
type AuthService struct {
	mu         sync.RWMutex
	jwtSecret  string
	expiration time.Duration
	operators  map[string]string /* username → bcrypt hash */
	now        func() time.Time
	logger     *zap.Logger
}

/*
NewAuthService 创建认证服务
*/
func NewAuthService(cfg config.AuthConfig) *AuthService {
	s := &AuthService{
		now:    time.Now,
		logger: zap.L().Named("auth-service"),
	}
	s.Reload(cfg)
	return s
}

/* Reload 替换密钥与账号表 */
func (s *AuthService) Reload(cfg config.AuthConfig) {
	ops := make(map[string]string, len(cfg.Operators))
	for _, op := range cfg.Operators {
		if op.Username == "" || op.PasswordHash == "" {
			continue
		}
		ops[op.Username] = op.PasswordHash
	}
	hours := cfg.JWTExpiration
	if hours <= 0 {
		hours = 24
	}

	s.mu.Lock()
	s.jwtSecret = cfg.JWTSecret
	s.expiration = time.Duration(hours) * time.Hour
	s.operators = ops
	s.mu.Unlock()
}

/* SetClock 替换时钟（测试用） */
func (s *AuthService) SetClock(now func() time.Time) {
	s.now = now
}

/*
GetJWTSecret 获取 JWT 密钥
功能：供 JWTAuth 中间件校验签名
*/
func (s *AuthService) GetJWTSecret() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.jwtSecret
}

/*
Login 校验账号密码并签发令牌
功能：用户名不存在与密码错误返回同一错误，防止枚举
*/
func (s *AuthService) Login(username, password string) (*IssuedToken, error) {
	s.mu.RLock()
	hash, ok := s.operators[username]
	s.mu.RUnlock()

	if !ok {
		/* 对不存在的用户同样执行一次比较，抹平耗时差异 */
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return nil, errs.Unauthorized("invalid username or password")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		s.logger.Debug("运维登录失败", zap.String("username", username))
		return nil, errs.Unauthorized("invalid username or password")
	}
	return s.IssueToken(username)
}

/* IssueToken 签发令牌 */
func (s *AuthService) IssueToken(username string) (*IssuedToken, error) {
	s.mu.RLock()
	secret, ttl := s.jwtSecret, s.expiration
	s.mu.RUnlock()

	now := s.now()
	expiresAt := now.Add(ttl)
	claims := OperatorClaims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return nil, errs.Internal(err, "sign token")
	}
	return &IssuedToken{Token: signed, Username: username, ExpiresAt: expiresAt}, nil
}

/*
ValidateToken 验证 JWT 令牌
功能：只接受 HMAC 签名，过期或签名不符返回 Unauthorized
*/
func (s *AuthService) ValidateToken(token string) (*OperatorClaims, error) {
	if token == "" {
		return nil, errs.Unauthorized("missing token")
	}
	claims := &OperatorClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.GetJWTSecret()), nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil || !parsed.Valid {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, errs.Unauthorized("token expired").WithSuggestion("log in again")
		}
		return nil, errs.Unauthorized("invalid token")
	}
	if claims.Username == "" {
		return nil, errs.Unauthorized("token has no username")
	}
	return claims, nil
}

/* HashPassword bcrypt 哈希，供初始化运维账号使用 */
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

var dummyHash = []byte("$2a$10$7EqJtq98hPqEX7fNZaFWoOhi5BWX4ZHzFgYgr1Wl0pYjN1DbM5E6a")
