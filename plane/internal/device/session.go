package device

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"minerfleet/plane/internal/metrics"
	"minerfleet/plane/internal/pkg/errs"
	"minerfleet/plane/internal/pkg/logger"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	LoginPath = "/api/v1/login"

	// RefreshBuffer 会话在过期前 60 秒即视为失效
	RefreshBuffer = 60 * time.Second
)

/* Session 设备会话令牌，按 host:port 区分 */
type Session struct {
	Address   string    `json:"address"`
	Host      string    `json:"host"`
	Token     string    `json:"-"`
	ExpiresAt time.Time `json:"expiresAt"`
}

/* Valid 距离过期超过 RefreshBuffer */
func (s Session) Valid(now time.Time) bool {
	return s.Token != "" && now.Before(s.ExpiresAt.Add(-RefreshBuffer))
}

/*
SessionManager 设备会话管理器
功能：
- 每个地址（host:port）至多一个会话，并发登录同一地址时合并为一次请求
- 登录失败不写入任何会话
- 令牌永不出现在日志中
*/
type SessionManager struct {
	http       *http.Client
	timeout    time.Duration
	defaultTTL time.Duration
	now        func() time.Time
	metrics    *metrics.Metrics
	log        *zap.Logger

	mu       sync.RWMutex
	sessions map[string]Session
	logins   singleflight.Group
}

type SessionOption func(*SessionManager)

/* WithSessionClock 注入时钟（测试用） */
func WithSessionClock(now func() time.Time) SessionOption {
	return func(m *SessionManager) { m.now = now }
}

func WithSessionMetrics(mt *metrics.Metrics) SessionOption {
	return func(m *SessionManager) {
		if mt != nil {
			m.metrics = mt
		}
	}
}

/*
NewSessionManager 创建会话管理器
timeout 单次登录请求超时；defaultTTL 设备未返回 timeout_s 时的会话有效期
*/
func NewSessionManager(httpClient *http.Client, timeout, defaultTTL time.Duration, opts ...SessionOption) *SessionManager {
	if httpClient == nil {
		httpClient = NewHTTPClient(false)
	}
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	if defaultTTL <= 0 {
		defaultTTL = 24 * time.Hour
	}
	m := &SessionManager{
		http:       httpClient,
		timeout:    timeout,
		defaultTTL: defaultTTL,
		now:        time.Now,
		metrics:    metrics.NewNop(),
		log:        logger.Named("session"),
		sessions:   make(map[string]Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

/*
Authenticate 登录设备并保存会话
功能：401/403 → Unauthorized；网络错误或 5xx → 可重试的 DeviceCommunicationError；
同一地址的并发调用共享一次登录结果；共享的登录不随任何一个调用方取消，
只受登录超时约束，调用方取消时自身立即返回
*/
func (m *SessionManager) Authenticate(ctx context.Context, target Target) (string, error) {
	shared := context.WithoutCancel(ctx)
	ch := m.logins.DoChan(target.Address(), func() (interface{}, error) {
		return m.login(shared, target)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(Session).Token, nil
	case <-ctx.Done():
		return "", errs.DeviceCommunication(target.Host, LoginPath, 0, false, ctx.Err(), "login cancelled")
	}
}

func (m *SessionManager) login(ctx context.Context, target Target) (Session, error) {
	payload, err := json.Marshal(LoginRequest{Username: target.Username, Password: target.Password})
	if err != nil {
		return Session{}, errs.Internal(err, "encode login request")
	}

	reqCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, target.BaseURL()+LoginPath, bytes.NewReader(payload))
	if err != nil {
		return Session{}, errs.Validation("invalid device address %q: %v", target.Host, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.http.Do(req)
	if err != nil {
		m.log.Warn("设备登录失败", zap.String("host", target.Host), zap.Error(err))
		return Session{}, errs.DeviceCommunication(target.Host, LoginPath, 0, true, err, "login request failed")
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		m.log.Warn("设备拒绝凭据", zap.String("host", target.Host), zap.Int("status", resp.StatusCode))
		e := errs.Unauthorized("device %s rejected credentials", target.Host)
		e.Host, e.Endpoint, e.Status = target.Host, LoginPath, resp.StatusCode
		return Session{}, e
	case resp.StatusCode >= 500:
		return Session{}, errs.DeviceCommunication(target.Host, LoginPath, resp.StatusCode, true,
			fmt.Errorf("HTTP %d: %s", resp.StatusCode, snippet(body)), "login failed")
	case resp.StatusCode >= 400:
		e := errs.Unauthorized("device %s refused login: HTTP %d", target.Host, resp.StatusCode)
		e.Host, e.Endpoint, e.Status = target.Host, LoginPath, resp.StatusCode
		return Session{}, e
	}

	var lr LoginResponse
	if err := json.Unmarshal(body, &lr); err != nil || lr.Token == "" {
		e := errs.Unauthorized("device %s returned no session token", target.Host)
		e.Host, e.Endpoint, e.Status, e.Err = target.Host, LoginPath, resp.StatusCode, err
		return Session{}, e
	}

	ttl := m.defaultTTL
	if lr.TimeoutS > 0 {
		ttl = time.Duration(lr.TimeoutS) * time.Second
	}
	addr := target.Address()
	s := Session{Address: addr, Host: target.Host, Token: lr.Token, ExpiresAt: m.now().Add(ttl)}

	m.mu.Lock()
	m.sessions[addr] = s
	n := len(m.sessions)
	m.mu.Unlock()
	m.metrics.Sessions.Set(float64(n))

	m.log.Info("设备登录成功", zap.String("address", addr), zap.Time("expiresAt", s.ExpiresAt))
	return s, nil
}

/* IsAuthenticated addr 为 Target.Address()；存在会话且未进入刷新窗口 */
func (m *SessionManager) IsAuthenticated(addr string) bool {
	m.mu.RLock()
	s, ok := m.sessions[addr]
	m.mu.RUnlock()
	return ok && s.Valid(m.now())
}

/* GetValidSession 无有效会话时返回 Unauthorized */
func (m *SessionManager) GetValidSession(addr string) (Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[addr]
	m.mu.RUnlock()
	if !ok || !s.Valid(m.now()) {
		return Session{}, errs.Unauthorized("no valid session for %s", addr)
	}
	return s, nil
}

/*
EnsureSession 返回可用令牌，必要时重新登录
功能：设备给出的有效期短于 RefreshBuffer 时仍使用刚取得的令牌
*/
func (m *SessionManager) EnsureSession(ctx context.Context, target Target) (string, error) {
	if s, err := m.GetValidSession(target.Address()); err == nil {
		return s.Token, nil
	}
	return m.Authenticate(ctx, target)
}

/* Disconnect 移除会话，不存在时无操作 */
func (m *SessionManager) Disconnect(addr string) {
	m.mu.Lock()
	_, ok := m.sessions[addr]
	delete(m.sessions, addr)
	n := len(m.sessions)
	m.mu.Unlock()
	if ok {
		m.metrics.Sessions.Set(float64(n))
		m.log.Debug("会话已移除", zap.String("address", addr))
	}
}

func (m *SessionManager) DisconnectAll() {
	m.mu.Lock()
	m.sessions = make(map[string]Session)
	m.mu.Unlock()
	m.metrics.Sessions.Set(0)
}

/* PruneExpired 清理已过期会话，返回清理数量 */
func (m *SessionManager) PruneExpired() int {
	now := m.now()
	m.mu.Lock()
	removed := 0
	for addr, s := range m.sessions {
		if !now.Before(s.ExpiresAt) {
			delete(m.sessions, addr)
			removed++
		}
	}
	n := len(m.sessions)
	m.mu.Unlock()
	if removed > 0 {
		m.metrics.Sessions.Set(float64(n))
	}
	return removed
}

func (m *SessionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
