package device

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

/*
fakeMiner 模拟矿机控制面
功能：登录签发递增令牌，其余路径由 routes 决定，并记录每条路径的访问次数
*/
type fakeMiner struct {
	t   *testing.T
	srv *httptest.Server

	mu          sync.Mutex
	routes      map[string]http.HandlerFunc
	hits        map[string]int
	logins      int
	loginStatus int
	timeoutS    int64
	loginDelay  time.Duration
	lastAuth    string
}

func newFakeMiner(t *testing.T) *fakeMiner {
	m := &fakeMiner{
		t:        t,
		routes:   make(map[string]http.HandlerFunc),
		hits:     make(map[string]int),
		timeoutS: 3600,
	}
	m.srv = httptest.NewServer(http.HandlerFunc(m.serve))
	t.Cleanup(m.srv.Close)
	return m
}

func (m *fakeMiner) serve(w http.ResponseWriter, r *http.Request) {
	key := r.Method + " " + r.URL.Path

	m.mu.Lock()
	m.hits[key]++
	if r.URL.Path == LoginPath {
		m.logins++
		status, n, ttl, delay := m.loginStatus, m.logins, m.timeoutS, m.loginDelay
		m.mu.Unlock()
		if delay > 0 {
			time.Sleep(delay)
		}
		if status != 0 {
			w.WriteHeader(status)
			return
		}
		writeJSON(w, http.StatusOK, LoginResponse{Token: fmt.Sprintf("tok-%d", n), TimeoutS: ttl})
		return
	}
	m.lastAuth = r.Header.Get("Authorization")
	h, ok := m.routes[key]
	m.mu.Unlock()

	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	h(w, r)
}

func (m *fakeMiner) handle(method, path string, h http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routes[method+" "+path] = h
}

/* handleJSON 固定返回 v */
func (m *fakeMiner) handleJSON(method, path string, v interface{}) {
	m.handle(method, path, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, v)
	})
}

func (m *fakeMiner) hitCount(method, path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hits[method+" "+path]
}

func (m *fakeMiner) authHeader() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastAuth
}

func (m *fakeMiner) loginCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.logins
}

func (m *fakeMiner) setLoginDelay(d time.Duration) {
	m.mu.Lock()
	m.loginDelay = d
	m.mu.Unlock()
}

func (m *fakeMiner) setLoginStatus(status int) {
	m.mu.Lock()
	m.loginStatus = status
	m.mu.Unlock()
}

func (m *fakeMiner) target() Target {
	u, err := url.Parse(m.srv.URL)
	require.NoError(m.t, err)
	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(m.t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(m.t, err)
	return Target{Host: host, Port: port, Username: "root", Password: "secret"}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

/* fastPolicy 测试用的确定性快速重试 */
func fastPolicy(retries int) RetryPolicy {
	return RetryPolicy{
		MaxRetries:     retries,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2,
		Jitter:         0,
	}
}

func newTestClient(retries int, timeout time.Duration) *Client {
	httpClient := NewHTTPClient(false)
	sessions := NewSessionManager(httpClient, timeout, time.Hour)
	return NewClient(NewExecutor(httpClient, sessions, fastPolicy(retries), timeout))
}
