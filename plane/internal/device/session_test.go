package device

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"minerfleet/plane/internal/pkg/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestSessionRefreshBuffer(t *testing.T) {
	miner := newFakeMiner(t)
	clock := &manualClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	sm := NewSessionManager(nil, time.Second, time.Hour, WithSessionClock(clock.Now))
	target := miner.target()

	token, err := sm.Authenticate(context.Background(), target)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", token)
	assert.True(t, sm.IsAuthenticated(target.Address()))

	// 有效期 3600s，刷新窗口从 3540s 开始
	clock.Advance(3539 * time.Second)
	assert.True(t, sm.IsAuthenticated(target.Address()))

	clock.Advance(time.Second)
	assert.False(t, sm.IsAuthenticated(target.Address()), "进入 60s 刷新窗口后应视为失效")

	_, err = sm.GetValidSession(target.Address())
	assert.ErrorIs(t, err, errs.ErrUnauthorized)

	// EnsureSession 重新登录
	token, err = sm.EnsureSession(context.Background(), target)
	require.NoError(t, err)
	assert.Equal(t, "tok-2", token)
	assert.Equal(t, 2, miner.loginCount())
}

func TestSessionDefaultTTLWhenDeviceOmitsTimeout(t *testing.T) {
	miner := newFakeMiner(t)
	miner.timeoutS = 0
	clock := &manualClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	sm := NewSessionManager(nil, time.Second, 10*time.Minute, WithSessionClock(clock.Now))
	target := miner.target()

	_, err := sm.Authenticate(context.Background(), target)
	require.NoError(t, err)

	s, err := sm.GetValidSession(target.Address())
	require.NoError(t, err)
	assert.Equal(t, clock.Now().Add(10*time.Minute), s.ExpiresAt)
}

func TestAuthenticateRejectedStoresNothing(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		miner := newFakeMiner(t)
		miner.setLoginStatus(status)
		sm := NewSessionManager(nil, time.Second, time.Hour)

		_, err := sm.Authenticate(context.Background(), miner.target())
		require.Error(t, err)
		assert.True(t, errs.Is(err, errs.KindUnauthorized), "status %d", status)
		assert.Equal(t, 0, sm.Count())
	}
}

func TestAuthenticateServerErrorIsRetryable(t *testing.T) {
	miner := newFakeMiner(t)
	miner.setLoginStatus(http.StatusServiceUnavailable)
	sm := NewSessionManager(nil, time.Second, time.Hour)

	_, err := sm.Authenticate(context.Background(), miner.target())
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindDeviceCommunication))
	assert.True(t, errs.IsRetryable(err))
	assert.False(t, sm.IsAuthenticated(miner.target().Address()))
}

func TestAuthenticateUnreachable(t *testing.T) {
	sm := NewSessionManager(nil, 200*time.Millisecond, time.Hour)
	// 端口 1 上通常没有监听
	_, err := sm.Authenticate(context.Background(), Target{Host: "127.0.0.1", Port: 1})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindDeviceCommunication))
}

func TestDisconnect(t *testing.T) {
	miner := newFakeMiner(t)
	sm := NewSessionManager(nil, time.Second, time.Hour)
	target := miner.target()

	_, err := sm.Authenticate(context.Background(), target)
	require.NoError(t, err)
	assert.Equal(t, 1, sm.Count())

	sm.Disconnect("not-a-host")
	assert.Equal(t, 1, sm.Count())

	sm.Disconnect(target.Address())
	assert.False(t, sm.IsAuthenticated(target.Address()))

	_, err = sm.Authenticate(context.Background(), target)
	require.NoError(t, err)
	sm.DisconnectAll()
	assert.Equal(t, 0, sm.Count())
}

func TestPruneExpired(t *testing.T) {
	miner := newFakeMiner(t)
	clock := &manualClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	sm := NewSessionManager(nil, time.Second, time.Hour, WithSessionClock(clock.Now))

	_, err := sm.Authenticate(context.Background(), miner.target())
	require.NoError(t, err)

	assert.Equal(t, 0, sm.PruneExpired())
	clock.Advance(time.Hour)
	assert.Equal(t, 1, sm.PruneExpired())
	assert.Equal(t, 0, sm.Count())
}

func TestConcurrentAuthenticateLogsInOnce(t *testing.T) {
	miner := newFakeMiner(t)
	miner.setLoginDelay(200 * time.Millisecond)
	sm := NewSessionManager(nil, 2*time.Second, time.Hour)
	target := miner.target()

	const n = 16
	start := make(chan struct{})
	tokens := make([]string, n)
	errList := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			if i%2 == 0 {
				tokens[i], errList[i] = sm.Authenticate(context.Background(), target)
			} else {
				tokens[i], errList[i] = sm.EnsureSession(context.Background(), target)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errList[i])
		assert.Equal(t, "tok-1", tokens[i])
	}
	assert.Equal(t, 1, miner.loginCount(), "并发登录同一地址只发出一次请求")
	assert.Equal(t, 1, sm.Count())
}

func TestSessionsKeyedByHostAndPort(t *testing.T) {
	a, b := newFakeMiner(t), newFakeMiner(t)
	sm := NewSessionManager(nil, time.Second, time.Hour)
	ta, tb := a.target(), b.target()
	require.Equal(t, ta.Host, tb.Host)
	require.NotEqual(t, ta.Address(), tb.Address())

	_, err := sm.Authenticate(context.Background(), ta)
	require.NoError(t, err)
	_, err = sm.EnsureSession(context.Background(), tb)
	require.NoError(t, err)
	assert.Equal(t, 1, a.loginCount())
	assert.Equal(t, 1, b.loginCount(), "同一 IP 的另一端口需单独登录")
	assert.Equal(t, 2, sm.Count())

	sm.Disconnect(ta.Address())
	assert.False(t, sm.IsAuthenticated(ta.Address()))
	assert.True(t, sm.IsAuthenticated(tb.Address()), "断开一台不影响同 IP 的另一台")
}

func TestAuthenticateSurvivesFirstCallerCancel(t *testing.T) {
	miner := newFakeMiner(t)
	miner.setLoginDelay(200 * time.Millisecond)
	sm := NewSessionManager(nil, 2*time.Second, time.Hour)
	target := miner.target()

	firstCtx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := sm.Authenticate(firstCtx, target)
		firstErr <- err
	}()
	time.Sleep(30 * time.Millisecond)

	secondTok := make(chan string, 1)
	go func() {
		tok, err := sm.Authenticate(context.Background(), target)
		assert.NoError(t, err)
		secondTok <- tok
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-firstErr:
		require.Error(t, err)
		assert.True(t, errs.Is(err, errs.KindDeviceCommunication))
	case <-time.After(150 * time.Millisecond):
		t.Fatal("取消的调用方应立即返回")
	}

	select {
	case tok := <-secondTok:
		assert.Equal(t, "tok-1", tok)
	case <-time.After(2 * time.Second):
		t.Fatal("等待中的调用方未取得令牌")
	}
	assert.Equal(t, 1, miner.loginCount())
	assert.True(t, sm.IsAuthenticated(target.Address()))
}
