package middleware

import (
	"sync"
	"time"

	"minerfleet/plane/internal/api/response"

	"github.com/gin-gonic/gin"
)

/*
LoginRateLimiter 登录限流
功能：按客户端 IP 的滑动窗口计数，窗口内超过 maxAttempts 次返回 429；
后台每个窗口周期清理一次空闲 IP
*/
type LoginRateLimiter struct {
	mu          sync.Mutex
	attempts    map[string][]time.Time
	maxAttempts int
	window      time.Duration
	now         func() time.Time
	stopChan    chan struct{}
	stopOnce    sync.Once
}

func NewLoginRateLimiter(maxAttempts int, window time.Duration) *LoginRateLimiter {
	rl := &LoginRateLimiter{
		attempts:    make(map[string][]time.Time),
		maxAttempts: maxAttempts,
		window:      window,
		now:         time.Now,
		stopChan:    make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

/* Stop 停止后台清理，可重复调用 */
func (rl *LoginRateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopChan) })
}

/* Allow 记录一次尝试并返回是否放行 */
func (rl *LoginRateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	valid := prune(rl.attempts[key], now.Add(-rl.window))
	if len(valid) >= rl.maxAttempts {
		rl.attempts[key] = valid
		return false
	}
	rl.attempts[key] = append(valid, now)
	return true
}

func (rl *LoginRateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.Allow(c.ClientIP()) {
			response.GinTooManyRequests(c, "too many login attempts")
			c.Abort()
			return
		}
		c.Next()
	}
}

func (rl *LoginRateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.window)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.sweep()
		case <-rl.stopChan:
			return
		}
	}
}

func (rl *LoginRateLimiter) sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := rl.now().Add(-rl.window)
	for key, ts := range rl.attempts {
		valid := prune(ts, cutoff)
		if len(valid) == 0 {
			delete(rl.attempts, key)
		} else {
			rl.attempts[key] = valid
		}
	}
}

/* prune 原地保留 cutoff 之后的时间戳 */
func prune(ts []time.Time, cutoff time.Time) []time.Time {
	valid := ts[:0]
	for _, t := range ts {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	return valid
}
