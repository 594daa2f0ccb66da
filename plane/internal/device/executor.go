package device

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"minerfleet/plane/internal/metrics"
	"minerfleet/plane/internal/pkg/errs"
	"minerfleet/plane/internal/pkg/logger"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

const (
	DefaultRequestTimeout = 30 * time.Second

	maxBodyBytes = 4 << 20
)

/*
NewHTTPClient 设备访问用的共享 HTTP 客户端
功能：矿机普遍使用自签名证书，insecure 为 true 时跳过证书校验
*/
func NewHTTPClient(insecure bool) *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          256,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
		TLSClientConfig:       &tls.Config{InsecureSkipVerify: insecure}, //nolint:gosec
	}
	return &http.Client{Transport: transport}
}

/*
RetryPolicy 重试策略
功能：第 k 次重试前等待 InitialBackoff×Multiplier^(k-1)，上限 MaxBackoff；
Jitter 为随机化系数，0 表示严格确定的间隔
*/
type RetryPolicy struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	Jitter         float64
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:     3,
		InitialBackoff: time.Second,
		MaxBackoff:     10 * time.Second,
		Multiplier:     2,
		Jitter:         0.2,
	}
}

func (p RetryPolicy) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialBackoff
	b.MaxInterval = p.MaxBackoff
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = p.Jitter
	b.Reset()
	return b
}

/* Delays 不含随机化时的等待序列，用于日志与测试 */
func (p RetryPolicy) Delays() []time.Duration {
	q := p
	q.Jitter = 0
	b := q.newBackOff()
	out := make([]time.Duration, 0, p.MaxRetries)
	for i := 0; i < p.MaxRetries; i++ {
		out = append(out, b.NextBackOff())
	}
	return out
}

/*
Executor 设备请求执行器
功能：
- 自动附带会话令牌，必要时先登录
- 网络错误、超时、5xx 按退避重试，最多 MaxRetries 次
- 401 清除会话后立即返回 Unauthorized，其余 4xx 立即返回不可重试错误
- 空响应体视为空值，无法解析的 JSON 为不可重试的解码错误
*/
type Executor struct {
	http     *http.Client
	sessions *SessionManager
	policy   RetryPolicy
	timeout  time.Duration
	metrics  *metrics.Metrics
	log      *zap.Logger
}

type ExecutorOption func(*Executor)

func WithExecutorMetrics(mt *metrics.Metrics) ExecutorOption {
	return func(e *Executor) {
		if mt != nil {
			e.metrics = mt
		}
	}
}

func NewExecutor(httpClient *http.Client, sessions *SessionManager, policy RetryPolicy, timeout time.Duration, opts ...ExecutorOption) *Executor {
	if httpClient == nil {
		httpClient = NewHTTPClient(false)
	}
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	if policy.Multiplier < 1 {
		policy.Multiplier = 1
	}
	e := &Executor{
		http:     httpClient,
		sessions: sessions,
		policy:   policy,
		timeout:  timeout,
		metrics:  metrics.NewNop(),
		log:      logger.Named("executor"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Executor) Sessions() *SessionManager {
	return e.sessions
}

/* attemptResult 单次请求结果 */
type attemptResult struct {
	status int
	body   []byte
	err    error
}

/*
Do 执行一次带重试的设备请求
body 为 nil 时不发送请求体；out 为 nil 时丢弃响应
*/
func (e *Executor) Do(ctx context.Context, target Target, method, path string, body, out interface{}) error {
	token, err := e.sessions.EnsureSession(ctx, target)
	if err != nil {
		return err
	}

	var payload []byte
	if body != nil {
		if payload, err = json.Marshal(body); err != nil {
			return errs.Validation("encode request for %s: %v", path, err)
		}
	}

	bo := e.policy.newBackOff()
	var last attemptResult

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			delay := bo.NextBackOff()
			e.metrics.DeviceRetries.WithLabelValues(path).Inc()
			e.log.Debug("重试设备请求",
				zap.String("host", target.Host),
				zap.String("endpoint", path),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay))

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return errs.DeviceCommunication(target.Host, path, last.status, false, ctx.Err(), "request cancelled")
			case <-timer.C:
			}
		}

		last = e.attempt(ctx, target, token, method, path, payload)

		switch {
		case last.err != nil:
			outcome := "network_error"
			if isTimeout(last.err) {
				outcome = "timeout"
			}
			e.metrics.DeviceRequests.WithLabelValues(path, outcome).Inc()
		case last.status == http.StatusUnauthorized:
			e.metrics.DeviceRequests.WithLabelValues(path, "unauthorized").Inc()
			e.sessions.Disconnect(target.Address())
			ue := errs.Unauthorized("session rejected by %s", target.Host)
			ue.Host, ue.Endpoint, ue.Status = target.Host, path, last.status
			return ue
		case last.status >= 500:
			e.metrics.DeviceRequests.WithLabelValues(path, "server_error").Inc()
		case last.status >= 400:
			e.metrics.DeviceRequests.WithLabelValues(path, "client_error").Inc()
			return errs.DeviceCommunication(target.Host, path, last.status, false,
				fmt.Errorf("HTTP %d: %s", last.status, snippet(last.body)), "device rejected request").
				WithSuggestion("check the request parameters and device firmware support")
		default:
			e.metrics.DeviceRequests.WithLabelValues(path, "success").Inc()
			return decodeBody(target.Host, path, last.status, last.body, out)
		}

		if ctx.Err() != nil {
			return errs.DeviceCommunication(target.Host, path, last.status, false, ctx.Err(), "request cancelled")
		}
		if attempt >= e.policy.MaxRetries {
			break
		}
	}

	cause := last.err
	if cause == nil {
		cause = fmt.Errorf("HTTP %d: %s", last.status, snippet(last.body))
	}
	e.log.Warn("设备请求重试耗尽",
		zap.String("host", target.Host),
		zap.String("endpoint", path),
		zap.Int("retries", e.policy.MaxRetries),
		zap.Error(cause))
	return errs.DeviceCommunication(target.Host, path, last.status, true, cause,
		"request failed after %d retries", e.policy.MaxRetries)
}

func (e *Executor) attempt(ctx context.Context, target Target, token, method, path string, payload []byte) attemptResult {
	reqCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(reqCtx, method, target.BaseURL()+path, reader)
	if err != nil {
		return attemptResult{err: err}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := e.http.Do(req)
	e.metrics.DeviceLatency.WithLabelValues(path).Observe(time.Since(start).Seconds())
	if err != nil {
		return attemptResult{err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return attemptResult{status: resp.StatusCode, err: err}
	}
	return attemptResult{status: resp.StatusCode, body: data}
}

func decodeBody(host, path string, status int, body []byte, out interface{}) error {
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return errs.DeviceCommunication(host, path, status, false, err, "malformed response body").
			WithSuggestion("check device firmware version compatibility")
	}
	return nil
}

/* snippet 截取响应体用于错误信息 */
func snippet(body []byte) string {
	const max = 200
	s := string(bytes.TrimSpace(body))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}

/* isTimeout 判断是否为超时类错误 */
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
