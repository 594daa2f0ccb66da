/*
Package device 矿机控制面客户端

三层结构：
  - SessionManager 按 host 保存登录令牌
  - Executor       执行单个请求，负责重试、超时与错误归类
  - Client         面向业务的接口封装（状态、算力/功率目标、矿池、固件等）
*/
package device

import (
	"context"
	"errors"
	"net/http"
	"time"

	"minerfleet/plane/internal/pkg/errs"

	"golang.org/x/sync/errgroup"
)

const (
	PathInfo               = "/api/v1/info"
	PathErrors             = "/api/v1/errors"
	PathHashboards         = "/api/v1/hashboards"
	PathHashboardsEnable   = "/api/v1/hashboards/enable"
	PathPools              = "/api/v1/pools"
	PathHashrateTarget     = "/api/v1/performance/hashrate-target"
	PathPowerTarget        = "/api/v1/performance/power-target"
	PathQuickRamp          = "/api/v1/performance/quick-ramp"
	PathPerformanceProfile = "/api/v1/performance/profiles"
	PathTunerState         = "/api/v1/performance/tuner-state"
	PathDPS                = "/api/v1/dps"
	PathCooling            = "/api/v1/cooling"
	PathNetwork            = "/api/v1/network"
	PathReboot             = "/api/v1/actions/reboot"
	PathUpgrade            = "/api/v1/actions/upgrade"
)

/*
Client 设备业务接口
功能：请求途中会话被设备拒绝（401）时重新登录并重试一次
*/
type Client struct {
	exec *Executor
	now  func() time.Time
}

func NewClient(exec *Executor) *Client {
	return &Client{exec: exec, now: time.Now}
}

func (c *Client) Executor() *Executor {
	return c.exec
}

func (c *Client) Sessions() *SessionManager {
	return c.exec.Sessions()
}

func (c *Client) call(ctx context.Context, t Target, method, path string, body, out interface{}) error {
	err := c.exec.Do(ctx, t, method, path, body, out)
	if sessionRejected(err) {
		err = c.exec.Do(ctx, t, method, path, body, out)
	}
	return err
}

/* sessionRejected 请求阶段的 401，不含登录本身被拒 */
func sessionRejected(err error) bool {
	var e *errs.Error
	return errors.As(err, &e) && e.Kind == errs.KindUnauthorized && e.Endpoint != "" && e.Endpoint != LoginPath
}

/* Connect 重新登录并读取设备信息，用于连通性检查 */
func (c *Client) Connect(ctx context.Context, t Target) (*Info, error) {
	c.Sessions().Disconnect(t.Address())
	if _, err := c.Sessions().Authenticate(ctx, t); err != nil {
		return nil, err
	}
	return c.GetInfo(ctx, t)
}

func (c *Client) GetInfo(ctx context.Context, t Target) (*Info, error) {
	var out Info
	if err := c.call(ctx, t, http.MethodGet, PathInfo, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetErrors(ctx context.Context, t Target) (*ErrorsResponse, error) {
	var out ErrorsResponse
	if err := c.call(ctx, t, http.MethodGet, PathErrors, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetHashboards(ctx context.Context, t Target) (*HashboardsResponse, error) {
	var out HashboardsResponse
	if err := c.call(ctx, t, http.MethodGet, PathHashboards, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SetHashboardsEnabled(ctx context.Context, t Target, ids []string, enable bool) error {
	return c.call(ctx, t, http.MethodPost, PathHashboardsEnable, HashboardEnableRequest{HashboardIDs: ids, Enable: enable}, nil)
}

func (c *Client) GetPools(ctx context.Context, t Target) ([]PoolGroup, error) {
	var out []PoolGroup
	if err := c.call(ctx, t, http.MethodGet, PathPools, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

/* CreatePoolGroup 新建矿池组 */
func (c *Client) CreatePoolGroup(ctx context.Context, t Target, group PoolGroup) error {
	return c.call(ctx, t, http.MethodPost, PathPools, group, nil)
}

/* UpdatePools 整体替换矿池配置 */
func (c *Client) UpdatePools(ctx context.Context, t Target, groups []PoolGroup) error {
	return c.call(ctx, t, http.MethodPut, PathPools, groups, nil)
}

func (c *Client) SetHashrateTarget(ctx context.Context, t Target, ths float64) error {
	return c.call(ctx, t, http.MethodPut, PathHashrateTarget, HashrateTarget{TerahashPerSecond: ths}, nil)
}

/* AdjustHashrateTarget 按增量调整，delta 为负时走 decrement */
func (c *Client) AdjustHashrateTarget(ctx context.Context, t Target, delta float64) error {
	path, amount := adjustPath(PathHashrateTarget, delta)
	return c.call(ctx, t, http.MethodPatch, path, HashrateTarget{TerahashPerSecond: amount}, nil)
}

func (c *Client) SetPowerTarget(ctx context.Context, t Target, watt float64) error {
	return c.call(ctx, t, http.MethodPut, PathPowerTarget, PowerTarget{Watt: watt}, nil)
}

func (c *Client) AdjustPowerTarget(ctx context.Context, t Target, delta float64) error {
	path, amount := adjustPath(PathPowerTarget, delta)
	return c.call(ctx, t, http.MethodPatch, path, PowerTarget{Watt: amount}, nil)
}

func adjustPath(base string, delta float64) (string, float64) {
	if delta < 0 {
		return base + "/decrement", -delta
	}
	return base + "/increment", delta
}

func (c *Client) GetTunerState(ctx context.Context, t Target) (*TunerState, error) {
	var out TunerState
	if err := c.call(ctx, t, http.MethodGet, PathTunerState, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SetQuickRamp(ctx context.Context, t Target, cfg Settings) error {
	return c.call(ctx, t, http.MethodPut, PathQuickRamp, cfg, nil)
}

func (c *Client) GetPerformanceProfiles(ctx context.Context, t Target) (Settings, error) {
	out := Settings{}
	if err := c.call(ctx, t, http.MethodGet, PathPerformanceProfile, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) SetDPS(ctx context.Context, t Target, cfg Settings) error {
	return c.call(ctx, t, http.MethodPut, PathDPS, cfg, nil)
}

func (c *Client) SetCooling(ctx context.Context, t Target, cfg Settings) error {
	return c.call(ctx, t, http.MethodPut, PathCooling, cfg, nil)
}

func (c *Client) GetNetwork(ctx context.Context, t Target) (Settings, error) {
	out := Settings{}
	if err := c.call(ctx, t, http.MethodGet, PathNetwork, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) SetNetwork(ctx context.Context, t Target, cfg Settings) error {
	return c.call(ctx, t, http.MethodPost, PathNetwork, cfg, nil)
}

/* Reboot 设备重启后旧令牌失效，调用方需自行断开会话 */
func (c *Client) Reboot(ctx context.Context, t Target) error {
	return c.call(ctx, t, http.MethodPost, PathReboot, nil, nil)
}

func (c *Client) UpgradeFirmware(ctx context.Context, t Target, version string) error {
	return c.call(ctx, t, http.MethodPost, PathUpgrade, FirmwareUpgradeRequest{Version: version}, nil)
}

/*
FetchStatus 并行读取 info / hashboards / pools / tuner-state / errors 并生成快照
功能：任一接口失败即返回错误，由上层决定是否记为离线
*/
func (c *Client) FetchStatus(ctx context.Context, deviceID, name string, t Target) (*StatusSnapshot, error) {
	// 先确保会话存在，避免五个并发请求同时登录
	if _, err := c.Sessions().EnsureSession(ctx, t); err != nil {
		return nil, err
	}

	var (
		info   *Info
		boards *HashboardsResponse
		pools  []PoolGroup
		tuner  *TunerState
		errRes *ErrorsResponse
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) { info, err = c.GetInfo(gctx, t); return })
	g.Go(func() (err error) { boards, err = c.GetHashboards(gctx, t); return })
	g.Go(func() (err error) { pools, err = c.GetPools(gctx, t); return })
	g.Go(func() (err error) { tuner, err = c.GetTunerState(gctx, t); return })
	g.Go(func() (err error) { errRes, err = c.GetErrors(gctx, t); return })
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return BuildSnapshot(deviceID, name, t.Host, info, boards, pools, tuner, errRes, c.now()), nil
}
