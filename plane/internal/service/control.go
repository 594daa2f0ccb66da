package service

import (
	"context"
	"strings"

	"minerfleet/plane/internal/db/models"
	"minerfleet/plane/internal/device"
	"minerfleet/plane/internal/pkg/errs"

	"go.uber.org/zap"
)

const maxPoolsPerGroup = 3

/*
ControlService 设备控制
功能：所有变更操作成功后、返回前清理该设备的状态缓存；读取操作直接透传
*/
type ControlService struct {
	registry *RegistryService
	status   *StatusService
	client   *device.Client
	logger   *zap.Logger
}

func NewControlService(registry *RegistryService, status *StatusService, client *device.Client) *ControlService {
	return &ControlService{
		registry: registry,
		status:   status,
		client:   client,
		logger:   zap.L().Named("control"),
	}
}

/* mutate 执行变更并使缓存失效 */
func (s *ControlService) mutate(ctx context.Context, id, op string, fn func(t device.Target) error) error {
	dev, err := s.registry.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if err := fn(TargetOf(dev)); err != nil {
		s.logger.Warn("设备操作失败", zap.String("id", id), zap.String("op", op), zap.Error(err))
		return err
	}
	if err := s.status.InvalidateStatus(ctx, id); err != nil {
		return errs.Internal(err, "invalidate status of %s after %s", id, op)
	}
	s.logger.Info("设备操作完成", zap.String("id", id), zap.String("op", op))
	return nil
}

func (s *ControlService) target(ctx context.Context, id string) (device.Target, error) {
	dev, err := s.registry.FindByID(ctx, id)
	if err != nil {
		return device.Target{}, err
	}
	return TargetOf(dev), nil
}

/* ==================== 变更操作 ==================== */

/* Reboot 重启后断开会话，下次访问重新登录 */
func (s *ControlService) Reboot(ctx context.Context, id string) error {
	return s.mutate(ctx, id, "reboot", func(t device.Target) error {
		if err := s.client.Reboot(ctx, t); err != nil {
			return err
		}
		s.client.Sessions().Disconnect(t.Address())
		return nil
	})
}

func (s *ControlService) SetHashrateTarget(ctx context.Context, id string, ths float64) error {
	if ths <= 0 {
		return errs.Validation("hashrate target must be positive")
	}
	return s.mutate(ctx, id, "set-hashrate-target", func(t device.Target) error {
		return s.client.SetHashrateTarget(ctx, t, ths)
	})
}

func (s *ControlService) IncrementHashrateTarget(ctx context.Context, id string, ths float64) error {
	if ths <= 0 {
		return errs.Validation("increment must be positive")
	}
	return s.mutate(ctx, id, "increment-hashrate-target", func(t device.Target) error {
		return s.client.AdjustHashrateTarget(ctx, t, ths)
	})
}

func (s *ControlService) DecrementHashrateTarget(ctx context.Context, id string, ths float64) error {
	if ths <= 0 {
		return errs.Validation("decrement must be positive")
	}
	return s.mutate(ctx, id, "decrement-hashrate-target", func(t device.Target) error {
		return s.client.AdjustHashrateTarget(ctx, t, -ths)
	})
}

func (s *ControlService) SetPowerTarget(ctx context.Context, id string, watt float64) error {
	if watt <= 0 {
		return errs.Validation("power target must be positive")
	}
	return s.mutate(ctx, id, "set-power-target", func(t device.Target) error {
		return s.client.SetPowerTarget(ctx, t, watt)
	})
}

func (s *ControlService) IncrementPowerTarget(ctx context.Context, id string, watt float64) error {
	if watt <= 0 {
		return errs.Validation("increment must be positive")
	}
	return s.mutate(ctx, id, "increment-power-target", func(t device.Target) error {
		return s.client.AdjustPowerTarget(ctx, t, watt)
	})
}

func (s *ControlService) DecrementPowerTarget(ctx context.Context, id string, watt float64) error {
	if watt <= 0 {
		return errs.Validation("decrement must be positive")
	}
	return s.mutate(ctx, id, "decrement-power-target", func(t device.Target) error {
		return s.client.AdjustPowerTarget(ctx, t, -watt)
	})
}

func (s *ControlService) SetHashboardsEnabled(ctx context.Context, id string, boardIDs []string, enable bool) error {
	if len(boardIDs) == 0 {
		return errs.Validation("at least one hashboard id is required")
	}
	return s.mutate(ctx, id, "set-hashboards", func(t device.Target) error {
		return s.client.SetHashboardsEnabled(ctx, t, boardIDs, enable)
	})
}

func (s *ControlService) UpdatePools(ctx context.Context, id string, groups []device.PoolGroup) error {
	for _, g := range groups {
		for _, p := range g.Pools {
			if err := validatePoolURL(p.URL); err != nil {
				return err
			}
		}
	}
	return s.mutate(ctx, id, "update-pools", func(t device.Target) error {
		return s.client.UpdatePools(ctx, t, groups)
	})
}

func (s *ControlService) CreatePoolGroup(ctx context.Context, id string, group device.PoolGroup) error {
	if strings.TrimSpace(group.Name) == "" {
		return errs.Validation("pool group name is required")
	}
	for _, p := range group.Pools {
		if err := validatePoolURL(p.URL); err != nil {
			return err
		}
	}
	return s.mutate(ctx, id, "create-pool-group", func(t device.Target) error {
		return s.client.CreatePoolGroup(ctx, t, group)
	})
}

/*
AddPrimaryPool 将矿池置于首个矿池组的最前
功能：同 URL 去重，每组最多保留 3 个
*/
func (s *ControlService) AddPrimaryPool(ctx context.Context, id string, pool device.Pool) error {
	if err := validatePoolURL(pool.URL); err != nil {
		return err
	}
	return s.mutate(ctx, id, "add-primary-pool", func(t device.Target) error {
		groups, err := s.client.GetPools(ctx, t)
		if err != nil {
			return err
		}
		return s.client.UpdatePools(ctx, t, prependPool(groups, pool))
	})
}

func prependPool(groups []device.PoolGroup, pool device.Pool) []device.PoolGroup {
	if len(groups) == 0 {
		return []device.PoolGroup{{Name: "default", Pools: []device.Pool{pool}}}
	}
	out := make([]device.PoolGroup, len(groups))
	copy(out, groups)

	pools := []device.Pool{pool}
	for _, p := range groups[0].Pools {
		if p.URL == pool.URL {
			continue
		}
		pools = append(pools, p)
	}
	if len(pools) > maxPoolsPerGroup {
		pools = pools[:maxPoolsPerGroup]
	}
	out[0].Pools = pools
	return out
}

func validatePoolURL(url string) error {
	if strings.HasPrefix(url, "stratum+tcp://") || strings.HasPrefix(url, "stratum+ssl://") {
		if len(url) > len("stratum+tcp://") {
			return nil
		}
	}
	return errs.Validation("invalid pool url %q: must start with stratum+tcp:// or stratum+ssl://", url)
}

func (s *ControlService) SetQuickRamp(ctx context.Context, id string, cfg device.Settings) error {
	return s.mutate(ctx, id, "quick-ramp", func(t device.Target) error {
		return s.client.SetQuickRamp(ctx, t, cfg)
	})
}

func (s *ControlService) ConfigureDPS(ctx context.Context, id string, cfg device.Settings) error {
	return s.mutate(ctx, id, "dps", func(t device.Target) error {
		return s.client.SetDPS(ctx, t, cfg)
	})
}

func (s *ControlService) SetCooling(ctx context.Context, id string, cfg device.Settings) error {
	return s.mutate(ctx, id, "cooling", func(t device.Target) error {
		return s.client.SetCooling(ctx, t, cfg)
	})
}

func (s *ControlService) SetNetworkConfig(ctx context.Context, id string, cfg device.Settings) error {
	return s.mutate(ctx, id, "network", func(t device.Target) error {
		return s.client.SetNetwork(ctx, t, cfg)
	})
}

func (s *ControlService) TriggerFirmwareUpgrade(ctx context.Context, id, version string) error {
	if strings.TrimSpace(version) == "" {
		return errs.Validation("firmware version is required")
	}
	return s.mutate(ctx, id, "firmware-upgrade", func(t device.Target) error {
		return s.client.UpgradeFirmware(ctx, t, version)
	})
}

/* ==================== 读取操作 ==================== */

func (s *ControlService) GetInfo(ctx context.Context, id string) (*device.Info, error) {
	t, err := s.target(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.client.GetInfo(ctx, t)
}

func (s *ControlService) GetHashboards(ctx context.Context, id string) (*device.HashboardsResponse, error) {
	t, err := s.target(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.client.GetHashboards(ctx, t)
}

func (s *ControlService) GetPools(ctx context.Context, id string) ([]device.PoolGroup, error) {
	t, err := s.target(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.client.GetPools(ctx, t)
}

func (s *ControlService) GetTunerState(ctx context.Context, id string) (*device.TunerState, error) {
	t, err := s.target(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.client.GetTunerState(ctx, t)
}

func (s *ControlService) GetPerformanceProfiles(ctx context.Context, id string) (device.Settings, error) {
	t, err := s.target(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.client.GetPerformanceProfiles(ctx, t)
}

func (s *ControlService) GetErrors(ctx context.Context, id string) (*device.ErrorsResponse, error) {
	t, err := s.target(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.client.GetErrors(ctx, t)
}

func (s *ControlService) GetNetworkConfig(ctx context.Context, id string) (device.Settings, error) {
	t, err := s.target(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.client.GetNetwork(ctx, t)
}

/* PingResult 连通性检查结果 */
type PingResult struct {
	DeviceID        string `json:"deviceId"`
	Reachable       bool   `json:"reachable"`
	Hostname        string `json:"hostname,omitempty"`
	FirmwareVersion string `json:"firmwareVersion,omitempty"`
	Model           string `json:"model,omitempty"`
	UptimeSeconds   int64  `json:"uptimeSeconds,omitempty"`
}

/* Ping 重新登录并读取设备信息 */
func (s *ControlService) Ping(ctx context.Context, id string) (*PingResult, error) {
	dev, err := s.registry.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	info, err := s.client.Connect(ctx, TargetOf(dev))
	if err != nil {
		return nil, err
	}
	return pingResult(dev, info), nil
}

func pingResult(dev *models.Device, info *device.Info) *PingResult {
	return &PingResult{
		DeviceID:        dev.ID,
		Reachable:       true,
		Hostname:        info.Hostname,
		FirmwareVersion: info.BosVersion.Current,
		Model:           info.MinerIdentity.Model,
		UptimeSeconds:   info.SystemUptimeS,
	}
}
