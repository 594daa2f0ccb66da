package service

import (
	"context"
	"time"

	"minerfleet/plane/internal/db/cache"
	"minerfleet/plane/internal/db/models"
	"minerfleet/plane/internal/device"
	"minerfleet/plane/internal/metrics"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

/*
FleetSummary 舰队汇总
功能：算力与功率只统计在线设备；平均温度只统计温度大于 0 的设备；错误数统计全部设备
*/
type FleetSummary struct {
	TenantID              string                  `json:"tenantId,omitempty"`
	Total                 int                     `json:"total"`
	Online                int                     `json:"online"`
	Offline               int                     `json:"offline"`
	TotalHashrateThs      float64                 `json:"totalHashrateThs"`
	AvgTemperatureCelsius float64                 `json:"avgTemperatureCelsius"`
	TotalPowerWatts       float64                 `json:"totalPowerWatts"`
	ErrorCount            int                     `json:"errorCount"`
	Devices               []device.StatusSnapshot `json:"devices"`
	CalculatedAt          time.Time               `json:"calculatedAt"`
}

/* Summarize 折叠快照，输入顺序不影响结果 */
func Summarize(tenantID string, snaps []device.StatusSnapshot, now time.Time) *FleetSummary {
	sum := &FleetSummary{
		TenantID:     tenantID,
		Total:        len(snaps),
		Devices:      snaps,
		CalculatedAt: now,
	}
	if sum.Devices == nil {
		sum.Devices = []device.StatusSnapshot{}
	}

	var tempSum float64
	var tempCount int
	for _, s := range snaps {
		if s.Online {
			sum.Online++
			sum.TotalHashrateThs += s.HashrateThs
			sum.TotalPowerWatts += s.PowerWatts
		} else {
			sum.Offline++
		}
		if s.MaxTemperatureCelsius > 0 {
			tempSum += s.MaxTemperatureCelsius
			tempCount++
		}
		sum.ErrorCount += len(s.Errors)
	}
	if tempCount > 0 {
		sum.AvgTemperatureCelsius = tempSum / float64(tempCount)
	}
	return sum
}

/* StatusOptions 状态服务参数 */
type StatusOptions struct {
	StatusTTL   time.Duration
	FleetTTL    time.Duration
	MaxParallel int
}

/*
StatusService 状态聚合
功能：
- 单设备状态走 cache-aside，TTL 默认 60s
- 舰队状态并行查询所有设备，单台失败记为离线快照，不影响整体结果
- 设备变更操作后调用 InvalidateStatus 清理缓存
*/
type StatusService struct {
	registry *RegistryService
	client   *device.Client
	cache    *cache.Cache
	metrics  *metrics.Metrics
	opts     StatusOptions
	now      func() time.Time
	logger   *zap.Logger
}

func NewStatusService(registry *RegistryService, client *device.Client, c *cache.Cache, m *metrics.Metrics, opts StatusOptions) *StatusService {
	if opts.StatusTTL <= 0 {
		opts.StatusTTL = cache.DefaultStatusTTL
	}
	if opts.FleetTTL <= 0 {
		opts.FleetTTL = cache.DefaultFleetTTL
	}
	if opts.MaxParallel <= 0 {
		opts.MaxParallel = 32
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &StatusService{
		registry: registry,
		client:   client,
		cache:    c,
		metrics:  m,
		opts:     opts,
		now:      time.Now,
		logger:   zap.L().Named("aggregator"),
	}
}

/* GetStatus 单设备状态，优先读缓存 */
func (s *StatusService) GetStatus(ctx context.Context, id string) (*device.StatusSnapshot, error) {
	dev, err := s.registry.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.statusOf(ctx, dev, false)
}

/* RefreshStatus 跳过缓存重新查询并回填 */
func (s *StatusService) RefreshStatus(ctx context.Context, id string) (*device.StatusSnapshot, error) {
	dev, err := s.registry.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.statusOf(ctx, dev, true)
}

func (s *StatusService) statusOf(ctx context.Context, dev *models.Device, bypass bool) (*device.StatusSnapshot, error) {
	key := cache.DeviceStatusKey(dev.ID)
	if !bypass {
		var snap device.StatusSnapshot
		ok, err := s.cache.GetJSON(ctx, key, &snap)
		if err != nil {
			s.logger.Warn("读取状态缓存失败", zap.String("id", dev.ID), zap.Error(err))
		} else if ok {
			return &snap, nil
		}
	}

	snap, err := s.client.FetchStatus(ctx, dev.ID, dev.Name, TargetOf(dev))
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, key, snap, s.opts.StatusTTL); err != nil {
		s.logger.Warn("写入状态缓存失败", zap.String("id", dev.ID), zap.Error(err))
		return snap, nil
	}
	// 查询期间设备被删除时撤回刚写入的快照；注册表先删记录再清缓存，写入后复查即可覆盖该窗口
	if exists, err := s.registry.Exists(ctx, dev.ID); err == nil && !exists {
		if err := s.cache.Delete(ctx, key); err != nil {
			s.logger.Warn("撤回已删除设备的状态缓存失败", zap.String("id", dev.ID), zap.Error(err))
		}
	}
	return snap, nil
}

/*
GetFleetStatus 舰队状态
功能：tenantID 为空表示全部设备；refresh 为 true 时跳过汇总与单设备缓存
*/
func (s *StatusService) GetFleetStatus(ctx context.Context, tenantID string, refresh bool) (*FleetSummary, error) {
	fleetKey := cache.FleetStatusKey(tenantID)
	if !refresh {
		var cached FleetSummary
		ok, err := s.cache.GetJSON(ctx, fleetKey, &cached)
		if err != nil {
			s.logger.Warn("读取舰队缓存失败", zap.Error(err))
		} else if ok {
			return &cached, nil
		}
	}

	devices, err := s.registry.FindByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	snaps := make([]device.StatusSnapshot, len(devices))
	var g errgroup.Group
	g.SetLimit(s.opts.MaxParallel)
	for i := range devices {
		dev := &devices[i]
		g.Go(func() error {
			snap, err := s.statusOf(ctx, dev, refresh)
			if err != nil {
				s.logger.Debug("设备状态查询失败，记为离线",
					zap.String("id", dev.ID),
					zap.String("host", dev.Host),
					zap.Error(err))
				snap = device.OfflineSnapshot(dev.ID, dev.Name, dev.Host, err, s.now())
			}
			snaps[i] = *snap
			return nil
		})
	}
	_ = g.Wait()

	summary := Summarize(tenantID, snaps, s.now())
	s.observe(summary)

	if err := s.cache.Set(ctx, fleetKey, summary, s.opts.FleetTTL); err != nil {
		s.logger.Warn("写入舰队缓存失败", zap.Error(err))
	}
	s.logger.Info("舰队状态已汇总",
		zap.String("tenant", tenantID),
		zap.Int("total", summary.Total),
		zap.Int("online", summary.Online),
		zap.Int("offline", summary.Offline))
	return summary, nil
}

func (s *StatusService) observe(sum *FleetSummary) {
	s.metrics.FleetDevices.WithLabelValues("online").Set(float64(sum.Online))
	s.metrics.FleetDevices.WithLabelValues("offline").Set(float64(sum.Offline))
	s.metrics.FleetHashrate.Set(sum.TotalHashrateThs)
	s.metrics.FleetPower.Set(sum.TotalPowerWatts)
	s.metrics.FleetAvgTemp.Set(sum.AvgTemperatureCelsius)
	s.metrics.FleetErrors.Set(float64(sum.ErrorCount))
}

/*
InvalidateStatus 清理设备状态缓存
功能：同时丢弃舰队汇总，避免变更后读到旧的汇总
*/
func (s *StatusService) InvalidateStatus(ctx context.Context, id string) error {
	if err := s.cache.Delete(ctx, cache.DeviceStatusKey(id)); err != nil {
		return err
	}
	if _, err := s.cache.DeletePattern(ctx, cache.PrefixFleetStatus); err != nil {
		s.logger.Warn("清理舰队缓存失败", zap.Error(err))
	}
	return nil
}
