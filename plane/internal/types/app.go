package types

import (
	"context"
	"encoding/json"
	"time"

	"minerfleet/plane/internal/config"
	"minerfleet/plane/internal/db/cache"
	"minerfleet/plane/internal/db/dao"
	"minerfleet/plane/internal/db/database"
	"minerfleet/plane/internal/device"
	"minerfleet/plane/internal/metrics"
	"minerfleet/plane/internal/service"

	"go.uber.org/zap"
)

/* JobEventsChannel Redis 发布任务事件的频道 */
const JobEventsChannel = "jobs:events"

/*
App 应用实例
功能：全局应用上下文，持有配置、存储、设备客户端与各业务服务
*/
type App struct {
	Config  *config.Config
	DB      *database.Manager
	DAO     *dao.DAO
	Cache   *cache.Cache
	Memory  *cache.MemoryStore /* 仅在未连接 Redis 时非 nil */
	Metrics *metrics.Metrics

	Sessions *device.SessionManager
	Client   *device.Client

	Auth     *service.AuthService
	Registry *service.RegistryService
	Status   *service.StatusService
	Control  *service.ControlService
	Jobs     *service.JobTracker
	Batch    *service.BatchService
	Cleanup  *service.CleanupService
}

/*
NewApp 创建应用实例
功能：按配置选择缓存后端（Redis 或进程内），组装设备客户端与服务层
*/
func NewApp(cfg *config.Config, dbManager *database.Manager, m *metrics.Metrics) *App {
	if m == nil {
		m = metrics.NewNop()
	}
	app := &App{
		Config:  cfg,
		DB:      dbManager,
		DAO:     dao.New(dbManager.DB),
		Metrics: m,
	}

	var store cache.Store
	if dbManager.HasRedis() {
		store = cache.NewRedisStore(dbManager.Redis)
	} else {
		app.Memory = cache.NewMemoryStore()
		store = app.Memory
	}
	app.Cache = cache.New(store, m)

	dc := cfg.Device
	httpClient := device.NewHTTPClient(dc.TLSInsecureSkipVerify)
	app.Sessions = device.NewSessionManager(httpClient, dc.RequestTimeout, dc.SessionTTL, device.WithSessionMetrics(m))
	policy := device.RetryPolicy{
		MaxRetries:     dc.MaxRetries,
		InitialBackoff: dc.InitialBackoff,
		MaxBackoff:     dc.MaxBackoff,
		Multiplier:     dc.BackoffMultiplier,
		Jitter:         dc.BackoffJitter,
	}
	app.Client = device.NewClient(device.NewExecutor(httpClient, app.Sessions, policy, dc.RequestTimeout, device.WithExecutorMetrics(m)))

	app.Auth = service.NewAuthService(cfg.Auth)
	app.Registry = service.NewRegistryService(app.DAO, app.Cache, app.Sessions, service.RegistryDefaults{
		Port:     dc.DefaultPort,
		Username: dc.DefaultUsername,
	})
	app.Status = service.NewStatusService(app.Registry, app.Client, app.Cache, m, service.StatusOptions{
		StatusTTL:   cfg.Cache.StatusTTL,
		FleetTTL:    cfg.Cache.FleetTTL,
		MaxParallel: dc.MaxParallel,
	})
	app.Control = service.NewControlService(app.Registry, app.Status, app.Client)
	app.Jobs = service.NewJobTracker(app.Cache, cfg.Cache.JobTTL, m)
	app.Batch = service.NewBatchService(app.Registry, app.Status, app.Control, app.Jobs, service.BatchOptions{
		MaxConcurrency: cfg.Batch.MaxConcurrency,
		MaxDevices:     cfg.Batch.MaxDevices,
		DeviceTimeout:  cfg.Batch.DeviceTimeout,
	})
	app.Cleanup = service.NewCleanupService(app.Sessions, app.Memory, app.Jobs, cfg.Cache.SweepInterval)
	return app
}

/*
RedisJobSink 把任务事件发布到 Redis 频道
功能：未连接 Redis 时返回 nil
*/
func (a *App) RedisJobSink() service.JobNotifier {
	if !a.DB.HasRedis() {
		return nil
	}
	log := zap.L().Named("job-events")
	return func(e service.JobEvent) {
		payload, err := json.Marshal(e)
		if err != nil {
			log.Error("编码任务事件失败", zap.Error(err))
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := a.DB.Redis.Publish(ctx, JobEventsChannel, payload); err != nil {
			log.Warn("发布任务事件失败", zap.String("event", e.Event), zap.Error(err))
		}
	}
}

/*
Shutdown 停止后台任务并断开设备会话
*/
func (a *App) Shutdown() {
	a.Batch.Stop()
	a.Sessions.DisconnectAll()
}
