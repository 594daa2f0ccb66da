package service

import (
	"context"
	"time"

	"minerfleet/plane/internal/db/cache"
	"minerfleet/plane/internal/device"
	"minerfleet/plane/internal/pkg/logger"

	"go.uber.org/zap"
)

/*
CleanupService 清理服务（定时任务）
功能：定期清理过期会话、内存缓存中的过期条目与已过期任务的索引
*/
type CleanupService struct {
	sessions *device.SessionManager
	memory   *cache.MemoryStore /* Redis 模式下为 nil */
	jobs     *JobTracker
	interval time.Duration
	stopChan chan struct{}
	done     chan struct{}
}

/*
NewCleanupService 创建清理服务
*/
func NewCleanupService(sessions *device.SessionManager, memory *cache.MemoryStore, jobs *JobTracker, interval time.Duration) *CleanupService {
	if interval <= 0 {
		interval = time.Minute
	}
	return &CleanupService{
		sessions: sessions,
		memory:   memory,
		jobs:     jobs,
		interval: interval,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start 启动清理服务，阻塞直到 Stop
func (s *CleanupService) Start() {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.RunOnce()
		case <-s.stopChan:
			return
		}
	}
}

// Stop 停止清理服务
func (s *CleanupService) Stop() {
	close(s.stopChan)
	<-s.done
}

/* CleanupReport 单次清理结果 */
type CleanupReport struct {
	Sessions     int
	CacheEntries int
	Jobs         int
}

// RunOnce 执行一次清理
func (s *CleanupService) RunOnce() CleanupReport {
	logger.Debug("执行定时清理任务")

	var r CleanupReport

	// 1. 过期会话
	if s.sessions != nil {
		r.Sessions = s.sessions.PruneExpired()
	}

	// 2. 内存缓存过期条目
	if s.memory != nil {
		r.CacheEntries = s.memory.Sweep()
	}

	// 3. 任务索引
	if s.jobs != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		r.Jobs = s.jobs.PruneIndex(ctx)
		cancel()
	}

	if r.Sessions > 0 || r.CacheEntries > 0 || r.Jobs > 0 {
		logger.Info("清理完成",
			zap.Int("sessions", r.Sessions),
			zap.Int("cacheEntries", r.CacheEntries),
			zap.Int("jobs", r.Jobs))
	}
	return r
}
