package service

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"minerfleet/plane/internal/config"
	"minerfleet/plane/internal/pkg/logger"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

/*
ConfigReloader 配置热更新器
功能：监听配置文件所在目录（编辑器常以改名方式替换文件），变化后重新加载并通知监听器；
目录监听不可用时按 checkInterval 比较修改时间。
目前用于运维账号与 JWT 密钥的在线轮换，其余配置仍需重启生效
*/
type ConfigReloader struct {
	path          string
	watchers      []ConfigWatcher
	mu            sync.RWMutex
	modTime       time.Time
	checkInterval time.Duration
	stopChan      chan struct{}
	stopOnce      sync.Once
	done          chan struct{}
}

// ConfigWatcher 配置监听器
type ConfigWatcher func(cfg *config.Config)

// NewConfigReloader 创建配置热更新器
func NewConfigReloader(path string, checkInterval time.Duration) *ConfigReloader {
	if checkInterval <= 0 {
		checkInterval = 5 * time.Second
	}
	r := &ConfigReloader{
		path:          path,
		checkInterval: checkInterval,
		stopChan:      make(chan struct{}),
		done:          make(chan struct{}),
	}
	if fi, err := os.Stat(path); err == nil {
		r.modTime = fi.ModTime()
	}
	return r
}

// Watch 注册配置监听器
func (r *ConfigReloader) Watch(w ConfigWatcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.watchers = append(r.watchers, w)
}

// Start 阻塞直到 Stop
func (r *ConfigReloader) Start() {
	defer close(r.done)
	ticker := time.NewTicker(r.checkInterval)
	defer ticker.Stop()

	var (
		events <-chan fsnotify.Event
		errsCh <-chan error
		target = filepath.Clean(r.path)
	)
	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		if err = watcher.Add(filepath.Dir(target)); err != nil {
			watcher.Close()
		}
	}
	if err != nil {
		logger.Warn("无法监听配置目录，改为定时检查", zap.String("path", r.path), zap.Error(err))
	} else {
		defer watcher.Close()
		events, errsCh = watcher.Events, watcher.Errors
	}

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Clean(ev.Name) == target && ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				r.Check()
			}
		case err, ok := <-errsCh:
			if !ok {
				errsCh = nil
				continue
			}
			logger.Warn("配置目录监听错误", zap.Error(err))
		case <-ticker.C:
			r.Check()
		case <-r.stopChan:
			return
		}
	}
}

// Stop 停止热更新器
func (r *ConfigReloader) Stop() {
	r.stopOnce.Do(func() { close(r.stopChan) })
	<-r.done
}

/*
Check 检查一次配置文件
功能：文件未变化返回 false；解析失败时保留旧配置，只记录错误
*/
func (r *ConfigReloader) Check() bool {
	fi, err := os.Stat(r.path)
	if err != nil {
		logger.Warn("读取配置文件状态失败", zap.String("path", r.path), zap.Error(err))
		return false
	}

	r.mu.Lock()
	if !fi.ModTime().After(r.modTime) {
		r.mu.Unlock()
		return false
	}
	r.modTime = fi.ModTime()
	watchers := append([]ConfigWatcher(nil), r.watchers...)
	r.mu.Unlock()

	cfg, err := config.LoadConfig(r.path)
	if err != nil {
		logger.Error("配置热更新失败，保留当前配置", zap.String("path", r.path), zap.Error(err))
		return false
	}
	if err := cfg.ApplyEnv(); err != nil {
		logger.Error("配置热更新失败，保留当前配置", zap.String("path", r.path), zap.Error(err))
		return false
	}

	for _, w := range watchers {
		r.notify(w, cfg)
	}
	logger.Info("配置已重新加载", zap.String("path", r.path), zap.Int("watchers", len(watchers)))
	return true
}

/* notify 含 panic 恢复，防止单个监听器影响其他监听器 */
func (r *ConfigReloader) notify(w ConfigWatcher, cfg *config.Config) {
	defer func() {
		if p := recover(); p != nil {
			logger.Error("配置监听器 panic", zap.Any("panic", p))
		}
	}()
	w(cfg)
}
