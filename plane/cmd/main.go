package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"minerfleet/plane/internal/api"
	"minerfleet/plane/internal/api/middleware"
	"minerfleet/plane/internal/config"
	"minerfleet/plane/internal/db/database"
	"minerfleet/plane/internal/metrics"
	"minerfleet/plane/internal/pkg/initializer"
	"minerfleet/plane/internal/pkg/logger"
	"minerfleet/plane/internal/service"
	"minerfleet/plane/internal/types"
	"minerfleet/plane/internal/ws"

	"github.com/prometheus/client_golang/prometheus"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"
)

var (
	configPath = flag.StringP("config", "c", "./config.yaml", "配置文件路径")
	envFile    = flag.String("env-file", ".env", "环境变量文件，不存在时忽略")
	port       = flag.IntP("port", "p", 0, "覆盖服务器端口")
	wsMax      = flag.Int("ws-max-clients", 256, "任务推送 WebSocket 连接上限")
)

/*
main 程序入口
启动流程：
 1. 引导日志 → 首次运行检测 → 生成目录与配置（含默认运维账号）
 2. 加载 .env 与配置文件，环境变量覆盖 → 用配置重新初始化日志
 3. 初始化存储（注册表数据库 + 可选 Redis）
 4. 组装服务层，任务事件经中继分发到 WebSocket 与 Redis
 5. 启动维护循环、配置热更新与 HTTP 服务器
 6. 等待 SIGINT/SIGTERM → 优雅关闭
*/
func main() {
	startupBegin := time.Now()
	flag.Parse()

	/* 阶段 1：引导日志 */
	if err := logger.Init(&logger.Config{Level: "info", Format: "console"}); err != nil {
		log.Fatalf("初始化日志系统失败: %v", err)
	}
	defer logger.Sync()

	if err := initializer.InitDirectories(); err != nil {
		logger.Fatal("初始化目录失败", zap.Error(err))
	}
	if initializer.IsFirstRun(*configPath) {
		initializer.PrintWelcome()
		if err := initializer.InitConfig(*configPath); err != nil {
			logger.Fatal("初始化配置失败", zap.Error(err))
		}
	}

	/* 阶段 2：加载配置 */
	if err := config.LoadEnvFile(*envFile); err != nil {
		logger.Fatal("加载环境变量文件失败", zap.Error(err))
	}
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Fatal("加载配置失败", zap.Error(err))
	}
	if err := cfg.ApplyEnv(); err != nil {
		logger.Fatal("环境变量覆盖失败", zap.Error(err))
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal("配置无效", zap.Error(err))
	}
	if err := logger.Init(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		OutputPath: cfg.Log.OutputPath,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	}); err != nil {
		logger.Fatal("重新初始化日志系统失败", zap.Error(err))
	}

	/* 阶段 3：存储 */
	dbStart := time.Now()
	dbManager, err := database.NewManager(context.Background(), storageConfig(cfg))
	if err != nil {
		logger.Fatal("初始化数据库失败", zap.Error(err))
	}
	defer dbManager.Close()
	logger.Info("✓ 存储初始化完成",
		zap.String("database", cfg.Database.Type),
		zap.Bool("redis", dbManager.HasRedis()),
		zap.Duration("耗时", time.Since(dbStart)))

	/* 阶段 4：服务层与事件分发 */
	m := metrics.New(prometheus.DefaultRegisterer)
	app := types.NewApp(cfg, dbManager, m)
	wsServer := ws.NewServer(*wsMax)

	sinks := []service.JobNotifier{func(e service.JobEvent) { wsServer.Publish(e.Job.ID, e) }}
	if redisSink := app.RedisJobSink(); redisSink != nil {
		sinks = append(sinks, redisSink)
	}
	relay := service.NewJobEventRelay(256, sinks...)
	go relay.Start()
	app.Jobs.SetNotifier(relay.Notify)

	go app.Cleanup.Start()

	/* 运维账号与 JWT 密钥可在线轮换 */
	reloader := service.NewConfigReloader(*configPath, 10*time.Second)
	reloader.Watch(func(c *config.Config) { app.Auth.Reload(c.Auth) })
	go reloader.Start()

	/* 阶段 5：HTTP */
	loginLimiter := middleware.NewLoginRateLimiter(10, 15*time.Minute)
	router := api.SetupRouter(app, wsServer, api.RouterOptions{LoginLimiter: loginLimiter})
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:      time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}
	go func() {
		logger.Info("✓ HTTP 服务器启动", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP 服务器异常退出", zap.Error(err))
		}
	}()

	logger.Info("✓ 矿机舰队管理服务启动完成",
		zap.Duration("总耗时", time.Since(startupBegin)),
		zap.String("监听地址", addr))

	/* 阶段 6：优雅关闭 */
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("收到退出信号，正在优雅关闭...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("关闭 HTTP 服务器失败", zap.Error(err))
	}
	loginLimiter.Stop()
	reloader.Stop()
	app.Cleanup.Stop()
	/* 先等待批量任务结束，再关闭事件通道 */
	app.Shutdown()
	relay.Stop()
	wsServer.Close()

	logger.Info("✓ 所有服务已停止")
}

/* storageConfig 把文件配置映射为存储层配置 */
func storageConfig(cfg *config.Config) *database.ManagerConfig {
	dbc := database.DefaultConfig()
	dbc.Type = database.DBType(cfg.Database.Type)
	dbc.Host = cfg.Database.Host
	dbc.Port = cfg.Database.Port
	dbc.User = cfg.Database.User
	dbc.Password = cfg.Database.Password
	dbc.DBName = cfg.Database.DBName
	dbc.SSLMode = cfg.Database.SSLMode
	dbc.Charset = cfg.Database.Charset
	dbc.SQLitePath = cfg.Database.SQLitePath
	dbc.LogLevel = cfg.Database.LogLevel
	if cfg.Database.MaxOpenConns > 0 {
		dbc.MaxOpenConns = cfg.Database.MaxOpenConns
	}
	if cfg.Database.MaxIdleConns > 0 {
		dbc.MaxIdleConns = cfg.Database.MaxIdleConns
	}

	var rc *database.RedisConfig
	if cfg.Redis.Addr != "" {
		rc = database.DefaultRedisConfig()
		rc.Addr = cfg.Redis.Addr
		rc.Password = cfg.Redis.Password
		rc.DB = cfg.Redis.DB
		if cfg.Redis.PoolSize > 0 {
			rc.PoolSize = cfg.Redis.PoolSize
		}
		if cfg.Redis.MinIdleConns > 0 {
			rc.MinIdleConns = cfg.Redis.MinIdleConns
		}
		if cfg.Redis.MaxRetries > 0 {
			rc.MaxRetries = cfg.Redis.MaxRetries
		}
	}
	return &database.ManagerConfig{Database: dbc, Redis: rc}
}
