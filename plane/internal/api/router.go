package api

import (
	"net/http"
	"time"

	"minerfleet/plane/internal/api/handler/device"
	"minerfleet/plane/internal/api/handler/fleet"
	"minerfleet/plane/internal/api/handler/job"
	"minerfleet/plane/internal/api/handler/security"
	"minerfleet/plane/internal/api/middleware"
	"minerfleet/plane/internal/api/response"
	"minerfleet/plane/internal/types"
	"minerfleet/plane/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

/*
RouterOptions 路由可选依赖
功能：LoginLimiter 为 nil 时使用默认限流（每个 IP 15 分钟 10 次）
*/
type RouterOptions struct {
	LoginLimiter *middleware.LoginRateLimiter
	MaxBodyBytes int64
}

// SetupRouter 设置路由
func SetupRouter(app *types.App, wsServer *ws.Server, opts RouterOptions) *gin.Engine {
	if app.Config.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	if opts.LoginLimiter == nil {
		opts.LoginLimiter = middleware.NewLoginRateLimiter(10, 15*time.Minute)
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 2 << 20
	}

	router := gin.New()

	// 全局中间件
	router.Use(middleware.Recovery())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.BodyLimit(opts.MaxBodyBytes))
	router.Use(middleware.Logger())
	router.Use(middleware.CORS(app.Config.Server.CORSAllowedOrigins))

	router.NoRoute(func(c *gin.Context) {
		response.GinNotFound(c, "route not found")
	})

	// 健康检查
	router.GET("/health", func(c *gin.Context) {
		health := app.DB.HealthCheck(c.Request.Context())
		status := http.StatusOK
		health["status"] = "ok"
		if health["database_status"] != "connected" || health["redis_status"] == "disconnected" {
			status = http.StatusServiceUnavailable
			health["status"] = "degraded"
		}
		c.JSON(status, health)
	})

	/* /metrics 与 /ws/stats 仅允许本地访问 */
	router.GET("/metrics", localOnlyGuard(), gin.WrapH(promhttp.Handler()))
	router.GET("/ws/stats", localOnlyGuard(), func(c *gin.Context) {
		response.GinSuccess(c, wsServer.GetStats())
	})

	jwt := middleware.JWTAuth(app.Auth)

	// 任务进度推送，浏览器可用 ?token= 传递令牌
	router.GET("/ws/jobs", jwt, wsServer.HandleWebSocket)

	v1 := router.Group("/api/v1")
	{
		authHandler := security.NewAuthHandler(app)
		v1.POST("/auth/login", opts.LoginLimiter.Middleware(), authHandler.Login)

		authorized := v1.Group("")
		authorized.Use(jwt)
		{
			authorized.GET("/auth/me", authHandler.Me)

			// 设备注册表与控制
			devices := authorized.Group("/devices")
			{
				deviceHandler := device.NewDeviceHandler(app)
				devices.GET("", deviceHandler.List)
				devices.POST("", deviceHandler.Create)
				devices.GET("/:id", deviceHandler.Get)
				devices.PUT("/:id", deviceHandler.Update)
				devices.DELETE("/:id", deviceHandler.Delete)

				controlHandler := device.NewControlHandler(app)
				devices.GET("/:id/status", controlHandler.Status)
				devices.POST("/:id/reboot", controlHandler.Reboot)
				devices.POST("/:id/hashrate-target", controlHandler.HashrateTarget)
				devices.POST("/:id/power-target", controlHandler.PowerTarget)
				devices.POST("/:id/ping", controlHandler.Ping)
				devices.GET("/:id/info", controlHandler.Info)
				devices.GET("/:id/hashboards", controlHandler.Hashboards)
				devices.POST("/:id/hashboards", controlHandler.SetHashboards)
				devices.GET("/:id/pools", controlHandler.Pools)
				devices.POST("/:id/pools", controlHandler.AddPool)
				devices.GET("/:id/errors", controlHandler.Errors)
				devices.GET("/:id/tuner-state", controlHandler.TunerState)
				devices.POST("/:id/firmware", controlHandler.Firmware)
				devices.GET("/:id/profiles", controlHandler.Profiles)
				devices.PUT("/:id/quick-ramp", controlHandler.SetQuickRamp())
				devices.PUT("/:id/dps", controlHandler.SetDPS())
				devices.PUT("/:id/cooling", controlHandler.SetCooling())
				devices.GET("/:id/network", controlHandler.Network)
				devices.PUT("/:id/network", controlHandler.SetNetwork())
			}

			// 舰队汇总
			fleetHandler := fleet.NewFleetHandler(app)
			authorized.GET("/fleet/status", fleetHandler.Status)

			// 批量任务
			jobs := authorized.Group("/jobs")
			{
				jobHandler := job.NewJobHandler(app)
				jobs.POST("", jobHandler.Create)
				jobs.GET("", jobHandler.List)
				jobs.GET("/:id", jobHandler.Get)
			}
		}
	}

	return router
}

/*
localOnlyGuard 本地访问限制中间件
功能：仅允许 127.0.0.1 / ::1 访问，用于保护 /metrics 和 /ws/stats
*/
func localOnlyGuard() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if ip != "127.0.0.1" && ip != "::1" {
			response.GinForbidden(c, "endpoint is only available from localhost")
			c.Abort()
			return
		}
		c.Next()
	}
}
