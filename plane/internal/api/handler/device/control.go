package device

import (
	"minerfleet/plane/internal/api/response"
	minerdevice "minerfleet/plane/internal/device"
	"minerfleet/plane/internal/pkg/errs"
	"minerfleet/plane/internal/types"

	"github.com/gin-gonic/gin"
)

/*
ControlHandler 设备状态与控制
功能：变更类接口成功后由服务层清理状态缓存
*/
type ControlHandler struct {
	app *types.App
}

func NewControlHandler(app *types.App) *ControlHandler {
	return &ControlHandler{app: app}
}

/*
Status 设备状态快照
路由：GET /api/v1/devices/:id/status?refresh=true
*/
func (h *ControlHandler) Status(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	var (
		snap *minerdevice.StatusSnapshot
		err  error
	)
	if c.Query("refresh") == "true" {
		snap, err = h.app.Status.RefreshStatus(ctx, id)
	} else {
		snap, err = h.app.Status.GetStatus(ctx, id)
	}
	if err != nil {
		response.GinError(c, err)
		return
	}
	response.GinSuccess(c, snap)
}

// Reboot 重启设备
func (h *ControlHandler) Reboot(c *gin.Context) {
	id := c.Param("id")
	if err := h.app.Control.Reboot(c.Request.Context(), id); err != nil {
		response.GinError(c, err)
		return
	}
	response.GinSuccess(c, gin.H{"id": id, "action": "reboot"})
}

/* TargetRequest 目标调整，mode 缺省为 set */
type TargetRequest struct {
	Mode  string  `json:"mode" binding:"omitempty,oneof=set increment decrement"`
	Value float64 `json:"value" binding:"required"`
}

/*
HashrateTarget 设置或增减算力目标（TH/s）
路由：POST /api/v1/devices/:id/hashrate-target
*/
func (h *ControlHandler) HashrateTarget(c *gin.Context) {
	var req TargetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.GinBadRequest(c, "invalid request: "+err.Error())
		return
	}
	ctx, id := c.Request.Context(), c.Param("id")

	var err error
	switch req.Mode {
	case "increment":
		err = h.app.Control.IncrementHashrateTarget(ctx, id, req.Value)
	case "decrement":
		err = h.app.Control.DecrementHashrateTarget(ctx, id, req.Value)
	default:
		err = h.app.Control.SetHashrateTarget(ctx, id, req.Value)
	}
	if err != nil {
		response.GinError(c, err)
		return
	}
	response.GinSuccess(c, gin.H{"id": id, "mode": modeOrSet(req.Mode), "terahashPerSecond": req.Value})
}

/*
PowerTarget 设置或增减功率目标（W）
路由：POST /api/v1/devices/:id/power-target
*/
func (h *ControlHandler) PowerTarget(c *gin.Context) {
	var req TargetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.GinBadRequest(c, "invalid request: "+err.Error())
		return
	}
	ctx, id := c.Request.Context(), c.Param("id")

	var err error
	switch req.Mode {
	case "increment":
		err = h.app.Control.IncrementPowerTarget(ctx, id, req.Value)
	case "decrement":
		err = h.app.Control.DecrementPowerTarget(ctx, id, req.Value)
	default:
		err = h.app.Control.SetPowerTarget(ctx, id, req.Value)
	}
	if err != nil {
		response.GinError(c, err)
		return
	}
	response.GinSuccess(c, gin.H{"id": id, "mode": modeOrSet(req.Mode), "watt": req.Value})
}

func modeOrSet(mode string) string {
	if mode == "" {
		return "set"
	}
	return mode
}

// Ping 连通性检查
func (h *ControlHandler) Ping(c *gin.Context) {
	res, err := h.app.Control.Ping(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.GinError(c, err)
		return
	}
	response.GinSuccess(c, res)
}

// Info 设备信息
func (h *ControlHandler) Info(c *gin.Context) {
	info, err := h.app.Control.GetInfo(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.GinError(c, err)
		return
	}
	response.GinSuccess(c, info)
}

// Hashboards 算力板
func (h *ControlHandler) Hashboards(c *gin.Context) {
	boards, err := h.app.Control.GetHashboards(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.GinError(c, err)
		return
	}
	response.GinSuccess(c, boards)
}

/* HashboardsRequest 启用或禁用算力板 */
type HashboardsRequest struct {
	HashboardIDs []string `json:"hashboardIds" binding:"required,min=1"`
	Enable       bool     `json:"enable"`
}

// SetHashboards 启用或禁用算力板
func (h *ControlHandler) SetHashboards(c *gin.Context) {
	var req HashboardsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.GinBadRequest(c, "invalid request: "+err.Error())
		return
	}
	id := c.Param("id")
	if err := h.app.Control.SetHashboardsEnabled(c.Request.Context(), id, req.HashboardIDs, req.Enable); err != nil {
		response.GinError(c, err)
		return
	}
	response.GinSuccess(c, gin.H{"id": id, "hashboardIds": req.HashboardIDs, "enable": req.Enable})
}

// Pools 矿池配置
func (h *ControlHandler) Pools(c *gin.Context) {
	groups, err := h.app.Control.GetPools(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.GinError(c, err)
		return
	}
	if groups == nil {
		groups = []minerdevice.PoolGroup{}
	}
	response.GinSuccess(c, groups)
}

/*
AddPool 将矿池置于首个矿池组最前
路由：POST /api/v1/devices/:id/pools
*/
func (h *ControlHandler) AddPool(c *gin.Context) {
	var req minerdevice.Pool
	if err := c.ShouldBindJSON(&req); err != nil {
		response.GinBadRequest(c, "invalid request: "+err.Error())
		return
	}
	if req.User == "" {
		response.GinError(c, errs.Validation("pool user is required"))
		return
	}
	id := c.Param("id")
	if err := h.app.Control.AddPrimaryPool(c.Request.Context(), id, req); err != nil {
		response.GinError(c, err)
		return
	}
	response.GinSuccess(c, gin.H{"id": id, "url": req.URL})
}

// Errors 设备上报的错误
func (h *ControlHandler) Errors(c *gin.Context) {
	out, err := h.app.Control.GetErrors(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.GinError(c, err)
		return
	}
	response.GinSuccess(c, out)
}

// TunerState 调优状态
func (h *ControlHandler) TunerState(c *gin.Context) {
	out, err := h.app.Control.GetTunerState(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.GinError(c, err)
		return
	}
	response.GinSuccess(c, out)
}

/* FirmwareRequest 单台固件升级 */
type FirmwareRequest struct {
	Version string `json:"version" binding:"required"`
}

// Firmware 触发单台固件升级
func (h *ControlHandler) Firmware(c *gin.Context) {
	var req FirmwareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.GinBadRequest(c, "invalid request: "+err.Error())
		return
	}
	id := c.Param("id")
	if err := h.app.Control.TriggerFirmwareUpgrade(c.Request.Context(), id, req.Version); err != nil {
		response.GinError(c, err)
		return
	}
	response.GinAccepted(c, gin.H{"id": id, "version": req.Version})
}

// Profiles 性能档位列表
func (h *ControlHandler) Profiles(c *gin.Context) {
	out, err := h.app.Control.GetPerformanceProfiles(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.GinError(c, err)
		return
	}
	response.GinSuccess(c, out)
}

// Network 网络配置
func (h *ControlHandler) Network(c *gin.Context) {
	out, err := h.app.Control.GetNetworkConfig(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.GinError(c, err)
		return
	}
	response.GinSuccess(c, out)
}

/*
applySettings 透传配置类接口
功能：请求体为任意 JSON 对象，原样下发给设备
*/
func (h *ControlHandler) applySettings(name string, apply func(c *gin.Context, id string, cfg minerdevice.Settings) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		var cfg minerdevice.Settings
		if err := c.ShouldBindJSON(&cfg); err != nil || len(cfg) == 0 {
			response.GinBadRequest(c, "request body must be a non-empty JSON object")
			return
		}
		id := c.Param("id")
		if err := apply(c, id, cfg); err != nil {
			response.GinError(c, err)
			return
		}
		response.GinSuccess(c, gin.H{"id": id, "updated": name})
	}
}

// SetQuickRamp 快速爬坡配置
func (h *ControlHandler) SetQuickRamp() gin.HandlerFunc {
	return h.applySettings("quick-ramp", func(c *gin.Context, id string, cfg minerdevice.Settings) error {
		return h.app.Control.SetQuickRamp(c.Request.Context(), id, cfg)
	})
}

// SetDPS 动态功率调节配置
func (h *ControlHandler) SetDPS() gin.HandlerFunc {
	return h.applySettings("dps", func(c *gin.Context, id string, cfg minerdevice.Settings) error {
		return h.app.Control.ConfigureDPS(c.Request.Context(), id, cfg)
	})
}

// SetCooling 散热配置
func (h *ControlHandler) SetCooling() gin.HandlerFunc {
	return h.applySettings("cooling", func(c *gin.Context, id string, cfg minerdevice.Settings) error {
		return h.app.Control.SetCooling(c.Request.Context(), id, cfg)
	})
}

// SetNetwork 网络配置
func (h *ControlHandler) SetNetwork() gin.HandlerFunc {
	return h.applySettings("network", func(c *gin.Context, id string, cfg minerdevice.Settings) error {
		return h.app.Control.SetNetworkConfig(c.Request.Context(), id, cfg)
	})
}
