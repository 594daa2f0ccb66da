package device

import (
	"strconv"
	"strings"
	"time"

	"minerfleet/plane/internal/api/response"
	"minerfleet/plane/internal/db/dao"
	"minerfleet/plane/internal/db/models"
	"minerfleet/plane/internal/service"
	"minerfleet/plane/internal/types"

	"github.com/gin-gonic/gin"
)

// DeviceHandler 设备注册表处理器
type DeviceHandler struct {
	app *types.App
}

// NewDeviceHandler 创建设备处理器
func NewDeviceHandler(app *types.App) *DeviceHandler {
	return &DeviceHandler{app: app}
}

/* DeviceView 设备响应，不含密码 */
type DeviceView struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Host        string    `json:"host"`
	Port        int       `json:"port"`
	Username    string    `json:"username"`
	UseTLS      bool      `json:"useSecureTransport"`
	TenantID    string    `json:"tenantId,omitempty"`
	Tags        []string  `json:"tags"`
	HasPassword bool      `json:"hasPassword"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func toView(d *models.Device) DeviceView {
	tags := d.Tags
	if tags == nil {
		tags = []string{}
	}
	return DeviceView{
		ID:          d.ID,
		Name:        d.Name,
		Host:        d.Host,
		Port:        d.Port,
		Username:    d.Username,
		UseTLS:      d.UseTLS,
		TenantID:    d.TenantID,
		Tags:        tags,
		HasPassword: d.Password != "",
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}

/*
List 分页列出设备
路由：GET /api/v1/devices?tenant_id=&tags=a,b&page=&limit=&sortBy=&sortOrder=
*/
func (h *DeviceHandler) List(c *gin.Context) {
	filter := dao.DeviceFilter{TenantID: c.Query("tenant_id")}
	if raw := c.Query("tags"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				filter.Tags = append(filter.Tags, t)
			}
		}
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	devices, info, err := h.app.Registry.FindAll(c.Request.Context(), filter, dao.Pagination{
		Page:      page,
		Limit:     limit,
		SortBy:    c.Query("sortBy"),
		SortOrder: c.Query("sortOrder"),
	})
	if err != nil {
		response.GinError(c, err)
		return
	}

	views := make([]DeviceView, 0, len(devices))
	for i := range devices {
		views = append(views, toView(&devices[i]))
	}
	response.GinPage(c, views, info)
}

// Create 注册设备
func (h *DeviceHandler) Create(c *gin.Context) {
	var req service.DeviceInput
	if err := c.ShouldBindJSON(&req); err != nil {
		response.GinBadRequest(c, "invalid request: "+err.Error())
		return
	}

	dev, err := h.app.Registry.Create(c.Request.Context(), req)
	if err != nil {
		response.GinError(c, err)
		return
	}
	response.GinCreated(c, toView(dev))
}

// Get 获取设备
func (h *DeviceHandler) Get(c *gin.Context) {
	dev, err := h.app.Registry.FindByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.GinError(c, err)
		return
	}
	response.GinSuccess(c, toView(dev))
}

// Update 部分更新设备
func (h *DeviceHandler) Update(c *gin.Context) {
	var req service.DeviceUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		response.GinBadRequest(c, "invalid request: "+err.Error())
		return
	}

	dev, err := h.app.Registry.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.GinError(c, err)
		return
	}
	response.GinSuccess(c, toView(dev))
}

// Delete 删除设备
func (h *DeviceHandler) Delete(c *gin.Context) {
	id := c.Param("id")
	if err := h.app.Registry.Delete(c.Request.Context(), id); err != nil {
		response.GinError(c, err)
		return
	}
	response.GinSuccess(c, gin.H{"id": id, "deleted": true})
}
