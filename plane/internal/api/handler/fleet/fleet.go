package fleet

import (
	"minerfleet/plane/internal/api/response"
	"minerfleet/plane/internal/types"

	"github.com/gin-gonic/gin"
)

// FleetHandler 舰队状态处理器
type FleetHandler struct {
	app *types.App
}

func NewFleetHandler(app *types.App) *FleetHandler {
	return &FleetHandler{app: app}
}

/*
Status 舰队汇总
路由：GET /api/v1/fleet/status?tenant_id=&refresh=true
*/
func (h *FleetHandler) Status(c *gin.Context) {
	summary, err := h.app.Status.GetFleetStatus(c.Request.Context(), c.Query("tenant_id"), c.Query("refresh") == "true")
	if err != nil {
		response.GinError(c, err)
		return
	}
	response.GinSuccess(c, summary)
}
