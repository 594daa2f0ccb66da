package job

import (
	"minerfleet/plane/internal/api/middleware"
	"minerfleet/plane/internal/api/response"
	"minerfleet/plane/internal/pkg/errs"
	"minerfleet/plane/internal/service"
	"minerfleet/plane/internal/types"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// JobHandler 批量任务处理器
type JobHandler struct {
	app    *types.App
	logger *zap.Logger
}

func NewJobHandler(app *types.App) *JobHandler {
	return &JobHandler{app: app, logger: zap.L().Named("job-handler")}
}

/*
Create 发起批量任务
功能：任务创建后立即返回 202，进度通过 GET /jobs/:id 或 /ws/jobs 获取
*/
func (h *JobHandler) Create(c *gin.Context) {
	var req service.BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.GinBadRequest(c, "invalid request: "+err.Error())
		return
	}

	job, err := h.app.Batch.StartBatch(c.Request.Context(), req)
	if err != nil {
		response.GinError(c, err)
		return
	}
	h.logger.Info("批量任务已提交",
		zap.String("jobId", job.ID),
		zap.String("type", string(job.Type)),
		zap.Int("devices", job.Progress.Total),
		zap.String("operator", middleware.GetOperator(c)))
	response.GinAccepted(c, job)
}

// List 列出任务，可按 status 过滤
func (h *JobHandler) List(c *gin.Context) {
	status := service.JobStatus(c.Query("status"))
	switch status {
	case "", service.JobPending, service.JobRunning, service.JobCompleted, service.JobFailed:
	default:
		response.GinError(c, errs.Validation("unknown job status %q", status))
		return
	}

	jobs, err := h.app.Jobs.ListJobs(c.Request.Context(), status)
	if err != nil {
		response.GinError(c, err)
		return
	}
	response.GinSuccess(c, gin.H{"jobs": jobs, "total": len(jobs)})
}

// Get 获取任务
func (h *JobHandler) Get(c *gin.Context) {
	job, err := h.app.Jobs.GetJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.GinError(c, err)
		return
	}
	response.GinSuccess(c, job)
}
