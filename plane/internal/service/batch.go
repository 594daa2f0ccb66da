package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"minerfleet/plane/internal/device"
	"minerfleet/plane/internal/pkg/errs"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

/* BatchParams 按任务类型使用的参数 */
type BatchParams struct {
	Version      string `json:"version,omitempty"`
	Force        bool   `json:"force,omitempty"`
	PoolURL      string `json:"poolUrl,omitempty"`
	PoolUser     string `json:"poolUser,omitempty"`
	PoolPassword string `json:"poolPassword,omitempty"`
}

type BatchRequest struct {
	Type      JobType     `json:"type"`
	DeviceIDs []string    `json:"deviceIds"`
	Params    BatchParams `json:"params"`
}

/* BatchOptions 并发与超时 */
type BatchOptions struct {
	MaxConcurrency int
	MaxDevices     int
	DeviceTimeout  time.Duration
}

/*
BatchService 批量任务驱动
功能：创建任务后立即返回，后台按并发上限逐台执行；
每台设备成功 completed+1，失败 failed+1 并记录错误；全部成功则完成任务，否则标记失败
*/
type BatchService struct {
	registry *RegistryService
	status   *StatusService
	control  *ControlService
	jobs     *JobTracker
	opts     BatchOptions
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewBatchService(registry *RegistryService, status *StatusService, control *ControlService, jobs *JobTracker, opts BatchOptions) *BatchService {
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 10
	}
	if opts.MaxDevices <= 0 {
		opts.MaxDevices = 100
	}
	if opts.DeviceTimeout <= 0 {
		opts.DeviceTimeout = 45 * time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &BatchService{
		registry: registry,
		status:   status,
		control:  control,
		jobs:     jobs,
		opts:     opts,
		logger:   zap.L().Named("batch"),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (b *BatchService) validate(req *BatchRequest) error {
	if !req.Type.Valid() {
		return errs.Validation("unknown job type %q", req.Type)
	}

	seen := make(map[string]struct{}, len(req.DeviceIDs))
	ids := make([]string, 0, len(req.DeviceIDs))
	for _, id := range req.DeviceIDs {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return errs.Validation("at least one device id is required")
	}
	if len(ids) > b.opts.MaxDevices {
		return errs.Validation("too many devices: %d (max %d)", len(ids), b.opts.MaxDevices)
	}
	req.DeviceIDs = ids

	switch req.Type {
	case JobFirmwareUpdate:
		if req.Params.Version == "" {
			return errs.Validation("firmware-update requires params.version")
		}
	case JobPoolUpdate:
		if err := validatePoolURL(req.Params.PoolURL); err != nil {
			return err
		}
		if req.Params.PoolUser == "" {
			return errs.Validation("pool-update requires params.poolUser")
		}
	case JobReboot:
	}
	return nil
}

/* StartBatch 校验并创建任务，后台执行 */
func (b *BatchService) StartBatch(ctx context.Context, req BatchRequest) (*Job, error) {
	if err := b.validate(&req); err != nil {
		return nil, err
	}
	if b.ctx.Err() != nil {
		return nil, errs.Internal(b.ctx.Err(), "batch service is shutting down")
	}

	metadata := map[string]interface{}{
		"deviceIds": req.DeviceIDs,
	}
	switch req.Type {
	case JobFirmwareUpdate:
		metadata["version"] = req.Params.Version
		metadata["force"] = req.Params.Force
	case JobPoolUpdate:
		metadata["poolUrl"] = req.Params.PoolURL
		metadata["poolUser"] = req.Params.PoolUser
	case JobReboot:
	}

	job, err := b.jobs.CreateJob(ctx, req.Type, len(req.DeviceIDs), metadata)
	if err != nil {
		return nil, err
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.run(job.ID, req)
	}()
	return job, nil
}

func (b *BatchService) run(jobID string, req BatchRequest) {
	ctx := b.ctx
	total := len(req.DeviceIDs)
	// 任务记录不随 Stop 取消
	trackCtx := context.Background()

	var (
		mu        sync.Mutex
		completed int
		failed    int
	)
	record := func(id string, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			failed++
			if _, aerr := b.jobs.AddError(trackCtx, jobID, JobError{
				DeviceID:   id,
				Message:    errs.Message(err),
				Suggestion: errs.Suggestion(err),
			}); aerr != nil {
				b.logger.Error("记录任务错误失败", zap.String("jobId", jobID), zap.Error(aerr))
			}
		} else {
			completed++
		}
		if _, perr := b.jobs.UpdateProgress(trackCtx, jobID, completed, failed); perr != nil {
			b.logger.Error("更新任务进度失败", zap.String("jobId", jobID), zap.Error(perr))
		}
	}

	var g errgroup.Group
	g.SetLimit(b.opts.MaxConcurrency)
	for _, id := range req.DeviceIDs {
		g.Go(func() error {
			dctx, cancel := context.WithTimeout(ctx, b.opts.DeviceTimeout)
			defer cancel()
			err := b.process(dctx, req, id)
			if err != nil {
				b.logger.Warn("批量任务设备失败",
					zap.String("jobId", jobID),
					zap.String("deviceId", id),
					zap.Error(err))
			}
			record(id, err)
			return nil
		})
	}
	_ = g.Wait()

	finishCtx, cancel := context.WithTimeout(trackCtx, 10*time.Second)
	defer cancel()
	var err error
	if failed == 0 {
		_, err = b.jobs.CompleteJob(finishCtx, jobID)
	} else {
		_, err = b.jobs.FailJob(finishCtx, jobID, fmt.Sprintf("%d of %d devices failed", failed, total))
	}
	if err != nil {
		b.logger.Error("结束任务失败", zap.String("jobId", jobID), zap.Error(err))
	}
}

/* process 单台设备的操作，按任务类型分派 */
func (b *BatchService) process(ctx context.Context, req BatchRequest, id string) error {
	exists, err := b.registry.Exists(ctx, id)
	if err != nil {
		return err
	}
	if !exists {
		return errs.NotFound("device %s not found", id)
	}

	switch req.Type {
	case JobFirmwareUpdate:
		return b.firmwareUpdate(ctx, id, req.Params)
	case JobPoolUpdate:
		return b.control.AddPrimaryPool(ctx, id, device.Pool{
			URL:      req.Params.PoolURL,
			User:     req.Params.PoolUser,
			Password: req.Params.PoolPassword,
		})
	case JobReboot:
		return b.control.Reboot(ctx, id)
	}
	return errs.Validation("unknown job type %q", req.Type)
}

func (b *BatchService) firmwareUpdate(ctx context.Context, id string, p BatchParams) error {
	snap, err := b.status.GetStatus(ctx, id)
	if err != nil {
		return err
	}
	if !snap.Online {
		return errs.DeviceCommunication(snap.Host, device.PathInfo, 0, true, nil, "device %s is offline", id)
	}
	if snap.FirmwareVersion == p.Version && !p.Force {
		b.logger.Info("固件已是目标版本，跳过", zap.String("deviceId", id), zap.String("version", p.Version))
		return nil
	}
	if err := b.control.TriggerFirmwareUpgrade(ctx, id, p.Version); err != nil {
		return err
	}
	if _, err := b.status.RefreshStatus(ctx, id); err != nil {
		// 升级过程中设备可能重启，刷新失败不算任务失败
		b.logger.Debug("升级后刷新状态失败", zap.String("deviceId", id), zap.Error(err))
	}
	return nil
}

/* Wait 等待所有后台任务结束 */
func (b *BatchService) Wait() {
	b.wg.Wait()
}

/* Stop 取消进行中的设备操作并等待任务收尾 */
func (b *BatchService) Stop() {
	b.cancel()
	b.wg.Wait()
}
