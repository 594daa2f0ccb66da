package service

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"minerfleet/plane/internal/db/cache"
	"minerfleet/plane/internal/metrics"
	"minerfleet/plane/internal/pkg/errs"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

/* JobType 批量任务类型 */
type JobType string

const (
	JobFirmwareUpdate JobType = "firmware-update"
	JobPoolUpdate     JobType = "pool-update"
	JobReboot         JobType = "reboot"
)

func (t JobType) Valid() bool {
	switch t {
	case JobFirmwareUpdate, JobPoolUpdate, JobReboot:
		return true
	}
	return false
}

/* JobStatus 任务状态：pending → running → completed / failed */
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

type JobProgress struct {
	Total      int `json:"total"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Percentage int `json:"percentage"`
}

type JobError struct {
	DeviceID   string    `json:"deviceId"`
	Message    string    `json:"message"`
	Suggestion string    `json:"suggestion"`
	Timestamp  time.Time `json:"timestamp"`
}

type Job struct {
	ID          string                 `json:"jobId"`
	Type        JobType                `json:"type"`
	Status      JobStatus              `json:"status"`
	Progress    JobProgress            `json:"progress"`
	Errors      []JobError             `json:"errors"`
	StartedAt   time.Time              `json:"startedAt"`
	CompletedAt *time.Time             `json:"completedAt,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

/* JobEvent 任务变更事件 */
type JobEvent struct {
	Event string `json:"event"` /* created, progress, error, completed, failed */
	Job   *Job   `json:"job"`
}

/* JobNotifier 接收任务事件，不得阻塞 */
type JobNotifier func(JobEvent)

const jobFailedSuggestion = "Check the job errors for details"

/*
JobTracker 批量任务跟踪
功能：
- 任务存放在缓存 job:{id}，TTL 默认 1 小时
- 每个任务一把锁，同一任务的并发更新串行执行，不同任务互不影响
- 每次变更通知 notifier
*/
type JobTracker struct {
	cache   *cache.Cache
	ttl     time.Duration
	metrics *metrics.Metrics
	now     func() time.Time
	logger  *zap.Logger

	mu     sync.Mutex
	locks  map[string]*sync.Mutex
	notify JobNotifier
}

func NewJobTracker(c *cache.Cache, ttl time.Duration, m *metrics.Metrics) *JobTracker {
	if ttl <= 0 {
		ttl = cache.DefaultJobTTL
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &JobTracker{
		cache:   c,
		ttl:     ttl,
		metrics: m,
		now:     time.Now,
		logger:  zap.L().Named("job"),
		locks:   make(map[string]*sync.Mutex),
	}
}

/* SetNotifier 设置事件接收方 */
func (t *JobTracker) SetNotifier(fn JobNotifier) {
	t.mu.Lock()
	t.notify = fn
	t.mu.Unlock()
}

/* SetClock 替换时钟（测试用） */
func (t *JobTracker) SetClock(now func() time.Time) {
	t.now = now
}

func (t *JobTracker) lockFor(id string) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.locks[id]
	if !ok {
		l = &sync.Mutex{}
		t.locks[id] = l
	}
	return l
}

func (t *JobTracker) emit(event string, job *Job) {
	t.mu.Lock()
	fn := t.notify
	t.mu.Unlock()
	if fn != nil {
		fn(JobEvent{Event: event, Job: job})
	}
}

/* CreateJob 新建 pending 任务 */
func (t *JobTracker) CreateJob(ctx context.Context, jobType JobType, total int, metadata map[string]interface{}) (*Job, error) {
	if !jobType.Valid() {
		return nil, errs.Validation("unknown job type %q", jobType)
	}
	if total < 0 {
		return nil, errs.Validation("job total must not be negative")
	}
	job := &Job{
		ID:        uuid.New().String(),
		Type:      jobType,
		Status:    JobPending,
		Progress:  JobProgress{Total: total},
		Errors:    []JobError{},
		StartedAt: t.now(),
		Metadata:  metadata,
	}
	if err := t.save(ctx, job); err != nil {
		return nil, err
	}
	t.lockFor(job.ID)

	t.logger.Info("任务已创建", zap.String("jobId", job.ID), zap.String("type", string(jobType)), zap.Int("total", total))
	t.emit("created", job)
	return job, nil
}

/* GetJob 不存在或已过期返回 NotFound */
func (t *JobTracker) GetJob(ctx context.Context, id string) (*Job, error) {
	var job Job
	ok, err := t.cache.GetJSON(ctx, cache.JobKey(id), &job)
	if err != nil {
		return nil, errs.Internal(err, "load job %s", id)
	}
	if !ok {
		return nil, errs.NotFound("job %s not found", id)
	}
	if job.Errors == nil {
		job.Errors = []JobError{}
	}
	return &job, nil
}

/*
ListJobs 列出本进程创建且尚未过期的任务
功能：status 为空时不过滤，按开始时间倒序
*/
func (t *JobTracker) ListJobs(ctx context.Context, status JobStatus) ([]*Job, error) {
	t.mu.Lock()
	ids := make([]string, 0, len(t.locks))
	for id := range t.locks {
		ids = append(ids, id)
	}
	t.mu.Unlock()

	jobs := make([]*Job, 0, len(ids))
	for _, id := range ids {
		job, err := t.GetJob(ctx, id)
		if errs.Is(err, errs.KindNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if status != "" && job.Status != status {
			continue
		}
		jobs = append(jobs, job)
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].StartedAt.After(jobs[j].StartedAt)
	})
	return jobs, nil
}

/* PruneIndex 移除已从缓存过期的任务索引，返回移除数量 */
func (t *JobTracker) PruneIndex(ctx context.Context) int {
	t.mu.Lock()
	ids := make([]string, 0, len(t.locks))
	for id := range t.locks {
		ids = append(ids, id)
	}
	t.mu.Unlock()

	removed := 0
	for _, id := range ids {
		ok, err := t.cache.Exists(ctx, cache.JobKey(id))
		if err != nil || ok {
			continue
		}
		t.mu.Lock()
		delete(t.locks, id)
		t.mu.Unlock()
		removed++
	}
	return removed
}

/*
mutate 在任务锁内读取、修改并写回
功能：事件在持锁期间发出，同一任务的事件顺序与写入顺序一致
*/
func (t *JobTracker) mutate(ctx context.Context, id, event string, fn func(job *Job) error) (*Job, error) {
	l := t.lockFor(id)
	l.Lock()
	defer l.Unlock()

	job, err := t.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(job); err != nil {
		return nil, err
	}
	if err := t.save(ctx, job); err != nil {
		return nil, err
	}
	t.emit(event, job)
	return job, nil
}

func (t *JobTracker) save(ctx context.Context, job *Job) error {
	if err := t.cache.Set(ctx, cache.JobKey(job.ID), job, t.ttl); err != nil {
		return errs.Internal(err, "save job %s", job.ID)
	}
	return nil
}

/* percentage round(100·done/total)，total 为 0 时为 0 */
func percentage(done, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(100 * float64(done) / float64(total)))
}

/*
UpdateProgress 写入累计进度
功能：completed / failed 为累计值，不得回退且两者之和不超过 total；首次更新 pending → running
*/
func (t *JobTracker) UpdateProgress(ctx context.Context, id string, completed, failed int) (*Job, error) {
	return t.mutate(ctx, id, "progress", func(job *Job) error {
		if job.Status.Terminal() {
			return errs.Validation("job %s already %s", id, job.Status)
		}
		if completed < job.Progress.Completed || failed < job.Progress.Failed {
			return errs.Validation("job %s progress must not decrease", id)
		}
		if completed+failed > job.Progress.Total {
			return errs.Validation("job %s progress %d exceeds total %d", id, completed+failed, job.Progress.Total)
		}
		job.Progress.Completed = completed
		job.Progress.Failed = failed
		job.Progress.Percentage = percentage(completed+failed, job.Progress.Total)
		if job.Status == JobPending {
			job.Status = JobRunning
		}
		return nil
	})
}

/* AddError 追加错误记录，时间戳由服务端生成，不改变状态 */
func (t *JobTracker) AddError(ctx context.Context, id string, e JobError) (*Job, error) {
	return t.mutate(ctx, id, "error", func(job *Job) error {
		e.Timestamp = t.now()
		job.Errors = append(job.Errors, e)
		return nil
	})
}

/* CompleteJob 标记完成 */
func (t *JobTracker) CompleteJob(ctx context.Context, id string) (*Job, error) {
	return t.finish(ctx, id, JobCompleted, "")
}

/* FailJob 标记失败并记录原因 */
func (t *JobTracker) FailJob(ctx context.Context, id, reason string) (*Job, error) {
	return t.finish(ctx, id, JobFailed, reason)
}

/*
finish 终态转换
功能：只接受 running 任务；total 为 0 的任务没有进度可报，先经 running 再结束
*/
func (t *JobTracker) finish(ctx context.Context, id string, status JobStatus, reason string) (*Job, error) {
	current, err := t.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status == JobPending && current.Progress.Total == 0 {
		if _, err := t.UpdateProgress(ctx, id, 0, 0); err != nil {
			return nil, err
		}
	}

	job, err := t.mutate(ctx, id, string(status), func(job *Job) error {
		if job.Status != JobRunning {
			return errs.Validation("job %s is %s, only running jobs can be marked %s", id, job.Status, status)
		}
		now := t.now()
		job.Status = status
		if job.CompletedAt == nil {
			job.CompletedAt = &now
		}
		if status == JobFailed {
			job.Errors = append(job.Errors, JobError{
				Message:    reason,
				Suggestion: jobFailedSuggestion,
				Timestamp:  now,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	t.metrics.Jobs.WithLabelValues(string(job.Type), string(status)).Inc()
	t.logger.Info("任务结束",
		zap.String("jobId", id),
		zap.String("status", string(status)),
		zap.Int("completed", job.Progress.Completed),
		zap.Int("failed", job.Progress.Failed))
	return job, nil
}
