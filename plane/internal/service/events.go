package service

import (
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

/*
JobEventRelay 任务事件中转
功能：JobTracker 在持锁路径上同步回调 Notify，这里只入队；
单个后台协程按顺序分发给各 sink（WebSocket、Redis 频道），队列满时丢弃并计数
*/
type JobEventRelay struct {
	queue   chan JobEvent
	sinks   []JobNotifier
	dropped atomic.Int64
	logger  *zap.Logger

	stopOnce sync.Once
	done     chan struct{}
}

func NewJobEventRelay(buffer int, sinks ...JobNotifier) *JobEventRelay {
	if buffer <= 0 {
		buffer = 256
	}
	return &JobEventRelay{
		queue:  make(chan JobEvent, buffer),
		sinks:  sinks,
		logger: zap.L().Named("job-events"),
		done:   make(chan struct{}),
	}
}

/* Notify 满足 JobNotifier，不阻塞 */
func (r *JobEventRelay) Notify(e JobEvent) {
	select {
	case r.queue <- e:
	default:
		if r.dropped.Inc()%100 == 1 {
			r.logger.Warn("任务事件队列已满，丢弃事件", zap.Int64("dropped", r.dropped.Load()))
		}
	}
}

// Start 阻塞分发直到 Stop
func (r *JobEventRelay) Start() {
	defer close(r.done)
	for e := range r.queue {
		for _, sink := range r.sinks {
			sink(e)
		}
	}
}

/* Stop 分发完已入队的事件后返回；须在 JobTracker 不再产生事件后调用 */
func (r *JobEventRelay) Stop() {
	r.stopOnce.Do(func() { close(r.queue) })
	<-r.done
}

func (r *JobEventRelay) Dropped() int64 {
	return r.dropped.Load()
}
