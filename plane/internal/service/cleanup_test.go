package service

import (
	"context"
	"testing"
	"time"

	"minerfleet/plane/internal/db/cache"
	"minerfleet/plane/internal/device"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanupRunOnce(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	store := cache.NewMemoryStoreWithClock(clock)
	c := cache.New(store, nil)
	require.NoError(t, c.Set(ctx, cache.DeviceStatusKey("m-1"), device.StatusSnapshot{DeviceID: "m-1"}, time.Minute))
	require.NoError(t, c.Set(ctx, cache.DeviceKey("m-1"), map[string]string{"id": "m-1"}, cache.NoExpiry))

	jobs := NewJobTracker(c, time.Minute, nil)
	jobs.SetClock(clock)
	_, err := jobs.CreateJob(ctx, JobReboot, 1, nil)
	require.NoError(t, err)

	sessions := device.NewSessionManager(device.NewHTTPClient(false), time.Second, time.Hour, device.WithSessionClock(clock))

	svc := NewCleanupService(sessions, store, jobs, time.Hour)
	r := svc.RunOnce()
	assert.Zero(t, r.CacheEntries)
	assert.Zero(t, r.Jobs)

	now = now.Add(2 * time.Minute)
	r = svc.RunOnce()
	assert.Equal(t, 2, r.CacheEntries, "状态缓存与任务均已过期")
	assert.Equal(t, 1, r.Jobs)
	assert.Equal(t, 1, store.Len(), "无 TTL 的设备镜像保留")
}

func TestCleanupStartStop(t *testing.T) {
	svc := NewCleanupService(nil, cache.NewMemoryStore(), nil, 10*time.Millisecond)
	go svc.Start()
	time.Sleep(30 * time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		svc.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop 未在超时内返回")
	}
}
