package service

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"minerfleet/plane/internal/device"
	"minerfleet/plane/internal/pkg/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBatch(f *fixture) *BatchService {
	return NewBatchService(f.registry, f.status, f.control, f.jobs, BatchOptions{
		MaxConcurrency: 2,
		MaxDevices:     3,
		DeviceTimeout:  5 * time.Second,
	})
}

func TestBatchValidation(t *testing.T) {
	f := newFixture(t)
	b := newTestBatch(f)
	defer b.Stop()
	ctx := context.Background()

	cases := []struct {
		name string
		req  BatchRequest
	}{
		{"未知类型", BatchRequest{Type: "explode", DeviceIDs: []string{"a"}}},
		{"空设备列表", BatchRequest{Type: JobReboot}},
		{"超过上限", BatchRequest{Type: JobReboot, DeviceIDs: []string{"a", "b", "c", "d"}}},
		{"固件缺少版本", BatchRequest{Type: JobFirmwareUpdate, DeviceIDs: []string{"a"}}},
		{"矿池地址非法", BatchRequest{Type: JobPoolUpdate, DeviceIDs: []string{"a"}, Params: BatchParams{PoolURL: "http://x", PoolUser: "w"}}},
		{"矿池缺少用户", BatchRequest{Type: JobPoolUpdate, DeviceIDs: []string{"a"}, Params: BatchParams{PoolURL: "stratum+tcp://x:1"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := b.StartBatch(ctx, tc.req)
			require.Error(t, err)
			assert.True(t, errs.Is(err, errs.KindValidation))
		})
	}
}

func TestBatchDeduplicatesDeviceIDs(t *testing.T) {
	f := newFixture(t)
	b := newTestBatch(f)
	defer b.Stop()
	miner := newTestMiner(t)
	miner.ok(http.MethodPost, device.PathReboot)
	f.register(t, "a", miner, "")

	job, err := b.StartBatch(context.Background(), BatchRequest{Type: JobReboot, DeviceIDs: []string{"a", "a", "", "a", "a"}})
	require.NoError(t, err)
	assert.Equal(t, 1, job.Progress.Total)
	b.Wait()

	got, err := f.jobs.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobCompleted, got.Status)
	assert.Equal(t, 1, miner.hitCount(http.MethodPost, device.PathReboot))
}

func TestBatchRebootPartialFailure(t *testing.T) {
	f := newFixture(t)
	b := newTestBatch(f)
	defer b.Stop()
	ctx := context.Background()
	miner := newTestMiner(t)
	miner.ok(http.MethodPost, device.PathReboot)
	f.register(t, "a", miner, "")
	f.register(t, "b", miner, "")

	job, err := b.StartBatch(ctx, BatchRequest{Type: JobReboot, DeviceIDs: []string{"a", "ghost", "b"}})
	require.NoError(t, err)
	assert.Equal(t, JobPending, job.Status)
	b.Wait()

	got, err := f.jobs.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobFailed, got.Status)
	assert.Equal(t, 2, got.Progress.Completed)
	assert.Equal(t, 1, got.Progress.Failed)
	assert.Equal(t, 100, got.Progress.Percentage)
	require.NotNil(t, got.CompletedAt)

	require.Len(t, got.Errors, 2)
	assert.Equal(t, "ghost", got.Errors[0].DeviceID)
	assert.Equal(t, "1 of 3 devices failed", got.Errors[1].Message)
	assert.Equal(t, 2, miner.hitCount(http.MethodPost, device.PathReboot))
}

func TestBatchPoolUpdate(t *testing.T) {
	f := newFixture(t)
	b := newTestBatch(f)
	defer b.Stop()
	ctx := context.Background()
	miner := newTestMiner(t)
	miner.handleJSON(http.MethodGet, device.PathPools, []device.PoolGroup{})
	miner.ok(http.MethodPut, device.PathPools)
	f.register(t, "a", miner, "")

	job, err := b.StartBatch(ctx, BatchRequest{
		Type:      JobPoolUpdate,
		DeviceIDs: []string{"a"},
		Params:    BatchParams{PoolURL: "stratum+tcp://pool.example:3333", PoolUser: "worker", PoolPassword: "x"},
	})
	require.NoError(t, err)
	assert.Equal(t, "stratum+tcp://pool.example:3333", job.Metadata["poolUrl"])
	b.Wait()

	got, err := f.jobs.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobCompleted, got.Status)

	var sent []device.PoolGroup
	require.NoError(t, json.Unmarshal(miner.lastBody(http.MethodPut, device.PathPools), &sent))
	require.Len(t, sent, 1)
	assert.Equal(t, "default", sent[0].Name)
	assert.Equal(t, "worker", sent[0].Pools[0].User)
}

func TestBatchFirmwareSkipsCurrentVersion(t *testing.T) {
	f := newFixture(t)
	b := newTestBatch(f)
	defer b.Stop()
	ctx := context.Background()
	miner := newTestMiner(t)
	miner.healthy("rack1-01", 100, 3000, 70)
	miner.ok(http.MethodPost, device.PathUpgrade)
	f.register(t, "a", miner, "")

	job, err := b.StartBatch(ctx, BatchRequest{Type: JobFirmwareUpdate, DeviceIDs: []string{"a"}, Params: BatchParams{Version: "24.09.1"}})
	require.NoError(t, err)
	b.Wait()
	got, err := f.jobs.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobCompleted, got.Status)
	assert.Zero(t, miner.hitCount(http.MethodPost, device.PathUpgrade), "已是目标版本时不应升级")

	job, err = b.StartBatch(ctx, BatchRequest{Type: JobFirmwareUpdate, DeviceIDs: []string{"a"}, Params: BatchParams{Version: "24.09.1", Force: true}})
	require.NoError(t, err)
	b.Wait()
	got, err = f.jobs.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobCompleted, got.Status)
	assert.Equal(t, 1, miner.hitCount(http.MethodPost, device.PathUpgrade))
}

func TestBatchRejectedAfterStop(t *testing.T) {
	f := newFixture(t)
	b := newTestBatch(f)
	b.Stop()

	_, err := b.StartBatch(context.Background(), BatchRequest{Type: JobReboot, DeviceIDs: []string{"a"}})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindInternal))
}
