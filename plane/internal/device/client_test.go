package device

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"minerfleet/plane/internal/pkg/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

func TestTargetBaseURL(t *testing.T) {
	assert.Equal(t, "http://10.0.0.5:80", Target{Host: "10.0.0.5"}.BaseURL())
	assert.Equal(t, "https://10.0.0.5:443", Target{Host: "10.0.0.5", UseTLS: true}.BaseURL())
	assert.Equal(t, "https://miner.local:8443", Target{Host: "miner.local", Port: 8443, UseTLS: true}.BaseURL())
}

func TestFlexStringAcceptsNumbers(t *testing.T) {
	var boards HashboardsResponse
	require.NoError(t, json.Unmarshal([]byte(`{"hashboards":[{"id":1},{"id":"2"},{"id":null}]}`), &boards))
	require.Len(t, boards.Hashboards, 3)
	assert.Equal(t, FlexString("1"), boards.Hashboards[0].ID)
	assert.Equal(t, FlexString("2"), boards.Hashboards[1].ID)
	assert.Equal(t, FlexString(""), boards.Hashboards[2].ID)
}

func TestClientReauthenticatesOnceAfterSessionRejected(t *testing.T) {
	miner := newFakeMiner(t)
	var calls atomic.Int32
	miner.handle(http.MethodGet, PathInfo, func(w http.ResponseWriter, r *http.Request) {
		if calls.Inc() == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(w, http.StatusOK, Info{Hostname: "miner-02"})
	})
	client := newTestClient(0, time.Second)

	info, err := client.GetInfo(context.Background(), miner.target())
	require.NoError(t, err)
	assert.Equal(t, "miner-02", info.Hostname)
	assert.Equal(t, 2, miner.loginCount())
	assert.Equal(t, "Bearer tok-2", miner.authHeader())
}

func TestClientGivesUpAfterSecondRejection(t *testing.T) {
	miner := newFakeMiner(t)
	miner.handle(http.MethodGet, PathInfo, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	client := newTestClient(3, time.Second)

	_, err := client.GetInfo(context.Background(), miner.target())
	assert.ErrorIs(t, err, errs.ErrUnauthorized)
	assert.Equal(t, 2, miner.hitCount(http.MethodGet, PathInfo))
}

func TestClientAdjustTargets(t *testing.T) {
	miner := newFakeMiner(t)
	var watt atomic.Float64
	miner.handle(http.MethodPatch, PathPowerTarget+"/decrement", func(w http.ResponseWriter, r *http.Request) {
		var body PowerTarget
		_ = json.NewDecoder(r.Body).Decode(&body)
		watt.Store(body.Watt)
		w.WriteHeader(http.StatusOK)
	})
	miner.handle(http.MethodPatch, PathHashrateTarget+"/increment", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	client := newTestClient(0, time.Second)
	target := miner.target()

	require.NoError(t, client.AdjustPowerTarget(context.Background(), target, -150))
	assert.Equal(t, 150.0, watt.Load())
	require.NoError(t, client.AdjustHashrateTarget(context.Background(), target, 5))
	assert.Equal(t, 1, miner.hitCount(http.MethodPatch, PathHashrateTarget+"/increment"))
}

/* serveHealthyMiner 注册状态查询所需的五个接口 */
func serveHealthyMiner(m *fakeMiner) {
	m.handleJSON(http.MethodGet, PathInfo, Info{
		Hostname:   "rack1-07",
		BosVersion: BosVersion{Current: "24.09.1"},
	})
	m.handleJSON(http.MethodGet, PathHashboards, HashboardsResponse{Hashboards: []Hashboard{
		{ID: "1", Stats: &HashboardStats{Hashrate: &Hashrate{TerahashPerSecond: 33.5}}, HighestChipTemp: &Temperature{Celsius: 71}},
		{ID: "2", Stats: &HashboardStats{Hashrate: &Hashrate{GigahashPerSecond: 34500}}, HighestChipTemp: &Temperature{Celsius: 78.5}},
		{ID: "3", Enabled: false},
	}})
	m.handleJSON(http.MethodGet, PathPools, []PoolGroup{
		{Name: "default", Pools: []Pool{{URL: "stratum+tcp://pool.example:3333", User: "w1"}, {URL: "stratum+tcp://backup.example:3333", User: "w1"}}},
	})
	m.handleJSON(http.MethodGet, PathTunerState, TunerState{ModeState: TunerModeState{
		PowerTargetModeState: &PowerTargetModeState{CurrentTarget: &PowerTarget{Watt: 3250}},
	}})
	m.handleJSON(http.MethodGet, PathErrors, ErrorsResponse{Errors: []DeviceError{{Message: "fan 2 speed low"}}})
}

func TestFetchStatus(t *testing.T) {
	miner := newFakeMiner(t)
	serveHealthyMiner(miner)
	client := newTestClient(0, time.Second)

	s, err := client.FetchStatus(context.Background(), "m-7", "Rack 1 #7", miner.target())
	require.NoError(t, err)

	assert.True(t, s.Online)
	assert.Equal(t, "m-7", s.DeviceID)
	assert.InDelta(t, 68.0, s.HashrateThs, 1e-9)
	assert.Equal(t, 78.5, s.MaxTemperatureCelsius)
	assert.Equal(t, 3250.0, s.PowerWatts)
	assert.Equal(t, []string{"fan 2 speed low"}, s.Errors)
	assert.Equal(t, "24.09.1", s.FirmwareVersion)
	assert.Equal(t, "rack1-07", s.Hostname)
	assert.Equal(t, 2, s.PoolCount)
	assert.Equal(t, 1, miner.loginCount(), "并行请求应共享同一会话")
}

func TestFetchStatusFailsWhenAnyEndpointFails(t *testing.T) {
	miner := newFakeMiner(t)
	serveHealthyMiner(miner)
	miner.handle(http.MethodGet, PathTunerState, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	client := newTestClient(0, time.Second)

	_, err := client.FetchStatus(context.Background(), "m-7", "", miner.target())
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindDeviceCommunication))
}

func TestOfflineSnapshotIsZeroed(t *testing.T) {
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	s := OfflineSnapshot("m-1", "", "10.0.0.1", errs.Validation("boom"), now)
	assert.False(t, s.Online)
	assert.Zero(t, s.HashrateThs)
	assert.Zero(t, s.PowerWatts)
	assert.Zero(t, s.MaxTemperatureCelsius)
	assert.Empty(t, s.Errors)
	assert.NotEmpty(t, s.Unreachable)
	assert.Equal(t, now, s.LastUpdated)
}
