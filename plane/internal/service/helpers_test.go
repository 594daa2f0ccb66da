package service

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"minerfleet/plane/internal/db/cache"
	"minerfleet/plane/internal/db/dao"
	"minerfleet/plane/internal/db/models"
	"minerfleet/plane/internal/device"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

/* testMiner 最小化的矿机模拟：登录签发令牌，其余路径按 routes 响应 */
type testMiner struct {
	t   *testing.T
	srv *httptest.Server

	mu     sync.Mutex
	routes map[string]http.HandlerFunc
	hits   map[string]int
	logins int
	bodies map[string][]byte
}

func newTestMiner(t *testing.T) *testMiner {
	m := &testMiner{
		t:      t,
		routes: make(map[string]http.HandlerFunc),
		hits:   make(map[string]int),
		bodies: make(map[string][]byte),
	}
	m.srv = httptest.NewServer(http.HandlerFunc(m.serve))
	t.Cleanup(m.srv.Close)
	return m
}

func (m *testMiner) serve(w http.ResponseWriter, r *http.Request) {
	key := r.Method + " " + r.URL.Path

	body, _ := io.ReadAll(r.Body)

	m.mu.Lock()
	m.hits[key]++
	m.bodies[key] = body
	if r.URL.Path == device.LoginPath {
		m.logins++
		n := m.logins
		m.mu.Unlock()
		writeTestJSON(w, http.StatusOK, device.LoginResponse{Token: fmt.Sprintf("tok-%d", n), TimeoutS: 3600})
		return
	}
	h, ok := m.routes[key]
	m.mu.Unlock()

	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	h(w, r)
}

func (m *testMiner) handle(method, path string, h http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routes[method+" "+path] = h
}

func (m *testMiner) handleJSON(method, path string, v interface{}) {
	m.handle(method, path, func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(w, http.StatusOK, v)
	})
}

/* ok 无响应体的成功 */
func (m *testMiner) ok(method, path string) {
	m.handle(method, path, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

func (m *testMiner) hitCount(method, path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hits[method+" "+path]
}

func (m *testMiner) lastBody(method, path string) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bodies[method+" "+path]
}

func (m *testMiner) hostPort() (string, int) {
	u, err := url.Parse(m.srv.URL)
	require.NoError(m.t, err)
	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(m.t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(m.t, err)
	return host, port
}

/* healthy 注册状态查询所需接口 */
func (m *testMiner) healthy(hostname string, ths, watt, temp float64) {
	m.handleJSON(http.MethodGet, device.PathInfo, device.Info{
		Hostname:   hostname,
		BosVersion: device.BosVersion{Current: "24.09.1"},
	})
	m.handleJSON(http.MethodGet, device.PathHashboards, device.HashboardsResponse{Hashboards: []device.Hashboard{
		{ID: "1", Stats: &device.HashboardStats{Hashrate: &device.Hashrate{TerahashPerSecond: ths}}, HighestChipTemp: &device.Temperature{Celsius: temp}},
	}})
	m.handleJSON(http.MethodGet, device.PathPools, []device.PoolGroup{
		{Name: "default", Pools: []device.Pool{{URL: "stratum+tcp://pool.example:3333", User: "w1"}}},
	})
	m.handleJSON(http.MethodGet, device.PathTunerState, device.TunerState{ModeState: device.TunerModeState{
		PowerTargetModeState: &device.PowerTargetModeState{CurrentTarget: &device.PowerTarget{Watt: watt}},
	}})
	m.handleJSON(http.MethodGet, device.PathErrors, device.ErrorsResponse{})
}

func writeTestJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

/* fixture 服务测试的公共依赖 */
type fixture struct {
	dao      *dao.DAO
	store    *cache.MemoryStore
	cache    *cache.Cache
	sessions *device.SessionManager
	client   *device.Client
	registry *RegistryService
	status   *StatusService
	control  *ControlService
	jobs     *JobTracker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.Device{}, &models.DeviceTag{}))

	f := &fixture{dao: dao.New(db), store: cache.NewMemoryStore()}
	f.cache = cache.New(f.store, nil)

	httpClient := device.NewHTTPClient(false)
	f.sessions = device.NewSessionManager(httpClient, time.Second, time.Hour)
	policy := device.RetryPolicy{MaxRetries: 0, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, Multiplier: 2}
	f.client = device.NewClient(device.NewExecutor(httpClient, f.sessions, policy, time.Second))

	f.registry = NewRegistryService(f.dao, f.cache, f.sessions, RegistryDefaults{})
	f.status = NewStatusService(f.registry, f.client, f.cache, nil, StatusOptions{MaxParallel: 4})
	f.control = NewControlService(f.registry, f.status, f.client)
	f.jobs = NewJobTracker(f.cache, time.Hour, nil)
	return f
}

/* register 把模拟矿机注册为设备 */
func (f *fixture) register(t *testing.T, id string, m *testMiner, tenant string) *models.Device {
	t.Helper()
	host, port := m.hostPort()
	dev, err := f.registry.Create(t.Context(), DeviceInput{
		ID:       id,
		Name:     "miner " + id,
		Host:     host,
		Port:     port,
		Password: "secret",
		TenantID: tenant,
	})
	require.NoError(t, err)
	return dev
}
