package device

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"time"
)

/* ==================== 连接目标 ==================== */

/*
Target 设备连接参数
功能：由注册表记录转换而来，按值传递，执行层不持有注册表内部数据
*/
type Target struct {
	Host     string
	Port     int
	Username string
	Password string
	UseTLS   bool
}

/* BaseURL 未指定端口时按协议取 80 / 443 */
func (t Target) BaseURL() string {
	scheme := "http"
	port := t.Port
	if t.UseTLS {
		scheme = "https"
		if port == 0 {
			port = 443
		}
	} else if port == 0 {
		port = 80
	}
	return fmt.Sprintf("%s://%s:%d", scheme, t.Host, port)
}

/*
Address 会话键 host:port
功能：同一 IP 不同端口的矿机（NAT 后端口映射）各自持有会话
*/
func (t Target) Address() string {
	port := t.Port
	if port == 0 {
		port = 80
		if t.UseTLS {
			port = 443
		}
	}
	return net.JoinHostPort(t.Host, strconv.Itoa(port))
}

/* ==================== 设备 API 数据结构 ==================== */

/*
FlexString 兼容字符串或数字的 JSON 字段
功能：不同固件版本对 id 类字段的编码不一致
*/
type FlexString string

func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = FlexString(n.String())
	return nil
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token    string `json:"token"`
	TimeoutS int64  `json:"timeout_s"`
}

type Hashrate struct {
	GigahashPerSecond float64 `json:"gigahash_per_second,omitempty"`
	TerahashPerSecond float64 `json:"terahash_per_second,omitempty"`
}

/* Ths 以 TH/s 表示，缺失时由 GH/s 换算 */
func (h *Hashrate) Ths() float64 {
	if h == nil {
		return 0
	}
	if h.TerahashPerSecond != 0 {
		return h.TerahashPerSecond
	}
	return h.GigahashPerSecond / 1000
}

type Temperature struct {
	Celsius float64 `json:"celsius"`
}

type BosVersion struct {
	Current string `json:"current"`
	Major   string `json:"major,omitempty"`
}

type MinerIdentity struct {
	Brand string `json:"brand"`
	Model string `json:"model"`
	Name  string `json:"name"`
}

// Info GET /api/v1/info
type Info struct {
	UID             string        `json:"uid"`
	SerialNumber    string        `json:"serial_number"`
	Hostname        string        `json:"hostname"`
	MACAddress      string        `json:"mac_address"`
	KernelVersion   string        `json:"kernel_version"`
	BosVersion      BosVersion    `json:"bos_version"`
	MinerIdentity   MinerIdentity `json:"miner_identity"`
	StickerHashrate *Hashrate     `json:"sticker_hashrate,omitempty"`
	SystemUptimeS   int64         `json:"system_uptime_s"`
	BosminerUptimeS int64         `json:"bosminer_uptime_s"`
}

type HashboardStats struct {
	Hashrate *Hashrate `json:"hashrate,omitempty"`
}

type Hashboard struct {
	ID              FlexString      `json:"id"`
	BoardName       string          `json:"board_name"`
	Model           string          `json:"model"`
	Enabled         bool            `json:"enabled"`
	ChipsCount      int             `json:"chips_count"`
	BoardTemp       *Temperature    `json:"board_temp,omitempty"`
	HighestChipTemp *Temperature    `json:"highest_chip_temp,omitempty"`
	Stats           *HashboardStats `json:"stats,omitempty"`
}

// HashboardsResponse GET /api/v1/hashboards
type HashboardsResponse struct {
	Hashboards []Hashboard `json:"hashboards"`
}

type HashboardEnableRequest struct {
	HashboardIDs []string `json:"hashboard_ids"`
	Enable       bool     `json:"enable"`
}

type Pool struct {
	UID      string `json:"uid,omitempty"`
	URL      string `json:"url"`
	User     string `json:"user"`
	Password string `json:"password,omitempty"`
	Enabled  *bool  `json:"enabled,omitempty"`
}

type PoolGroup struct {
	UID   string `json:"uid,omitempty"`
	Name  string `json:"name"`
	Pools []Pool `json:"pools"`
}

type HashrateTarget struct {
	TerahashPerSecond float64 `json:"terahash_per_second"`
}

type PowerTarget struct {
	Watt float64 `json:"watt"`
}

type PowerTargetModeState struct {
	CurrentTarget *PowerTarget `json:"current_target,omitempty"`
}

type TunerModeState struct {
	PowerTargetModeState *PowerTargetModeState `json:"powertargetmodestate,omitempty"`
}

// TunerState GET /api/v1/performance/tuner-state
type TunerState struct {
	ModeState TunerModeState `json:"mode_state"`
}

/* PowerWatts 当前功率目标，未处于功率模式时为 0 */
func (t *TunerState) PowerWatts() float64 {
	if t == nil || t.ModeState.PowerTargetModeState == nil || t.ModeState.PowerTargetModeState.CurrentTarget == nil {
		return 0
	}
	return t.ModeState.PowerTargetModeState.CurrentTarget.Watt
}

type DeviceError struct {
	Message   string `json:"message"`
	Component string `json:"component,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// ErrorsResponse GET /api/v1/errors
type ErrorsResponse struct {
	Errors []DeviceError `json:"errors"`
}

/*
Settings 透传配置
功能：quick-ramp / DPS / 散热 / 网络 / 性能档位等结构随固件变化，按原样转发
*/
type Settings map[string]interface{}

type FirmwareUpgradeRequest struct {
	Version string `json:"version"`
}

/* ==================== 状态快照 ==================== */

/*
StatusSnapshot 设备状态快照
功能：一次聚合查询的结果，构造后不再修改，下一次查询生成新的快照
*/
type StatusSnapshot struct {
	DeviceID              string    `json:"deviceId"`
	Name                  string    `json:"name,omitempty"`
	Host                  string    `json:"host"`
	Online                bool      `json:"online"`
	HashrateThs           float64   `json:"hashrateThs"`
	MaxTemperatureCelsius float64   `json:"maxTemperatureCelsius"`
	PowerWatts            float64   `json:"powerWatts"`
	Errors                []string  `json:"errors"`
	FirmwareVersion       string    `json:"firmwareVersion,omitempty"`
	Hostname              string    `json:"hostname,omitempty"`
	PoolCount             int       `json:"poolCount"`
	Unreachable           string    `json:"unreachable,omitempty"`
	LastUpdated           time.Time `json:"lastUpdated"`
}

/* OfflineSnapshot 失败设备的占位快照，指标全部为 0 */
func OfflineSnapshot(deviceID, name, host string, cause error, now time.Time) *StatusSnapshot {
	s := &StatusSnapshot{
		DeviceID:    deviceID,
		Name:        name,
		Host:        host,
		Online:      false,
		Errors:      []string{},
		LastUpdated: now,
	}
	if cause != nil {
		s.Unreachable = cause.Error()
	}
	return s
}

/*
BuildSnapshot 由五个接口的响应计算快照
功能：算力 = 各板 TH/s 之和（缺失时 GH/s/1000）；温度 = 各板最高芯片温度的最大值；
功率 = tuner 功率目标；错误 = 设备上报的错误信息
*/
func BuildSnapshot(deviceID, name, host string, info *Info, boards *HashboardsResponse, pools []PoolGroup, tuner *TunerState, errResp *ErrorsResponse, now time.Time) *StatusSnapshot {
	s := &StatusSnapshot{
		DeviceID:    deviceID,
		Name:        name,
		Host:        host,
		Online:      true,
		Errors:      []string{},
		PowerWatts:  tuner.PowerWatts(),
		LastUpdated: now,
	}
	if info != nil {
		s.FirmwareVersion = info.BosVersion.Current
		s.Hostname = info.Hostname
	}
	if boards != nil {
		for _, b := range boards.Hashboards {
			if b.Stats != nil {
				s.HashrateThs += b.Stats.Hashrate.Ths()
			}
			if b.HighestChipTemp != nil && b.HighestChipTemp.Celsius > s.MaxTemperatureCelsius {
				s.MaxTemperatureCelsius = b.HighestChipTemp.Celsius
			}
		}
	}
	for _, g := range pools {
		s.PoolCount += len(g.Pools)
	}
	if errResp != nil {
		for _, e := range errResp.Errors {
			s.Errors = append(s.Errors, e.Message)
		}
	}
	return s
}
