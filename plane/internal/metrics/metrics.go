/*
Package metrics Prometheus 指标

设备请求、重试、会话、舰队汇总、缓存命中与任务结果。
所有组件共享同一个 *Metrics，由 main 注册到默认 Registry 并通过 /metrics 暴露。
*/
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "minerfleet"

type Metrics struct {
	DeviceRequests *prometheus.CounterVec
	DeviceRetries  *prometheus.CounterVec
	DeviceLatency  *prometheus.HistogramVec
	Sessions       prometheus.Gauge

	FleetDevices  *prometheus.GaugeVec
	FleetHashrate prometheus.Gauge
	FleetPower    prometheus.Gauge
	FleetAvgTemp  prometheus.Gauge
	FleetErrors   prometheus.Gauge

	CacheRequests *prometheus.CounterVec
	Jobs          *prometheus.CounterVec
}

/*
New 创建指标集合
功能：reg 为 nil 时不注册（测试或多实例场景）
*/
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		DeviceRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "device",
			Name:      "requests_total",
			Help:      "Device control-plane requests by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		DeviceRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "device",
			Name:      "retries_total",
			Help:      "Retry attempts issued after transient device failures.",
		}, []string{"endpoint"}),
		DeviceLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "device",
			Name:      "request_duration_seconds",
			Help:      "Latency of single device HTTP attempts.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"endpoint"}),
		Sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "device",
			Name:      "sessions",
			Help:      "Device sessions currently held.",
		}),
		FleetDevices: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "fleet",
			Name:      "devices",
			Help:      "Devices in the last fleet aggregation by state.",
		}, []string{"state"}),
		FleetHashrate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "fleet",
			Name:      "hashrate_ths",
			Help:      "Total hashrate of online devices in TH/s.",
		}),
		FleetPower: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "fleet",
			Name:      "power_watts",
			Help:      "Total power target of online devices in watts.",
		}),
		FleetAvgTemp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "fleet",
			Name:      "avg_temperature_celsius",
			Help:      "Mean highest chip temperature over devices reporting one.",
		}),
		FleetErrors: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "fleet",
			Name:      "device_errors",
			Help:      "Device-reported errors across the fleet.",
		}),
		CacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "requests_total",
			Help:      "Status cache lookups by result.",
		}, []string{"result"}),
		Jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "finished_total",
			Help:      "Batch jobs reaching a terminal state.",
		}, []string{"type", "status"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.DeviceRequests, m.DeviceRetries, m.DeviceLatency, m.Sessions,
			m.FleetDevices, m.FleetHashrate, m.FleetPower, m.FleetAvgTemp, m.FleetErrors,
			m.CacheRequests, m.Jobs,
		)
	}
	return m
}

/* NewNop 不注册的指标集合 */
func NewNop() *Metrics {
	return New(nil)
}
