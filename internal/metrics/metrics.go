// Package metrics 采集引擎的 Prometheus 指标。零值指针可用，所有方法在 nil 上为空操作。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 引擎指标
type Metrics struct {
	readings  *prometheus.CounterVec
	partial   *prometheus.CounterVec
	missed    *prometheus.CounterVec
	pollTime  *prometheus.HistogramVec
	connected *prometheus.GaugeVec
	logErrors prometheus.Counter
	subDrops  prometheus.Counter
	gatherer  prometheus.Gatherer
}

// New 创建并注册指标；reg 为空时使用一个新的 Registry
func New(reg prometheus.Registerer) (*Metrics, error) {
	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	if reg == nil {
		r := prometheus.NewRegistry()
		reg, gatherer = r, r
	} else if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}
	m := &Metrics{
		readings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "airmodus_readings_total",
			Help: "Readings stamped and delivered, per device.",
		}, []string{"device"}),
		partial: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "airmodus_partial_readings_total",
			Help: "Readings with at least one absent channel, per device.",
		}, []string{"device"}),
		missed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "airmodus_missed_cycles_total",
			Help: "Poll cycles skipped because the slot was overdue, per device.",
		}, []string{"device"}),
		pollTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "airmodus_poll_duration_seconds",
			Help:    "Time spent in one poll slot, per device.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 10),
		}, []string{"device"}),
		connected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "airmodus_device_connected",
			Help: "1 while the device session is CONNECTED.",
		}, []string{"device"}),
		logErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "airmodus_log_errors_total",
			Help: "Log file write failures.",
		}),
		subDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "airmodus_subscriber_drops_total",
			Help: "Events dropped because a subscriber was not keeping up.",
		}),
		gatherer: gatherer,
	}
	for _, c := range []prometheus.Collector{m.readings, m.partial, m.missed, m.pollTime, m.connected, m.logErrors, m.subDrops} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Reading 记一条读数
func (m *Metrics) Reading(device string, partial bool) {
	if m == nil {
		return
	}
	m.readings.WithLabelValues(device).Inc()
	if partial {
		m.partial.WithLabelValues(device).Inc()
	}
}

// Missed 记错过的周期
func (m *Metrics) Missed(device string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.missed.WithLabelValues(device).Add(float64(n))
}

// PollDuration 记一次轮询耗时
func (m *Metrics) PollDuration(device string, d time.Duration) {
	if m == nil {
		return
	}
	m.pollTime.WithLabelValues(device).Observe(d.Seconds())
}

// Connected 设置连接状态
func (m *Metrics) Connected(device string, up bool) {
	if m == nil {
		return
	}
	v := 0.0
	if up {
		v = 1
	}
	m.connected.WithLabelValues(device).Set(v)
}

func (m *Metrics) LogError() {
	if m == nil {
		return
	}
	m.logErrors.Inc()
}

func (m *Metrics) SubscriberDrop() {
	if m == nil {
		return
	}
	m.subDrops.Inc()
}

// Forget 删除已移除设备的序列
func (m *Metrics) Forget(device string) {
	if m == nil {
		return
	}
	m.readings.DeleteLabelValues(device)
	m.partial.DeleteLabelValues(device)
	m.missed.DeleteLabelValues(device)
	m.pollTime.DeleteLabelValues(device)
	m.connected.DeleteLabelValues(device)
}

// Handler /metrics 的 HTTP 处理器
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
