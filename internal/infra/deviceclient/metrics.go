package deviceclient

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics 暴露设备调用次数/延迟、链路状态与重连次数。
// 同一注册器只应创建一次，多个 Client 可共享。
type Metrics struct {
	calls     *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	linkState *prometheus.GaugeVec
	resets    prometheus.Counter
}

// NewMetrics 在注册器中注册设备客户端指标。
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "keystone_bridge",
			Subsystem: "device",
			Name:      "calls_total",
			Help:      "Device RPC calls by method and result",
		}, []string{"method", "result"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "keystone_bridge",
			Subsystem: "device",
			Name:      "call_latency_ms",
			Help:      "Device RPC latency in milliseconds, including user confirmation on the device",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 15000, 60000},
		}, []string{"method"}),
		linkState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "keystone_bridge",
			Subsystem: "device",
			Name:      "link_state",
			Help:      "1 for the current device link state, 0 otherwise",
		}, []string{"state"}),
		resets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "keystone_bridge",
			Subsystem: "device",
			Name:      "link_resets_total",
			Help:      "Transient failures observed on the device connection",
		}),
	}
	reg.MustRegister(m.calls, m.latency, m.linkState, m.resets)
	return m
}

func (m *Metrics) observeCall(method string, err error, d time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.calls.WithLabelValues(method, result).Inc()
	m.latency.WithLabelValues(method).Observe(float64(d) / float64(time.Millisecond))
}

func (m *Metrics) setState(state LinkState) {
	if m == nil {
		return
	}
	for _, s := range linkStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.linkState.WithLabelValues(string(s)).Set(v)
	}
}

func (m *Metrics) incReset() {
	if m == nil {
		return
	}
	m.resets.Inc()
}
