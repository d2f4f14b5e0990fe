package bridge

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics 记录 bridge 请求分发的关键指标。
type Metrics struct {
	requests   *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	inflight   prometheus.Gauge
	discarded  *prometheus.CounterVec
	deviceInit *prometheus.CounterVec
	postFails  prometheus.Counter
}

// NewMetrics 构造 Metrics，reg 为空则注册到默认注册器。
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "keystone_bridge",
			Name:      "requests_total",
			Help:      "Number of dispatched bridge requests by action and outcome",
		}, []string{"action", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "keystone_bridge",
			Name:      "request_latency_ms",
			Help:      "Time from dispatch to reply in milliseconds",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 15000, 60000},
		}, []string{"action"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "keystone_bridge",
			Name:      "inflight_requests",
			Help:      "Number of requests waiting on a handler",
		}),
		discarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "keystone_bridge",
			Name:      "discarded_total",
			Help:      "Number of inbound messages dropped without a reply",
		}, []string{"reason"}),
		deviceInit: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "keystone_bridge",
			Name:      "device_init_total",
			Help:      "Number of init requests by result",
		}, []string{"result"}),
		postFails: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "keystone_bridge",
			Name:      "reply_post_failures_total",
			Help:      "Number of replies that could not be posted to the port",
		}),
	}
	reg.MustRegister(m.requests, m.latency, m.inflight, m.discarded, m.deviceInit, m.postFails)
	return m
}

func (m *Metrics) observeRequest(action, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(action, outcome).Inc()
	m.latency.WithLabelValues(action).Observe(float64(d.Milliseconds()))
}

func (m *Metrics) trackInflight() func() {
	if m == nil {
		return func() {}
	}
	m.inflight.Inc()
	return func() { m.inflight.Dec() }
}

func (m *Metrics) incDiscarded(reason string) {
	if m == nil {
		return
	}
	m.discarded.WithLabelValues(reason).Inc()
}

func (m *Metrics) incDeviceInit(result string) {
	if m == nil {
		return
	}
	m.deviceInit.WithLabelValues(result).Inc()
}

func (m *Metrics) incPostFailure() {
	if m == nil {
		return
	}
	m.postFails.Inc()
}
