package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records
// nothing, so components can be built without telemetry.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Supervisor metrics
	ComponentState *prometheus.GaugeVec
	Restarts       *prometheus.CounterVec
	ProbeFailures  *prometheus.CounterVec

	// Framebuffer metrics
	Viewers      prometheus.Gauge
	AuthFailures prometheus.Counter
	InputDropped *prometheus.CounterVec

	// Bridge metrics
	BridgeConnections prometheus.Gauge
	BridgeBytes       *prometheus.CounterVec

	// Lease metrics
	LeaseEvents *prometheus.CounterVec

	startTime time.Time
}

// NewMetrics creates a metrics collector backed by its own registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry:  prometheus.NewRegistry(),
		startTime: time.Now(),

		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "browserbox_http_requests_total",
				Help: "Total number of control API requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "browserbox_http_request_duration_seconds",
				Help:    "Control API request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),

		ComponentState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "browserbox_component_state",
				Help: "1 for the current state of each supervised component",
			},
			[]string{"component", "state"},
		),
		Restarts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "browserbox_component_restarts_total",
				Help: "Automatic restarts per component",
			},
			[]string{"component"},
		),
		ProbeFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "browserbox_health_probe_failures_total",
				Help: "Failed health probes per component",
			},
			[]string{"component"},
		),

		Viewers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "browserbox_viewers",
				Help: "Authenticated framebuffer viewers",
			},
		),
		AuthFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "browserbox_viewer_auth_failures_total",
				Help: "Rejected framebuffer authentications",
			},
		),
		InputDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "browserbox_viewer_input_dropped_total",
				Help: "Viewer input messages dropped by arbitration",
			},
			[]string{"reason"},
		),

		BridgeConnections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "browserbox_bridge_connections",
				Help: "Open WebSocket bridge connections",
			},
		),
		BridgeBytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "browserbox_bridge_bytes_total",
				Help: "Bytes relayed by the WebSocket bridge",
			},
			[]string{"direction"},
		),

		LeaseEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "browserbox_lease_events_total",
				Help: "Automation lease events by outcome",
			},
			[]string{"event"},
		),
	}

	m.registry.MustRegister(
		m.RequestsTotal, m.RequestDuration,
		m.ComponentState, m.Restarts, m.ProbeFailures,
		m.Viewers, m.AuthFailures, m.InputDropped,
		m.BridgeConnections, m.BridgeBytes,
		m.LeaseEvents,
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "browserbox_uptime_seconds",
				Help: "Core uptime in seconds",
			},
			func() float64 { return time.Since(m.startTime).Seconds() },
		),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// SetComponentState marks state as the only active state of component.
func (m *Metrics) SetComponentState(component, state string, all []string) {
	if m == nil {
		return
	}
	for _, s := range all {
		value := 0.0
		if s == state {
			value = 1
		}
		m.ComponentState.WithLabelValues(component, s).Set(value)
	}
}

// IncRestarts counts one automatic restart.
func (m *Metrics) IncRestarts(component string) {
	if m == nil {
		return
	}
	m.Restarts.WithLabelValues(component).Inc()
}

// IncProbeFailures counts one failed health probe.
func (m *Metrics) IncProbeFailures(component string) {
	if m == nil {
		return
	}
	m.ProbeFailures.WithLabelValues(component).Inc()
}

// SetViewers sets the number of authenticated viewers.
func (m *Metrics) SetViewers(count int) {
	if m == nil {
		return
	}
	m.Viewers.Set(float64(count))
}

// IncAuthFailures counts a rejected viewer.
func (m *Metrics) IncAuthFailures() {
	if m == nil {
		return
	}
	m.AuthFailures.Inc()
}

// IncInputDropped counts a dropped viewer input message.
func (m *Metrics) IncInputDropped(reason string) {
	if m == nil {
		return
	}
	m.InputDropped.WithLabelValues(reason).Inc()
}

// BridgeOpened and BridgeClosed track open bridge connections.
func (m *Metrics) BridgeOpened() {
	if m == nil {
		return
	}
	m.BridgeConnections.Inc()
}

func (m *Metrics) BridgeClosed() {
	if m == nil {
		return
	}
	m.BridgeConnections.Dec()
}

// AddBridgeBytes records relayed bytes; direction is "upstream" or "downstream".
func (m *Metrics) AddBridgeBytes(direction string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.BridgeBytes.WithLabelValues(direction).Add(float64(n))
}

// RecordLeaseEvent counts a lease event (granted, conflict, renewed, released, expired).
func (m *Metrics) RecordLeaseEvent(event string) {
	if m == nil {
		return
	}
	m.LeaseEvents.WithLabelValues(event).Inc()
}
