// Package metrics holds the Prometheus collectors exported by the bridge.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "mediabridge"

// Direction labels
const (
	DirectionToPeer   = "to_peer"
	DirectionFromPeer = "from_peer"
)

// Collector groups every bridge metric. A nil *Collector is valid and
// records nothing, which keeps tests and library users free of registries.
type Collector struct {
	SessionsTotal   *prometheus.CounterVec
	SessionsActive  prometheus.Gauge
	SessionDuration prometheus.Histogram
	FramesTotal     *prometheus.CounterVec
	BytesTotal      *prometheus.CounterVec
	SignalsTotal    *prometheus.CounterVec
	GateTransitions *prometheus.CounterVec
	ErrorsTotal     *prometheus.CounterVec
}

// New creates the collectors and registers them on reg
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		SessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Sessions accepted, by bridge mode.",
		}, []string{"mode"}),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Sessions currently streaming.",
		}),
		SessionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Session lifetime from accept to endpoint release.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}),
		FramesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Binary audio messages forwarded.",
		}, []string{"direction"}),
		BytesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_total",
			Help:      "Binary audio bytes forwarded.",
		}, []string{"direction"}),
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "control_signals_total",
			Help:      "Control signals received or emitted.",
		}, []string{"signal", "direction"}),
		GateTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flow_gate_transitions_total",
			Help:      "Flow gate state changes.",
		}, []string{"state"}),
		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_errors_total",
			Help:      "Session-terminating errors by code.",
		}, []string{"code"}),
	}
	if reg != nil {
		reg.MustRegister(
			c.SessionsTotal,
			c.SessionsActive,
			c.SessionDuration,
			c.FramesTotal,
			c.BytesTotal,
			c.SignalsTotal,
			c.GateTransitions,
			c.ErrorsTotal,
		)
	}
	return c
}

func (c *Collector) SessionStarted(mode string) {
	if c == nil {
		return
	}
	c.SessionsTotal.WithLabelValues(mode).Inc()
	c.SessionsActive.Inc()
}

func (c *Collector) SessionEnded(seconds float64) {
	if c == nil {
		return
	}
	c.SessionsActive.Dec()
	c.SessionDuration.Observe(seconds)
}

func (c *Collector) Frame(direction string, size int) {
	if c == nil {
		return
	}
	c.FramesTotal.WithLabelValues(direction).Inc()
	c.BytesTotal.WithLabelValues(direction).Add(float64(size))
}

func (c *Collector) Signal(signal, direction string) {
	if c == nil {
		return
	}
	c.SignalsTotal.WithLabelValues(signal, direction).Inc()
}

func (c *Collector) Gate(open bool) {
	if c == nil {
		return
	}
	state := "closed"
	if open {
		state = "open"
	}
	c.GateTransitions.WithLabelValues(state).Inc()
}

func (c *Collector) Error(code string) {
	if c == nil {
		return
	}
	c.ErrorsTotal.WithLabelValues(code).Inc()
}
