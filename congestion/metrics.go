package congestion

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes congestion-controller state as Prometheus gauges, wiring
// github.com/prometheus/client_golang per SPEC_FULL.md's DOMAIN STACK.
// Construction is optional: a nil *Metrics is safe to call Observe on and
// does nothing, so callers that don't run a registry pay no cost.
type Metrics struct {
	cwnd        prometheus.Gauge
	bytesInFlight prometheus.Gauge
	slowStart   prometheus.Gauge
}

// NewMetrics registers the controller gauges against reg and returns a
// Metrics the connection's send scheduler can call after every ACK/loss
// event.
func NewMetrics(reg prometheus.Registerer, connLabel string) *Metrics {
	labels := prometheus.Labels{"conn": connLabel}
	m := &Metrics{
		cwnd: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "quic",
			Subsystem:   "congestion",
			Name:        "cwnd_bytes",
			Help:        "Current congestion window in bytes.",
			ConstLabels: labels,
		}),
		bytesInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "quic",
			Subsystem:   "congestion",
			Name:        "bytes_in_flight",
			Help:        "Bytes currently in flight and unacknowledged.",
			ConstLabels: labels,
		}),
		slowStart: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "quic",
			Subsystem:   "congestion",
			Name:        "in_slow_start",
			Help:        "1 if the controller is in slow start, else 0.",
			ConstLabels: labels,
		}),
	}
	reg.MustRegister(m.cwnd, m.bytesInFlight, m.slowStart)
	return m
}

// Observe records one snapshot of controller state. Safe to call on a nil
// *Metrics.
func (m *Metrics) Observe(c Controller, bytesInFlight int) {
	if m == nil {
		return
	}
	m.cwnd.Set(float64(c.CongestionWindow()))
	m.bytesInFlight.Set(float64(bytesInFlight))
	if c.InSlowStart() {
		m.slowStart.Set(1)
	} else {
		m.slowStart.Set(0)
	}
}
