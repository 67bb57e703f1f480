// Package metrics exposes orchestrator counters and gauges as Prometheus
// collectors. Every method is safe to call on a nil *Metrics, so components
// can run without instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/go-i2p/go-linkd/lib/events"
)

const namespace = "linkd"

// Admission results.
const (
	AdmissionAccepted      = "accepted"
	AdmissionRateLimited   = "rate_limited"
	AdmissionPoolFull      = "pool_full"
	AdmissionAlreadyLinked = "already_linked"
	AdmissionRejected      = "rejected"
)

// Metrics groups the orchestrator's collectors.
type Metrics struct {
	sessions     *prometheus.GaugeVec
	capacity     prometheus.Gauge
	admissions   *prometheus.CounterVec
	events       *prometheus.CounterVec
	reconnects   prometheus.Counter
	terminations *prometheus.CounterVec
	sweeps       prometheus.Counter
	swept        prometheus.Counter
	reloads      prometheus.Counter
}

// New creates the collectors and registers them with reg. A nil reg skips
// registration.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions",
			Help:      "Live sessions by state.",
		}, []string{"state"}),
		capacity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_capacity",
			Help:      "Maximum number of live sessions.",
		}),
		admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "link_requests_total",
			Help:      "Link requests by admission result.",
		}, []string{"result"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Lifecycle events published, by type.",
		}, []string{"type"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Reconnect attempts across all sessions.",
		}),
		terminations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "terminations_total",
			Help:      "Terminated sessions by reason.",
		}, []string{"reason"}),
		sweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweeps_total",
			Help:      "Sweep runs.",
		}),
		swept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "swept_sessions_total",
			Help:      "Sessions evicted by the sweep.",
		}),
		reloads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handler_reloads_total",
			Help:      "Handler hot-reloads.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.collectors()...)
	}
	return m
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.sessions, m.capacity, m.admissions, m.events, m.reconnects,
		m.terminations, m.sweeps, m.swept, m.reloads,
	}
}

// SetCapacity records the pool ceiling.
func (m *Metrics) SetCapacity(n int) {
	if m == nil {
		return
	}
	m.capacity.Set(float64(n))
}

// SetSessions replaces the per-state gauge with counts.
func (m *Metrics) SetSessions(counts map[string]int) {
	if m == nil {
		return
	}
	m.sessions.Reset()
	for state, n := range counts {
		m.sessions.WithLabelValues(state).Set(float64(n))
	}
}

// Admission counts one link request outcome.
func (m *Metrics) Admission(result string) {
	if m == nil {
		return
	}
	m.admissions.WithLabelValues(result).Inc()
}

// Observe counts a published lifecycle event.
func (m *Metrics) Observe(ev events.Event) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(string(ev.EventType())).Inc()
	switch e := ev.(type) {
	case events.Connecting:
		if e.Attempt > 0 {
			m.reconnects.Inc()
		}
	case events.Removed:
		m.terminations.WithLabelValues(e.Reason).Inc()
	}
}

// Swept records one sweep run that evicted n sessions.
func (m *Metrics) Swept(n int) {
	if m == nil {
		return
	}
	m.sweeps.Inc()
	m.swept.Add(float64(n))
}

// Reloaded counts a handler reload.
func (m *Metrics) Reloaded() {
	if m == nil {
		return
	}
	m.reloads.Inc()
}
