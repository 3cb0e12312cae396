// Package metrics holds the prometheus collectors of the task engine.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "agrotasks"

type Metrics struct {
	transitions   *prometheus.CounterVec
	refused       *prometheus.CounterVec
	fines         prometheus.Counter
	sweeps        prometheus.Counter
	sweepDuration prometheus.Histogram
	notifications *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_transitions_total",
			Help:      "Committed task transitions by event.",
		}, []string{"event"}),
		refused: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_commands_refused_total",
			Help:      "Task commands refused by event and error code.",
		}, []string{"event", "code"}),
		fines: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fines_created_total",
			Help:      "Fines created by the scanner or administrators.",
		}),
		sweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweeps_total",
			Help:      "Completed deadline sweeps.",
		}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Duration of deadline sweeps.",
			Buckets:   prometheus.DefBuckets,
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification deliveries by sink and outcome.",
		}, []string{"sink", "outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.transitions, m.refused, m.fines, m.sweeps, m.sweepDuration, m.notifications)
	}
	return m
}

func (m *Metrics) Transition(event string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(event).Inc()
}

func (m *Metrics) Refused(event, code string) {
	if m == nil {
		return
	}
	m.refused.WithLabelValues(event, code).Inc()
}

func (m *Metrics) FineCreated() {
	if m == nil {
		return
	}
	m.fines.Inc()
}

func (m *Metrics) Sweep(d time.Duration) {
	if m == nil {
		return
	}
	m.sweeps.Inc()
	m.sweepDuration.Observe(d.Seconds())
}

func (m *Metrics) Notification(sink string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.notifications.WithLabelValues(sink, outcome).Inc()
}
