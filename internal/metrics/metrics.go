// Package metrics exposes scheduler activity as Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sweeney/pin-timer/internal/timer"
)

const namespace = "pintimer"

// Metrics holds the daemon's collectors.
type Metrics struct {
	fired         *prometheus.CounterVec
	retired       *prometheus.CounterVec
	regFailures   *prometheus.CounterVec
	pinErrors     prometheus.Counter
	active        prometheus.Gauge
	capacity      prometheus.Gauge
	publishDrops  prometheus.Counter
	updateLatency prometheus.Histogram
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		fired: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fires_total",
			Help:      "Timer firings by slot kind.",
		}, []string{"kind"}),
		retired: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retirements_total",
			Help:      "Slots freed because their repeat count ran out.",
		}, []string{"kind"}),
		regFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registration_failures_total",
			Help:      "Registrations rejected because no slot was free.",
		}, []string{"job_kind"}),
		pinErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pin_write_errors_total",
			Help:      "GPIO writes that failed.",
		}),
		active: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_slots",
			Help:      "Occupied scheduler slots.",
		}),
		capacity: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "capacity_slots",
			Help:      "Scheduler slot table size.",
		}),
		publishDrops: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_dropped_total",
			Help:      "Timer events not sent to MQTT because of rate limiting.",
		}),
		updateLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "update_duration_seconds",
			Help:      "Time spent in one scheduler update pass.",
			Buckets:   []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05},
		}),
	}
}

// Fired counts one firing of a slot.
func (m *Metrics) Fired(kind timer.Kind) {
	m.fired.WithLabelValues(kind.String()).Inc()
}

// Retired counts a slot that exhausted its repeat count.
func (m *Metrics) Retired(kind timer.Kind) {
	m.retired.WithLabelValues(kind.String()).Inc()
}

// RegistrationFailed counts a job that found no free slot.
func (m *Metrics) RegistrationFailed(jobKind string) {
	m.regFailures.WithLabelValues(jobKind).Inc()
}

// PinWriteFailed counts a failed GPIO write.
func (m *Metrics) PinWriteFailed() {
	m.pinErrors.Inc()
}

// PublishDropped counts a rate-limited MQTT event.
func (m *Metrics) PublishDropped() {
	m.publishDrops.Inc()
}

// SetSlots records table occupancy.
func (m *Metrics) SetSlots(active, capacity int) {
	m.active.Set(float64(active))
	m.capacity.Set(float64(capacity))
}

// ObserveUpdate records the duration of one update pass in seconds.
func (m *Metrics) ObserveUpdate(seconds float64) {
	m.updateLatency.Observe(seconds)
}
