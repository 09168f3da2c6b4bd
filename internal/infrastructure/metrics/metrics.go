// Package metrics exposes fleetlink's Prometheus collectors.
//
// Every collector lives on a private registry so tests and multiple
// sessions in one process never collide on the default registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fleetlink"

// Metrics holds the collectors updated by the session.
type Metrics struct {
	registry *prometheus.Registry

	MessagesReceived *prometheus.CounterVec
	MessagesDropped  *prometheus.CounterVec
	SeriesPoints     prometheus.Counter
	SeriesEvicted    prometheus.Counter
	Devices          *prometheus.GaugeVec
	Transitions      *prometheus.CounterVec
	Commands         *prometheus.CounterVec
	CommandLatency   *prometheus.HistogramVec
	CommandsInFlight prometheus.Gauge
	Notifications    *prometheus.CounterVec
	Batches          prometheus.Counter
	StorageErrors    *prometheus.CounterVec
}

// New creates the collectors and registers them, with the Go runtime and
// process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		MessagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messages",
			Name:      "received_total",
			Help:      "Inbound messages accepted, by topic kind",
		}, []string{"kind"}),

		MessagesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messages",
			Name:      "dropped_total",
			Help:      "Inbound messages ignored, by reason",
		}, []string{"reason"}),

		SeriesPoints: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "series",
			Name:      "points_total",
			Help:      "Telemetry points appended to the series store",
		}),

		SeriesEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "series",
			Name:      "evicted_total",
			Help:      "Points evicted by capacity or age",
		}),

		Devices: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "devices",
			Name:      "count",
			Help:      "Known devices by liveness",
		}, []string{"liveness"}),

		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "devices",
			Name:      "transitions_total",
			Help:      "Liveness transitions by target state",
		}, []string{"to"}),

		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "commands",
			Name:      "completed_total",
			Help:      "Commands reaching a terminal state, by status",
		}, []string{"status"}),

		CommandLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "commands",
			Name:      "duration_seconds",
			Help:      "Time from send to terminal state",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2, 5, 10},
		}, []string{"status"}),

		CommandsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "commands",
			Name:      "in_flight",
			Help:      "Commands staged or awaiting acknowledgement",
		}),

		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "total",
			Help:      "Notifications recorded, by level",
		}, []string{"level"}),

		Batches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "batches_total",
			Help:      "Change batches delivered to subscribers",
		}),

		StorageErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "errors_total",
			Help:      "Collaborator storage failures, by backend",
		}, []string{"backend"}),
	}

	m.registry.MustRegister(
		m.MessagesReceived,
		m.MessagesDropped,
		m.SeriesPoints,
		m.SeriesEvicted,
		m.Devices,
		m.Transitions,
		m.Commands,
		m.CommandLatency,
		m.CommandsInFlight,
		m.Notifications,
		m.Batches,
		m.StorageErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// SchedulerStats is read on every scrape.
type SchedulerStats func() (flushes, callbacks, panics uint64)

// WatchScheduler registers counters backed by the scheduler's own totals.
func (m *Metrics) WatchScheduler(stats SchedulerStats) {
	counter := func(name, help string, pick func(f, c, p uint64) uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      name,
			Help:      help,
		}, func() float64 {
			return float64(pick(stats()))
		})
	}
	m.registry.MustRegister(
		counter("flushes_total", "Scheduler flushes that ran at least one callback",
			func(f, _, _ uint64) uint64 { return f }),
		counter("callbacks_total", "Scheduled callbacks executed",
			func(_, c, _ uint64) uint64 { return c }),
		counter("panics_total", "Scheduled callbacks that panicked",
			func(_, _, p uint64) uint64 { return p }),
	)
}

// ObserveCommand records one terminal command.
func (m *Metrics) ObserveCommand(status string, started, completed time.Time) {
	m.Commands.WithLabelValues(status).Inc()
	if !started.IsZero() && !completed.Before(started) {
		m.CommandLatency.WithLabelValues(status).Observe(completed.Sub(started).Seconds())
	}
}

// SetDevices replaces the per-liveness device gauges.
func (m *Metrics) SetDevices(byLiveness map[string]int) {
	for liveness, n := range byLiveness {
		m.Devices.WithLabelValues(liveness).Set(float64(n))
	}
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
