// Package metrics exposes Prometheus metrics for the reconciliation
// pipeline and its write paths. A nil *Manager is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Option applies a configuration option to the Manager.
type Option func(*Manager)

// WithNamespace sets the namespace for all metrics.
func WithNamespace(namespace string) Option {
	return func(m *Manager) {
		if namespace != "" {
			m.namespace = namespace
		}
	}
}

// WithHistogramBuckets sets the buckets of the recompute histogram.
func WithHistogramBuckets(buckets []float64) Option {
	return func(m *Manager) {
		if len(buckets) > 0 {
			m.buckets = buckets
		}
	}
}

// WithRegistry sets the registry metrics are registered on and served from.
func WithRegistry(registry *prometheus.Registry) Option {
	return func(m *Manager) {
		if registry != nil {
			m.registry = registry
		}
	}
}

// WithProcessCollectors adds the Go runtime and process collectors.
func WithProcessCollectors() Option {
	return func(m *Manager) {
		m.process = true
	}
}

// Manager owns all metrics of one process.
type Manager struct {
	namespace string
	buckets   []float64
	registry  *prometheus.Registry
	process   bool

	recomputeDuration prometheus.Histogram
	occurrences       prometheus.Gauge
	rawEvents         *prometheus.GaugeVec
	collisions        prometheus.Counter
	truncatedSeries   prometheus.Gauge

	deletes  *prometheus.CounterVec
	imported *prometheus.CounterVec
	ingested *prometheus.CounterVec
}

// NewManager creates a Manager. Without WithRegistry it uses a fresh
// registry rather than the global default.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace: "appdate",
		buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.registry == nil {
		m.registry = prometheus.NewRegistry()
	}
	if m.process {
		m.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) initializeMetrics() {
	auto := promauto.With(m.registry)

	m.recomputeDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: "pipeline",
		Name:      "recompute_duration_seconds",
		Help:      "Time spent expanding, reconciling and filtering after a snapshot",
		Buckets:   m.buckets,
	})
	m.occurrences = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: "pipeline",
		Name:      "occurrences",
		Help:      "Size of the canonical occurrence set",
	})
	m.rawEvents = auto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: "pipeline",
		Name:      "raw_events",
		Help:      "Raw events in the latest snapshot per collection",
	}, []string{"collection"})
	m.collisions = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "pipeline",
		Name:      "collisions_total",
		Help:      "Occurrences replaced by a later one with the same date and title",
	})
	m.truncatedSeries = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: "pipeline",
		Name:      "truncated_series",
		Help:      "Series that hit the expansion step cap in the latest recompute",
	})

	m.deletes = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "store",
		Name:      "batch_deletes_total",
		Help:      "Ids sent in batched deletes by outcome",
	}, []string{"outcome"})
	m.imported = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "interchange",
		Name:      "records_total",
		Help:      "Records handled by import and restore by kind and outcome",
	}, []string{"kind", "outcome"})
	m.ingested = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "ingest",
		Name:      "payloads_total",
		Help:      "Synced payloads by outcome",
	}, []string{"outcome"})
}

// Recompute describes one pipeline run.
type Recompute struct {
	Duration    time.Duration
	Manual      int
	Synced      int
	Occurrences int
	Collisions  int
	Truncated   int
}

func (m *Manager) ObserveRecompute(r Recompute) {
	if m == nil {
		return
	}
	m.recomputeDuration.Observe(r.Duration.Seconds())
	m.occurrences.Set(float64(r.Occurrences))
	m.rawEvents.WithLabelValues("manual").Set(float64(r.Manual))
	m.rawEvents.WithLabelValues("synced").Set(float64(r.Synced))
	m.collisions.Add(float64(r.Collisions))
	m.truncatedSeries.Set(float64(r.Truncated))
}

func (m *Manager) AddDeleted(succeeded, failed int) {
	if m == nil {
		return
	}
	m.deletes.WithLabelValues("succeeded").Add(float64(succeeded))
	m.deletes.WithLabelValues("failed").Add(float64(failed))
}

// AddImported counts records of kind ("ics" or "backup").
func (m *Manager) AddImported(kind string, inserted, dropped, skipped int) {
	if m == nil {
		return
	}
	m.imported.WithLabelValues(kind, "inserted").Add(float64(inserted))
	m.imported.WithLabelValues(kind, "dropped").Add(float64(dropped))
	m.imported.WithLabelValues(kind, "skipped").Add(float64(skipped))
}

func (m *Manager) IncIngest(outcome string) {
	if m == nil {
		return
	}
	m.ingested.WithLabelValues(outcome).Inc()
}

// Registry returns the registry metrics are registered on.
func (m *Manager) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Manager) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
