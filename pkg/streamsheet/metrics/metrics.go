// Package metrics records export counters and durations.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder receives export measurements. Implementations must be safe for
// concurrent use since several sessions may share one recorder.
type Recorder interface {
	// ObserveExport records the wall time of a finished export.
	ObserveExport(d time.Duration, success bool)
	// AddRows adds n rows handed to a sink.
	AddRows(n int)
	// AddBatches adds n flushed batches.
	AddBatches(n int)
}

// Noop discards every measurement.
type Noop struct{}

func (Noop) ObserveExport(time.Duration, bool) {}
func (Noop) AddRows(int)                       {}
func (Noop) AddBatches(int)                    {}

// Outcome label values.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// DefaultDurationBuckets covers exports from 10ms to 10 minutes.
var DefaultDurationBuckets = []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 180, 600}

// PrometheusConfig configures the Prometheus recorder.
type PrometheusConfig struct {
	Namespace string
	Subsystem string
	Buckets   []float64
}

// Prometheus is a Recorder backed by a Prometheus registry.
type Prometheus struct {
	registry *prometheus.Registry
	duration *prometheus.HistogramVec
	rows     prometheus.Counter
	batches  prometheus.Counter
}

// NewPrometheus registers the export metrics in registry. If registry is nil
// a fresh one is created.
func NewPrometheus(cfg PrometheusConfig, registry *prometheus.Registry) (*Prometheus, error) {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "streamsheet"
	}
	if len(cfg.Buckets) == 0 {
		cfg.Buckets = DefaultDurationBuckets
	}

	p := &Prometheus{
		registry: registry,
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "export_duration_seconds",
			Help:      "Duration of spreadsheet exports in seconds.",
			Buckets:   cfg.Buckets,
		}, []string{"outcome"}),
		rows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "rows_total",
			Help:      "Total number of rows written to sinks.",
		}),
		batches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "batches_total",
			Help:      "Total number of batches flushed to sinks.",
		}),
	}

	for _, c := range []prometheus.Collector{p.duration, p.rows, p.batches} {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Prometheus) ObserveExport(d time.Duration, success bool) {
	outcome := OutcomeSuccess
	if !success {
		outcome = OutcomeFailure
	}
	p.duration.WithLabelValues(outcome).Observe(d.Seconds())
}

func (p *Prometheus) AddRows(n int) {
	if n > 0 {
		p.rows.Add(float64(n))
	}
}

func (p *Prometheus) AddBatches(n int) {
	if n > 0 {
		p.batches.Add(float64(n))
	}
}

// Registry returns the underlying registry.
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

// Handler returns an HTTP handler exposing the registry.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}
