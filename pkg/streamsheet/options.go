package streamsheet

import (
	"io"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/ukaji3/streamsheet-go/pkg/streamsheet/metrics"
)

const tracerName = "github.com/ukaji3/streamsheet-go/pkg/streamsheet"

// Option configures a single export.
type Option func(*options)

type options struct {
	log      *logrus.Entry
	progress func(Progress)
	metrics  metrics.Recorder
	tracer   trace.Tracer
}

func newOptions(opts []Option) *options {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		o.log = logrus.NewEntry(l)
	}
	if o.metrics == nil {
		o.metrics = metrics.Noop{}
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer(tracerName)
	}
	return o
}

// WithLogger sets the logger. Exports are silent by default.
func WithLogger(log *logrus.Entry) Option {
	return func(o *options) { o.log = log }
}

// WithProgress registers a listener called synchronously on the exporting
// goroutine for every phase change and flushed batch.
func WithProgress(fn func(Progress)) Option {
	return func(o *options) { o.progress = fn }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(r metrics.Recorder) Option {
	return func(o *options) { o.metrics = r }
}

// WithTracer sets the tracer used for the export span. The global tracer
// provider is used by default.
func WithTracer(t trace.Tracer) Option {
	return func(o *options) { o.tracer = t }
}

func (o *options) report(phase Phase, rows, batches int64) {
	if o.progress != nil {
		o.progress(Progress{Phase: phase, RowsWritten: rows, BatchesFlushed: batches})
	}
}
