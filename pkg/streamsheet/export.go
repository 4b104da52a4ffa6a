package streamsheet

import (
	"context"
	"errors"
	"iter"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ukaji3/streamsheet-go/pkg/streamsheet/encoder"
	"github.com/ukaji3/streamsheet-go/pkg/streamsheet/models"
	"github.com/ukaji3/streamsheet-go/pkg/streamsheet/schema"
	"github.com/ukaji3/streamsheet-go/pkg/streamsheet/writer"
)

// MaxRecordedErrors bounds Result.Errors. Further failures are still counted.
const MaxRecordedErrors = 100

// Sink persists rows. See writer.Sink.
type Sink = writer.Sink

// HeaderWriter is implemented by sinks that render a header row. It is
// called once, after the sink is opened and before any data row.
type HeaderWriter interface {
	WriteHeader(ctx context.Context, headers []string) error
}

// LayoutApplier is implemented by sinks that use column widths, formats and
// the sheet name. It is called once, before WriteHeader.
type LayoutApplier interface {
	ApplyLayout(ctx context.Context, layout models.SheetLayout) error
}

// Result summarizes an export.
type Result struct {
	// RowsWritten counts data rows that reached the sink.
	RowsWritten int64
	// RowsSkipped counts records dropped under PolicySkip.
	RowsSkipped int64
	// RowsSubstituted counts blank rows written under PolicySubstituteBlank.
	RowsSubstituted int64
	// Batches counts sink writes.
	Batches int64
	// Truncated is set when records remained after the row limit.
	Truncated bool
	Duration  time.Duration
	// Errors holds up to MaxRecordedErrors encoding failures that the
	// failure policy tolerated, in input order.
	Errors []*RowEncodingError
	// ErrorsTruncated is set when more failures were tolerated than Errors
	// holds. RowsSkipped plus RowsSubstituted gives the full count.
	ErrorsTruncated bool
}

// Run exports records to sink. Records are encoded and appended in order;
// the sink is finalized exactly once whatever the outcome. A Result is only
// returned for a completed export; partial counts of a cancelled export are
// carried by CancelledError.
func Run[T any](ctx context.Context, records iter.Seq2[T, error], s *schema.Schema[T], cfg Config, sink Sink, opts ...Option) (*Result, error) {
	if s == nil {
		return nil, errors.New("streamsheet: schema is nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sink == nil {
		return nil, writer.ErrNilSink
	}

	o := newOptions(opts)
	log := o.log.WithFields(logrus.Fields{
		"sheet":  s.SheetName(),
		"record": s.TypeName(),
	})

	ctx, span := o.tracer.Start(ctx, "streamsheet.export", trace.WithAttributes(
		attribute.String("streamsheet.sheet", s.SheetName()),
		attribute.Int("streamsheet.columns", s.Len()),
		attribute.Int("streamsheet.window_size", cfg.RowAccessWindowSize),
		attribute.Int("streamsheet.flush_batch_size", cfg.EffectiveFlushBatchSize()),
	))
	defer span.End()

	sess := &session[T]{
		cfg:    cfg,
		schema: s,
		enc:    encoder.New(s, cfg.PreventFormulaInjection),
		opts:   o,
		log:    log,
		result: &Result{},
	}

	start := time.Now()
	phase, err := sess.run(ctx, records, sink)
	res := sess.result
	res.Duration = time.Since(start)

	o.metrics.ObserveExport(res.Duration, err == nil)
	o.report(phase, res.RowsWritten, res.Batches)

	span.SetAttributes(
		attribute.Int64("streamsheet.rows_written", res.RowsWritten),
		attribute.Int64("streamsheet.batches", res.Batches),
		attribute.Bool("streamsheet.truncated", res.Truncated),
	)

	fields := logrus.Fields{
		"rows":     res.RowsWritten,
		"batches":  res.Batches,
		"skipped":  res.RowsSkipped,
		"duration": res.Duration,
	}
	switch phase {
	case PhaseCompleted:
		span.SetStatus(codes.Ok, "")
		log.WithFields(fields).Info("export completed")
	case PhaseCancelled:
		span.RecordError(err)
		span.SetStatus(codes.Error, "cancelled")
		log.WithFields(fields).Warn("export cancelled")
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.WithFields(fields).WithError(err).Error("export failed")
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

type session[T any] struct {
	cfg    Config
	schema *schema.Schema[T]
	enc    *encoder.Encoder[T]
	opts   *options
	log    *logrus.Entry
	w      *writer.Writer
	result *Result
}

func (s *session[T]) run(ctx context.Context, records iter.Seq2[T, error], sink Sink) (Phase, error) {
	w, err := writer.New(s.cfg.writerConfig(),
		writer.WithLogger(s.log),
		writer.WithFlushHook(s.onFlush),
	)
	if err != nil {
		return PhaseFailed, err
	}
	if err := w.Open(ctx, sink); err != nil {
		return PhaseFailed, err
	}
	s.w = w

	s.log.WithFields(logrus.Fields{
		"window_size":      s.cfg.RowAccessWindowSize,
		"flush_batch_size": w.Threshold(),
		"failure_policy":   s.cfg.failurePolicy(),
	}).Debug("export started")
	s.opts.report(PhaseStarting, 0, 0)

	if err := s.prepare(ctx, sink); err != nil {
		return PhaseFailed, s.fail(ctx, err)
	}

	limit := s.cfg.RowLimit()
	var position, emitted int64
	for record, err := range records {
		if ctx.Err() != nil {
			return PhaseCancelled, s.cancel(ctx)
		}
		if err != nil {
			if ctx.Err() != nil {
				return PhaseCancelled, s.cancel(ctx)
			}
			return PhaseFailed, s.fail(ctx, NewSourceError(position, err))
		}
		if emitted >= limit {
			s.result.Truncated = true
			s.log.WithField("limit", limit).Warn("row limit reached, remaining records ignored")
			break
		}

		row, err := s.enc.Encode(position, record)
		position++
		if err != nil {
			var rerr *RowEncodingError
			if !errors.As(err, &rerr) {
				return PhaseFailed, s.fail(ctx, err)
			}
			switch s.cfg.failurePolicy() {
			case PolicySkip:
				s.tolerate(rerr)
				s.result.RowsSkipped++
				continue
			case PolicySubstituteBlank:
				s.tolerate(rerr)
				s.result.RowsSubstituted++
				row = s.enc.BlankRow()
			default:
				return PhaseFailed, s.fail(ctx, rerr)
			}
		}

		if err := w.Append(ctx, row); err != nil {
			return PhaseFailed, s.fail(ctx, err)
		}
		emitted++
	}

	// A source that stops early on cancellation ends the sequence cleanly.
	if ctx.Err() != nil {
		return PhaseCancelled, s.cancel(ctx)
	}

	s.opts.report(PhaseWritingWorkbook, w.Flushed(), w.Batches())
	err = w.Close(ctx)
	s.sync()
	if err != nil {
		return PhaseFailed, err
	}
	return PhaseCompleted, nil
}

// prepare hands layout and header to sinks that want them.
func (s *session[T]) prepare(ctx context.Context, sink Sink) error {
	if la, ok := sink.(LayoutApplier); ok {
		if err := la.ApplyLayout(ctx, s.schema.Layout()); err != nil {
			return writer.NewFlushError("layout", 0, err)
		}
	}
	if hw, ok := sink.(HeaderWriter); ok {
		if err := hw.WriteHeader(ctx, s.enc.Headers()); err != nil {
			return writer.NewFlushError("header", 0, err)
		}
	}
	return nil
}

func (s *session[T]) onFlush(e writer.FlushEvent) {
	s.result.Batches = e.Batches
	s.result.RowsWritten = e.TotalRows
	s.opts.metrics.AddRows(e.Rows)
	s.opts.metrics.AddBatches(1)
	s.opts.report(PhaseFlushedBatch, e.TotalRows, e.Batches)
}

func (s *session[T]) tolerate(err *RowEncodingError) {
	s.log.WithError(err).WithField("policy", s.cfg.failurePolicy()).Warn("record could not be encoded")
	if len(s.result.Errors) < MaxRecordedErrors {
		s.result.Errors = append(s.result.Errors, err)
	} else {
		s.result.ErrorsTruncated = true
	}
}

// fail closes the writer after cause. A close error is joined to cause so
// rows lost by the final flush are reported.
func (s *session[T]) fail(ctx context.Context, cause error) error {
	err := s.w.Close(context.WithoutCancel(ctx))
	s.sync()
	if err != nil {
		s.log.WithError(err).Warn("closing sink after failure")
		return errors.Join(cause, err)
	}
	return cause
}

// cancel ends the export according to the cancel policy. Rows lost by a
// failed final flush count as dropped, and the close error is joined.
func (s *session[T]) cancel(ctx context.Context) error {
	cctx := context.WithoutCancel(ctx)
	var (
		dropped int
		err     error
	)
	if s.cfg.cancelPolicy() == CancelFlush {
		err = s.w.Close(cctx)
	} else {
		dropped, err = s.w.Discard(cctx)
	}
	s.sync()
	if err == nil {
		return NewCancelledError(s.result.RowsWritten, dropped, ctx.Err())
	}
	s.log.WithError(err).Warn("closing sink after cancellation")
	var ferr *FlushError
	if errors.As(err, &ferr) {
		dropped += ferr.Lost
	}
	return errors.Join(NewCancelledError(s.result.RowsWritten, dropped, ctx.Err()), err)
}

func (s *session[T]) sync() {
	s.result.RowsWritten = s.w.Flushed()
	s.result.Batches = s.w.Batches()
}

// Exporter runs repeated exports of one record type with a fixed schema,
// configuration and options.
type Exporter[T any] struct {
	schema *schema.Schema[T]
	cfg    Config
	opts   []Option
}

// NewExporter resolves d and validates cfg. Nothing is written until Export.
func NewExporter[T any](d schema.Descriptor[T], cfg Config, opts ...Option) (*Exporter[T], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s, err := schema.Resolve(d)
	if err != nil {
		return nil, err
	}
	return &Exporter[T]{schema: s, cfg: cfg, opts: opts}, nil
}

// NewExporterFromSchema wraps an already resolved schema.
func NewExporterFromSchema[T any](s *schema.Schema[T], cfg Config, opts ...Option) (*Exporter[T], error) {
	if s == nil {
		return nil, errors.New("streamsheet: schema is nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Exporter[T]{schema: s, cfg: cfg, opts: opts}, nil
}

// Schema returns the resolved schema.
func (e *Exporter[T]) Schema() *schema.Schema[T] { return e.schema }

// Config returns the export configuration.
func (e *Exporter[T]) Config() Config { return e.cfg }

// Export runs one export. opts are applied after the exporter's own.
func (e *Exporter[T]) Export(ctx context.Context, records iter.Seq2[T, error], sink Sink, opts ...Option) (*Result, error) {
	all := make([]Option, 0, len(e.opts)+len(opts))
	all = append(all, e.opts...)
	all = append(all, opts...)
	return Run(ctx, records, e.schema, e.cfg, sink, all...)
}

// RecordSource produces records lazily.
type RecordSource[T any] interface {
	Records(ctx context.Context) iter.Seq2[T, error]
}

// ExportSource exports every record of src.
func (e *Exporter[T]) ExportSource(ctx context.Context, src RecordSource[T], sink Sink, opts ...Option) (*Result, error) {
	return e.Export(ctx, src.Records(ctx), sink, opts...)
}

// ExportSlice exports items.
func (e *Exporter[T]) ExportSlice(ctx context.Context, items []T, sink Sink, opts ...Option) (*Result, error) {
	return e.Export(ctx, Records(items), sink, opts...)
}

// Records adapts a slice to a record sequence.
func Records[T any](items []T) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for _, item := range items {
			if !yield(item, nil) {
				return
			}
		}
	}
}
