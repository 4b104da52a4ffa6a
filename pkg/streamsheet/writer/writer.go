// Package writer buffers encoded rows in a bounded window and flushes them
// to a sink in batches.
package writer

import (
	"context"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/ukaji3/streamsheet-go/pkg/streamsheet/models"
)

// Sink persists finished rows. It is the only boundary to bytes.
//
// AppendRows must not retain batch after it returns: the writer reuses the
// backing array. Calls are never concurrent.
type Sink interface {
	AppendRows(ctx context.Context, batch []models.Row) error
	Finalize(ctx context.Context) error
}

// State is a lifecycle state of the writer.
type State int

const (
	StateUnopened State = iota
	StateOpen
	StateAccumulating
	StateFlushing
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnopened:
		return "unopened"
	case StateOpen:
		return "open"
	case StateAccumulating:
		return "accumulating"
	case StateFlushing:
		return "flushing"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Config sizes the window.
type Config struct {
	// WindowSize is the maximum number of rows resident in memory.
	WindowSize int
	// BatchSize is the number of rows per flush. Values above WindowSize
	// are clamped to WindowSize.
	BatchSize int
}

// Threshold returns the effective flush threshold.
func (c Config) Threshold() int {
	return min(c.BatchSize, c.WindowSize)
}

// FlushEvent describes a completed flush.
type FlushEvent struct {
	// Rows is the size of the batch just written.
	Rows int
	// TotalRows is the number of rows flushed so far.
	TotalRows int64
	// Batches is the number of batches flushed so far.
	Batches int64
}

// Option configures a Writer.
type Option func(*Writer)

// WithLogger sets the logger used for flush diagnostics.
func WithLogger(log *logrus.Entry) Option {
	return func(w *Writer) {
		if log != nil {
			w.log = log
		}
	}
}

// WithFlushHook registers fn to run after every successful flush.
func WithFlushHook(fn func(FlushEvent)) Option {
	return func(w *Writer) { w.onFlush = fn }
}

// Writer holds at most Config.WindowSize rows and flushes them to a Sink in
// FIFO order. A Writer belongs to exactly one export and is not safe for
// concurrent use.
type Writer struct {
	cfg       Config
	threshold int
	sink      Sink
	state     State
	buf       []models.Row
	flushed   int64
	batches   int64
	highWater int
	released  bool
	onFlush   func(FlushEvent)
	log       *logrus.Entry
}

// New creates an unopened writer.
func New(cfg Config, opts ...Option) (*Writer, error) {
	if cfg.WindowSize <= 0 {
		return nil, fmt.Errorf("writer: window size must be positive, got %d", cfg.WindowSize)
	}
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("writer: batch size must be positive, got %d", cfg.BatchSize)
	}

	w := &Writer{
		cfg:       cfg,
		threshold: cfg.Threshold(),
		log:       discardLogger(),
	}
	for _, opt := range opts {
		opt(w)
	}
	if cfg.BatchSize > cfg.WindowSize {
		w.log.WithFields(logrus.Fields{
			"batch_size":  cfg.BatchSize,
			"window_size": cfg.WindowSize,
		}).Warn("flush batch size exceeds window size; clamping to window size")
	}
	w.buf = make([]models.Row, 0, w.threshold)
	return w, nil
}

// Open binds the writer to sink.
func (w *Writer) Open(ctx context.Context, sink Sink) error {
	if w.state != StateUnopened {
		return NewStateError("open", w.state)
	}
	if sink == nil {
		return ErrNilSink
	}
	w.sink = sink
	w.state = StateOpen
	return nil
}

// Append adds row to the window. When the window reaches the flush
// threshold the oldest threshold rows are written to the sink before Append
// returns.
func (w *Writer) Append(ctx context.Context, row models.Row) error {
	if w.state != StateOpen && w.state != StateAccumulating {
		return NewStateError("append", w.state)
	}
	w.state = StateAccumulating

	w.buf = append(w.buf, row)
	if len(w.buf) > w.highWater {
		w.highWater = len(w.buf)
	}

	if len(w.buf) >= w.threshold {
		return w.flushOldest(ctx, w.threshold, "append")
	}
	return nil
}

// Flush writes every buffered row to the sink. It is a no-op on an empty
// window.
func (w *Writer) Flush(ctx context.Context) error {
	if w.state != StateOpen && w.state != StateAccumulating {
		return NewStateError("flush", w.state)
	}
	if len(w.buf) == 0 {
		return nil
	}
	return w.flushOldest(ctx, len(w.buf), "flush")
}

// Close flushes remaining rows, finalizes the sink and moves to
// StateClosed. It must be called exactly once; a writer that already failed
// still finalizes its sink so resources are released.
func (w *Writer) Close(ctx context.Context) error {
	switch w.state {
	case StateOpen, StateAccumulating:
	case StateFailed:
		return w.release(ctx)
	default:
		return NewStateError("close", w.state)
	}

	if len(w.buf) > 0 {
		if err := w.flushOldest(ctx, len(w.buf), "close"); err != nil {
			if ferr := w.release(ctx); ferr != nil {
				w.log.WithError(ferr).Warn("sink finalize failed after flush error")
			}
			return err
		}
	}

	w.released = true
	if err := w.sink.Finalize(ctx); err != nil {
		w.state = StateFailed
		return NewFlushError("finalize", 0, err)
	}
	w.state = StateClosed
	w.log.WithFields(logrus.Fields{
		"rows":    w.flushed,
		"batches": w.batches,
	}).Debug("writer closed")
	return nil
}

// Discard drops buffered rows without writing them, finalizes the sink and
// moves to StateClosed. It is the cancellation counterpart of Close and is
// subject to the same call-once rule. It returns the number of rows dropped.
func (w *Writer) Discard(ctx context.Context) (int, error) {
	switch w.state {
	case StateOpen, StateAccumulating:
	case StateFailed:
		return 0, w.release(ctx)
	default:
		return 0, NewStateError("discard", w.state)
	}

	dropped := len(w.buf)
	w.clearBuffer()
	w.released = true
	if err := w.sink.Finalize(ctx); err != nil {
		w.state = StateFailed
		return dropped, NewFlushError("finalize", 0, err)
	}
	w.state = StateClosed
	if dropped > 0 {
		w.log.WithField("dropped", dropped).Debug("writer discarded buffered rows")
	}
	return dropped, nil
}

// State returns the current lifecycle state.
func (w *Writer) State() State { return w.state }

// Buffered returns the number of rows resident in the window.
func (w *Writer) Buffered() int { return len(w.buf) }

// HighWater returns the largest number of rows ever resident at once.
func (w *Writer) HighWater() int { return w.highWater }

// Flushed returns the number of rows handed to the sink.
func (w *Writer) Flushed() int64 { return w.flushed }

// Batches returns the number of successful sink writes.
func (w *Writer) Batches() int64 { return w.batches }

// Threshold returns the effective flush threshold.
func (w *Writer) Threshold() int { return w.threshold }

// flushOldest writes the n oldest rows. On sink failure every buffered row
// is counted as lost and the writer fails.
func (w *Writer) flushOldest(ctx context.Context, n int, op string) error {
	w.state = StateFlushing
	batch := w.buf[:n]

	if err := w.sink.AppendRows(ctx, batch); err != nil {
		lost := len(w.buf)
		w.clearBuffer()
		w.state = StateFailed
		w.log.WithError(err).WithFields(logrus.Fields{
			"op":   op,
			"lost": lost,
		}).Error("sink write failed")
		return NewFlushError(op, lost, err)
	}

	w.flushed += int64(n)
	w.batches++

	remaining := copy(w.buf, w.buf[n:])
	clear(w.buf[remaining:])
	w.buf = w.buf[:remaining]
	w.state = StateAccumulating

	w.log.WithFields(logrus.Fields{
		"op":    op,
		"rows":  n,
		"total": w.flushed,
	}).Debug("flushed batch")

	if w.onFlush != nil {
		w.onFlush(FlushEvent{Rows: n, TotalRows: w.flushed, Batches: w.batches})
	}
	return nil
}

// release finalizes the sink of a failed writer, once.
func (w *Writer) release(ctx context.Context) error {
	if w.released {
		return NewStateError("close", w.state)
	}
	w.released = true
	w.clearBuffer()
	if err := w.sink.Finalize(ctx); err != nil {
		return NewFlushError("finalize", 0, err)
	}
	return nil
}

func (w *Writer) clearBuffer() {
	clear(w.buf)
	w.buf = w.buf[:0]
}

func discardLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}
