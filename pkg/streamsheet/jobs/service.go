package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/alitto/pond/v2"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ukaji3/streamsheet-go/pkg/streamsheet"
	"github.com/ukaji3/streamsheet-go/pkg/streamsheet/metrics"
	"github.com/ukaji3/streamsheet-go/pkg/streamsheet/schema"
	"github.com/ukaji3/streamsheet-go/pkg/streamsheet/sink"
	"github.com/ukaji3/streamsheet-go/pkg/streamsheet/storage"
)

const tracerName = "github.com/ukaji3/streamsheet-go/pkg/streamsheet/jobs"

// ErrStopped is returned by Submit after Stop.
var ErrStopped = errors.New("jobs: service stopped")

// ExportFunc performs one export into sink, passing opts on to the export
// session so the service can observe progress.
type ExportFunc func(ctx context.Context, sink streamsheet.Sink, opts ...streamsheet.Option) (*streamsheet.Result, error)

// Config sizes the worker pool.
type Config struct {
	Workers   int    `json:"workers" yaml:"workers" mapstructure:"workers"`
	QueueSize int    `json:"queue_size" yaml:"queue_size" mapstructure:"queue_size"`
	TempDir   string `json:"temp_dir" yaml:"temp_dir" mapstructure:"temp_dir"`
}

// DefaultConfig returns four workers and a queue of one hundred jobs.
func DefaultConfig() Config {
	return Config{Workers: 4, QueueSize: 100}
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets the logger.
func WithLogger(log *logrus.Entry) ServiceOption {
	return func(s *Service) { s.log = log }
}

// WithTracer sets the tracer for job spans.
func WithTracer(t trace.Tracer) ServiceOption {
	return func(s *Service) { s.tracer = t }
}

// WithMetrics sets the recorder handed to every export.
func WithMetrics(r metrics.Recorder) ServiceOption {
	return func(s *Service) { s.metrics = r }
}

// Service runs exports on a worker pool. Each job writes its workbook to a
// temporary file, uploads it to storage and records the outcome in the
// store.
type Service struct {
	store   Store
	storage storage.FileStorage
	cfg     Config
	pool    pond.Pool
	log     *logrus.Entry
	tracer  trace.Tracer
	metrics metrics.Recorder

	lifecycle sync.RWMutex
	stopped   bool

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

// NewService creates a service and starts its pool.
func NewService(store Store, fs storage.FileStorage, cfg Config, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("jobs: store is nil")
	}
	if fs == nil {
		return nil, errors.New("jobs: file storage is nil")
	}
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	s := &Service{
		store:   store,
		storage: fs,
		cfg:     cfg,
		running: make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		s.log = logrus.NewEntry(l)
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer(tracerName)
	}
	if s.metrics == nil {
		s.metrics = metrics.Noop{}
	}
	s.pool = pond.NewPool(cfg.Workers, pond.WithQueueSize(cfg.QueueSize))
	return s, nil
}

// Submit registers a job and queues fn. The job outlives ctx; use Cancel to
// stop it. name prefixes the stored file name.
func (s *Service) Submit(ctx context.Context, name string, fn ExportFunc) (string, error) {
	s.lifecycle.RLock()
	defer s.lifecycle.RUnlock()
	if s.stopped {
		return "", ErrStopped
	}

	job, err := s.store.Create(ctx)
	if err != nil {
		return "", err
	}
	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.mu.Lock()
	s.running[job.ID] = cancel
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{"job_id": job.ID, "name": name}).Info("export job submitted")
	s.pool.Submit(func() {
		defer s.release(job.ID)
		s.run(jobCtx, job.ID, name, fn, cancel)
	})
	return job.ID, nil
}

// Get returns the current state of a job.
func (s *Service) Get(ctx context.Context, id string) (*Job, error) {
	return s.store.Get(ctx, id)
}

// Cancel requests cancellation of a job. A job queued or running in this
// service stops at its next record; other workers sharing the store see
// the request at their next flush.
func (s *Service) Cancel(ctx context.Context, id string) error {
	if err := s.store.RequestCancel(ctx, id); err != nil {
		return err
	}
	s.mu.Lock()
	cancel, ok := s.running[id]
	s.mu.Unlock()
	if ok {
		cancel()
	}
	s.log.WithField("job_id", id).Info("export job cancel requested")
	return nil
}

// Stop rejects new jobs and waits for queued and running ones.
func (s *Service) Stop() {
	s.lifecycle.Lock()
	s.stopped = true
	s.lifecycle.Unlock()
	s.pool.StopAndWait()
}

func (s *Service) release(id string) {
	s.mu.Lock()
	cancel := s.running[id]
	delete(s.running, id)
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *Service) run(ctx context.Context, id, name string, fn ExportFunc, cancel context.CancelFunc) {
	ctx, span := s.tracer.Start(ctx, "streamsheet.export.job", trace.WithAttributes(
		attribute.String("streamsheet.job_id", id),
	))
	defer span.End()
	log := s.log.WithField("job_id", id)
	// State updates must land even after the job context is cancelled.
	sctx := context.WithoutCancel(ctx)

	if requested, err := s.store.CancelRequested(sctx, id); err == nil && requested {
		s.finish(sctx, log, id, StatusCancelled, "", "")
		span.SetStatus(codes.Error, "cancelled")
		return
	}
	if err := s.store.UpdateStatus(sctx, id, StatusProcessing, "", ""); err != nil {
		log.WithError(err).Error("failed to mark job processing")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	log.Info("export job started")

	uri, err := s.export(ctx, sctx, log, id, name, fn, cancel)
	var cancelled *streamsheet.CancelledError
	switch {
	case err == nil:
		s.finish(sctx, log, id, StatusCompleted, uri, "")
		span.SetStatus(codes.Ok, "")
	case errors.As(err, &cancelled) || errors.Is(err, context.Canceled):
		s.finish(sctx, log, id, StatusCancelled, "", "")
		span.SetStatus(codes.Error, "cancelled")
	default:
		s.finish(sctx, log, id, StatusFailed, "", err.Error())
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

func (s *Service) export(ctx, sctx context.Context, log *logrus.Entry, id, name string, fn ExportFunc, cancel context.CancelFunc) (string, error) {
	tmp, err := os.CreateTemp(s.cfg.TempDir, "streamsheet-"+id+"-*.xlsx")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	path := tmp.Name()
	tmp.Close()
	defer os.Remove(path)

	x, err := sink.NewXLSXFile(path)
	if err != nil {
		return "", err
	}

	progress := func(p streamsheet.Progress) {
		if p.Phase == streamsheet.PhaseStarting {
			return
		}
		if err := s.store.UpdateProgress(sctx, id, p.RowsWritten, p.BatchesFlushed); err != nil {
			log.WithError(err).Warn("failed to record job progress")
		}
		if p.Phase == streamsheet.PhaseFlushedBatch || p.Phase == streamsheet.PhaseWritingWorkbook {
			if requested, err := s.store.CancelRequested(sctx, id); err == nil && requested {
				cancel()
			}
		}
	}

	_, err = fn(ctx, x,
		streamsheet.WithLogger(log),
		streamsheet.WithTracer(s.tracer),
		streamsheet.WithMetrics(s.metrics),
		streamsheet.WithProgress(progress),
	)
	// Releases the workbook when fn returned before running an export.
	if ferr := x.Finalize(sctx); ferr != nil && !errors.Is(ferr, sink.ErrFinalized) && err == nil {
		err = ferr
	}
	if err != nil {
		return "", err
	}
	return s.upload(ctx, id, name, path)
}

func (s *Service) upload(ctx context.Context, id, name, path string) (string, error) {
	ctx, span := s.tracer.Start(ctx, "streamsheet.export.upload")
	defer span.End()

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open export: %w", err)
	}
	defer f.Close()

	uri, err := s.storage.Save(ctx, FileName(name, id), f, storage.ContentTypeXLSX)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("upload export: %w", err)
	}
	span.SetAttributes(attribute.String("streamsheet.result_uri", uri))
	return uri, nil
}

func (s *Service) finish(ctx context.Context, log *logrus.Entry, id string, status Status, uri, msg string) {
	if err := s.store.UpdateStatus(ctx, id, status, uri, msg); err != nil {
		log.WithError(err).Error("failed to record job outcome")
		return
	}
	entry := log.WithField("status", status)
	switch status {
	case StatusCompleted:
		entry.WithField("uri", uri).Info("export job completed")
	case StatusCancelled:
		entry.Warn("export job cancelled")
	default:
		entry.WithField("error", msg).Error("export job failed")
	}
}

// FileName is the storage name of a job's workbook.
func FileName(name, id string) string {
	return strings.ReplaceAll(schema.SafeSheetName(name), " ", "_") + "-" + id + ".xlsx"
}
