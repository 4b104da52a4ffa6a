package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/ukaji3/streamsheet-go/pkg/streamsheet"
	"github.com/ukaji3/streamsheet-go/pkg/streamsheet/jobs"
	"github.com/ukaji3/streamsheet-go/pkg/streamsheet/schema"
	"github.com/ukaji3/streamsheet-go/pkg/streamsheet/sink"
	"github.com/ukaji3/streamsheet-go/pkg/streamsheet/storage"
)

// export writes records through s to the destination chosen by flags.
func export[T any](ctx context.Context, a *app, cmd *cobra.Command, s *schema.Schema[T], records iter.Seq2[T, error]) error {
	exporter, err := streamsheet.NewExporterFromSchema(s, a.cfg.Export,
		streamsheet.WithLogger(a.log),
		streamsheet.WithMetrics(a.recorder),
	)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	switch {
	case a.dryRun:
		d := &sink.Discard{}
		res, err := exporter.Export(ctx, records, d)
		if err != nil {
			return err
		}
		printResult(out, res, "(dry run)")
		return nil

	case a.upload:
		return a.exportJob(ctx, out, s.SheetName(), func(ctx context.Context, snk streamsheet.Sink, opts ...streamsheet.Option) (*streamsheet.Result, error) {
			return exporter.Export(ctx, records, snk, opts...)
		})
	}

	x, err := sink.NewXLSXFile(a.output)
	if err != nil {
		return err
	}
	res, err := exporter.Export(ctx, records, x)
	if err != nil {
		return err
	}
	printResult(out, res, a.output)
	return nil
}

func printResult(w io.Writer, res *streamsheet.Result, dest string) {
	fmt.Fprintf(w, "wrote %d rows in %d batches to %s (%s)\n", res.RowsWritten, res.Batches, dest, res.Duration.Round(time.Millisecond))
	if res.RowsSkipped > 0 || res.RowsSubstituted > 0 {
		fmt.Fprintf(w, "skipped %d, substituted %d records\n", res.RowsSkipped, res.RowsSubstituted)
	}
	if res.Truncated {
		fmt.Fprintln(w, "row limit reached, output truncated")
	}
}

// exportJob runs fn as a background job and waits for it.
func (a *app) exportJob(ctx context.Context, w io.Writer, name string, fn jobs.ExportFunc) error {
	fs, err := a.fileStorage(ctx)
	if err != nil {
		return err
	}
	store, err := a.jobStore(ctx)
	if err != nil {
		return err
	}
	svc, err := jobs.NewService(store, fs, a.cfg.Jobs.Config,
		jobs.WithLogger(a.log),
		jobs.WithMetrics(a.recorder),
	)
	if err != nil {
		return err
	}

	id, err := svc.Submit(ctx, name, fn)
	if err != nil {
		svc.Stop()
		return err
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			if err := svc.Cancel(context.WithoutCancel(ctx), id); err != nil {
				a.log.WithError(err).Warn("cancel job")
			}
		case <-done:
		}
	}()
	svc.Stop()
	close(done)

	job, err := svc.Get(context.WithoutCancel(ctx), id)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "job %s %s: %d rows in %d batches\n", job.ID, job.Status, job.RowsWritten, job.BatchesFlushed)
	switch job.Status {
	case jobs.StatusCompleted:
		fmt.Fprintln(w, job.ResultURI)
		return nil
	case jobs.StatusCancelled:
		return context.Canceled
	}
	return errors.New(job.ErrorMessage)
}

func (a *app) fileStorage(ctx context.Context) (storage.FileStorage, error) {
	var (
		fs  storage.FileStorage
		err error
	)
	switch a.cfg.Storage.Type {
	case "s3":
		fs, err = storage.NewS3(ctx, a.cfg.Storage.S3, a.log)
	default:
		fs, err = storage.NewLocal(a.cfg.Storage.Dir, a.log)
	}
	if err != nil {
		return nil, err
	}
	return storage.NewRetrying(fs, a.cfg.Storage.Retry, a.log), nil
}

func (a *app) jobStore(ctx context.Context) (jobs.Store, error) {
	jc := a.cfg.Jobs
	if jc.Store != "redis" {
		return jobs.NewMemoryStore(jobs.MemoryStoreConfig{Retention: jc.Retention})
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     jc.Redis.Addr,
		Password: jc.Redis.Password,
		DB:       jc.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis connect error: %w", err)
	}
	a.cleanup = append(a.cleanup, func() { rdb.Close() })
	return jobs.NewRedisStore(rdb, jc.KeyPrefix, jc.Retention), nil
}
