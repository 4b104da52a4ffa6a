package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ukaji3/streamsheet-go/internal/config"
	"github.com/ukaji3/streamsheet-go/internal/logging"
	"github.com/ukaji3/streamsheet-go/pkg/streamsheet/metrics"
)

// app holds the state shared by all commands of one invocation.
type app struct {
	configPath string
	output     string
	sheet      string
	dryRun     bool
	upload     bool

	cfg      *config.Config
	log      *logrus.Entry
	recorder metrics.Recorder
	cleanup  []func()
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "streamsheet",
		Short: "Stream large record sets into XLSX workbooks",
		Long: `streamsheet-go exports records from SQL databases, MongoDB or a demo
generator into a single-sheet XLSX workbook, holding at most a bounded
window of rows in memory.`,
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "Config file (YAML)")
	pf.String("log-level", "", "Log level: debug, info, warn, error")
	pf.String("log-format", "", "Log format: text, json")
	pf.String("log-file", "", "Write logs to this file")
	pf.String("preset", "", "Export preset: default, high_performance, security_hardened, high_quality")
	pf.Int("window", 0, "Row access window size")
	pf.Int("flush-batch", 0, "Rows per sink write")
	pf.Bool("no-formula-guard", false, "Disable formula injection protection")
	pf.Int64("max-rows", 0, "Maximum data rows (0 for the format limit)")
	pf.String("on-error", "", "Failure policy: abort, skip, substitute_blank")
	pf.String("on-cancel", "", "Cancel policy: discard, flush")
	pf.String("metrics-addr", "", "Serve Prometheus metrics on this address")
	pf.String("storage", "", "Upload storage: local, s3")
	pf.String("storage-dir", "", "Directory for local storage")
	pf.StringVarP(&a.output, "output", "o", "export.xlsx", "Output workbook path")
	pf.StringVar(&a.sheet, "sheet", "", "Sheet name")
	pf.BoolVar(&a.dryRun, "dry-run", false, "Encode records without writing a workbook")
	pf.BoolVar(&a.upload, "upload", false, "Run as a background job and upload the workbook to storage")

	root.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		return a.setup(cmd)
	}

	root.AddCommand(
		newSQLCmd(a),
		newMongoCmd(a),
		newDemoCmd(a),
		newConfigCmd(a),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath, cmd.Flags())
	if err != nil {
		return err
	}
	a.cfg = cfg

	l, closeLog, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	a.cleanup = append(a.cleanup, func() { closeLog() })
	a.log = logrus.NewEntry(l)

	a.recorder = metrics.Noop{}
	if cfg.Metrics.Enabled {
		if err := a.serveMetrics(); err != nil {
			a.close()
			return err
		}
	}
	return nil
}

func (a *app) serveMetrics() error {
	p, err := metrics.NewPrometheus(metrics.PrometheusConfig{Namespace: a.cfg.Metrics.Namespace}, prometheus.NewRegistry())
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	a.recorder = p

	mux := http.NewServeMux()
	mux.Handle("/metrics", p.Handler())
	srv := &http.Server{Addr: a.cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.WithError(err).Error("metrics server stopped")
		}
	}()
	a.log.WithField("addr", a.cfg.Metrics.Addr).Info("serving metrics")
	a.cleanup = append(a.cleanup, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})
	return nil
}

// close runs cleanups in reverse order. Commands defer it; it is idempotent.
func (a *app) close() {
	for i := len(a.cleanup) - 1; i >= 0; i-- {
		a.cleanup[i]()
	}
	a.cleanup = nil
}
