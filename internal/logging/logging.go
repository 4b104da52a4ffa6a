// Package logging builds the logrus logger used by the CLI.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// Config selects level, format and destination.
type Config struct {
	// Level is a logrus level name such as "debug" or "warn".
	Level string `json:"level" yaml:"level" mapstructure:"level"`
	// Format is "text" or "json".
	Format string `json:"format" yaml:"format" mapstructure:"format"`
	// Output is "stderr", "stdout" or "file".
	Output string `json:"output" yaml:"output" mapstructure:"output"`
	// File is the log file path when Output is "file".
	File string `json:"file,omitempty" yaml:"file,omitempty" mapstructure:"file"`
}

// DefaultConfig logs text at info level to stderr.
func DefaultConfig() Config {
	return Config{Level: "info", Format: "text", Output: "stderr"}
}

// New builds a logger from cfg. The returned close function releases the
// log file, if any.
func New(cfg Config) (*logrus.Logger, func() error, error) {
	l := logrus.New()
	noop := func() error { return nil }

	level := logrus.InfoLevel
	if cfg.Level != "" {
		lv, err := logrus.ParseLevel(cfg.Level)
		if err != nil {
			return nil, noop, fmt.Errorf("log level: %w", err)
		}
		level = lv
	}
	l.SetLevel(level)

	switch strings.ToLower(cfg.Format) {
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	case "", "text":
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, noop, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	switch strings.ToLower(cfg.Output) {
	case "", "stderr":
		l.SetOutput(os.Stderr)
	case "stdout":
		l.SetOutput(os.Stdout)
	case "discard":
		l.SetOutput(io.Discard)
	case "file":
		if cfg.File == "" {
			return nil, noop, fmt.Errorf("log output file requires a path")
		}
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, noop, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, noop, fmt.Errorf("open log file: %w", err)
		}
		l.SetOutput(f)
		return l, f.Close, nil
	default:
		return nil, noop, fmt.Errorf("unknown log output %q", cfg.Output)
	}
	return l, noop, nil
}
