package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"
)

// RetryConfig controls the exponential backoff of Retrying.
type RetryConfig struct {
	MaxTries        uint          `json:"max_tries" yaml:"max_tries" mapstructure:"max_tries"`
	InitialInterval time.Duration `json:"initial_interval" yaml:"initial_interval" mapstructure:"initial_interval"`
	MaxInterval     time.Duration `json:"max_interval" yaml:"max_interval" mapstructure:"max_interval"`
	MaxElapsedTime  time.Duration `json:"max_elapsed_time" yaml:"max_elapsed_time" mapstructure:"max_elapsed_time"`
}

// DefaultRetryConfig returns three tries starting at 200ms.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxTries:        3,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		MaxElapsedTime:  time.Minute,
	}
}

// Retrying retries the operations of another FileStorage. Invalid names and
// URIs are not retried. A Save body is rewound between attempts when it is
// an io.Seeker; otherwise Save is attempted once.
type Retrying struct {
	next FileStorage
	cfg  RetryConfig
	log  *logrus.Entry
}

// NewRetrying wraps next.
func NewRetrying(next FileStorage, cfg RetryConfig, log *logrus.Entry) *Retrying {
	def := DefaultRetryConfig()
	if cfg.MaxTries == 0 {
		cfg.MaxTries = def.MaxTries
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = def.InitialInterval
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = def.MaxInterval
	}
	if cfg.MaxElapsedTime <= 0 {
		cfg.MaxElapsedTime = def.MaxElapsedTime
	}
	if log == nil {
		log = discardLogger()
	}
	return &Retrying{next: next, cfg: cfg, log: log}
}

func (r *Retrying) Save(ctx context.Context, name string, body io.Reader, contentType string) (string, error) {
	seeker, seekable := body.(io.Seeker)
	var offset int64
	if seekable {
		pos, err := seeker.Seek(0, io.SeekCurrent)
		if err != nil {
			seekable = false
		}
		offset = pos
	}

	attempt := 0
	return backoff.Retry(ctx, func() (string, error) {
		attempt++
		if attempt > 1 {
			if _, err := seeker.Seek(offset, io.SeekStart); err != nil {
				return "", backoff.Permanent(fmt.Errorf("rewind %s: %w", name, err))
			}
		}
		uri, err := r.next.Save(ctx, name, body, contentType)
		if err == nil {
			return uri, nil
		}
		if !seekable || permanent(err) {
			return "", backoff.Permanent(err)
		}
		return "", err
	}, r.options("save", name)...)
}

func (r *Retrying) Delete(ctx context.Context, uri string) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := r.next.Delete(ctx, uri)
		if err != nil && permanent(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, r.options("delete", uri)...)
	return err
}

func (r *Retrying) options(op, target string) []backoff.RetryOption {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.InitialInterval
	b.MaxInterval = r.cfg.MaxInterval
	return []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxTries(r.cfg.MaxTries),
		backoff.WithMaxElapsedTime(r.cfg.MaxElapsedTime),
		backoff.WithNotify(func(err error, wait time.Duration) {
			r.log.WithError(err).WithFields(logrus.Fields{
				"op":     op,
				"target": target,
				"wait":   wait,
			}).Warn("storage operation failed, retrying")
		}),
	}
}

func permanent(err error) bool {
	return errors.Is(err, ErrInvalidName) ||
		errors.Is(err, ErrInvalidURI) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
