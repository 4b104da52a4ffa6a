// Package jobs runs exports in the background and tracks their state.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusReady      Status = "READY"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusCancelled  Status = "CANCELLED"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// ParseStatus parses a stored status.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusReady, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled:
		return st, nil
	}
	return "", fmt.Errorf("unknown job status %q", s)
}

// Job is a snapshot of a background export.
type Job struct {
	ID              string     `json:"id"`
	Status          Status     `json:"status"`
	ResultURI       string     `json:"result_uri,omitempty"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	RowsWritten     int64      `json:"rows_written"`
	BatchesFlushed  int64      `json:"batches_flushed"`
	CancelRequested bool       `json:"cancel_requested"`
	CreatedAt       time.Time  `json:"created_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// ErrNotFound is returned for unknown or expired jobs.
var ErrNotFound = errors.New("jobs: job not found")

// Store persists job state. Updates of unknown jobs return ErrNotFound.
type Store interface {
	// Create registers a new job in StatusReady.
	Create(ctx context.Context) (*Job, error)
	Get(ctx context.Context, id string) (*Job, error)
	// UpdateStatus sets the status. Empty resultURI and errMsg keep the
	// stored values. Terminal statuses set CompletedAt.
	UpdateStatus(ctx context.Context, id string, status Status, resultURI, errMsg string) error
	UpdateProgress(ctx context.Context, id string, rows, batches int64) error
	RequestCancel(ctx context.Context, id string) error
	CancelRequested(ctx context.Context, id string) (bool, error)
}

func applyStatus(j *Job, status Status, resultURI, errMsg string, now time.Time) {
	j.Status = status
	if resultURI != "" {
		j.ResultURI = resultURI
	}
	if errMsg != "" {
		j.ErrorMessage = errMsg
	}
	if status.Terminal() {
		j.CompletedAt = &now
	} else {
		j.CompletedAt = nil
	}
}
