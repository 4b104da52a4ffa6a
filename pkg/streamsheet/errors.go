package streamsheet

import (
	"errors"
	"fmt"

	"github.com/ukaji3/streamsheet-go/pkg/streamsheet/encoder"
	"github.com/ukaji3/streamsheet-go/pkg/streamsheet/sanitize"
	"github.com/ukaji3/streamsheet-go/pkg/streamsheet/schema"
	"github.com/ukaji3/streamsheet-go/pkg/streamsheet/writer"
)

// ErrInvalidConfig is wrapped by every ConfigError.
var ErrInvalidConfig = errors.New("invalid export config")

type (
	// SchemaError reports an invalid schema descriptor.
	SchemaError = schema.Error
	// SanitizationError reports a value that could not be coerced to its
	// column type.
	SanitizationError = sanitize.Error
	// RowEncodingError reports a record that could not be encoded.
	RowEncodingError = encoder.Error
	// StateError reports a writer operation in the wrong lifecycle state.
	StateError = writer.StateError
	// FlushError reports a sink failure.
	FlushError = writer.FlushError
)

// ConfigError reports an invalid configuration field.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid export config: %s %s", e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error {
	return ErrInvalidConfig
}

// NewConfigError creates a new ConfigError.
func NewConfigError(field, reason string) *ConfigError {
	return &ConfigError{Field: field, Reason: reason}
}

// CancelledError reports an export stopped by its context.
type CancelledError struct {
	// RowsWritten is the number of rows that reached the sink.
	RowsWritten int64
	// RowsDropped is the number of buffered rows discarded.
	RowsDropped int
	Err         error
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("export cancelled after %d rows: %v", e.RowsWritten, e.Err)
}

func (e *CancelledError) Unwrap() error {
	return e.Err
}

// NewCancelledError creates a new CancelledError.
func NewCancelledError(rowsWritten int64, dropped int, err error) *CancelledError {
	return &CancelledError{
		RowsWritten: rowsWritten,
		RowsDropped: dropped,
		Err:         err,
	}
}

// SourceError reports a failure of the record source itself.
type SourceError struct {
	// Position is the 0-based ordinal of the record that could not be read.
	Position int64
	Err      error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("read record %d: %v", e.Position, e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// NewSourceError creates a new SourceError.
func NewSourceError(position int64, err error) *SourceError {
	return &SourceError{Position: position, Err: err}
}
