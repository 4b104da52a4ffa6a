// Package encoder maps records to rows of sanitized cells using a resolved
// schema.
package encoder

import (
	"fmt"

	"github.com/ukaji3/streamsheet-go/pkg/streamsheet/models"
	"github.com/ukaji3/streamsheet-go/pkg/streamsheet/sanitize"
	"github.com/ukaji3/streamsheet-go/pkg/streamsheet/schema"
)

// Error reports a record that could not be encoded. Position is the
// record's 0-based ordinal in the input sequence.
type Error struct {
	Position int64
	Column   string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("encode record %d, column %q: %v", e.Position, e.Column, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new Error.
func NewError(position int64, column string, err error) *Error {
	return &Error{
		Position: position,
		Column:   column,
		Err:      err,
	}
}

// Encoder converts records of type T into rows. It holds no mutable state
// and may be shared.
type Encoder[T any] struct {
	schema                  *schema.Schema[T]
	preventFormulaInjection bool
}

// New creates an encoder for s.
func New[T any](s *schema.Schema[T], preventFormulaInjection bool) *Encoder[T] {
	return &Encoder[T]{
		schema:                  s,
		preventFormulaInjection: preventFormulaInjection,
	}
}

// Schema returns the encoder's schema.
func (e *Encoder[T]) Schema() *schema.Schema[T] {
	return e.schema
}

// Encode reads every column of record in schema order and sanitizes it.
// The returned row has exactly one cell per column.
func (e *Encoder[T]) Encode(position int64, record T) (models.Row, error) {
	cells := make([]models.CellValue, e.schema.Len())
	for i := range cells {
		col := e.schema.Column(i)

		raw, err := access(col, record)
		if err != nil {
			return models.Row{}, NewError(position, col.Name(), err)
		}

		cell, err := sanitize.Sanitize(raw, col.Type(), e.preventFormulaInjection)
		if err != nil {
			return models.Row{}, NewError(position, col.Name(), err)
		}
		cells[i] = cell
	}
	return models.NewRow(cells), nil
}

// BlankRow returns a row of blank cells matching the schema width.
func (e *Encoder[T]) BlankRow() models.Row {
	return models.BlankRow(e.schema.Len())
}

// Headers returns the sanitized header row.
func (e *Encoder[T]) Headers() []string {
	headers := e.schema.Headers()
	for i, h := range headers {
		headers[i] = sanitize.Header(h, e.preventFormulaInjection)
	}
	return headers
}

// access calls the column accessor, converting a panic into an error.
func access[T any](col schema.Column[T], record T) (raw any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("accessor panicked: %v", r)
		}
	}()
	return col.Value(record)
}
