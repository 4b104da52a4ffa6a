// Package sink provides Sink implementations for the export session.
package sink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/xuri/excelize/v2"

	"github.com/ukaji3/streamsheet-go/pkg/streamsheet/models"
	"github.com/ukaji3/streamsheet-go/pkg/streamsheet/schema"
)

// ErrFinalized is returned by any call after Finalize.
var ErrFinalized = errors.New("sink: already finalized")

// XLSX streams rows into a single worksheet with the excelize stream writer
// and writes the workbook to an io.Writer on Finalize.
//
// Rows are spooled by excelize (to a temporary file past its memory
// threshold), so the resident set stays bounded by the caller's window.
type XLSX struct {
	out    io.Writer
	closer io.Closer

	file    *excelize.File
	stream  *excelize.StreamWriter
	sheet   string
	styles  []int // per-column style ID, 0 for none
	nextRow int
	rows    int64
	done    bool
}

// NewXLSX creates a sink writing the finished workbook to out. The sheet is
// named by ApplyLayout, or schema.DefaultSheetName otherwise.
func NewXLSX(out io.Writer) *XLSX {
	return &XLSX{
		out:     out,
		file:    excelize.NewFile(),
		sheet:   schema.DefaultSheetName,
		nextRow: 1,
	}
}

// NewXLSXFile creates path and returns a sink writing to it. The file is
// closed by Finalize.
func NewXLSXFile(path string) (*XLSX, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	x := NewXLSX(f)
	x.closer = f
	return x, nil
}

// ApplyLayout names the sheet, sets column widths and prepares number
// formats. It must precede any row.
func (x *XLSX) ApplyLayout(_ context.Context, layout models.SheetLayout) error {
	if x.done {
		return ErrFinalized
	}
	if x.stream != nil {
		return errors.New("sink: layout applied after rows were written")
	}

	name := schema.SafeSheetName(layout.Name)
	if name != x.sheet {
		if err := x.file.SetSheetName(x.sheet, name); err != nil {
			return fmt.Errorf("rename sheet: %w", err)
		}
		x.sheet = name
	}

	if err := x.open(); err != nil {
		return err
	}

	x.styles = make([]int, len(layout.Columns))
	formats := make(map[string]int)
	for i, col := range layout.Columns {
		if col.Width > 0 {
			if err := x.stream.SetColWidth(i+1, i+1, col.Width); err != nil {
				return fmt.Errorf("set width of column %d: %w", i+1, err)
			}
		}
		if col.Format == "" {
			continue
		}
		id, ok := formats[col.Format]
		if !ok {
			numFmt := col.Format
			var err error
			id, err = x.file.NewStyle(&excelize.Style{CustomNumFmt: &numFmt})
			if err != nil {
				return fmt.Errorf("number format %q: %w", col.Format, err)
			}
			formats[col.Format] = id
		}
		x.styles[i] = id
	}
	return nil
}

// WriteHeader writes headers as the first row.
func (x *XLSX) WriteHeader(_ context.Context, headers []string) error {
	if x.done {
		return ErrFinalized
	}
	if err := x.open(); err != nil {
		return err
	}
	values := make([]any, len(headers))
	for i, h := range headers {
		values[i] = h
	}
	return x.setRow(values)
}

// AppendRows writes batch below the rows already written.
func (x *XLSX) AppendRows(_ context.Context, batch []models.Row) error {
	if x.done {
		return ErrFinalized
	}
	if err := x.open(); err != nil {
		return err
	}
	for _, row := range batch {
		if err := x.setRow(x.values(row)); err != nil {
			return err
		}
		x.rows++
	}
	return nil
}

// Finalize flushes the stream, writes the workbook and releases the file.
func (x *XLSX) Finalize(_ context.Context) error {
	if x.done {
		return ErrFinalized
	}
	x.done = true

	var errs []error
	if err := x.open(); err != nil {
		errs = append(errs, err)
	} else if err := x.stream.Flush(); err != nil {
		errs = append(errs, fmt.Errorf("flush stream: %w", err))
	} else if _, err := x.file.WriteTo(x.out); err != nil {
		errs = append(errs, fmt.Errorf("write workbook: %w", err))
	}
	if err := x.file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close workbook: %w", err))
	}
	if x.closer != nil {
		if err := x.closer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SheetName returns the name of the worksheet being written.
func (x *XLSX) SheetName() string { return x.sheet }

// Rows returns the number of data rows written.
func (x *XLSX) Rows() int64 { return x.rows }

func (x *XLSX) open() error {
	if x.stream != nil {
		return nil
	}
	sw, err := x.file.NewStreamWriter(x.sheet)
	if err != nil {
		return fmt.Errorf("open stream writer: %w", err)
	}
	x.stream = sw
	return nil
}

func (x *XLSX) setRow(values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, x.nextRow)
	if err != nil {
		return err
	}
	if err := x.stream.SetRow(cell, values); err != nil {
		return fmt.Errorf("write row %d: %w", x.nextRow, err)
	}
	x.nextRow++
	return nil
}

// values maps cells to excelize values; blanks stay empty.
func (x *XLSX) values(row models.Row) []any {
	values := row.Values()
	for i, v := range values {
		if v != nil && i < len(x.styles) && x.styles[i] != 0 {
			values[i] = excelize.Cell{StyleID: x.styles[i], Value: v}
		}
	}
	return values
}
