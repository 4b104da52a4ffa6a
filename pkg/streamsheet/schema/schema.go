// Package schema resolves record type descriptors into ordered, typed column
// definitions.
package schema

import (
	"fmt"
	"reflect"

	"github.com/ukaji3/streamsheet-go/pkg/streamsheet/models"
)

// DefaultColumnWidth is the width, in characters, used when a column does
// not declare one.
const DefaultColumnWidth = 15

// Accessor reads one column's raw value from a record.
type Accessor[T any] func(record T) (any, error)

// ColumnSpec declares a column before resolution.
type ColumnSpec[T any] struct {
	// Name is the column header. Names are unique (case-sensitive).
	Name string
	// Type is the declared cell type.
	Type models.CellType
	// Accessor reads the raw value. It must not be nil.
	Accessor Accessor[T]
	// Width is the column width in characters (0 means DefaultColumnWidth).
	Width float64
	// Format is an optional number format code for the sink.
	Format string
}

// Descriptor is the unresolved description of a record type: a sheet name
// and its columns in declaration order.
type Descriptor[T any] struct {
	SheetName string
	Columns   []ColumnSpec[T]
}

// Column is a resolved, immutable column definition.
type Column[T any] struct {
	name     string
	index    int
	typ      models.CellType
	accessor Accessor[T]
	width    float64
	format   string
}

// Name returns the column header.
func (c Column[T]) Name() string { return c.name }

// Index returns the 0-based ordinal position.
func (c Column[T]) Index() int { return c.index }

// Type returns the declared cell type.
func (c Column[T]) Type() models.CellType { return c.typ }

// Width returns the column width in characters.
func (c Column[T]) Width() float64 { return c.width }

// Format returns the number format code, if any.
func (c Column[T]) Format() string { return c.format }

// Value invokes the accessor on record.
func (c Column[T]) Value(record T) (any, error) {
	return c.accessor(record)
}

// Schema is the resolved, read-only column list for a record type. A single
// Schema is shared by every row of an export.
type Schema[T any] struct {
	typeName  string
	sheetName string
	columns   []Column[T]
}

// Resolve validates d and produces a Schema. It is deterministic: the same
// descriptor always yields the same column order and types.
func Resolve[T any](d Descriptor[T]) (*Schema[T], error) {
	typeName := TypeName[T]()

	if len(d.Columns) == 0 {
		return nil, NewError(typeName, "", "descriptor declares no columns")
	}

	seen := make(map[string]int, len(d.Columns))
	columns := make([]Column[T], 0, len(d.Columns))
	for i, spec := range d.Columns {
		if spec.Name == "" {
			return nil, NewError(typeName, fmt.Sprintf("#%d", i), "column name is empty")
		}
		if prev, dup := seen[spec.Name]; dup {
			return nil, NewError(typeName, spec.Name, fmt.Sprintf("duplicate column name (also declared at position %d)", prev))
		}
		seen[spec.Name] = i

		if spec.Accessor == nil {
			return nil, NewError(typeName, spec.Name, "accessor is not readable (nil)")
		}
		if !spec.Type.Valid() {
			return nil, NewError(typeName, spec.Name, fmt.Sprintf("declared type %v has no cell representation", spec.Type))
		}
		if spec.Width < 0 {
			return nil, NewError(typeName, spec.Name, "width must not be negative")
		}

		width := spec.Width
		if width == 0 {
			width = DefaultColumnWidth
		}
		format := spec.Format
		if format == "" && spec.Type == models.TypeDate {
			format = DefaultDateFormat
		}

		columns = append(columns, Column[T]{
			name:     spec.Name,
			index:    i,
			typ:      spec.Type,
			accessor: spec.Accessor,
			width:    width,
			format:   format,
		})
	}

	sheetName := d.SheetName
	if sheetName == "" {
		sheetName = typeName
	}

	return &Schema[T]{
		typeName:  typeName,
		sheetName: SafeSheetName(sheetName),
		columns:   columns,
	}, nil
}

// DefaultDateFormat is applied to date columns without an explicit format.
const DefaultDateFormat = "yyyy-mm-dd hh:mm:ss"

// TypeName returns the name schemas for T are keyed by.
func TypeName[T any]() string {
	t := reflect.TypeFor[T]()
	if t == nil {
		return "any"
	}
	if t.Name() != "" {
		return t.Name()
	}
	return t.String()
}

// TypeName returns the declaring record type's name.
func (s *Schema[T]) TypeName() string { return s.typeName }

// SheetName returns the (already safe) sheet name.
func (s *Schema[T]) SheetName() string { return s.sheetName }

// Len returns the number of columns.
func (s *Schema[T]) Len() int { return len(s.columns) }

// Column returns the column at index i.
func (s *Schema[T]) Column(i int) Column[T] { return s.columns[i] }

// Columns returns a copy of the column list.
func (s *Schema[T]) Columns() []Column[T] {
	cp := make([]Column[T], len(s.columns))
	copy(cp, s.columns)
	return cp
}

// Headers returns the column names in order.
func (s *Schema[T]) Headers() []string {
	headers := make([]string, len(s.columns))
	for i, c := range s.columns {
		headers[i] = c.name
	}
	return headers
}

// Widths returns the column widths in order.
func (s *Schema[T]) Widths() []float64 {
	widths := make([]float64, len(s.columns))
	for i, c := range s.columns {
		widths[i] = c.width
	}
	return widths
}

// Layout returns the sheet layout handed to sinks.
func (s *Schema[T]) Layout() models.SheetLayout {
	cols := make([]models.ColumnLayout, len(s.columns))
	for i, c := range s.columns {
		cols[i] = models.ColumnLayout{
			Header: c.name,
			Type:   c.typ,
			Width:  c.width,
			Format: c.format,
		}
	}
	return models.SheetLayout{Name: s.sheetName, Columns: cols}
}
