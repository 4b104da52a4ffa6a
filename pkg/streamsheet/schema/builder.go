package schema

import "github.com/ukaji3/streamsheet-go/pkg/streamsheet/models"

// ColumnOption adjusts a column declared through a Builder.
type ColumnOption func(*columnOptions)

type columnOptions struct {
	width  float64
	format string
}

// WithWidth sets the column width in characters.
func WithWidth(w float64) ColumnOption {
	return func(o *columnOptions) { o.width = w }
}

// WithFormat sets the column's number format code.
func WithFormat(f string) ColumnOption {
	return func(o *columnOptions) { o.format = f }
}

// Builder declares a schema by explicit registration:
//
//	s, err := schema.New[Order]("Orders").
//		Number("ID", func(o Order) any { return o.ID }).
//		Text("Customer", func(o Order) any { return o.Customer }).
//		Date("Placed", func(o Order) any { return o.PlacedAt }).
//		Build()
type Builder[T any] struct {
	sheetName string
	columns   []ColumnSpec[T]
}

// New starts a schema for sheetName.
func New[T any](sheetName string) *Builder[T] {
	return &Builder[T]{sheetName: sheetName}
}

// Column appends a fully specified column.
func (b *Builder[T]) Column(spec ColumnSpec[T]) *Builder[T] {
	b.columns = append(b.columns, spec)
	return b
}

// Field appends a column whose accessor may fail.
func (b *Builder[T]) Field(name string, t models.CellType, fn Accessor[T], opts ...ColumnOption) *Builder[T] {
	var o columnOptions
	for _, opt := range opts {
		opt(&o)
	}
	return b.Column(ColumnSpec[T]{
		Name:     name,
		Type:     t,
		Accessor: fn,
		Width:    o.width,
		Format:   o.format,
	})
}

// Text appends a text column.
func (b *Builder[T]) Text(name string, fn func(T) any, opts ...ColumnOption) *Builder[T] {
	return b.Field(name, models.TypeText, infallible(fn), opts...)
}

// UnsafeText appends a text column that is always guarded against formula
// injection.
func (b *Builder[T]) UnsafeText(name string, fn func(T) any, opts ...ColumnOption) *Builder[T] {
	return b.Field(name, models.TypeUnsafeText, infallible(fn), opts...)
}

// Number appends a numeric column.
func (b *Builder[T]) Number(name string, fn func(T) any, opts ...ColumnOption) *Builder[T] {
	return b.Field(name, models.TypeNumber, infallible(fn), opts...)
}

// Boolean appends a boolean column.
func (b *Builder[T]) Boolean(name string, fn func(T) any, opts ...ColumnOption) *Builder[T] {
	return b.Field(name, models.TypeBoolean, infallible(fn), opts...)
}

// Date appends a date column.
func (b *Builder[T]) Date(name string, fn func(T) any, opts ...ColumnOption) *Builder[T] {
	return b.Field(name, models.TypeDate, infallible(fn), opts...)
}

// Descriptor returns the declared descriptor.
func (b *Builder[T]) Descriptor() Descriptor[T] {
	cols := make([]ColumnSpec[T], len(b.columns))
	copy(cols, b.columns)
	return Descriptor[T]{SheetName: b.sheetName, Columns: cols}
}

// Build resolves the declared columns.
func (b *Builder[T]) Build() (*Schema[T], error) {
	return Resolve(b.Descriptor())
}

// MustBuild is like Build but panics on error. Intended for package-level
// schema variables.
func (b *Builder[T]) MustBuild() *Schema[T] {
	s, err := b.Build()
	if err != nil {
		panic(err)
	}
	return s
}

func infallible[T any](fn func(T) any) Accessor[T] {
	if fn == nil {
		return nil
	}
	return func(record T) (any, error) {
		return fn(record), nil
	}
}
