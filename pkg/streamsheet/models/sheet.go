package models

// SheetLayout describes the single sheet an export writes.
type SheetLayout struct {
	// Name is the sheet name, already made safe for the spreadsheet format.
	Name string `json:"name" yaml:"name"`
	// Columns lists the columns in output order.
	Columns []ColumnLayout `json:"columns" yaml:"columns"`
}

// ColumnLayout carries the per-column presentation hints a sink may use.
type ColumnLayout struct {
	// Header is the raw (unsanitized) column name.
	Header string `json:"header" yaml:"header"`
	// Type is the declared cell type.
	Type CellType `json:"type" yaml:"type"`
	// Width is the column width in characters (0 means sink default).
	Width float64 `json:"width,omitempty" yaml:"width,omitempty"`
	// Format is an optional number format code, e.g. "yyyy-mm-dd".
	Format string `json:"format,omitempty" yaml:"format,omitempty"`
}

// Headers returns the column headers in order.
func (l SheetLayout) Headers() []string {
	headers := make([]string, len(l.Columns))
	for i, c := range l.Columns {
		headers[i] = c.Header
	}
	return headers
}
