package models

// Row is an immutable, ordered sequence of cells. Its length equals the
// column count of the schema that produced it.
type Row struct {
	cells []CellValue
}

// NewRow creates a row holding a copy of cells.
func NewRow(cells []CellValue) Row {
	cp := make([]CellValue, len(cells))
	copy(cp, cells)
	return Row{cells: cp}
}

// BlankRow creates a row of n blank cells.
func BlankRow(n int) Row {
	cells := make([]CellValue, n)
	for i := range cells {
		cells[i] = Blank()
	}
	return Row{cells: cells}
}

// Len returns the number of cells.
func (r Row) Len() int {
	return len(r.cells)
}

// Cell returns the cell at index i.
func (r Row) Cell(i int) CellValue {
	return r.cells[i]
}

// Cells returns a copy of the row's cells.
func (r Row) Cells() []CellValue {
	cp := make([]CellValue, len(r.cells))
	copy(cp, r.cells)
	return cp
}

// Values returns the sink-facing value of every cell, in order.
func (r Row) Values() []any {
	values := make([]any, len(r.cells))
	for i, c := range r.cells {
		values[i] = c.Value()
	}
	return values
}

// Strings renders every cell as text.
func (r Row) Strings() []string {
	out := make([]string, len(r.cells))
	for i, c := range r.cells {
		out[i] = c.String()
	}
	return out
}

// IsBlank reports whether every cell is blank.
func (r Row) IsBlank() bool {
	for _, c := range r.cells {
		if !c.IsBlank() {
			return false
		}
	}
	return true
}
