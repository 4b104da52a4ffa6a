// Package xlsxtest reads produced workbooks back for assertions.
package xlsxtest

import (
	"bytes"
	"io"
	"strconv"

	"github.com/xuri/excelize/v2"
)

// Sheet is the content of one worksheet.
type Sheet struct {
	Name string
	// Rows holds every row as displayed, including the header row. Numeric
	// cells are parsed into int64 or float64; dates keep their formatted text.
	Rows [][]any
	// Widths holds the width of the first len(Rows[0]) columns.
	Widths []float64
}

// ReadFile reads the first sheet of the workbook at path.
func ReadFile(path string) (*Sheet, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return readFirst(f)
}

// Read reads the first sheet of the workbook in r.
func Read(r io.Reader) (*Sheet, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return readFirst(f)
}

// ReadBytes reads the first sheet of the workbook in b.
func ReadBytes(b []byte) (*Sheet, error) {
	return Read(bytes.NewReader(b))
}

// CellStyle returns the number format of a cell, e.g. "yyyy-mm-dd".
func CellStyle(path, sheet, cell string) (string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	id, err := f.GetCellStyle(sheet, cell)
	if err != nil {
		return "", err
	}
	style, err := f.GetStyle(id)
	if err != nil {
		return "", err
	}
	if style.CustomNumFmt != nil {
		return *style.CustomNumFmt, nil
	}
	return "", nil
}

func readFirst(f *excelize.File) (*Sheet, error) {
	name := f.GetSheetName(0)
	rows, err := f.GetRows(name)
	if err != nil {
		return nil, err
	}

	sheet := &Sheet{Name: name, Rows: make([][]any, len(rows))}
	for i, row := range rows {
		values := make([]any, len(row))
		for j, cell := range row {
			values[j] = parseValue(cell)
		}
		sheet.Rows[i] = values
	}

	if len(rows) > 0 {
		for col := 1; col <= len(rows[0]); col++ {
			colName, err := excelize.ColumnNumberToName(col)
			if err != nil {
				return nil, err
			}
			w, err := f.GetColWidth(name, colName)
			if err != nil {
				return nil, err
			}
			sheet.Widths = append(sheet.Widths, w)
		}
	}
	return sheet, nil
}

// parseValue returns int64 for integers, float64 for decimals, or the
// original string.
func parseValue(s string) any {
	// Try integer first
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}
