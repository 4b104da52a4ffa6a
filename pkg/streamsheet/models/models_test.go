package models

import (
	"testing"
	"time"
)

func TestParseCellType(t *testing.T) {
	tests := []struct {
		input    string
		expected CellType
		wantErr  bool
	}{
		{"text", TypeText, false},
		{"Number", TypeNumber, false},
		{" boolean ", TypeBoolean, false},
		{"date", TypeDate, false},
		{"unsafe_text", TypeUnsafeText, false},
		{"formula", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseCellType(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseCellType(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if got != tt.expected {
			t.Errorf("ParseCellType(%q) = %v, expected %v", tt.input, got, tt.expected)
		}
	}
}

func TestCellTypeKind(t *testing.T) {
	tests := []struct {
		typ      CellType
		expected Kind
	}{
		{TypeText, KindText},
		{TypeUnsafeText, KindText},
		{TypeNumber, KindNumber},
		{TypeBoolean, KindBoolean},
		{TypeDate, KindDate},
		{CellType(42), KindBlank},
	}

	for _, tt := range tests {
		if got := tt.typ.Kind(); got != tt.expected {
			t.Errorf("%v.Kind() = %v, expected %v", tt.typ, got, tt.expected)
		}
	}
	if CellType(42).Valid() {
		t.Errorf("CellType(42) should not be valid")
	}
}

func TestCellValueValue(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		cell     CellValue
		expected any
		text     string
	}{
		{Blank(), nil, ""},
		{CellValue{Kind: KindText, Text: "abc"}, "abc", "abc"},
		{CellValue{Kind: KindNumber, Number: 1.5}, 1.5, "1.5"},
		{CellValue{Kind: KindBoolean, Bool: true}, true, "true"},
		{CellValue{Kind: KindDate, Time: ts}, ts, "2024-03-01T12:00:00Z"},
	}

	for _, tt := range tests {
		if got := tt.cell.Value(); got != tt.expected {
			t.Errorf("Value() = %v, expected %v", got, tt.expected)
		}
		if got := tt.cell.String(); got != tt.text {
			t.Errorf("String() = %q, expected %q", got, tt.text)
		}
	}
}

func TestRowIsImmutable(t *testing.T) {
	cells := []CellValue{{Kind: KindText, Text: "a"}, {Kind: KindNumber, Number: 2}}
	row := NewRow(cells)

	// Mutating the source slice must not leak into the row.
	cells[0].Text = "changed"
	if row.Cell(0).Text != "a" {
		t.Errorf("row mutated through constructor slice: %q", row.Cell(0).Text)
	}

	// Mutating the returned copy must not leak either.
	out := row.Cells()
	out[1].Number = 99
	if row.Cell(1).Number != 2 {
		t.Errorf("row mutated through Cells(): %v", row.Cell(1).Number)
	}

	if row.Len() != 2 {
		t.Errorf("expected 2 cells, got %d", row.Len())
	}
}

func TestBlankRow(t *testing.T) {
	row := BlankRow(3)
	if row.Len() != 3 {
		t.Fatalf("expected 3 cells, got %d", row.Len())
	}
	if !row.IsBlank() {
		t.Errorf("expected blank row")
	}
	for i, v := range row.Values() {
		if v != nil {
			t.Errorf("cell %d: expected nil, got %v", i, v)
		}
	}
}

func TestSheetLayoutHeaders(t *testing.T) {
	layout := SheetLayout{
		Name: "Orders",
		Columns: []ColumnLayout{
			{Header: "ID", Type: TypeNumber},
			{Header: "Customer", Type: TypeText},
		},
	}
	got := layout.Headers()
	if len(got) != 2 || got[0] != "ID" || got[1] != "Customer" {
		t.Errorf("unexpected headers: %v", got)
	}
}
