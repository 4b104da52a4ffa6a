package sanitize

import (
	"database/sql"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/ukaji3/streamsheet-go/pkg/streamsheet/models"
)

func TestIsFormula(t *testing.T) {
	tests := []struct {
		input    string
		expected bool
	}{
		{"=1+1", true},
		{"+1", true},
		{"-1", true},
		{"@SUM(A1)", true},
		{"   =cmd|' /C calc'!A0", true},
		{"\n=HYPERLINK(\"x\")", true},
		{"\tplain", true},
		{"\rplain", true},
		{"plain", false},
		{"a=b", false},
		{"", false},
		{"   ", false},
		{"'=already", false},
	}

	for _, tt := range tests {
		if got := IsFormula(tt.input); got != tt.expected {
			t.Errorf("IsFormula(%q) = %v, expected %v", tt.input, got, tt.expected)
		}
	}
}

func TestSanitizeTextGuarded(t *testing.T) {
	tests := []struct {
		input    string
		expected string
		escaped  bool
	}{
		{"=1+1", "'=1+1", true},
		{"+cmd", "'+cmd", true},
		{"-2", "'-2", true},
		{"@import", "'@import", true},
		{"  =trim", "'  =trim", true},
		{"\tvalue", "'\tvalue", true},
		{"\r=x", "'=x", true},
		{"\x00=hidden", "'=hidden", true},
		{"safe text", "safe text", false},
		{"bell\x07inside", "bellinside", false},
		{"line1\nline2", "line1\nline2", false},
	}

	for _, tt := range tests {
		cell, err := Sanitize(tt.input, models.TypeText, true)
		if err != nil {
			t.Fatalf("Sanitize(%q) failed: %v", tt.input, err)
		}
		if cell.Kind != models.KindText {
			t.Errorf("Sanitize(%q) kind = %v, expected text", tt.input, cell.Kind)
		}
		if cell.Text != tt.expected {
			t.Errorf("Sanitize(%q) = %q, expected %q", tt.input, cell.Text, tt.expected)
		}
		if cell.Escaped != tt.escaped {
			t.Errorf("Sanitize(%q) escaped = %v, expected %v", tt.input, cell.Escaped, tt.escaped)
		}
		if !cell.Sanitized {
			t.Errorf("Sanitize(%q) should be marked sanitized", tt.input)
		}
	}
}

func TestSanitizeGuardedTextNeverEvaluable(t *testing.T) {
	payloads := []string{"=", "+", "-", "@"}
	bodies := []string{"", "1", "cmd|' /C calc'!A0", "SUM(A1:A9)", " HYPERLINK(\"http://x\")"}
	for _, p := range payloads {
		for _, b := range bodies {
			in := p + b
			cell, err := Sanitize(in, models.TypeText, true)
			if err != nil {
				t.Fatalf("Sanitize(%q) failed: %v", in, err)
			}
			if !strings.HasPrefix(cell.Text, TextMarker) {
				t.Errorf("Sanitize(%q) = %q, expected text marker", in, cell.Text)
			}
		}
	}
}

func TestSanitizeTextUnguarded(t *testing.T) {
	cell, err := Sanitize("=1+1", models.TypeText, false)
	if err != nil {
		t.Fatalf("Sanitize failed: %v", err)
	}
	if cell.Text != "=1+1" {
		t.Errorf("expected raw value preserved, got %q", cell.Text)
	}
	if cell.Escaped || cell.Sanitized {
		t.Errorf("unguarded text should not be escaped or marked sanitized: %+v", cell)
	}
}

func TestSanitizeUnsafeTextAlwaysGuarded(t *testing.T) {
	cell, err := Sanitize("=1+1", models.TypeUnsafeText, false)
	if err != nil {
		t.Fatalf("Sanitize failed: %v", err)
	}
	if cell.Text != "'=1+1" {
		t.Errorf("expected escaped value, got %q", cell.Text)
	}
}

func TestSanitizeNilIsBlank(t *testing.T) {
	var nilStr *string
	inputs := []any{nil, nilStr, sql.NullString{}, sql.NullInt64{}, &sql.NullFloat64{}}
	types := []models.CellType{models.TypeText, models.TypeNumber, models.TypeBoolean, models.TypeDate}

	for _, in := range inputs {
		for _, typ := range types {
			cell, err := Sanitize(in, typ, true)
			if err != nil {
				t.Fatalf("Sanitize(%#v, %v) failed: %v", in, typ, err)
			}
			if !cell.IsBlank() {
				t.Errorf("Sanitize(%#v, %v) = %+v, expected blank", in, typ, cell)
			}
		}
	}
}

func TestSanitizeNumber(t *testing.T) {
	n := 7
	tests := []struct {
		input    any
		expected float64
	}{
		{42, 42},
		{int64(-3), -3},
		{uint16(9), 9},
		{float32(1.5), 1.5},
		{2.25, 2.25},
		{" 12.5 ", 12.5},
		{[]byte("8"), 8},
		{&n, 7},
		{sql.NullInt64{Int64: 11, Valid: true}, 11},
	}

	for _, tt := range tests {
		cell, err := Sanitize(tt.input, models.TypeNumber, true)
		if err != nil {
			t.Fatalf("Sanitize(%#v) failed: %v", tt.input, err)
		}
		if cell.Kind != models.KindNumber || cell.Number != tt.expected {
			t.Errorf("Sanitize(%#v) = %+v, expected number %v", tt.input, cell, tt.expected)
		}
		if !cell.Sanitized {
			t.Errorf("numeric cells are trivially sanitized")
		}
	}
}

func TestSanitizeNumberErrors(t *testing.T) {
	inputs := []any{"abc", true, math.NaN(), math.Inf(1), time.Now(), struct{}{}}
	for _, in := range inputs {
		_, err := Sanitize(in, models.TypeNumber, true)
		var serr *Error
		if !errors.As(err, &serr) {
			t.Errorf("Sanitize(%#v) error = %v, expected *Error", in, err)
			continue
		}
		if serr.Type != models.TypeNumber {
			t.Errorf("error type = %v, expected number", serr.Type)
		}
	}
}

func TestSanitizeEmptyStringIsBlankForTypedColumns(t *testing.T) {
	for _, typ := range []models.CellType{models.TypeNumber, models.TypeBoolean, models.TypeDate} {
		cell, err := Sanitize("  ", typ, true)
		if err != nil {
			t.Fatalf("Sanitize(blank, %v) failed: %v", typ, err)
		}
		if !cell.IsBlank() {
			t.Errorf("Sanitize(blank, %v) = %+v, expected blank", typ, cell)
		}
	}
}

func TestSanitizeBoolean(t *testing.T) {
	tests := []struct {
		input    any
		expected bool
		wantErr  bool
	}{
		{true, true, false},
		{"false", false, false},
		{"TRUE", true, false},
		{1, true, false},
		{int64(0), false, false},
		{2, false, true},
		{"maybe", false, true},
		{1.0, false, true},
	}

	for _, tt := range tests {
		cell, err := Sanitize(tt.input, models.TypeBoolean, true)
		if (err != nil) != tt.wantErr {
			t.Errorf("Sanitize(%#v) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if err == nil && cell.Bool != tt.expected {
			t.Errorf("Sanitize(%#v) = %v, expected %v", tt.input, cell.Bool, tt.expected)
		}
	}
}

func TestSanitizeDate(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	tests := []struct {
		input    any
		expected time.Time
	}{
		{ts, ts},
		{&ts, ts},
		{"2024-01-02T03:04:05Z", ts},
		{"2024-01-02 03:04:05", ts},
		{"2024-01-02", time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)},
		{sql.NullTime{Time: ts, Valid: true}, ts},
	}

	for _, tt := range tests {
		cell, err := Sanitize(tt.input, models.TypeDate, true)
		if err != nil {
			t.Fatalf("Sanitize(%#v) failed: %v", tt.input, err)
		}
		if cell.Kind != models.KindDate || !cell.Time.Equal(tt.expected) {
			t.Errorf("Sanitize(%#v) = %+v, expected %v", tt.input, cell, tt.expected)
		}
	}

	if cell, err := Sanitize(time.Time{}, models.TypeDate, true); err != nil || !cell.IsBlank() {
		t.Errorf("zero time should be blank, got %+v, %v", cell, err)
	}
	if _, err := Sanitize("yesterday", models.TypeDate, true); err == nil {
		t.Errorf("expected error for unparseable date")
	}
}

func TestSanitizeTextCoercion(t *testing.T) {
	tests := []struct {
		input    any
		expected string
	}{
		{123, "123"},
		{-4, "'-4"},
		{1.25, "1.25"},
		{true, "true"},
		{[]byte("bytes"), "bytes"},
		{errors.New("boom"), "boom"},
	}

	for _, tt := range tests {
		cell, err := Sanitize(tt.input, models.TypeText, true)
		if err != nil {
			t.Fatalf("Sanitize(%#v) failed: %v", tt.input, err)
		}
		if cell.Text != tt.expected {
			t.Errorf("Sanitize(%#v) = %q, expected %q", tt.input, cell.Text, tt.expected)
		}
	}
}

func TestSanitizeInvalidType(t *testing.T) {
	_, err := Sanitize("x", models.CellType(99), true)
	if !errors.Is(err, ErrUnsupported) {
		t.Errorf("expected ErrUnsupported, got %v", err)
	}
}

func TestHeader(t *testing.T) {
	if got := Header("=Total", true); got != "'=Total" {
		t.Errorf("Header guarded = %q", got)
	}
	if got := Header("=Total", false); got != "=Total" {
		t.Errorf("Header unguarded = %q", got)
	}
}
