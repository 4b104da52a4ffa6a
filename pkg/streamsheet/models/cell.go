// Package models defines the value types that flow through an export.
package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CellType is the type a column declares for its cells.
type CellType int

const (
	// TypeText is plain text, guarded against formula injection when enabled.
	TypeText CellType = iota + 1
	// TypeNumber is a numeric cell stored as float64.
	TypeNumber
	// TypeBoolean is a TRUE/FALSE cell.
	TypeBoolean
	// TypeDate is a date or timestamp cell.
	TypeDate
	// TypeUnsafeText is text from an untrusted origin. It is always guarded,
	// even when formula injection prevention is disabled for the export.
	TypeUnsafeText
)

var cellTypeNames = map[CellType]string{
	TypeText:       "text",
	TypeNumber:     "number",
	TypeBoolean:    "boolean",
	TypeDate:       "date",
	TypeUnsafeText: "unsafe_text",
}

// String returns the configuration name of the type.
func (t CellType) String() string {
	if name, ok := cellTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("CellType(%d)", int(t))
}

// Valid reports whether t has a corresponding cell kind.
func (t CellType) Valid() bool {
	_, ok := cellTypeNames[t]
	return ok
}

// IsTextual reports whether t produces text cells.
func (t CellType) IsTextual() bool {
	return t == TypeText || t == TypeUnsafeText
}

// Kind returns the cell kind a non-blank value of this type carries.
func (t CellType) Kind() Kind {
	switch t {
	case TypeText, TypeUnsafeText:
		return KindText
	case TypeNumber:
		return KindNumber
	case TypeBoolean:
		return KindBoolean
	case TypeDate:
		return KindDate
	}
	return KindBlank
}

// ParseCellType parses a configuration name ("text", "number", "boolean",
// "date", "unsafe_text"). Matching is case-insensitive.
func ParseCellType(s string) (CellType, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for t, n := range cellTypeNames {
		if n == name {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown cell type %q", s)
}

// Kind tags the variant held by a CellValue.
type Kind int

const (
	KindBlank Kind = iota
	KindText
	KindNumber
	KindBoolean
	KindDate
)

func (k Kind) String() string {
	switch k {
	case KindBlank:
		return "blank"
	case KindText:
		return "text"
	case KindNumber:
		return "number"
	case KindBoolean:
		return "boolean"
	case KindDate:
		return "date"
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// CellValue is one sanitized cell ready for a sink.
type CellValue struct {
	// Kind selects which of the value fields is meaningful.
	Kind Kind
	// Text holds the value for KindText.
	Text string
	// Number holds the value for KindNumber.
	Number float64
	// Bool holds the value for KindBoolean.
	Bool bool
	// Time holds the value for KindDate.
	Time time.Time
	// Sanitized is true once the value went through the cell sanitizer.
	Sanitized bool
	// Escaped is true when a force-text marker was prepended.
	Escaped bool
}

// Blank returns an empty cell.
func Blank() CellValue {
	return CellValue{Kind: KindBlank, Sanitized: true}
}

// Value returns the Go value a sink should store: nil, string, float64,
// bool or time.Time.
func (v CellValue) Value() any {
	switch v.Kind {
	case KindText:
		return v.Text
	case KindNumber:
		return v.Number
	case KindBoolean:
		return v.Bool
	case KindDate:
		return v.Time
	}
	return nil
}

// IsBlank reports whether the cell holds no value.
func (v CellValue) IsBlank() bool {
	return v.Kind == KindBlank
}

// String renders the cell the way a plain-text sink would.
func (v CellValue) String() string {
	switch v.Kind {
	case KindText:
		return v.Text
	case KindNumber:
		return strconv.FormatFloat(v.Number, 'f', -1, 64)
	case KindBoolean:
		return strconv.FormatBool(v.Bool)
	case KindDate:
		return v.Time.Format(time.RFC3339)
	}
	return ""
}
