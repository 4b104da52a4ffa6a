// Package sanitize turns raw record values into typed, injection-safe cells.
package sanitize

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/ukaji3/streamsheet-go/pkg/streamsheet/models"
)

// TextMarker is prepended to text that a spreadsheet would evaluate as a
// formula, forcing it to render as literal text.
const TextMarker = "'"

// maxUnwrap bounds pointer and driver.Valuer unwrapping.
const maxUnwrap = 8

var (
	// ErrNotFinite is returned for NaN and infinite numbers.
	ErrNotFinite = errors.New("number is not finite")
	// ErrUnsupported is returned when a value has no conversion to the type.
	ErrUnsupported = errors.New("unsupported value")
)

// dateLayouts are tried in order when a string is coerced to a date.
var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006/01/02",
}

// Error reports a raw value that cannot be coerced to its declared type.
type Error struct {
	Type  models.CellType
	Value any
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("cannot convert %T value %q to %s: %v", e.Value, truncate(fmt.Sprint(e.Value), 64), e.Type, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new Error.
func NewError(t models.CellType, value any, err error) *Error {
	return &Error{Type: t, Value: value, Err: err}
}

// Sanitize converts raw into a cell of type t.
//
// Numeric, boolean and date types are coerced only. Text is guarded against
// formula injection when preventFormulaInjection is set; TypeUnsafeText is
// always guarded. A nil value (including nil pointers and invalid sql.Null*
// values) yields a blank cell.
func Sanitize(raw any, t models.CellType, preventFormulaInjection bool) (models.CellValue, error) {
	if !t.Valid() {
		return models.CellValue{}, NewError(t, raw, ErrUnsupported)
	}

	v, err := unwrap(raw)
	if err != nil {
		return models.CellValue{}, NewError(t, raw, err)
	}
	if v == nil {
		return models.Blank(), nil
	}

	switch t {
	case models.TypeNumber:
		n, blank, err := toNumber(v)
		if err != nil {
			return models.CellValue{}, NewError(t, raw, err)
		}
		if blank {
			return models.Blank(), nil
		}
		return models.CellValue{Kind: models.KindNumber, Number: n, Sanitized: true}, nil

	case models.TypeBoolean:
		b, blank, err := toBool(v)
		if err != nil {
			return models.CellValue{}, NewError(t, raw, err)
		}
		if blank {
			return models.Blank(), nil
		}
		return models.CellValue{Kind: models.KindBoolean, Bool: b, Sanitized: true}, nil

	case models.TypeDate:
		ts, blank, err := toTime(v)
		if err != nil {
			return models.CellValue{}, NewError(t, raw, err)
		}
		if blank {
			return models.Blank(), nil
		}
		return models.CellValue{Kind: models.KindDate, Time: ts, Sanitized: true}, nil
	}

	guard := preventFormulaInjection || t == models.TypeUnsafeText
	text, escaped := Text(toText(v), guard)
	return models.CellValue{
		Kind:      models.KindText,
		Text:      text,
		Sanitized: guard,
		Escaped:   escaped,
	}, nil
}

// Text applies the formula injection guard to s when guard is set. It
// reports whether the force-text marker was added.
func Text(s string, guard bool) (string, bool) {
	if !guard {
		return s, false
	}
	clean := stripControl(s)
	// Check both forms: stripping can expose a trigger hidden behind a
	// control character.
	if IsFormula(s) || IsFormula(clean) {
		return TextMarker + clean, true
	}
	return clean, false
}

// Header sanitizes a column header.
func Header(name string, preventFormulaInjection bool) string {
	s, _ := Text(name, preventFormulaInjection)
	return s
}

// IsFormula reports whether a spreadsheet application could evaluate s as a
// formula: it starts with a tab or carriage return, or its first
// non-whitespace character is one of = + - @.
func IsFormula(s string) bool {
	if s == "" {
		return false
	}
	if s[0] == '\t' || s[0] == '\r' {
		return true
	}
	trimmed := strings.TrimLeftFunc(s, unicode.IsSpace)
	if trimmed == "" {
		return false
	}
	switch trimmed[0] {
	case '=', '+', '-', '@':
		return true
	}
	return false
}

// stripControl removes control characters other than newline and tab.
func stripControl(s string) string {
	clean := true
	for _, r := range s {
		if isStripped(r) {
			clean = false
			break
		}
	}
	if clean {
		return s
	}
	return strings.Map(func(r rune) rune {
		if isStripped(r) {
			return -1
		}
		return r
	}, s)
}

func isStripped(r rune) bool {
	return unicode.IsControl(r) && r != '\n' && r != '\t'
}

// unwrap dereferences pointers and driver.Valuer values until a plain value
// (or nil) remains.
func unwrap(raw any) (any, error) {
	v := raw
	for range maxUnwrap {
		if v == nil {
			return nil, nil
		}
		rv := reflect.ValueOf(v)
		if rv.Kind() == reflect.Pointer {
			if rv.IsNil() {
				return nil, nil
			}
			if valuer, ok := v.(driver.Valuer); ok {
				next, err := valuer.Value()
				if err != nil {
					return nil, err
				}
				v = next
				continue
			}
			if _, ok := v.(error); ok {
				return v, nil
			}
			v = rv.Elem().Interface()
			continue
		}
		if valuer, ok := v.(driver.Valuer); ok {
			next, err := valuer.Value()
			if err != nil {
				return nil, err
			}
			v = next
			continue
		}
		return v, nil
	}
	return nil, fmt.Errorf("%w: value nested too deeply", ErrUnsupported)
}

func toText(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	case time.Time:
		return x.Format(time.RFC3339)
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case error:
		return x.Error()
	case fmt.Stringer:
		return x.String()
	}
	return fmt.Sprint(v)
}

// toNumber returns blank=true for empty strings.
func toNumber(v any) (float64, bool, error) {
	var f float64
	switch x := v.(type) {
	case int:
		f = float64(x)
	case int8:
		f = float64(x)
	case int16:
		f = float64(x)
	case int32:
		f = float64(x)
	case int64:
		f = float64(x)
	case uint:
		f = float64(x)
	case uint8:
		f = float64(x)
	case uint16:
		f = float64(x)
	case uint32:
		f = float64(x)
	case uint64:
		f = float64(x)
	case float32:
		f = float64(x)
	case float64:
		f = x
	case json.Number:
		parsed, err := x.Float64()
		if err != nil {
			return 0, false, err
		}
		f = parsed
	case string, []byte:
		s := strings.TrimSpace(toText(x))
		if s == "" {
			return 0, true, nil
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false, err
		}
		f = parsed
	default:
		return 0, false, ErrUnsupported
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false, ErrNotFinite
	}
	return f, false, nil
}

func toBool(v any) (bool, bool, error) {
	switch x := v.(type) {
	case bool:
		return x, false, nil
	case string, []byte:
		s := strings.TrimSpace(toText(x))
		if s == "" {
			return false, true, nil
		}
		b, err := strconv.ParseBool(s)
		return b, false, err
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		n, _, _ := toNumber(x)
		switch n {
		case 0:
			return false, false, nil
		case 1:
			return true, false, nil
		}
		return false, false, fmt.Errorf("integer %v is not 0 or 1", x)
	}
	return false, false, ErrUnsupported
}

func toTime(v any) (time.Time, bool, error) {
	switch x := v.(type) {
	case time.Time:
		if x.IsZero() {
			return time.Time{}, true, nil
		}
		return x, false, nil
	case string, []byte:
		s := strings.TrimSpace(toText(x))
		if s == "" {
			return time.Time{}, true, nil
		}
		for _, layout := range dateLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts, false, nil
			}
		}
		return time.Time{}, false, fmt.Errorf("unrecognized date format")
	}
	return time.Time{}, false, ErrUnsupported
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
