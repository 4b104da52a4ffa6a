package schema

import "fmt"

// Error reports a descriptor that cannot be resolved. It is fatal: an export
// never starts with an invalid schema.
type Error struct {
	// TypeName is the record type being resolved.
	TypeName string
	// Column is the offending column, if any.
	Column string
	// Reason describes the problem.
	Reason string
}

func (e *Error) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("schema error for [%s] column %q: %s", e.TypeName, e.Column, e.Reason)
	}
	return fmt.Sprintf("schema error for [%s]: %s", e.TypeName, e.Reason)
}

// NewError creates a new Error.
func NewError(typeName, column, reason string) *Error {
	return &Error{
		TypeName: typeName,
		Column:   column,
		Reason:   reason,
	}
}
