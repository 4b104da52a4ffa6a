// Package source provides lazy record sources for exports.
package source

import (
	"context"
	"fmt"
	"io"
	"iter"

	"github.com/sirupsen/logrus"
)

// Source produces records of type T lazily. Records may be called more than
// once; every call starts a new pass. Close releases anything a pass left
// open.
type Source[T any] interface {
	Records(ctx context.Context) iter.Seq2[T, error]
	Name() string
	Close() error
}

// Error reports a failure of a source.
type Error struct {
	Source string
	Op     string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("source %s: %s: %v", e.Source, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new Error.
func NewError(source, op string, err error) *Error {
	return &Error{Source: source, Op: op, Err: err}
}

// Slice is an in-memory source.
type Slice[T any] struct {
	items []T
	name  string
}

// NewSlice creates a source over items. The slice is not copied.
func NewSlice[T any](name string, items []T) *Slice[T] {
	return &Slice[T]{items: items, name: name}
}

func (s *Slice[T]) Records(ctx context.Context) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for _, item := range s.items {
			if ctx.Err() != nil {
				return
			}
			if !yield(item, nil) {
				return
			}
		}
	}
}

func (s *Slice[T]) Name() string { return s.name }

func (s *Slice[T]) Close() error { return nil }

func discardLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

// truncate shortens s for use in source names.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
