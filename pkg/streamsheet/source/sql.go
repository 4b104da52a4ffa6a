package source

import (
	"context"
	"database/sql"
	"errors"
	"iter"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Querier runs a query. *sql.DB, *sql.Conn and *sql.Tx satisfy it.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// RowMapper converts the current row into a record.
type RowMapper[T any] func(rows *sql.Rows) (T, error)

// SQLOption configures a SQL source.
type SQLOption func(*sqlOptions)

type sqlOptions struct {
	args    []any
	timeout time.Duration
	name    string
	log     *logrus.Entry
}

// WithArgs sets the query arguments.
func WithArgs(args ...any) SQLOption {
	return func(o *sqlOptions) { o.args = args }
}

// WithQueryTimeout bounds each pass, including reading every row.
func WithQueryTimeout(d time.Duration) SQLOption {
	return func(o *sqlOptions) { o.timeout = d }
}

// WithName overrides the source name.
func WithName(name string) SQLOption {
	return func(o *sqlOptions) { o.name = name }
}

// WithSQLLogger sets the logger.
func WithSQLLogger(log *logrus.Entry) SQLOption {
	return func(o *sqlOptions) { o.log = log }
}

// SQL streams the result of a query. Rows are read one at a time from the
// driver cursor.
type SQL[T any] struct {
	db     Querier
	query  string
	mapper RowMapper[T]
	opts   sqlOptions

	mu     sync.Mutex
	active map[*sql.Rows]struct{}
}

// NewSQL creates a source for query.
func NewSQL[T any](db Querier, query string, mapper RowMapper[T], opts ...SQLOption) *SQL[T] {
	s := &SQL[T]{
		db:     db,
		query:  query,
		mapper: mapper,
		active: make(map[*sql.Rows]struct{}),
	}
	for _, opt := range opts {
		opt(&s.opts)
	}
	if s.opts.name == "" {
		s.opts.name = "sql:" + truncate(strings.Join(strings.Fields(query), " "), 30)
	}
	if s.opts.log == nil {
		s.opts.log = discardLogger()
	}
	s.opts.log = s.opts.log.WithField("source", s.opts.name)
	return s
}

func (s *SQL[T]) Name() string { return s.opts.name }

// Records runs the query and yields one record per row. The cursor is
// closed when the sequence ends or the consumer stops early.
func (s *SQL[T]) Records(ctx context.Context) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		if s.opts.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.opts.timeout)
			defer cancel()
		}

		s.opts.log.Debug("starting query")
		rows, err := s.db.QueryContext(ctx, s.query, s.opts.args...)
		if err != nil {
			s.opts.log.WithError(err).Error("query failed")
			yield(zero, NewError(s.opts.name, "query", err))
			return
		}
		s.track(rows)
		defer s.release(rows)

		for rows.Next() {
			record, err := s.mapper(rows)
			if err != nil {
				yield(zero, NewError(s.opts.name, "map row", err))
				return
			}
			if !yield(record, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(zero, NewError(s.opts.name, "read rows", err))
		}
	}
}

// Close closes every cursor still open.
func (s *SQL[T]) Close() error {
	s.mu.Lock()
	open := make([]*sql.Rows, 0, len(s.active))
	for rows := range s.active {
		open = append(open, rows)
	}
	clear(s.active)
	s.mu.Unlock()

	if len(open) > 0 {
		s.opts.log.WithField("cursors", len(open)).Debug("closing active cursors")
	}
	var errs []error
	for _, rows := range open {
		if err := rows.Close(); err != nil {
			s.opts.log.WithError(err).Warn("failed to close cursor")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Active returns the number of open cursors.
func (s *SQL[T]) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

func (s *SQL[T]) track(rows *sql.Rows) {
	s.mu.Lock()
	s.active[rows] = struct{}{}
	s.mu.Unlock()
}

func (s *SQL[T]) release(rows *sql.Rows) {
	s.mu.Lock()
	delete(s.active, rows)
	s.mu.Unlock()
	if err := rows.Close(); err != nil {
		s.opts.log.WithError(err).Warn("failed to close cursor")
	}
	s.opts.log.Debug("cursor closed")
}

// MapRow scans the current row into a map keyed by column name. Byte
// slices are returned as strings.
func MapRow(rows *sql.Rows) (map[string]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}

	record := make(map[string]any, len(cols))
	for i, col := range cols {
		if b, ok := values[i].([]byte); ok {
			record[col] = string(b)
			continue
		}
		record[col] = values[i]
	}
	return record, nil
}

// Cursor is a query that has already been executed, so its columns are
// known before any row is read. It supports a single pass.
type Cursor[T any] struct {
	name   string
	rows   *sql.Rows
	cols   []string
	types  []*sql.ColumnType
	mapper RowMapper[T]
	used   bool
}

// OpenCursor executes query and returns a cursor over its rows.
func OpenCursor[T any](ctx context.Context, db Querier, query string, mapper RowMapper[T], args ...any) (*Cursor[T], error) {
	name := "sql:" + truncate(strings.Join(strings.Fields(query), " "), 30)
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, NewError(name, "query", err)
	}
	cols, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, NewError(name, "columns", err)
	}
	// Drivers without type information leave types nil.
	types, _ := rows.ColumnTypes()
	return &Cursor[T]{name: name, rows: rows, cols: cols, types: types, mapper: mapper}, nil
}

// Columns returns the result column names.
func (c *Cursor[T]) Columns() []string { return slices.Clone(c.cols) }

// DatabaseTypes returns the driver's type name per column, upper case, or
// "" where the driver does not report one.
func (c *Cursor[T]) DatabaseTypes() []string {
	out := make([]string, len(c.cols))
	for i, ct := range c.types {
		if i < len(out) && ct != nil {
			out[i] = strings.ToUpper(ct.DatabaseTypeName())
		}
	}
	return out
}

func (c *Cursor[T]) Name() string { return c.name }

// Records yields the remaining rows. A second pass yields an error.
func (c *Cursor[T]) Records(ctx context.Context) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		if c.used {
			yield(zero, NewError(c.name, "read rows", errors.New("cursor already consumed")))
			return
		}
		c.used = true
		defer c.rows.Close()

		for c.rows.Next() {
			if ctx.Err() != nil {
				return
			}
			record, err := c.mapper(c.rows)
			if err != nil {
				yield(zero, NewError(c.name, "map row", err))
				return
			}
			if !yield(record, nil) {
				return
			}
		}
		if err := c.rows.Err(); err != nil {
			yield(zero, NewError(c.name, "read rows", err))
		}
	}
}

// Close closes the underlying rows. It is safe to call after Records.
func (c *Cursor[T]) Close() error {
	return c.rows.Close()
}
