package source

import (
	"context"
	"database/sql"
	"errors"
	"iter"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	qt "github.com/frankban/quicktest"
)

type user struct {
	ID   int64
	Name string
}

func scanUser(rows *sql.Rows) (user, error) {
	var u user
	err := rows.Scan(&u.ID, &u.Name)
	return u, err
}

func collect[T any](seq iter.Seq2[T, error]) ([]T, error) {
	var out []T
	for v, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, v)
	}
	return out, nil
}

const usersQuery = "SELECT id, name FROM users WHERE active = ?"

func TestSQLRecords(t *testing.T) {
	c := qt.New(t)
	db, mock, err := sqlmock.New()
	c.Assert(err, qt.IsNil)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(usersQuery)).
		WithArgs(true).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).
			AddRow(int64(1), "ann").
			AddRow(int64(2), "bob")).
		RowsWillBeClosed()

	src := NewSQL(db, usersQuery, scanUser, WithArgs(true))
	users, err := collect(src.Records(context.Background()))
	c.Assert(err, qt.IsNil)
	c.Assert(users, qt.DeepEquals, []user{{1, "ann"}, {2, "bob"}})
	c.Assert(src.Active(), qt.Equals, 0)
	c.Assert(mock.ExpectationsWereMet(), qt.IsNil)
}

func TestSQLName(t *testing.T) {
	c := qt.New(t)
	src := NewSQL[user](nil, "SELECT id,\n   name FROM a_rather_long_table_name", scanUser)
	c.Assert(src.Name(), qt.Equals, "sql:SELECT id, name FROM a_rather_...")
	c.Assert(NewSQL[user](nil, "SELECT 1", scanUser, WithName("users")).Name(), qt.Equals, "users")
}

func TestSQLEarlyStopClosesRows(t *testing.T) {
	c := qt.New(t)
	db, mock, err := sqlmock.New()
	c.Assert(err, qt.IsNil)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(usersQuery)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).
			AddRow(int64(1), "ann").
			AddRow(int64(2), "bob").
			AddRow(int64(3), "cy")).
		RowsWillBeClosed()

	src := NewSQL(db, usersQuery, scanUser)
	for u, err := range src.Records(context.Background()) {
		c.Assert(err, qt.IsNil)
		c.Assert(u.Name, qt.Equals, "ann")
		break
	}
	c.Assert(src.Active(), qt.Equals, 0)
	c.Assert(mock.ExpectationsWereMet(), qt.IsNil)
}

func TestSQLCloseReleasesActiveCursor(t *testing.T) {
	c := qt.New(t)
	db, mock, err := sqlmock.New()
	c.Assert(err, qt.IsNil)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(usersQuery)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).
			AddRow(int64(1), "ann").
			AddRow(int64(2), "bob"))

	src := NewSQL(db, usersQuery, scanUser)
	next, stop := iter.Pull2(src.Records(context.Background()))
	defer stop()

	u, err, ok := next()
	c.Assert(ok, qt.IsTrue)
	c.Assert(err, qt.IsNil)
	c.Assert(u.ID, qt.Equals, int64(1))
	c.Assert(src.Active(), qt.Equals, 1)

	c.Assert(src.Close(), qt.IsNil)
	c.Assert(src.Active(), qt.Equals, 0)
}

func TestSQLQueryError(t *testing.T) {
	c := qt.New(t)
	db, mock, err := sqlmock.New()
	c.Assert(err, qt.IsNil)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(usersQuery)).WillReturnError(errors.New("no such table: users"))

	_, err = collect(NewSQL(db, usersQuery, scanUser).Records(context.Background()))
	var serr *Error
	c.Assert(errors.As(err, &serr), qt.IsTrue)
	c.Assert(serr.Op, qt.Equals, "query")
	c.Assert(err, qt.ErrorMatches, `source sql:.*: query: no such table: users`)
}

func TestSQLRowError(t *testing.T) {
	c := qt.New(t)
	db, mock, err := sqlmock.New()
	c.Assert(err, qt.IsNil)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(usersQuery)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).
			AddRow(int64(1), "ann").
			AddRow(int64(2), "bob").
			RowError(1, errors.New("connection reset")))

	users, err := collect(NewSQL(db, usersQuery, scanUser).Records(context.Background()))
	c.Assert(users, qt.HasLen, 1)
	c.Assert(err, qt.ErrorMatches, ".*read rows: connection reset")
}

func TestSQLMapperError(t *testing.T) {
	c := qt.New(t)
	db, mock, err := sqlmock.New()
	c.Assert(err, qt.IsNil)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(usersQuery)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(int64(1), "ann"))

	bad := func(*sql.Rows) (user, error) { return user{}, errors.New("bad row") }
	_, err = collect(NewSQL(db, usersQuery, bad).Records(context.Background()))
	c.Assert(err, qt.ErrorMatches, ".*map row: bad row")
}

func TestMapRow(t *testing.T) {
	c := qt.New(t)
	db, mock, err := sqlmock.New()
	c.Assert(err, qt.IsNil)
	defer db.Close()

	mock.ExpectQuery("SELECT").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "avatar"}).
			AddRow(int64(7), []byte("eve"), nil))

	records, err := collect(NewSQL(db, "SELECT * FROM users", MapRow).Records(context.Background()))
	c.Assert(err, qt.IsNil)
	c.Assert(records, qt.DeepEquals, []map[string]any{{"id": int64(7), "name": "eve", "avatar": nil}})
}

func TestCursor(t *testing.T) {
	c := qt.New(t)
	db, mock, err := sqlmock.New()
	c.Assert(err, qt.IsNil)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(usersQuery)).
		WithArgs(false).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(int64(1), "ann"))

	cur, err := OpenCursor(context.Background(), db, usersQuery, scanUser, false)
	c.Assert(err, qt.IsNil)
	defer cur.Close()
	c.Assert(cur.Columns(), qt.DeepEquals, []string{"id", "name"})

	users, err := collect(cur.Records(context.Background()))
	c.Assert(err, qt.IsNil)
	c.Assert(users, qt.HasLen, 1)

	_, err = collect(cur.Records(context.Background()))
	c.Assert(err, qt.ErrorMatches, ".*cursor already consumed")
}

func TestSliceSource(t *testing.T) {
	c := qt.New(t)

	src := NewSlice("users", []user{{1, "ann"}, {2, "bob"}})
	users, err := collect(src.Records(context.Background()))
	c.Assert(err, qt.IsNil)
	c.Assert(users, qt.HasLen, 2)
	c.Assert(src.Name(), qt.Equals, "users")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	users, err = collect(src.Records(ctx))
	c.Assert(err, qt.IsNil)
	c.Assert(users, qt.HasLen, 0)
	c.Assert(src.Close(), qt.IsNil)
}
