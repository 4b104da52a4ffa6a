package main

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/google/go-cmp/cmp"

	"github.com/ukaji3/streamsheet-go/internal/xlsxtest"
	"github.com/ukaji3/streamsheet-go/pkg/streamsheet/models"
)

func execute(c *qt.C, args ...string) (string, error) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(append(args, "--log-level", "error"))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSQLCommand(t *testing.T) {
	c := qt.New(t)
	dir := c.TempDir()
	dsn := filepath.Join(dir, "shop.db")

	db, err := sql.Open("sqlite", dsn)
	c.Assert(err, qt.IsNil)
	_, err = db.Exec(`CREATE TABLE items (id INTEGER, name TEXT, price REAL)`)
	c.Assert(err, qt.IsNil)
	for i := 1; i <= 7; i++ {
		_, err := db.Exec(`INSERT INTO items VALUES (?, ?, ?)`, i, fmt.Sprintf("item %d", i), float64(i)+0.5)
		c.Assert(err, qt.IsNil)
	}
	_, err = db.Exec(`INSERT INTO items VALUES (8, '@SUM(1+1)', 1)`)
	c.Assert(err, qt.IsNil)
	c.Assert(db.Close(), qt.IsNil)

	path := filepath.Join(dir, "items.xlsx")
	out, err := execute(c, "sql", "--driver", "sqlite", "--dsn", dsn,
		"--query", "SELECT id, name, price FROM items ORDER BY id",
		"--sheet", "Items", "--window", "3", "-o", path)
	c.Assert(err, qt.IsNil)
	c.Assert(out, qt.Matches, `wrote 8 rows in 3 batches to .*items\.xlsx \(.*\)\n`)

	sheet, err := xlsxtest.ReadFile(path)
	c.Assert(err, qt.IsNil)
	c.Assert(sheet.Name, qt.Equals, "Items")
	c.Assert(sheet.Rows, qt.HasLen, 9)
	c.Assert(sheet.Rows[0], qt.DeepEquals, []any{"id", "name", "price"})
	c.Assert(sheet.Rows[1], qt.DeepEquals, []any{int64(1), "item 1", 1.5})
	c.Assert(sheet.Rows[8][1], qt.Equals, "'@SUM(1+1)")
}

func TestSQLCommandErrors(t *testing.T) {
	c := qt.New(t)
	dsn := filepath.Join(c.TempDir(), "empty.db")

	_, err := execute(c, "sql", "--driver", "sqlite", "--dsn", dsn, "--query", "SELECT * FROM missing")
	c.Assert(err, qt.ErrorMatches, `.*no such table: missing.*`)

	_, err = execute(c, "sql", "--driver", "sqlite", "--dsn", dsn, "--query", "SELECT 1 AS one", "--column", "two:number", "--dry-run")
	c.Assert(err, qt.ErrorMatches, `column "two" is not in the result set`)

	_, err = execute(c, "sql", "--driver", "sqlite", "--dsn", dsn)
	c.Assert(err, qt.ErrorMatches, `required flag\(s\) "query" not set`)
}

// These fail before the first round trip, so no server is needed.
func TestMongoCommandErrors(t *testing.T) {
	c := qt.New(t)

	_, err := execute(c, "mongo", "--db", "app", "--collection", "events")
	c.Assert(err, qt.ErrorMatches, `at least one --column is required`)

	_, err = execute(c, "mongo", "--db", "app", "--collection", "events",
		"--column", "user", "--filter", "$where=1", "--dry-run")
	c.Assert(err, qt.ErrorMatches, `invalid filter.key \$where: must contain only alphanumeric characters, dots, and underscores`)

	_, err = execute(c, "mongo", "--collection", "events", "--column", "user")
	c.Assert(err, qt.ErrorMatches, `required flag\(s\) "db" not set`)
}

func TestDemoDryRun(t *testing.T) {
	c := qt.New(t)
	out, err := execute(c, "demo", "--rows", "250", "--dry-run", "--window", "50", "--flush-batch", "25")
	c.Assert(err, qt.IsNil)
	c.Assert(out, qt.Matches, `wrote 250 rows in 10 batches to \(dry run\) .*\n`)
}

func TestDemoMaxRows(t *testing.T) {
	c := qt.New(t)
	out, err := execute(c, "demo", "--rows", "10", "--dry-run", "--max-rows", "4")
	c.Assert(err, qt.IsNil)
	c.Assert(out, qt.Contains, "wrote 4 rows")
	c.Assert(out, qt.Contains, "row limit reached, output truncated")
}

func TestDemoWorkbook(t *testing.T) {
	c := qt.New(t)
	path := filepath.Join(c.TempDir(), "activity.xlsx")
	_, err := execute(c, "demo", "--rows", "120", "--seed", "7", "-o", path)
	c.Assert(err, qt.IsNil)

	sheet, err := xlsxtest.ReadFile(path)
	c.Assert(err, qt.IsNil)
	c.Assert(sheet.Name, qt.Equals, "User Activity")
	c.Assert(sheet.Rows, qt.HasLen, 121)
	c.Assert(sheet.Rows[0], qt.DeepEquals, []any{"ID", "Username", "Activity", "Description", "Duration (ms)", "Success", "Created At"})
	c.Assert(strings.HasPrefix(sheet.Rows[100][3].(string), "'=HYPERLINK("), qt.IsTrue)
	c.Assert(sheet.Widths[3], qt.Equals, 60.0)
}

func TestDemoUpload(t *testing.T) {
	c := qt.New(t)
	dir := c.TempDir()
	out, err := execute(c, "demo", "--rows", "10", "--upload", "--storage-dir", dir)
	c.Assert(err, qt.IsNil)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	c.Assert(lines, qt.HasLen, 2)
	c.Assert(lines[0], qt.Matches, `job [0-9a-f-]{36} COMPLETED: 10 rows in 1 batches`)
	u, err := url.Parse(lines[1])
	c.Assert(err, qt.IsNil)
	c.Assert(u.Scheme, qt.Equals, "file")
	c.Assert(filepath.Dir(filepath.FromSlash(u.Path)), qt.Equals, dir)

	sheet, err := xlsxtest.ReadFile(filepath.FromSlash(u.Path))
	c.Assert(err, qt.IsNil)
	c.Assert(sheet.Rows, qt.HasLen, 11)
}

func TestConfigCommand(t *testing.T) {
	c := qt.New(t)
	out, err := execute(c, "config", "--preset", "high_quality", "--on-error", "skip")
	c.Assert(err, qt.IsNil)
	c.Assert(out, qt.Contains, "row_access_window_size: 200")
	c.Assert(out, qt.Contains, "failure_policy: skip")
	c.Assert(out, qt.Contains, "preset: high_quality")
}

func TestInvalidExportFlags(t *testing.T) {
	c := qt.New(t)
	_, err := execute(c, "demo", "--on-error", "retry", "--dry-run")
	c.Assert(err, qt.ErrorMatches, `invalid export config: failure_policy .*`)

	_, err = execute(c, "demo", "--window", "-5", "--dry-run")
	c.Assert(err, qt.ErrorMatches, `invalid export config: row_access_window_size must be positive`)
}

func TestParseColumns(t *testing.T) {
	c := qt.New(t)
	cols, err := parseColumns([]string{"username", "createdAt:date", " total : number"})
	c.Assert(err, qt.IsNil)
	c.Assert(cols, qt.CmpEquals(cmp.AllowUnexported(column{})), []column{
		{name: "username", typ: models.TypeText},
		{name: "createdAt", typ: models.TypeDate},
		{name: "total", typ: models.TypeNumber},
	})

	_, err = parseColumns([]string{":number"})
	c.Assert(err, qt.ErrorMatches, `invalid column ":number": empty name`)
	_, err = parseColumns([]string{"x:money"})
	c.Assert(err, qt.ErrorMatches, `invalid column "x:money": unknown cell type "money"`)
}

func TestInferType(t *testing.T) {
	c := qt.New(t)
	tests := map[string]models.CellType{
		"":            models.TypeText,
		"INTEGER":     models.TypeNumber,
		"int8":        models.TypeNumber,
		"NUMERIC":     models.TypeNumber,
		"DECIMAL":     models.TypeNumber,
		"DOUBLE":      models.TypeNumber,
		"BOOL":        models.TypeBoolean,
		"TIMESTAMPTZ": models.TypeDate,
		"DATE":        models.TypeDate,
		"VARCHAR":     models.TypeText,
		"TEXT":        models.TypeText,
	}
	for in, want := range tests {
		c.Check(inferType(in), qt.Equals, want, qt.Commentf("type %q", in))
	}
}
