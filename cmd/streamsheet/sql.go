package main

import (
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"github.com/ukaji3/streamsheet-go/pkg/streamsheet/source"
)

func newSQLCmd(a *app) *cobra.Command {
	var (
		driver  string
		dsn     string
		query   string
		columns []string
	)
	cmd := &cobra.Command{
		Use:   "sql",
		Short: "Export the result of a SQL query",
		Example: `  streamsheet sql --driver postgres --dsn "$DATABASE_URL" \
    --query "SELECT id, email, created_at FROM users" -o users.xlsx`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			defer a.close()
			ctx := cmd.Context()

			db, err := sql.Open(driver, dsn)
			if err != nil {
				return fmt.Errorf("open %s: %w", driver, err)
			}
			defer db.Close()

			cur, err := source.OpenCursor(ctx, db, query, source.MapRow)
			if err != nil {
				return err
			}
			defer cur.Close()

			names, types := cur.Columns(), cur.DatabaseTypes()
			cols := make([]column, len(names))
			for i, name := range names {
				cols[i] = column{name: name, typ: inferType(types[i])}
			}
			overrides, err := parseColumns(columns)
			if err != nil {
				return err
			}
			if cols, err = override(cols, overrides); err != nil {
				return err
			}

			s, err := mapSchema(sheetName(a, "Query"), cols)
			if err != nil {
				return err
			}
			a.log.WithField("source", cur.Name()).Debug("query executed")
			return export(ctx, a, cmd, s, cur.Records(ctx))
		},
	}
	cmd.Flags().StringVar(&driver, "driver", "postgres", "Database driver: postgres, mysql, sqlite")
	cmd.Flags().StringVar(&dsn, "dsn", "", "Data source name")
	cmd.Flags().StringVar(&query, "query", "", "Query to export")
	cmd.Flags().StringSliceVar(&columns, "column", nil, "Override a column type, as name:type")
	cmd.MarkFlagRequired("dsn")
	cmd.MarkFlagRequired("query")
	return cmd
}

func sheetName(a *app, fallback string) string {
	if a.sheet != "" {
		return a.sheet
	}
	return fallback
}
