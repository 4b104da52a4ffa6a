package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ukaji3/streamsheet-go/pkg/streamsheet/source"
)

func newMongoCmd(a *app) *cobra.Command {
	var (
		uri        string
		database   string
		collection string
		filter     map[string]string
		columns    []string
		batchSize  int32
	)
	cmd := &cobra.Command{
		Use:   "mongo",
		Short: "Export documents of a MongoDB collection",
		Example: `  streamsheet mongo --uri mongodb://localhost:27017 --db app \
    --collection user_activities --filter activityType=LOGIN \
    --column username --column createdAt:date -o logins.xlsx`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			defer a.close()
			ctx := cmd.Context()

			cols, err := parseColumns(columns)
			if err != nil {
				return err
			}
			if len(cols) == 0 {
				return fmt.Errorf("at least one --column is required")
			}
			s, err := mapSchema(sheetName(a, collection), cols)
			if err != nil {
				return err
			}

			f := make(map[string]any, len(filter))
			for k, v := range filter {
				f[k] = v
			}

			connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
			if err != nil {
				return fmt.Errorf("mongodb connect error: %w", err)
			}
			defer client.Disconnect(context.WithoutCancel(ctx))

			src, err := source.NewMongo[bson.M](client.Database(database).Collection(collection),
				source.WithFilter(f),
				source.WithBatchSize(batchSize),
				source.WithMongoLogger(a.log),
			)
			if err != nil {
				return err
			}
			defer src.Close()

			records := func(yield func(map[string]any, error) bool) {
				for doc, err := range src.Records(ctx) {
					if !yield(map[string]any(doc), err) {
						return
					}
				}
			}
			return export(ctx, a, cmd, s, records)
		},
	}
	cmd.Flags().StringVar(&uri, "uri", "mongodb://localhost:27017", "Connection URI")
	cmd.Flags().StringVar(&database, "db", "", "Database name")
	cmd.Flags().StringVar(&collection, "collection", "", "Collection name")
	cmd.Flags().StringToStringVar(&filter, "filter", nil, "Equality filter, as field=value")
	cmd.Flags().StringSliceVar(&columns, "column", nil, "Exported field, as name[:type]")
	cmd.Flags().Int32Var(&batchSize, "batch-size", 500, "Cursor batch size")
	cmd.MarkFlagRequired("db")
	cmd.MarkFlagRequired("collection")
	return cmd
}
