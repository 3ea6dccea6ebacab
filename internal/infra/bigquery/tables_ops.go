package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/walmart-ingestion/internal/logger"
)

// CreateTableWithClient creates an empty table with schema using the provided
// BigQuery client. A table that already exists is logged and left untouched.
func CreateTableWithClient(ctx context.Context, client *bigquery.Client, datasetID, tableID string, schema bigquery.Schema) error {
	log := logger.FromContext(ctx)

	err := client.Dataset(datasetID).Table(tableID).Create(ctx, &bigquery.TableMetadata{
		Schema: schema,
	})
	if isAlreadyExists(err) {
		log.Info().
			Str("dataset", datasetID).
			Str("table", tableID).
			Msg("Table already exists")
		return nil
	}
	if err != nil {
		return fmt.Errorf("CreateTable: creating table %s.%s: %w", datasetID, tableID, err)
	}

	log.Info().
		Str("dataset", datasetID).
		Str("table", tableID).
		Int("columns", len(schema)).
		Msg("Table created")
	return nil
}

// TableSchemaWithClient reads the live schema of a table using the provided BigQuery client.
func TableSchemaWithClient(ctx context.Context, client *bigquery.Client, datasetID, tableID string) (bigquery.Schema, error) {
	md, err := client.Dataset(datasetID).Table(tableID).Metadata(ctx)
	if isNotFound(err) {
		return nil, fmt.Errorf("TableSchema: table %s.%s does not exist: %w", datasetID, tableID, err)
	}
	if err != nil {
		return nil, fmt.Errorf("TableSchema: reading metadata for %s.%s: %w", datasetID, tableID, err)
	}
	return md.Schema, nil
}
