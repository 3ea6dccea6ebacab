package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/walmart-ingestion/internal/logger"
)

// CreateDatasetWithClient creates an empty dataset in location using the provided
// BigQuery client. A dataset that already exists is logged and treated as success.
func CreateDatasetWithClient(ctx context.Context, client *bigquery.Client, datasetID, location string) error {
	log := logger.FromContext(ctx)

	err := client.Dataset(datasetID).Create(ctx, &bigquery.DatasetMetadata{
		Location: location,
	})
	if isAlreadyExists(err) {
		log.Info().
			Str("dataset", datasetID).
			Msg("Dataset already exists")
		return nil
	}
	if err != nil {
		return fmt.Errorf("CreateDataset: creating dataset %s: %w", datasetID, err)
	}

	log.Info().
		Str("dataset", datasetID).
		Str("location", location).
		Msg("Dataset created")
	return nil
}
