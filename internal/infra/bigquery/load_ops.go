package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/walmart-ingestion/internal/logger"
)

// newLoader configures a load job from storage into the request's table.
// Format defaults to newline-delimited JSON and the write disposition to
// WRITE_TRUNCATE, so a successful load replaces the table contents.
func newLoader(client *bigquery.Client, req LoadRequest) *bigquery.Loader {
	gcsRef := bigquery.NewGCSReference(req.SourceURIs...)
	gcsRef.SourceFormat = req.Format
	if gcsRef.SourceFormat == "" {
		gcsRef.SourceFormat = bigquery.JSON
	}
	gcsRef.Schema = req.Schema
	gcsRef.MaxBadRecords = req.MaxBadRecords

	loader := client.Dataset(req.DatasetID).Table(req.TableID).LoaderFrom(gcsRef)
	loader.WriteDisposition = req.WriteDisposition
	if loader.WriteDisposition == "" {
		loader.WriteDisposition = bigquery.WriteTruncate
	}
	loader.CreateDisposition = bigquery.CreateIfNeeded
	loader.Location = req.Location
	return loader
}

// LoadFromGCSWithClient runs a load job using the provided BigQuery client and
// waits for it to finish.
func LoadFromGCSWithClient(ctx context.Context, client *bigquery.Client, req LoadRequest) (*LoadResult, error) {
	log := logger.FromContext(ctx)

	if len(req.SourceURIs) == 0 {
		return nil, fmt.Errorf("LoadFromGCS: no source URIs for %s.%s", req.DatasetID, req.TableID)
	}

	job, err := newLoader(client, req).Run(ctx)
	if err != nil {
		return nil, fmt.Errorf("LoadFromGCS: starting load job: %w", err)
	}

	log.Info().
		Str("job_id", job.ID()).
		Strs("source_uris", req.SourceURIs).
		Str("table", req.DatasetID+"."+req.TableID).
		Msg("Load job submitted")

	status, err := job.Wait(ctx)
	if err != nil {
		return nil, fmt.Errorf("LoadFromGCS: waiting for job %s: %w", job.ID(), err)
	}
	if err := status.Err(); err != nil {
		return nil, fmt.Errorf("LoadFromGCS: job %s error: %w", job.ID(), err)
	}

	result := &LoadResult{JobID: job.ID()}
	if status.Statistics != nil {
		if ls, ok := status.Statistics.Details.(*bigquery.LoadStatistics); ok {
			result.OutputRows = ls.OutputRows
			result.InputFiles = ls.InputFiles
			result.InputBytes = ls.InputFileBytes
		}
	}

	log.Info().
		Str("job_id", result.JobID).
		Str("table", req.DatasetID+"."+req.TableID).
		Int64("output_rows", result.OutputRows).
		Msg("Load job completed")

	return result, nil
}
