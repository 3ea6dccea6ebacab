package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/walmart-ingestion/internal/logger"
)

// RunQueryWithClient runs a standard SQL query job in location using the
// provided BigQuery client and waits for it to finish.
func RunQueryWithClient(ctx context.Context, client *bigquery.Client, sql, location string) (*QueryResult, error) {
	log := logger.FromContext(ctx)

	q := client.Query(sql)
	q.Location = location

	job, err := q.Run(ctx)
	if err != nil {
		return nil, fmt.Errorf("RunQuery: running query: %w", err)
	}

	log.Debug().
		Str("job_id", job.ID()).
		Msg("Query job submitted")

	status, err := job.Wait(ctx)
	if err != nil {
		return nil, fmt.Errorf("RunQuery: waiting for job %s: %w", job.ID(), err)
	}
	if err := status.Err(); err != nil {
		return nil, fmt.Errorf("RunQuery: job %s error: %w", job.ID(), err)
	}

	return queryResult(job.ID(), status), nil
}

func queryResult(jobID string, status *bigquery.JobStatus) *QueryResult {
	result := &QueryResult{JobID: jobID}
	if status == nil || status.Statistics == nil {
		return result
	}
	qs, ok := status.Statistics.Details.(*bigquery.QueryStatistics)
	if !ok {
		return result
	}

	result.AffectedRows = qs.NumDMLAffectedRows
	result.BytesBilled = qs.TotalBytesBilled
	if qs.DMLStats != nil {
		result.InsertedRows = qs.DMLStats.InsertedRowCount
		result.UpdatedRows = qs.DMLStats.UpdatedRowCount
		result.DeletedRows = qs.DMLStats.DeletedRowCount
	}
	return result
}
