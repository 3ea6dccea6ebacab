package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	bq "github.com/dvloznov/walmart-ingestion/internal/bigquery"
	"github.com/dvloznov/walmart-ingestion/internal/logger"
)

// maxErrorMessageLen caps the stored error_message.
const maxErrorMessageLen = 2000

// StartIngestionRunWithClient inserts a row into the runs table with status=RUNNING
// using the provided BigQuery client. runsRef is a backtick-quoted table reference.
func StartIngestionRunWithClient(ctx context.Context, client *bigquery.Client, runsRef string, row *IngestionRunRow) error {
	if row.StartedTS.IsZero() {
		row.StartedTS = time.Now()
	}
	row.Status = bq.RunStatusRunning

	q := client.Query(fmt.Sprintf(`
		INSERT %s (
			run_id,
			dag_id,
			started_ts,
			status
		)
		VALUES (
			@run_id,
			@dag_id,
			@started_ts,
			@status
		)
	`, runsRef))

	q.Parameters = []bigquery.QueryParameter{
		{Name: "run_id", Value: row.RunID},
		{Name: "dag_id", Value: row.DAGID},
		{Name: "started_ts", Value: row.StartedTS},
		{Name: "status", Value: row.Status},
	}

	if err := runAndWait(ctx, q); err != nil {
		return fmt.Errorf("StartIngestionRun: %w", err)
	}
	return nil
}

// MarkIngestionRunFailedWithClient sets status=FAILED, finished_ts and error_message
// using the provided BigQuery client. Failures are only logged.
func MarkIngestionRunFailedWithClient(ctx context.Context, client *bigquery.Client, runsRef, runID string, runErr error) {
	log := logger.FromContext(ctx)

	errMsg := ""
	if runErr != nil {
		errMsg = runErr.Error()
		if len(errMsg) > maxErrorMessageLen {
			errMsg = errMsg[:maxErrorMessageLen]
		}
	}

	q := client.Query(fmt.Sprintf(`
		UPDATE %s
		SET status = @status,
		    finished_ts = @finished_ts,
		    error_message = @error_message
		WHERE run_id = @run_id
	`, runsRef))

	q.Parameters = []bigquery.QueryParameter{
		{Name: "status", Value: bq.RunStatusFailed},
		{Name: "finished_ts", Value: time.Now()},
		{Name: "error_message", Value: errMsg},
		{Name: "run_id", Value: runID},
	}

	if err := runAndWait(ctx, q); err != nil {
		log.Error().
			Err(err).
			Str("run_id", runID).
			Msg("MarkIngestionRunFailed: updating run")
	}
}

// MarkIngestionRunSucceededWithClient sets status=SUCCESS, finished_ts and merged_rows
// using the provided BigQuery client.
func MarkIngestionRunSucceededWithClient(ctx context.Context, client *bigquery.Client, runsRef, runID string, mergedRows int64) error {
	q := client.Query(fmt.Sprintf(`
		UPDATE %s
		SET status = @status,
		    finished_ts = @finished_ts,
		    merged_rows = @merged_rows,
		    error_message = NULL
		WHERE run_id = @run_id
	`, runsRef))

	q.Parameters = []bigquery.QueryParameter{
		{Name: "status", Value: bq.RunStatusSuccess},
		{Name: "finished_ts", Value: time.Now()},
		{Name: "merged_rows", Value: mergedRows},
		{Name: "run_id", Value: runID},
	}

	if err := runAndWait(ctx, q); err != nil {
		return fmt.Errorf("MarkIngestionRunSucceeded: %w", err)
	}
	return nil
}

func runAndWait(ctx context.Context, q *bigquery.Query) error {
	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("running query: %w", err)
	}

	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("job error: %w", err)
	}
	return nil
}
