package bigquery

import (
	"context"
	"time"

	"cloud.google.com/go/bigquery"
)

// Warehouse provides an interface for the warehouse operations the ingestion
// workflow needs: DDL, bulk loads from object storage and query jobs.
type Warehouse interface {
	// CreateDataset creates the dataset in the given location. An existing dataset is not an error.
	CreateDataset(ctx context.Context, datasetID, location string) error

	// CreateTable creates an empty table with the schema. An existing table is not an error.
	CreateTable(ctx context.Context, datasetID, tableID string, schema bigquery.Schema) error

	// LoadFromGCS runs a load job from storage URIs into a table and waits for it.
	LoadFromGCS(ctx context.Context, req LoadRequest) (*LoadResult, error)

	// RunQuery runs a standard SQL query job and waits for it.
	RunQuery(ctx context.Context, sql, location string) (*QueryResult, error)

	// TableSchema returns the live schema of a table.
	TableSchema(ctx context.Context, datasetID, tableID string) (bigquery.Schema, error)
}

// RunRecorder records workflow runs in the warehouse.
type RunRecorder interface {
	// StartIngestionRun inserts a run with status=RUNNING.
	StartIngestionRun(ctx context.Context, row *IngestionRunRow) error

	// MarkIngestionRunFailed sets status=FAILED, finished_ts and error_message. Errors are only logged.
	MarkIngestionRunFailed(ctx context.Context, runID string, runErr error)

	// MarkIngestionRunSucceeded sets status=SUCCESS, finished_ts and merged_rows.
	MarkIngestionRunSucceeded(ctx context.Context, runID string, mergedRows int64) error
}

// LoadRequest describes one truncate-and-replace load job.
type LoadRequest struct {
	SourceURIs []string
	DatasetID  string
	TableID    string
	Schema     bigquery.Schema
	Location   string

	// Format defaults to newline-delimited JSON.
	Format bigquery.DataFormat
	// WriteDisposition defaults to WRITE_TRUNCATE.
	WriteDisposition bigquery.TableWriteDisposition
	// MaxBadRecords tolerated before the job fails. Zero means none.
	MaxBadRecords int64
}

// LoadResult summarises a finished load job.
type LoadResult struct {
	JobID      string
	OutputRows int64
	InputFiles int64
	InputBytes int64
}

// QueryResult summarises a finished query job.
type QueryResult struct {
	JobID        string
	AffectedRows int64
	InsertedRows int64
	UpdatedRows  int64
	DeletedRows  int64
	BytesBilled  int64
}

// Run statuses stored in ingestion_runs.status.
const (
	RunStatusRunning = "RUNNING"
	RunStatusSuccess = "SUCCESS"
	RunStatusFailed  = "FAILED"
)

// MerchantRow is one row of merchants_tb.
type MerchantRow struct {
	MerchantID string `bigquery:"merchant_id"` // REQUIRED

	MerchantName     bigquery.NullString    `bigquery:"merchant_name"`
	MerchantCategory bigquery.NullString    `bigquery:"merchant_category"`
	MerchantCountry  bigquery.NullString    `bigquery:"merchant_country"`
	LastUpdate       bigquery.NullTimestamp `bigquery:"last_update"`
}

// SaleStageRow is one row of walmart_sales_stage.
type SaleStageRow struct {
	SaleID string `bigquery:"sale_id"` // REQUIRED

	SaleDate        bigquery.NullDate      `bigquery:"sale_date"`
	ProductID       bigquery.NullString    `bigquery:"product_id"`
	QuantitySold    bigquery.NullInt64     `bigquery:"quantity_sold"`
	TotalSaleAmount bigquery.NullFloat64   `bigquery:"total_sale_amount"`
	MerchantID      bigquery.NullString    `bigquery:"merchant_id"` // references merchants_tb
	LastUpdate      bigquery.NullTimestamp `bigquery:"last_update"`
}

// SaleTargetRow is one row of walmart_sales_tgt: a sale denormalized with its merchant.
type SaleTargetRow struct {
	SaleID string `bigquery:"sale_id"` // REQUIRED

	SaleDate         bigquery.NullDate      `bigquery:"sale_date"`
	ProductID        bigquery.NullString    `bigquery:"product_id"`
	QuantitySold     bigquery.NullInt64     `bigquery:"quantity_sold"`
	TotalSaleAmount  bigquery.NullFloat64   `bigquery:"total_sale_amount"`
	MerchantID       bigquery.NullString    `bigquery:"merchant_id"`
	MerchantName     bigquery.NullString    `bigquery:"merchant_name"`
	MerchantCategory bigquery.NullString    `bigquery:"merchant_category"`
	MerchantCountry  bigquery.NullString    `bigquery:"merchant_country"`
	LastUpdate       bigquery.NullTimestamp `bigquery:"last_update"`
}

// IngestionRunRow is one row of the ingestion_runs audit table.
type IngestionRunRow struct {
	RunID     string    `bigquery:"run_id"`
	DAGID     string    `bigquery:"dag_id"`
	StartedTS time.Time `bigquery:"started_ts"`
	Status    string    `bigquery:"status"`

	FinishedTS   bigquery.NullTimestamp `bigquery:"finished_ts"`
	ErrorMessage bigquery.NullString    `bigquery:"error_message"`
	MergedRows   bigquery.NullInt64     `bigquery:"merged_rows"`
}
