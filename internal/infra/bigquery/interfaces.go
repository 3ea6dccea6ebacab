package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	bq "github.com/dvloznov/walmart-ingestion/internal/bigquery"
)

// Re-export interfaces and types from the shared package so callers only need one import.
type (
	Warehouse       = bq.Warehouse
	RunRecorder     = bq.RunRecorder
	LoadRequest     = bq.LoadRequest
	LoadResult      = bq.LoadResult
	QueryResult     = bq.QueryResult
	IngestionRunRow = bq.IngestionRunRow
)

// BigQueryWarehouse is the concrete implementation of Warehouse and RunRecorder
// that interacts with BigQuery. It holds a shared BigQuery client to avoid
// creating a new connection for each operation.
type BigQueryWarehouse struct {
	client    *bigquery.Client
	projectID string

	// audit table location, used by the RunRecorder methods
	runsDataset string
	runsTable   string
}

// NewBigQueryWarehouse creates a new instance of BigQueryWarehouse
// with a shared BigQuery client.
func NewBigQueryWarehouse(ctx context.Context, projectID string) (*BigQueryWarehouse, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("NewBigQueryWarehouse: creating client: %w", err)
	}
	return &BigQueryWarehouse{
		client:    client,
		projectID: projectID,
	}, nil
}

// WithRunsTable sets the dataset and table the run audit rows are written to.
func (w *BigQueryWarehouse) WithRunsTable(datasetID, tableID string) *BigQueryWarehouse {
	w.runsDataset = datasetID
	w.runsTable = tableID
	return w
}

// Close closes the BigQuery client connection. This should be called when
// the warehouse is no longer needed to release resources.
func (w *BigQueryWarehouse) Close() error {
	if w.client != nil {
		return w.client.Close()
	}
	return nil
}

// CreateDataset delegates to CreateDatasetWithClient with the shared client.
func (w *BigQueryWarehouse) CreateDataset(ctx context.Context, datasetID, location string) error {
	return CreateDatasetWithClient(ctx, w.client, datasetID, location)
}

// CreateTable delegates to CreateTableWithClient with the shared client.
func (w *BigQueryWarehouse) CreateTable(ctx context.Context, datasetID, tableID string, schema bigquery.Schema) error {
	return CreateTableWithClient(ctx, w.client, datasetID, tableID, schema)
}

// LoadFromGCS delegates to LoadFromGCSWithClient with the shared client.
func (w *BigQueryWarehouse) LoadFromGCS(ctx context.Context, req LoadRequest) (*LoadResult, error) {
	return LoadFromGCSWithClient(ctx, w.client, req)
}

// RunQuery delegates to RunQueryWithClient with the shared client.
func (w *BigQueryWarehouse) RunQuery(ctx context.Context, sql, location string) (*QueryResult, error) {
	return RunQueryWithClient(ctx, w.client, sql, location)
}

// TableSchema delegates to TableSchemaWithClient with the shared client.
func (w *BigQueryWarehouse) TableSchema(ctx context.Context, datasetID, tableID string) (bigquery.Schema, error) {
	return TableSchemaWithClient(ctx, w.client, datasetID, tableID)
}

// StartIngestionRun delegates to StartIngestionRunWithClient with the shared client.
func (w *BigQueryWarehouse) StartIngestionRun(ctx context.Context, row *IngestionRunRow) error {
	return StartIngestionRunWithClient(ctx, w.client, w.runsRef(), row)
}

// MarkIngestionRunFailed delegates to MarkIngestionRunFailedWithClient with the shared client.
func (w *BigQueryWarehouse) MarkIngestionRunFailed(ctx context.Context, runID string, runErr error) {
	MarkIngestionRunFailedWithClient(ctx, w.client, w.runsRef(), runID, runErr)
}

// MarkIngestionRunSucceeded delegates to MarkIngestionRunSucceededWithClient with the shared client.
func (w *BigQueryWarehouse) MarkIngestionRunSucceeded(ctx context.Context, runID string, mergedRows int64) error {
	return MarkIngestionRunSucceededWithClient(ctx, w.client, w.runsRef(), runID, mergedRows)
}

func (w *BigQueryWarehouse) runsRef() string {
	return tableRef(w.projectID, w.runsDataset, w.runsTable)
}

// tableRef renders a backtick-quoted fully qualified table reference.
func tableRef(projectID, datasetID, tableID string) string {
	return fmt.Sprintf("`%s.%s.%s`", projectID, datasetID, tableID)
}

// Ensure BigQueryWarehouse implements both interfaces.
var _ Warehouse = (*BigQueryWarehouse)(nil)
var _ RunRecorder = (*BigQueryWarehouse)(nil)
