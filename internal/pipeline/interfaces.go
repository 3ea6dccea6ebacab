package pipeline

import (
	bq "github.com/dvloznov/walmart-ingestion/internal/bigquery"
	"github.com/dvloznov/walmart-ingestion/internal/gcs"
)

// Warehouse is the BigQuery surface the tasks drive.
type Warehouse = bq.Warehouse

// RunRecorder writes audit rows for a run. Optional.
type RunRecorder = bq.RunRecorder

// StorageService is used for pre-flight checks on the source objects. Optional.
type StorageService = gcs.StorageService
