package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"cloud.google.com/go/bigquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bq "github.com/dvloznov/walmart-ingestion/internal/bigquery"
	"github.com/dvloznov/walmart-ingestion/internal/config"
	"github.com/dvloznov/walmart-ingestion/internal/pipeline"
)

type fakeWarehouse struct {
	mu      sync.Mutex
	calls   []string
	failOn  map[string]error
	schemas map[string]bigquery.Schema
}

func (f *fakeWarehouse) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.failOn[call]
}

func (f *fakeWarehouse) CreateDataset(ctx context.Context, datasetID, location string) error {
	return f.record("dataset:" + datasetID)
}

func (f *fakeWarehouse) CreateTable(ctx context.Context, datasetID, tableID string, schema bigquery.Schema) error {
	return f.record("table:" + tableID)
}

func (f *fakeWarehouse) LoadFromGCS(ctx context.Context, req bq.LoadRequest) (*bq.LoadResult, error) {
	if err := f.record("load:" + req.TableID); err != nil {
		return nil, err
	}
	return &bq.LoadResult{JobID: "job-" + req.TableID, OutputRows: 3}, nil
}

func (f *fakeWarehouse) RunQuery(ctx context.Context, sql, location string) (*bq.QueryResult, error) {
	if err := f.record("query"); err != nil {
		return nil, err
	}
	return &bq.QueryResult{JobID: "job-merge", AffectedRows: 3, InsertedRows: 2, UpdatedRows: 1}, nil
}

func (f *fakeWarehouse) TableSchema(ctx context.Context, datasetID, tableID string) (bigquery.Schema, error) {
	if err := f.record("schema:" + tableID); err != nil {
		return nil, err
	}
	return f.schemas[tableID], nil
}

type fakeStorage struct {
	mu       sync.Mutex
	objects  map[string]string
	uploaded []string
}

func (s *fakeStorage) ObjectExists(ctx context.Context, gcsURI string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[gcsURI]
	return ok, nil
}

func (s *fakeStorage) UploadFile(ctx context.Context, bucketName, objectName, filePath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploaded = append(s.uploaded, "gs://"+bucketName+"/"+objectName)
	return nil
}

func (s *fakeStorage) OpenObject(ctx context.Context, gcsURI string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	body, ok := s.objects[gcsURI]
	if !ok {
		return nil, errors.New("object not found: " + gcsURI)
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

const (
	validMerchants = `{"merchant_id":"M1","merchant_name":"Acme","merchant_category":"Grocery","merchant_country":"US","last_update":"2024-01-01 10:00:00"}
{"merchant_id":"M2","merchant_name":"Globex","merchant_category":"Toys","merchant_country":"CA","last_update":"2024-01-02T08:30:00Z"}
`
	validSales = `{"sale_id":"S1","sale_date":"2024-01-05","product_id":"P1","quantity_sold":2,"total_sale_amount":19.98,"merchant_id":"M1","last_update":"2024-01-05 12:00:00"}
`
	invalidSales = `{"sale_id":"S1","sale_date":"05/01/2024","quantity_sold":1.5}
`
)

func defaultObjects() map[string]string {
	return map[string]string{
		"gs://" + config.DefaultBucket + "/" + config.DefaultMerchantsObject: validMerchants,
		"gs://" + config.DefaultBucket + "/" + config.DefaultSalesObject:     validSales,
	}
}

type harness struct {
	warehouse *fakeWarehouse
	storage   *fakeStorage
	opened    int
}

func newHarness() *harness {
	return &harness{
		warehouse: &fakeWarehouse{},
		storage:   &fakeStorage{objects: defaultObjects()},
	}
}

func (h *harness) factory(ctx context.Context, cfg *config.Config) (*Clients, error) {
	h.opened++
	return &Clients{Warehouse: h.warehouse, Storage: h.storage}, nil
}

func execute(t *testing.T, factory ClientFactory, args ...string) (string, error) {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	var out bytes.Buffer
	cmd := NewRootCmd(factory)
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err = cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestRun_Success(t *testing.T) {
	h := newHarness()

	out, err := execute(t, h.factory, "run", "--run-id", "r1")
	require.NoError(t, err)

	assert.Contains(t, out, "DAG Walmart_Data_Ingestion run r1: success")
	assert.Contains(t, out, pipeline.TaskMergeSales)
	assert.Contains(t, out, "Merged 3 rows (2 inserted, 1 updated)")
	assert.Contains(t, h.warehouse.calls, "load:"+config.DefaultMerchantsTable)
	assert.Contains(t, h.warehouse.calls, "query")
	assert.Equal(t, 1, h.opened)
}

func TestRun_FailureExitsWithError(t *testing.T) {
	h := newHarness()
	h.warehouse.failOn = map[string]error{"load:" + config.DefaultSalesStageTable: errors.New("bad record")}

	out, err := execute(t, h.factory, "run", "--output", "json")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad record")

	var view outcomeView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Equal(t, "failed", string(view.State))

	states := map[string]string{}
	for _, task := range view.Tasks {
		states[task.ID] = string(task.State)
	}
	assert.Equal(t, "failed", states[pipeline.TaskLoadSales])
	assert.Equal(t, "success", states[pipeline.TaskLoadMerchants])
	assert.Equal(t, "upstream_failed", states[pipeline.TaskMergeSales])
	assert.NotContains(t, h.warehouse.calls, "query")
}

func TestRun_MissingSourceFailsPreflight(t *testing.T) {
	h := newHarness()
	h.storage.objects = map[string]string{}

	_, err := execute(t, h.factory, "load")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")

	_, err = execute(t, h.factory, "load", "--preflight=false")
	require.NoError(t, err)
}

func TestProvision_OnlyCreates(t *testing.T) {
	h := newHarness()

	_, err := execute(t, h.factory, "provision", "--dataset", "dwh_test")
	require.NoError(t, err)
	assert.Equal(t, "dataset:dwh_test", h.warehouse.calls[0])
	for _, call := range h.warehouse.calls {
		assert.False(t, strings.HasPrefix(call, "load:"), call)
	}
	assert.NotContains(t, h.warehouse.calls, "query")
}

func TestMerge_Print(t *testing.T) {
	h := newHarness()

	out, err := execute(t, h.factory, "merge", "--print", "--project", "proj", "--dataset", "dwh")
	require.NoError(t, err)
	assert.Contains(t, out, "MERGE `proj.dwh.walmart_sales_tgt` T")
	assert.Contains(t, out, "LEFT JOIN `proj.dwh.merchants_tb` M")
	assert.Equal(t, 0, h.opened, "printing must not open clients")
}

func TestDAG_JSON(t *testing.T) {
	out, err := execute(t, newHarness().factory, "dag", "-o", "json")
	require.NoError(t, err)

	var view struct {
		DAGID string `json:"dag_id"`
		Tasks []struct {
			ID       string   `json:"task_id"`
			Upstream []string `json:"upstream"`
		} `json:"tasks"`
		Levels [][]string `json:"levels"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Equal(t, config.DefaultDAGID, view.DAGID)
	assert.Len(t, view.Tasks, 7)
	require.NotEmpty(t, view.Levels)
	assert.Equal(t, []string{pipeline.TaskCreateDataset}, view.Levels[0])
	assert.Equal(t, []string{pipeline.TaskMergeSales}, view.Levels[len(view.Levels)-1])
}

func TestDAG_UnknownPhase(t *testing.T) {
	_, err := execute(t, newHarness().factory, "dag", "--phase", "nope")
	require.Error(t, err)
	assert.True(t, errors.Is(err, pipeline.ErrUnknownPhase))
}

func TestVerify(t *testing.T) {
	h := newHarness()
	h.warehouse.schemas = map[string]bigquery.Schema{
		config.DefaultMerchantsTable:  bq.MerchantsSchema(),
		config.DefaultSalesStageTable: bq.SalesStageSchema(),
		config.DefaultTargetTable:     bq.SalesTargetSchema(),
	}

	out, err := execute(t, h.factory, "verify")
	require.NoError(t, err)
	assert.Contains(t, out, config.DefaultTargetTable+": OK")

	h.warehouse.schemas[config.DefaultTargetTable] = bq.SalesStageSchema()
	out, err = execute(t, h.factory, "verify")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 3 tables")
	assert.Contains(t, out, "merchant_name")
}

func TestValidate_LocalFiles(t *testing.T) {
	merchants := writeFile(t, "merchants.json", validMerchants)
	sales := writeFile(t, "sales.json", invalidSales)

	out, err := execute(t, nil, "validate", "--merchants", merchants)
	require.NoError(t, err)
	assert.Contains(t, out, "OK (2 records)")

	out, err = execute(t, nil, "validate", "--merchants", merchants, "--sales", sales)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 source(s) failed validation")
	assert.Contains(t, out, "invalid date")
	assert.Contains(t, out, "expected integer, got 1.5")
}

func TestValidate_GCS(t *testing.T) {
	h := newHarness()

	out, err := execute(t, h.factory, "validate", "--gcs")
	require.NoError(t, err)
	assert.Contains(t, out, "gs://"+config.DefaultBucket+"/"+config.DefaultSalesObject+": OK (1 records)")
}

func TestValidate_NothingToDo(t *testing.T) {
	_, err := execute(t, nil, "validate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nothing to validate")
}

func TestUpload(t *testing.T) {
	h := newHarness()
	merchants := writeFile(t, "merchants.json", validMerchants)
	sales := writeFile(t, "sales.json", invalidSales)

	_, err := execute(t, h.factory, "upload", "--merchants", merchants, "--sales", sales)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--skip-validate")
	assert.Empty(t, h.storage.uploaded)

	_, err = execute(t, h.factory, "upload", "--merchants", merchants, "--bucket", "seed")
	require.NoError(t, err)
	assert.Equal(t, []string{"gs://seed/" + config.DefaultMerchantsObject}, h.storage.uploaded)
}

func TestConfig_PrintsResolvedValues(t *testing.T) {
	out, err := execute(t, nil, "config", "--dataset", "from_flag", "--retries", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "dataset: from_flag")
	assert.Contains(t, out, "retries: 2")
	assert.Contains(t, out, "project_id: "+config.DefaultProjectID)
}

func TestConfig_InvalidIsRejected(t *testing.T) {
	_, err := execute(t, nil, "config", "--max-parallel", "0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "workflow.max_parallel")
}

func TestClientFactoryError(t *testing.T) {
	factory := func(ctx context.Context, cfg *config.Config) (*Clients, error) {
		return nil, errors.New("no credentials")
	}
	_, err := execute(t, factory, "run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no credentials")
}

func TestVersion(t *testing.T) {
	out, err := execute(t, nil, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "walmart-ingest "+Version)
}
