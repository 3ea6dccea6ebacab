package config

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Default values reproduce the Walmart_Data_Ingestion DAG as it was first deployed.
const (
	DefaultProjectID = "fit-legacy-454720-g4"
	DefaultLocation  = "US"
	DefaultDataset   = "walmart_dwh"
	DefaultBucket    = "bigquery-projectss"

	DefaultMerchantsTable  = "merchants_tb"
	DefaultSalesStageTable = "walmart_sales_stage"
	DefaultTargetTable     = "walmart_sales_tgt"
	DefaultRunsTable       = "ingestion_runs"

	DefaultMerchantsObject = "walmart_ingestion/merchants/merchants.json"
	DefaultSalesObject     = "walmart_ingestion/sales/walmart_sales.json"

	DefaultDAGID       = "Walmart_Data_Ingestion"
	DefaultRetries     = 0
	DefaultRetryDelay  = 5 * time.Minute
	DefaultMaxParallel = 4
	DefaultTimeout     = 30 * time.Minute

	DefaultLogLevel  = "info"
	DefaultLogFormat = "console"

	DefaultServerAddr     = ":8080"
	DefaultQueueSize      = 16
	DefaultServerWorkers  = 1
	DefaultConfigFileName = "walmart-ingest.yaml"
	EnvPrefix             = "WALMART_"
)

// Config is the fully resolved configuration of the ingestion workflow.
type Config struct {
	ProjectID string `koanf:"project_id" yaml:"project_id"`
	Location  string `koanf:"location" yaml:"location"`
	Dataset   string `koanf:"dataset" yaml:"dataset"`
	Bucket    string `koanf:"bucket" yaml:"bucket"`

	Tables  TablesConfig  `koanf:"tables" yaml:"tables"`
	Sources SourcesConfig `koanf:"sources" yaml:"sources"`

	Workflow WorkflowConfig `koanf:"workflow" yaml:"workflow"`
	Audit    AuditConfig    `koanf:"audit" yaml:"audit"`

	// Preflight checks that source objects exist before load jobs are submitted.
	Preflight bool `koanf:"preflight" yaml:"preflight"`

	Log    LogConfig    `koanf:"log" yaml:"log"`
	Server ServerConfig `koanf:"server" yaml:"server"`
}

type TablesConfig struct {
	Merchants  string `koanf:"merchants" yaml:"merchants"`
	SalesStage string `koanf:"sales_stage" yaml:"sales_stage"`
	Target     string `koanf:"target" yaml:"target"`
	Runs       string `koanf:"runs" yaml:"runs"`
}

// SourcesConfig holds object paths inside Bucket.
type SourcesConfig struct {
	Merchants string `koanf:"merchants" yaml:"merchants"`
	Sales     string `koanf:"sales" yaml:"sales"`
}

type WorkflowConfig struct {
	DAGID       string        `koanf:"dag_id" yaml:"dag_id"`
	Retries     int           `koanf:"retries" yaml:"retries"`
	RetryDelay  time.Duration `koanf:"retry_delay" yaml:"retry_delay"`
	MaxParallel int           `koanf:"max_parallel" yaml:"max_parallel"`
	Timeout     time.Duration `koanf:"timeout" yaml:"timeout"`
}

type AuditConfig struct {
	Enabled bool `koanf:"enabled" yaml:"enabled"`
}

type LogConfig struct {
	Level  string `koanf:"level" yaml:"level"`
	Format string `koanf:"format" yaml:"format"`
}

type ServerConfig struct {
	Addr      string `koanf:"addr" yaml:"addr"`
	QueueSize int    `koanf:"queue_size" yaml:"queue_size"`
	Workers   int    `koanf:"workers" yaml:"workers"`
}

// Defaults returns the flat key map loaded before any other source.
func Defaults() map[string]interface{} {
	return map[string]interface{}{
		"project_id":            DefaultProjectID,
		"location":              DefaultLocation,
		"dataset":               DefaultDataset,
		"bucket":                DefaultBucket,
		"tables.merchants":      DefaultMerchantsTable,
		"tables.sales_stage":    DefaultSalesStageTable,
		"tables.target":         DefaultTargetTable,
		"tables.runs":           DefaultRunsTable,
		"sources.merchants":     DefaultMerchantsObject,
		"sources.sales":         DefaultSalesObject,
		"workflow.dag_id":       DefaultDAGID,
		"workflow.retries":      DefaultRetries,
		"workflow.retry_delay":  DefaultRetryDelay,
		"workflow.max_parallel": DefaultMaxParallel,
		"workflow.timeout":      DefaultTimeout,
		"audit.enabled":         false,
		"preflight":             true,
		"log.level":             DefaultLogLevel,
		"log.format":            DefaultLogFormat,
		"server.addr":           DefaultServerAddr,
		"server.queue_size":     DefaultQueueSize,
		"server.workers":        DefaultServerWorkers,
	}
}

// Validate checks that the configuration can drive a run.
func (c *Config) Validate() error {
	var problems []string

	required := map[string]string{
		"project_id":         c.ProjectID,
		"location":           c.Location,
		"dataset":            c.Dataset,
		"bucket":             c.Bucket,
		"tables.merchants":   c.Tables.Merchants,
		"tables.sales_stage": c.Tables.SalesStage,
		"tables.target":      c.Tables.Target,
		"sources.merchants":  c.Sources.Merchants,
		"sources.sales":      c.Sources.Sales,
		"workflow.dag_id":    c.Workflow.DAGID,
	}
	for _, key := range sortedKeys(required) {
		if strings.TrimSpace(required[key]) == "" {
			problems = append(problems, fmt.Sprintf("%s is required", key))
		}
	}

	if c.Audit.Enabled && strings.TrimSpace(c.Tables.Runs) == "" {
		problems = append(problems, "tables.runs is required when audit is enabled")
	}
	if c.Workflow.Retries < 0 {
		problems = append(problems, "workflow.retries must be >= 0")
	}
	if c.Workflow.Retries > 0 && c.Workflow.RetryDelay <= 0 {
		problems = append(problems, "workflow.retry_delay must be positive when retries are enabled")
	}
	if c.Workflow.MaxParallel < 1 {
		problems = append(problems, "workflow.max_parallel must be >= 1")
	}
	if c.Workflow.Timeout < 0 {
		problems = append(problems, "workflow.timeout must not be negative")
	}

	switch c.Log.Format {
	case "console", "json":
	default:
		problems = append(problems, fmt.Sprintf("log.format %q is not one of console, json", c.Log.Format))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// SourceURI returns the gs:// URI of an object in the configured bucket.
func (c *Config) SourceURI(object string) string {
	return fmt.Sprintf("gs://%s/%s", c.Bucket, strings.TrimPrefix(object, "/"))
}

// TableRef returns the fully qualified `project.dataset.table` reference.
func (c *Config) TableRef(table string) string {
	return fmt.Sprintf("%s.%s.%s", c.ProjectID, c.Dataset, table)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
