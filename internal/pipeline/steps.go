package pipeline

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"

	bq "github.com/dvloznov/walmart-ingestion/internal/bigquery"
	"github.com/dvloznov/walmart-ingestion/internal/logger"
	"github.com/dvloznov/walmart-ingestion/internal/merge"
	"github.com/dvloznov/walmart-ingestion/internal/workflow"
)

// Source is one truncate-and-replace load: an object in the bucket and the
// table it replaces.
type Source struct {
	TaskID string
	Table  string
	Object string
	Schema bigquery.Schema
}

// Tables returns the tables to provision, in provisioning order.
func (p *Pipeline) Tables() []bq.Table {
	return []bq.Table{
		{Name: p.cfg.Tables.Merchants, Schema: bq.MerchantsSchema()},
		{Name: p.cfg.Tables.SalesStage, Schema: bq.SalesStageSchema()},
		{Name: p.cfg.Tables.Target, Schema: bq.SalesTargetSchema()},
	}
}

// tableTaskIDs pairs with Tables.
var tableTaskIDs = []string{TaskCreateMerchantsTable, TaskCreateSalesStageTable, TaskCreateTargetTable}

// Sources returns both loads.
func (p *Pipeline) Sources() []Source {
	return []Source{
		{TaskID: TaskLoadMerchants, Table: p.cfg.Tables.Merchants, Object: p.cfg.Sources.Merchants, Schema: bq.MerchantsSchema()},
		{TaskID: TaskLoadSales, Table: p.cfg.Tables.SalesStage, Object: p.cfg.Sources.Sales, Schema: bq.SalesStageSchema()},
	}
}

// MergeSpec returns the merge of the configured stage and merchants tables into the target.
func (p *Pipeline) MergeSpec() merge.Spec {
	return merge.DefaultSpec(
		p.cfg.TableRef(p.cfg.Tables.Target),
		p.cfg.TableRef(p.cfg.Tables.SalesStage),
		p.cfg.TableRef(p.cfg.Tables.Merchants),
	)
}

// MergeSQL renders the merge statement run by merge_sales.
func (p *Pipeline) MergeSQL() (string, error) {
	return merge.Build(p.MergeSpec())
}

func (p *Pipeline) createDataset(ctx context.Context) error {
	return p.warehouse.CreateDataset(ctx, p.cfg.Dataset, p.cfg.Location)
}

func (p *Pipeline) createTable(t bq.Table) workflow.TaskFunc {
	return func(ctx context.Context) error {
		return p.warehouse.CreateTable(ctx, p.cfg.Dataset, t.Name, t.Schema)
	}
}

func (p *Pipeline) loadSource(s Source) workflow.TaskFunc {
	return func(ctx context.Context) error {
		log := logger.FromContext(ctx)
		uri := p.cfg.SourceURI(s.Object)

		if p.cfg.Preflight {
			if p.storage == nil {
				log.Debug().Str("uri", uri).Msg("No storage client, skipping pre-flight check")
			} else {
				exists, err := p.storage.ObjectExists(ctx, uri)
				if err != nil {
					return fmt.Errorf("loadSource: checking %s: %w", uri, err)
				}
				if !exists {
					return fmt.Errorf("loadSource: source object %s does not exist", uri)
				}
			}
		}

		res, err := p.warehouse.LoadFromGCS(ctx, bq.LoadRequest{
			SourceURIs: []string{uri},
			DatasetID:  p.cfg.Dataset,
			TableID:    s.Table,
			Schema:     s.Schema,
			Location:   p.cfg.Location,
		})
		if err != nil {
			return err
		}

		p.mu.Lock()
		p.loads[s.TaskID] = res
		p.mu.Unlock()
		return nil
	}
}

func (p *Pipeline) mergeSales(ctx context.Context) error {
	sql, err := p.MergeSQL()
	if err != nil {
		return err
	}

	log := logger.FromContext(ctx)
	log.Debug().Str("sql", sql).Msg("Running merge")

	res, err := p.warehouse.RunQuery(ctx, sql, p.cfg.Location)
	if err != nil {
		return err
	}

	log.Info().
		Str("job_id", res.JobID).
		Int64("affected_rows", res.AffectedRows).
		Int64("inserted_rows", res.InsertedRows).
		Int64("updated_rows", res.UpdatedRows).
		Msg("Merge completed")

	p.mu.Lock()
	p.merged = res
	p.mu.Unlock()
	return nil
}
