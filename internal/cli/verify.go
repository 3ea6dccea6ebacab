package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	bq "github.com/dvloznov/walmart-ingestion/internal/bigquery"
	"github.com/dvloznov/walmart-ingestion/internal/pipeline"
)

func newVerifyCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Compare live table schemas with the declared ones",
		Long: `verify reads the schema of every provisioned table and reports columns
that are missing, undeclared, or differ in type or mode. Create-if-absent
never alters an existing table, so this is how drift is detected.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg := a.cfg()

			c, cleanup, err := a.clients(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			tables := pipeline.New(cfg, nil, nil).Tables()
			if cfg.Audit.Enabled {
				tables = append(tables, bq.Table{Name: cfg.Tables.Runs, Schema: bq.IngestionRunsSchema()})
			}

			out := cmd.OutOrStdout()
			failed := 0
			for _, t := range tables {
				live, err := c.Warehouse.TableSchema(ctx, cfg.Dataset, t.Name)
				if err != nil {
					_, _ = fmt.Fprintf(out, "%s: %v\n", t.Name, err)
					failed++
					continue
				}
				mismatches := bq.Diff(t.Schema, live)
				renderMismatches(out, t.Name, mismatches)
				if len(mismatches) > 0 {
					failed++
				}
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d tables do not match their declared schema", failed, len(tables))
			}
			return nil
		},
	}
}
