package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"cloud.google.com/go/bigquery"
	"github.com/spf13/cobra"

	"github.com/dvloznov/walmart-ingestion/internal/ingest"
	"github.com/dvloznov/walmart-ingestion/internal/pipeline"
)

// localSources pairs the --merchants and --sales files with their load.
type localSources struct {
	merchants string
	sales     string
}

func (l *localSources) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&l.merchants, "merchants", "", "Local merchants NDJSON file")
	cmd.Flags().StringVar(&l.sales, "sales", "", "Local sales NDJSON file")
}

type localFile struct {
	path   string
	source pipeline.Source
}

func (l *localSources) files(p *pipeline.Pipeline) []localFile {
	var files []localFile
	for _, src := range p.Sources() {
		switch {
		case src.TaskID == pipeline.TaskLoadMerchants && l.merchants != "":
			files = append(files, localFile{path: l.merchants, source: src})
		case src.TaskID == pipeline.TaskLoadSales && l.sales != "":
			files = append(files, localFile{path: l.sales, source: src})
		}
	}
	return files
}

func validateFile(path string, schema bigquery.Schema, maxIssues int) (*ingest.Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	return ingest.ValidateNDJSONWithLimit(f, schema, maxIssues)
}

func newValidateCommand(a *app) *cobra.Command {
	var (
		local     localSources
		remote    bool
		maxIssues int
	)
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check NDJSON source files against the table schemas",
		Example: `  # Check local files before uploading them
  walmart-ingest validate --merchants merchants.json --sales walmart_sales.json

  # Check the objects the next load will read
  walmart-ingest validate --gcs`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p := pipeline.New(a.cfg(), nil, nil)
			files := local.files(p)
			if len(files) == 0 && !remote {
				return errors.New("nothing to validate: pass --merchants, --sales or --gcs")
			}

			out := cmd.OutOrStdout()
			invalid := 0
			for _, f := range files {
				report, err := validateFile(f.path, f.source.Schema, maxIssues)
				if err != nil {
					return err
				}
				renderReport(out, f.path, report)
				if !report.Valid() {
					invalid++
				}
			}

			if remote {
				n, err := a.validateRemote(cmd.Context(), out, p, maxIssues)
				if err != nil {
					return err
				}
				invalid += n
			}

			if invalid > 0 {
				return fmt.Errorf("%d source(s) failed validation", invalid)
			}
			return nil
		},
	}
	local.register(cmd)
	cmd.Flags().BoolVar(&remote, "gcs", false, "Validate the configured source objects in GCS")
	cmd.Flags().IntVar(&maxIssues, "max-issues", ingest.DefaultMaxIssues, "Maximum issues listed per file")
	return cmd
}

func (a *app) validateRemote(ctx context.Context, out io.Writer, p *pipeline.Pipeline, maxIssues int) (int, error) {
	c, cleanup, err := a.clients(ctx)
	if err != nil {
		return 0, err
	}
	defer cleanup()

	invalid := 0
	for _, src := range p.Sources() {
		uri := a.cfg().SourceURI(src.Object)
		r, err := c.Storage.OpenObject(ctx, uri)
		if err != nil {
			return invalid, err
		}
		report, err := ingest.ValidateNDJSONWithLimit(r, src.Schema, maxIssues)
		_ = r.Close()
		if err != nil {
			return invalid, fmt.Errorf("failed to read %s: %w", uri, err)
		}
		renderReport(out, uri, report)
		if !report.Valid() {
			invalid++
		}
	}
	return invalid, nil
}
