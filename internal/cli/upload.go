package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dvloznov/walmart-ingestion/internal/pipeline"
)

func newUploadCommand(a *app) *cobra.Command {
	var (
		local        localSources
		skipValidate bool
	)
	cmd := &cobra.Command{
		Use:   "upload",
		Short: "Upload local NDJSON files to the configured source objects",
		Example: `  # Seed the bucket with sample data
  walmart-ingest upload --merchants merchants.json --sales walmart_sales.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg := a.cfg()

			files := local.files(pipeline.New(cfg, nil, nil))
			if len(files) == 0 {
				return errors.New("nothing to upload: pass --merchants and/or --sales")
			}

			out := cmd.OutOrStdout()
			if !skipValidate {
				for _, f := range files {
					report, err := validateFile(f.path, f.source.Schema, 10)
					if err != nil {
						return err
					}
					if !report.Valid() {
						renderReport(out, f.path, report)
						return fmt.Errorf("%s failed validation; fix it or pass --skip-validate", f.path)
					}
				}
			}

			c, cleanup, err := a.clients(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			for _, f := range files {
				if err := c.Storage.UploadFile(ctx, cfg.Bucket, f.source.Object, f.path); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(out, "%s -> %s\n", f.path, cfg.SourceURI(f.source.Object))
			}
			return nil
		},
	}
	local.register(cmd)
	cmd.Flags().BoolVar(&skipValidate, "skip-validate", false, "Upload without checking the files first")
	return cmd
}
