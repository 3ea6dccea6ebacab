// Package cli provides the walmart-ingest command-line interface.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/dvloznov/walmart-ingestion/internal/config"
	"github.com/dvloznov/walmart-ingestion/internal/gcsuploader"
	infra "github.com/dvloznov/walmart-ingestion/internal/infra/bigquery"
	"github.com/dvloznov/walmart-ingestion/internal/logger"
	"github.com/dvloznov/walmart-ingestion/internal/pipeline"
)

// Version information (set at build time).
var (
	Version   = "0.1.0"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

// Clients are the cloud services a command talks to. Recorder is nil unless
// audit is enabled.
type Clients struct {
	Warehouse pipeline.Warehouse
	Recorder  pipeline.RunRecorder
	Storage   pipeline.StorageService
	Close     func() error
}

// ClientFactory creates Clients for a resolved configuration.
type ClientFactory func(ctx context.Context, cfg *config.Config) (*Clients, error)

// DefaultClients connects to BigQuery and Cloud Storage with Application
// Default Credentials.
func DefaultClients(ctx context.Context, cfg *config.Config) (*Clients, error) {
	wh, err := infra.NewBigQueryWarehouse(ctx, cfg.ProjectID)
	if err != nil {
		return nil, err
	}
	wh.WithRunsTable(cfg.Dataset, cfg.Tables.Runs)

	st, err := gcsuploader.NewGCSStorageService(ctx)
	if err != nil {
		_ = wh.Close()
		return nil, err
	}

	c := &Clients{
		Warehouse: wh,
		Storage:   st,
		Close: func() error {
			return errors.Join(wh.Close(), st.Close())
		},
	}
	if cfg.Audit.Enabled {
		c.Recorder = wh
	}
	return c, nil
}

// app carries state shared by every command of one invocation.
type app struct {
	cfgFile    string
	loaded     *config.Loaded
	log        zerolog.Logger
	newClients ClientFactory
}

func (a *app) cfg() *config.Config {
	return a.loaded.Config
}

// clients opens the cloud clients; the caller must call the returned cleanup.
func (a *app) clients(ctx context.Context) (*Clients, func(), error) {
	c, err := a.newClients(ctx, a.cfg())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create clients: %w", err)
	}
	cleanup := func() {
		if c.Close == nil {
			return
		}
		if err := c.Close(); err != nil {
			a.log.Warn().Err(err).Msg("Failed to close clients")
		}
	}
	return c, cleanup, nil
}

func skipConfig(cmd *cobra.Command) bool {
	switch cmd.Name() {
	case "help", "completion", "__complete", "version":
		return true
	}
	return false
}

// NewRootCmd creates the root command. A nil factory uses DefaultClients.
func NewRootCmd(factory ClientFactory) *cobra.Command {
	a := &app{newClients: factory}
	if a.newClients == nil {
		a.newClients = DefaultClients
	}

	rootCmd := &cobra.Command{
		Use:   "walmart-ingest",
		Short: "Load Walmart sales and merchants from GCS into BigQuery",
		Long: `walmart-ingest runs the Walmart_Data_Ingestion workflow:

  1. create the dataset and the merchants, sales stage and sales target tables
  2. load merchants and sales from newline-delimited JSON in GCS (truncate and replace)
  3. merge staged sales, enriched with merchant attributes, into the target by sale_id

Configuration is read from walmart-ingest.yaml, WALMART_* environment
variables and flags, in increasing order of precedence.`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if skipConfig(cmd) {
				return nil
			}

			loaded, err := config.Load(a.cfgFile, cmd.Flags())
			if err != nil {
				return err
			}
			a.loaded = loaded

			a.log = logger.NewWithOptions(logger.Options{
				Level:  loaded.Log.Level,
				Format: loaded.Log.Format,
				Out:    cmd.ErrOrStderr(),
			})
			if loaded.File != "" {
				a.log.Debug().Str("file", loaded.File).Msg("Using config file")
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			cmd.SetContext(logger.WithContext(ctx, a.log))
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.SetVersionTemplate(`{{.Name}} {{.Version}}
`)

	rootCmd.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (default: ./"+config.DefaultConfigFileName+")")
	config.RegisterFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(newRunCommand(a))
	rootCmd.AddCommand(newProvisionCommand(a))
	rootCmd.AddCommand(newLoadCommand(a))
	rootCmd.AddCommand(newMergeCommand(a))
	rootCmd.AddCommand(newDAGCommand(a))
	rootCmd.AddCommand(newVerifyCommand(a))
	rootCmd.AddCommand(newValidateCommand(a))
	rootCmd.AddCommand(newUploadCommand(a))
	rootCmd.AddCommand(newServeCommand(a))
	rootCmd.AddCommand(newConfigCommand(a))
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	rootCmd := NewRootCmd(nil)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}
