package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dvloznov/walmart-ingestion/internal/pipeline"
)

type runFlags struct {
	runID  string
	output string
}

func (f *runFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.runID, "run-id", "", "Run ID (generated when empty)")
	cmd.Flags().StringVarP(&f.output, "output", "o", formatTable, "Output format (table|json)")
}

func newRunCommand(a *app) *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the whole DAG: provision, load and merge",
		Example: `  # Run with the defaults from walmart-ingest.yaml
  walmart-ingest run

  # Retry failed tasks twice and record the run
  walmart-ingest run --retries 2 --retry-delay 30s --audit`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runPhase(cmd, pipeline.PhaseAll, flags)
		},
	}
	flags.register(cmd)
	return cmd
}

func newProvisionCommand(a *app) *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Create the dataset and the merchants, stage and target tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runPhase(cmd, pipeline.PhaseProvision, flags)
		},
	}
	flags.register(cmd)
	return cmd
}

func newLoadCommand(a *app) *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Replace the merchants and sales stage tables from GCS",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runPhase(cmd, pipeline.PhaseLoad, flags)
		},
	}
	flags.register(cmd)
	return cmd
}

func newMergeCommand(a *app) *cobra.Command {
	var (
		flags    runFlags
		printSQL bool
	)
	cmd := &cobra.Command{
		Use:   "merge",
		Short: "Merge staged sales into the target table",
		Example: `  # Show the MERGE statement without running it
  walmart-ingest merge --print`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if printSQL {
				sql, err := pipeline.New(a.cfg(), nil, nil).MergeSQL()
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), sql)
				return err
			}
			return a.runPhase(cmd, pipeline.PhaseMerge, flags)
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVar(&printSQL, "print", false, "Print the MERGE statement and exit")
	return cmd
}

// runPhase executes phase and prints its outcome. A failed run is returned
// as an error after the outcome is printed.
func (a *app) runPhase(cmd *cobra.Command, phase pipeline.Phase, flags runFlags) error {
	if err := checkFormat(flags.output); err != nil {
		return err
	}

	ctx := cmd.Context()
	c, cleanup, err := a.clients(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	p := pipeline.New(a.cfg(), c.Warehouse, c.Storage)
	outcome, runErr := p.Run(ctx, phase, pipeline.RunOptions{
		RunID:    flags.runID,
		Recorder: c.Recorder,
	})

	if err := renderOutcome(cmd.OutOrStdout(), outcome, flags.output); err != nil {
		return err
	}
	if runErr != nil {
		return runErr
	}

	a.log.Info().
		Str("phase", string(phase)).
		Int64("merged_rows", outcome.MergedRows()).
		Msg("Run succeeded")
	return nil
}

func newDAGCommand(a *app) *cobra.Command {
	var (
		phase  string
		output string
	)
	cmd := &cobra.Command{
		Use:   "dag",
		Short: "Show the tasks and their dependencies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := checkFormat(output); err != nil {
				return err
			}
			ph, err := pipeline.ParsePhase(phase)
			if err != nil {
				return err
			}
			dag, err := pipeline.New(a.cfg(), nil, nil).DAG(ph)
			if err != nil {
				return err
			}
			return renderDAG(cmd.OutOrStdout(), dag, output)
		},
	}
	cmd.Flags().StringVar(&phase, "phase", string(pipeline.PhaseAll), "Phase to show (all|provision|load|merge)")
	cmd.Flags().StringVarP(&output, "output", "o", formatTable, "Output format (table|json)")
	return cmd
}
