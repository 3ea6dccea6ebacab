package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/dvloznov/walmart-ingestion/internal/api"
	"github.com/dvloznov/walmart-ingestion/internal/api/handlers"
	"github.com/dvloznov/walmart-ingestion/internal/config"
	"github.com/dvloznov/walmart-ingestion/internal/jobs/inmemory"
	"github.com/dvloznov/walmart-ingestion/internal/pipeline"
)

const queueDrainTimeout = 30 * time.Second

func newServeCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the DAG over HTTP and execute triggered runs",
		Long: `serve exposes the DAG and its runs over HTTP:

  GET  /healthz
  GET  /api/dag
  POST /api/dag-runs          trigger a run (body: {"run_id", "phase", "conf"})
  GET  /api/dag-runs          list runs (?status=&limit=&offset=)
  GET  /api/dag-runs/{runID}  show a run and its task states

Triggered runs are queued and executed by a pool of workers. Run history
is kept in memory.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg := a.cfg()

			c, cleanup, err := a.clients(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			dag, err := pipeline.BuildDAG(cfg, nil, nil)
			if err != nil {
				return err
			}
			info, err := handlers.DescribeDAG(dag)
			if err != nil {
				return err
			}

			store := inmemory.NewStore()
			queue := inmemory.NewQueue(cfg.Server.QueueSize, cfg.Server.Workers, store)
			if err := queue.Start(ctx, pipeline.JobHandler(cfg, c.Warehouse, c.Storage, c.Recorder, store)); err != nil {
				return err
			}

			runs := handlers.NewRunsHandler(queue, store, info, a.log)
			serveErr := api.Serve(ctx, cfg.Server.Addr, api.NewRouter(runs, a.log), a.log)

			drainCtx, cancel := context.WithTimeout(context.Background(), queueDrainTimeout)
			defer cancel()
			if err := queue.Stop(drainCtx); err != nil {
				a.log.Warn().Err(err).Msg("Queue did not drain")
			}

			return serveErr
		},
	}
	cmd.Flags().String("addr", config.DefaultServerAddr, "HTTP listen address")
	cmd.Flags().Int("queue-size", config.DefaultQueueSize, "Runs that can wait in the queue")
	cmd.Flags().Int("workers", config.DefaultServerWorkers, "Runs executed at once")
	return cmd
}
