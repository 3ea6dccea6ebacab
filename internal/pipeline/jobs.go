package pipeline

import (
	"context"
	"sync"

	"github.com/dvloznov/walmart-ingestion/internal/config"
	"github.com/dvloznov/walmart-ingestion/internal/jobs"
	"github.com/dvloznov/walmart-ingestion/internal/logger"
	"github.com/dvloznov/walmart-ingestion/internal/workflow"
)

// JobHandler executes queued DAG runs. Task transitions are mirrored into
// job.Tasks and saved to store while the run is in flight. recorder and
// storage may be nil.
func JobHandler(cfg *config.Config, warehouse Warehouse, storage StorageService, recorder RunRecorder, store jobs.JobStore) jobs.JobHandler {
	return func(ctx context.Context, job *jobs.DAGRunJob) error {
		phase, err := ParsePhase(job.Phase)
		if err != nil {
			return err
		}

		p := New(cfg, warehouse, storage)
		dag, err := p.DAG(phase)
		if err != nil {
			return err
		}

		var mu sync.Mutex
		job.Tasks = job.Tasks[:0]
		for _, t := range dag.Tasks() {
			job.Tasks = append(job.Tasks, workflow.TaskResult{ID: t.ID, State: workflow.TaskPending})
		}

		observer := func(ev workflow.TaskEvent) {
			mu.Lock()
			defer mu.Unlock()

			for i := range job.Tasks {
				if job.Tasks[i].ID != ev.TaskID {
					continue
				}
				job.Tasks[i].State = ev.State
				if ev.Attempt > 0 {
					job.Tasks[i].Attempts = ev.Attempt
				}
				if ev.Err != nil {
					job.Tasks[i].Error = ev.Err.Error()
				}
			}
			if store != nil {
				if err := store.SaveJob(ctx, job); err != nil {
					log := logger.FromContext(ctx)
					log.Warn().Err(err).Msg("Failed to save task state")
				}
			}
		}

		opts := RunOptions{
			RunID:     job.JobID,
			Recorder:  recorder,
			Observers: []workflow.Observer{observer},
		}
		outcome, runErr := p.Run(ctx, phase, opts)

		mu.Lock()
		defer mu.Unlock()
		if outcome != nil {
			if outcome.Run != nil {
				job.Tasks = outcome.Run.Tasks
			}
			job.MergedRows = outcome.MergedRows()
		}
		return runErr
	}
}
