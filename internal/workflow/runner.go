package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"github.com/dvloznov/walmart-ingestion/internal/logger"
)

// DefaultMaxParallel bounds concurrently running tasks when Runner.MaxParallel is unset.
const DefaultMaxParallel = 4

// Runner executes a DAG level by level. A task runs only when every upstream
// task succeeded; otherwise it is marked upstream_failed. A failure never
// stops sibling tasks that do not depend on it.
type Runner struct {
	// MaxParallel bounds tasks running at once.
	MaxParallel int
	// Retries is how many times a failed task is retried. Zero means one attempt.
	Retries int
	// RetryDelay is the constant wait between attempts.
	RetryDelay time.Duration

	Observers []Observer

	now func() time.Time
}

// NewRunner creates a Runner.
func NewRunner(maxParallel, retries int, retryDelay time.Duration, observers ...Observer) *Runner {
	return &Runner{
		MaxParallel: maxParallel,
		Retries:     retries,
		RetryDelay:  retryDelay,
		Observers:   observers,
	}
}

type runState struct {
	mu     sync.Mutex
	result *RunResult
	index  map[string]int
	runner *Runner
	runID  string
	dagID  string
}

func (s *runState) state(id string) TaskState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result.Tasks[s.index[id]].State
}

func (s *runState) set(id string, state TaskState, attempt int, err error) {
	now := s.runner.clock()

	s.mu.Lock()
	s.apply(id, state, attempt, err, now)
	s.mu.Unlock()

	s.emit(id, state, attempt, err, now)
}

// skip marks a pending task upstream_failed. Tasks that already left
// pending are left alone, so each task is skipped at most once.
func (s *runState) skip(id string) bool {
	now := s.runner.clock()

	s.mu.Lock()
	if s.result.Tasks[s.index[id]].State != TaskPending {
		s.mu.Unlock()
		return false
	}
	s.apply(id, TaskUpstreamFailed, 0, nil, now)
	s.mu.Unlock()

	s.emit(id, TaskUpstreamFailed, 0, nil, now)
	return true
}

// apply must be called with mu held.
func (s *runState) apply(id string, state TaskState, attempt int, err error, now time.Time) {
	tr := &s.result.Tasks[s.index[id]]
	tr.State = state
	if attempt > 0 {
		tr.Attempts = attempt
	}
	switch state {
	case TaskRunning:
		if tr.StartedAt == nil {
			tr.StartedAt = &now
		}
	case TaskSuccess, TaskFailed, TaskUpstreamFailed:
		tr.FinishedAt = &now
	}
	if err != nil {
		tr.err = err
		tr.Error = err.Error()
	}
}

func (s *runState) emit(id string, state TaskState, attempt int, err error, now time.Time) {
	s.runner.notify(TaskEvent{
		RunID:   s.runID,
		DAGID:   s.dagID,
		TaskID:  id,
		State:   state,
		Attempt: attempt,
		Err:     err,
		At:      now,
	})
}

// Run executes every task in dag under runID (generated when empty). The
// returned RunResult is always non-nil once the DAG validates; the error is
// non-nil when any task failed.
func (r *Runner) Run(ctx context.Context, dag *DAG, runID string) (*RunResult, error) {
	levels, err := dag.Levels()
	if err != nil {
		return nil, err
	}
	if runID == "" {
		runID = uuid.NewString()
	}

	log := logger.FromContext(ctx).With().
		Str("dag_id", dag.ID).
		Str("run_id", runID).
		Logger()
	ctx = logger.WithContext(ctx, log)

	st := &runState{
		result: &RunResult{
			RunID:     runID,
			DAGID:     dag.ID,
			State:     RunRunning,
			StartedAt: r.clock(),
		},
		index:  make(map[string]int),
		runner: r,
		runID:  runID,
		dagID:  dag.ID,
	}
	for i, t := range dag.Tasks() {
		st.index[t.ID] = i
		st.result.Tasks = append(st.result.Tasks, TaskResult{ID: t.ID, State: TaskPending})
	}

	graph := dag.Graph()
	log.Info().
		Int("tasks", graph.NodeCount()).
		Int("edges", graph.EdgeCount()).
		Msg("DAG run started")

	limit := r.MaxParallel
	if limit < 1 {
		limit = DefaultMaxParallel
	}

	for _, level := range levels {
		var g errgroup.Group
		g.SetLimit(limit)

		for _, id := range level {
			if st.state(id).Done() {
				continue
			}
			task, _ := dag.Task(id)
			if !r.upstreamSucceeded(st, graph.Parents(id)) {
				st.skip(id)
				r.skipDownstream(ctx, st, graph, id)
				continue
			}
			g.Go(func() error {
				if !r.runTask(ctx, st, task) {
					r.skipDownstream(ctx, st, graph, task.ID)
				}
				return nil
			})
		}
		_ = g.Wait()
	}

	st.result.FinishedAt = r.clock()

	if failed := st.result.Failed(); len(failed) > 0 {
		errs := make([]error, 0, len(failed))
		for _, t := range failed {
			errs = append(errs, fmt.Errorf("task %s: %w", t.ID, t.Err()))
		}
		st.result.State = RunFailed
		runErr := fmt.Errorf("dag %s run %s failed: %w", dag.ID, runID, errors.Join(errs...))
		log.Error().Err(runErr).Msg("DAG run failed")
		return st.result, runErr
	}

	st.result.State = RunSuccess
	log.Info().
		Dur("duration", st.result.FinishedAt.Sub(st.result.StartedAt)).
		Msg("DAG run succeeded")
	return st.result, nil
}

func (r *Runner) upstreamSucceeded(st *runState, parents []string) bool {
	for _, up := range parents {
		if st.state(up) != TaskSuccess {
			return false
		}
	}
	return true
}

// skipDownstream marks every task reachable from id upstream_failed.
func (r *Runner) skipDownstream(ctx context.Context, st *runState, graph *Graph, id string) {
	log := logger.FromContext(ctx)
	for _, down := range graph.Downstream(id) {
		if st.skip(down) {
			log.Warn().Str("task_id", down).Str("failed_upstream", id).Msg("Task skipped: upstream failed")
		}
	}
}

// runTask reports whether the task succeeded.
func (r *Runner) runTask(ctx context.Context, st *runState, task *Task) bool {
	ctx = logger.WithTask(ctx, st.runID, task.ID)
	log := logger.FromContext(ctx)

	if err := ctx.Err(); err != nil {
		st.set(task.ID, TaskFailed, 0, err)
		log.Error().Err(err).Msg("Task not started")
		return false
	}

	attempt := 0
	err := retry.Do(ctx, r.backoff(), func(ctx context.Context) error {
		attempt++
		st.set(task.ID, TaskRunning, attempt, nil)
		log.Info().Int("attempt", attempt).Msg("Task started")

		if err := task.Run(ctx); err != nil {
			log.Warn().Err(err).Int("attempt", attempt).Msg("Task attempt failed")
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		st.set(task.ID, TaskFailed, attempt, err)
		log.Error().Err(err).Int("attempts", attempt).Msg("Task failed")
		return false
	}

	st.set(task.ID, TaskSuccess, attempt, nil)
	log.Info().Int("attempts", attempt).Msg("Task succeeded")
	return true
}

func (r *Runner) backoff() retry.Backoff {
	delay := r.RetryDelay
	if delay <= 0 {
		delay = time.Millisecond
	}
	retries := r.Retries
	if retries < 0 {
		retries = 0
	}
	return retry.WithMaxRetries(uint64(retries), retry.NewConstant(delay))
}

func (r *Runner) notify(ev TaskEvent) {
	for _, obs := range r.Observers {
		obs(ev)
	}
}

func (r *Runner) clock() time.Time {
	if r.now != nil {
		return r.now()
	}
	return time.Now().UTC()
}
