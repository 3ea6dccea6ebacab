package workflow

import (
	"time"
)

// TaskState is the lifecycle state of a task within one run.
type TaskState string

const (
	TaskPending        TaskState = "pending"
	TaskRunning        TaskState = "running"
	TaskSuccess        TaskState = "success"
	TaskFailed         TaskState = "failed"
	TaskUpstreamFailed TaskState = "upstream_failed"
)

// Done reports whether the state is terminal.
func (s TaskState) Done() bool {
	return s == TaskSuccess || s == TaskFailed || s == TaskUpstreamFailed
}

// RunState is the overall state of a run.
type RunState string

const (
	RunRunning RunState = "running"
	RunSuccess RunState = "success"
	RunFailed  RunState = "failed"
)

// TaskResult is the outcome of one task in a run.
type TaskResult struct {
	ID         string     `json:"task_id"`
	State      TaskState  `json:"state"`
	Attempts   int        `json:"attempts"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Error      string     `json:"error,omitempty"`

	err error
}

// Err returns the error the task failed with, if any.
func (r TaskResult) Err() error {
	return r.err
}

// Duration is the wall time between start and finish, or zero.
func (r TaskResult) Duration() time.Duration {
	if r.StartedAt == nil || r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(*r.StartedAt)
}

// RunResult is the outcome of one DAG run.
type RunResult struct {
	RunID      string       `json:"run_id"`
	DAGID      string       `json:"dag_id"`
	State      RunState     `json:"state"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Tasks      []TaskResult `json:"tasks"`
}

// Task returns the result of a task by ID.
func (r *RunResult) Task(id string) (TaskResult, bool) {
	for _, t := range r.Tasks {
		if t.ID == id {
			return t, true
		}
	}
	return TaskResult{}, false
}

// Failed returns the tasks that ended in TaskFailed.
func (r *RunResult) Failed() []TaskResult {
	var failed []TaskResult
	for _, t := range r.Tasks {
		if t.State == TaskFailed {
			failed = append(failed, t)
		}
	}
	return failed
}

// TaskEvent is emitted to observers whenever a task changes state.
type TaskEvent struct {
	RunID   string
	DAGID   string
	TaskID  string
	State   TaskState
	Attempt int
	Err     error
	At      time.Time
}

// Observer receives task state transitions. Observers are called from task
// goroutines and must be safe for concurrent use.
type Observer func(TaskEvent)
