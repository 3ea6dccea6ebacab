package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/dvloznov/walmart-ingestion/internal/workflow"
)

// JobStatus represents the current status of a DAG run job.
type JobStatus string

const (
	// JobStatusQueued indicates the run is waiting for a worker.
	JobStatusQueued JobStatus = "queued"
	// JobStatusRunning indicates the run is executing.
	JobStatusRunning JobStatus = "running"
	// JobStatusSuccess indicates every task succeeded.
	JobStatusSuccess JobStatus = "success"
	// JobStatusFailed indicates at least one task failed.
	JobStatusFailed JobStatus = "failed"
)

// ParseStatus maps a query parameter to a JobStatus. The empty string is valid
// and means "any".
func ParseStatus(s string) (JobStatus, bool) {
	switch JobStatus(s) {
	case "", JobStatusQueued, JobStatusRunning, JobStatusSuccess, JobStatusFailed:
		return JobStatus(s), true
	}
	return "", false
}

var (
	// ErrJobNotFound is returned by JobStore.GetJob for unknown IDs.
	ErrJobNotFound = errors.New("job not found")
	// ErrJobExists is returned by JobStore.CreateJob when the ID is taken.
	ErrJobExists = errors.New("job already exists")
)

// DAGRunJob is a manually triggered run of the ingestion DAG.
type DAGRunJob struct {
	// JobID doubles as the run ID recorded in logs and ingestion_runs.
	JobID string `json:"run_id"`

	DAGID string `json:"dag_id"`

	// Phase limits the run to provision, load or merge. Empty means the full DAG.
	Phase string `json:"phase,omitempty"`

	// Conf carries free-form trigger parameters, echoed back to callers.
	Conf map[string]string `json:"conf,omitempty"`

	Status JobStatus `json:"status"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Error contains error details if the run failed.
	Error string `json:"error,omitempty"`

	// Tasks holds the latest state of every task in the run.
	Tasks []workflow.TaskResult `json:"tasks,omitempty"`

	MergedRows int64 `json:"merged_rows"`
}

// Clone returns a deep copy of the job.
func (j *DAGRunJob) Clone() *DAGRunJob {
	c := *j
	if j.Conf != nil {
		c.Conf = make(map[string]string, len(j.Conf))
		for k, v := range j.Conf {
			c.Conf[k] = v
		}
	}
	if j.Tasks != nil {
		c.Tasks = append([]workflow.TaskResult(nil), j.Tasks...)
	}
	return &c
}

// Publisher defines the interface for publishing jobs to a queue.
type Publisher interface {
	// PublishDAGRun enqueues a DAG run. The queued job is a copy; job itself is
	// not touched by workers.
	PublishDAGRun(ctx context.Context, job *DAGRunJob) error

	// Close closes the publisher and releases resources.
	Close() error
}

// Consumer defines the interface for consuming jobs from a queue.
type Consumer interface {
	// Start begins consuming jobs from the queue.
	// The handler function is called for each job received.
	Start(ctx context.Context, handler JobHandler) error

	// Stop stops consuming jobs and waits for in-flight jobs to complete.
	Stop(ctx context.Context) error
}

// JobHandler executes a run. It may update job.Tasks and job.MergedRows; the
// returned error marks the run failed. Runs are never retried as a whole.
type JobHandler func(ctx context.Context, job *DAGRunJob) error

// JobStore defines the interface for storing and retrieving run state.
type JobStore interface {
	// CreateJob stores a new job. It fails with ErrJobExists if the ID is taken.
	CreateJob(ctx context.Context, job *DAGRunJob) error

	// SaveJob saves or updates a job's state.
	SaveJob(ctx context.Context, job *DAGRunJob) error

	// DeleteJob removes a job. Unknown IDs are not an error.
	DeleteJob(ctx context.Context, jobID string) error

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID string) (*DAGRunJob, error)

	// ListJobs retrieves jobs, newest first, with optional filtering.
	ListJobs(ctx context.Context, filter JobFilter) ([]*DAGRunJob, error)
}

// JobFilter defines filtering criteria for listing jobs.
type JobFilter struct {
	// DAGID filters jobs by DAG ID.
	DAGID string

	// Status filters jobs by status.
	Status JobStatus

	// Limit limits the number of results.
	Limit int

	// Offset for pagination.
	Offset int
}
