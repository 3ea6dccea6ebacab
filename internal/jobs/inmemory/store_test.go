package inmemory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/walmart-ingestion/internal/jobs"
	"github.com/dvloznov/walmart-ingestion/internal/workflow"
)

func TestStore_SaveAndGet(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	job := &jobs.DAGRunJob{
		JobID:  "run-1",
		DAGID:  "Walmart_Data_Ingestion",
		Status: jobs.JobStatusQueued,
		Conf:   map[string]string{"triggered_by": "test"},
		Tasks:  []workflow.TaskResult{{ID: "create_dataset", State: workflow.TaskPending}},
	}
	require.NoError(t, s.SaveJob(ctx, job))

	job.Conf["triggered_by"] = "mutated"
	job.Tasks[0].State = workflow.TaskSuccess

	got, err := s.GetJob(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "test", got.Conf["triggered_by"])
	assert.Equal(t, workflow.TaskPending, got.Tasks[0].State)

	_, err = s.GetJob(ctx, "missing")
	assert.True(t, errors.Is(err, jobs.ErrJobNotFound))

	assert.Error(t, s.SaveJob(ctx, &jobs.DAGRunJob{}))
}

func TestStore_ListJobs(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	for i, st := range []jobs.JobStatus{jobs.JobStatusSuccess, jobs.JobStatusFailed, jobs.JobStatusSuccess, jobs.JobStatusQueued} {
		require.NoError(t, s.SaveJob(ctx, &jobs.DAGRunJob{
			JobID:     string(rune('a' + i)),
			DAGID:     "dag",
			Status:    st,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, s.SaveJob(ctx, &jobs.DAGRunJob{JobID: "z", DAGID: "other", CreatedAt: base}))

	ids := func(list []*jobs.DAGRunJob) []string {
		var out []string
		for _, j := range list {
			out = append(out, j.JobID)
		}
		return out
	}

	tests := []struct {
		name   string
		filter jobs.JobFilter
		want   []string
	}{
		{"newest first", jobs.JobFilter{DAGID: "dag"}, []string{"d", "c", "b", "a"}},
		{"status", jobs.JobFilter{Status: jobs.JobStatusSuccess}, []string{"c", "a"}},
		{"limit", jobs.JobFilter{DAGID: "dag", Limit: 2}, []string{"d", "c"}},
		{"offset", jobs.JobFilter{DAGID: "dag", Offset: 3}, []string{"a"}},
		{"offset past end", jobs.JobFilter{Offset: 10}, nil},
		{"all dags", jobs.JobFilter{}, []string{"d", "c", "b", "a", "z"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListJobs(ctx, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(got))
		})
	}
}

func TestStore_CreateJob(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	require.NoError(t, s.CreateJob(ctx, &jobs.DAGRunJob{JobID: "r", Status: jobs.JobStatusQueued}))

	err := s.CreateJob(ctx, &jobs.DAGRunJob{JobID: "r", Status: jobs.JobStatusRunning})
	assert.ErrorIs(t, err, jobs.ErrJobExists)

	got, err := s.GetJob(ctx, "r")
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusQueued, got.Status, "a rejected create must not overwrite")

	assert.Error(t, s.CreateJob(ctx, &jobs.DAGRunJob{}))
}

func TestStore_CreateJobConcurrent(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	var (
		wg      sync.WaitGroup
		created atomic.Int32
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.CreateJob(ctx, &jobs.DAGRunJob{JobID: "same"}) == nil {
				created.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), created.Load())
}

func TestStore_DeleteJob(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.SaveJob(ctx, &jobs.DAGRunJob{JobID: "r"}))

	require.NoError(t, s.DeleteJob(ctx, "r"))
	_, err := s.GetJob(ctx, "r")
	assert.ErrorIs(t, err, jobs.ErrJobNotFound)

	assert.NoError(t, s.DeleteJob(ctx, "nope"))
}
