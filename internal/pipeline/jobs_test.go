package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/walmart-ingestion/internal/jobs"
	"github.com/dvloznov/walmart-ingestion/internal/jobs/inmemory"
	"github.com/dvloznov/walmart-ingestion/internal/workflow"
)

func TestJobHandler_Success(t *testing.T) {
	store := inmemory.NewStore()
	handler := JobHandler(testConfig(), &fakeWarehouse{}, &fakeStorage{}, nil, store)

	job := &jobs.DAGRunJob{JobID: "run-1", DAGID: "Walmart_Data_Ingestion"}
	require.NoError(t, handler(context.Background(), job))

	assert.Equal(t, int64(7), job.MergedRows)
	require.Len(t, job.Tasks, 7)
	for _, task := range job.Tasks {
		assert.Equal(t, workflow.TaskSuccess, task.State, task.ID)
	}

	saved, err := store.GetJob(context.Background(), "run-1")
	require.NoError(t, err)
	require.Len(t, saved.Tasks, 7)
	assert.Equal(t, workflow.TaskSuccess, saved.Tasks[6].State)
}

func TestJobHandler_PhaseAndFailure(t *testing.T) {
	wh := &fakeWarehouse{failOn: map[string]error{"query": errors.New("bad merge")}}
	handler := JobHandler(testConfig(), wh, nil, nil, nil)

	job := &jobs.DAGRunJob{JobID: "run-2", Phase: "merge"}
	err := handler(context.Background(), job)
	require.Error(t, err)

	require.Len(t, job.Tasks, 1)
	assert.Equal(t, TaskMergeSales, job.Tasks[0].ID)
	assert.Equal(t, workflow.TaskFailed, job.Tasks[0].State)
	assert.Equal(t, "bad merge", job.Tasks[0].Error)
}

func TestJobHandler_UnknownPhase(t *testing.T) {
	handler := JobHandler(testConfig(), &fakeWarehouse{}, nil, nil, nil)
	err := handler(context.Background(), &jobs.DAGRunJob{JobID: "x", Phase: "deploy"})
	assert.ErrorIs(t, err, ErrUnknownPhase)
}
