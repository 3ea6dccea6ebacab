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
	"go.uber.org/goleak"

	"github.com/dvloznov/walmart-ingestion/internal/jobs"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func waitForStatus(t *testing.T, s *Store, id string, want jobs.JobStatus) *jobs.DAGRunJob {
	t.Helper()
	var got *jobs.DAGRunJob
	require.Eventually(t, func() bool {
		j, err := s.GetJob(context.Background(), id)
		if err != nil {
			return false
		}
		got = j
		return j.Status == want
	}, 2*time.Second, 5*time.Millisecond)
	return got
}

func TestQueue_PublishAndProcess(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := NewStore()
	q := NewQueue(4, 1, store)

	require.NoError(t, q.Start(ctx, func(ctx context.Context, job *jobs.DAGRunJob) error {
		job.MergedRows = 42
		return nil
	}))

	job := &jobs.DAGRunJob{DAGID: "Walmart_Data_Ingestion"}
	require.NoError(t, q.PublishDAGRun(ctx, job))

	assert.NotEmpty(t, job.JobID)
	assert.Equal(t, jobs.JobStatusQueued, job.Status)
	assert.False(t, job.CreatedAt.IsZero())

	got := waitForStatus(t, store, job.JobID, jobs.JobStatusSuccess)
	assert.Equal(t, int64(42), got.MergedRows)
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.CompletedAt)
	assert.Zero(t, job.MergedRows, "published job must not be mutated by workers")

	require.NoError(t, q.Stop(context.Background()))
}

func TestQueue_FailedRunIsNotRetried(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := NewStore()
	q := NewQueue(4, 2, store)

	var calls int32
	require.NoError(t, q.Start(ctx, func(ctx context.Context, job *jobs.DAGRunJob) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("merge_sales failed")
	}))

	job := &jobs.DAGRunJob{DAGID: "dag"}
	require.NoError(t, q.PublishDAGRun(ctx, job))

	got := waitForStatus(t, store, job.JobID, jobs.JobStatusFailed)
	assert.Equal(t, "merge_sales failed", got.Error)

	require.NoError(t, q.Stop(context.Background()))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestQueue_HandlerPanicFailsRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := NewStore()
	q := NewQueue(1, 1, store)
	require.NoError(t, q.Start(ctx, func(ctx context.Context, job *jobs.DAGRunJob) error {
		panic("kaboom")
	}))

	job := &jobs.DAGRunJob{DAGID: "dag"}
	require.NoError(t, q.PublishDAGRun(ctx, job))

	got := waitForStatus(t, store, job.JobID, jobs.JobStatusFailed)
	assert.Contains(t, got.Error, "kaboom")
	require.NoError(t, q.Stop(context.Background()))
}

func TestQueue_Closed(t *testing.T) {
	q := NewQueue(1, 1, nil)
	require.NoError(t, q.Close())
	require.NoError(t, q.Close())

	assert.Error(t, q.PublishDAGRun(context.Background(), &jobs.DAGRunJob{}))
	assert.Error(t, q.Start(context.Background(), func(context.Context, *jobs.DAGRunJob) error { return nil }))
}

func TestQueue_PublishRespectsContext(t *testing.T) {
	q := NewQueue(0, 1, nil)
	defer q.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := q.PublishDAGRun(ctx, &jobs.DAGRunJob{DAGID: "dag"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestQueue_UnqueuedJobIsRemoved(t *testing.T) {
	store := NewStore()
	q := NewQueue(0, 1, store)
	defer q.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := q.PublishDAGRun(ctx, &jobs.DAGRunJob{JobID: "orphan", DAGID: "dag"})
	require.ErrorIs(t, err, context.Canceled)

	_, err = store.GetJob(context.Background(), "orphan")
	assert.ErrorIs(t, err, jobs.ErrJobNotFound)
}

func TestQueue_DuplicateRunID(t *testing.T) {
	store := NewStore()
	q := NewQueue(32, 1, store)
	defer q.Close()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		accepted  int
		conflicts int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := q.PublishDAGRun(context.Background(), &jobs.DAGRunJob{JobID: "manual-1", DAGID: "dag"})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted++
			case errors.Is(err, jobs.ErrJobExists):
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, accepted)
	assert.Equal(t, 9, conflicts)
}
