package reconciler

import (
	"testing"
	"time"

	"github.com/cuemby/orbiter/pkg/clock"
	"github.com/cuemby/orbiter/pkg/storage"
	"github.com/cuemby/orbiter/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunReconciler_AllJobsDoneMeansRunDone(t *testing.T) {
	store := storage.NewMemStore()
	fake := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	run := &types.Run{ID: "r-1", ProjectID: "p-1", Status: types.RunRunning, SubmittedAt: fake.Now()}
	require.NoError(t, store.CreateRun(run))
	require.NoError(t, store.CreateJob(&types.Job{ID: "j-1", RunID: "r-1", JobNum: 0, Status: types.JobDone}))

	r := NewRunReconciler(store, fake)
	require.NoError(t, r.Handle("r-1"))

	got, err := store.GetRun("r-1")
	require.NoError(t, err)
	assert.Equal(t, types.RunDone, got.Status)
	assert.True(t, got.ProcessingFinished)
}

func TestRunReconciler_OneFailedJobIsStickyFailed(t *testing.T) {
	store := storage.NewMemStore()
	fake := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	run := &types.Run{ID: "r-1", ProjectID: "p-1", Status: types.RunRunning, SubmittedAt: fake.Now()}
	require.NoError(t, store.CreateRun(run))
	require.NoError(t, store.CreateJob(&types.Job{ID: "j-1", RunID: "r-1", JobNum: 0, Status: types.JobFailed}))
	require.NoError(t, store.CreateJob(&types.Job{ID: "j-2", RunID: "r-1", JobNum: 1, Status: types.JobRunning}))

	r := NewRunReconciler(store, fake)
	require.NoError(t, r.Handle("r-1"))

	got, err := store.GetRun("r-1")
	require.NoError(t, err)
	assert.Equal(t, types.RunFailed, got.Status)
	assert.True(t, got.ProcessingFinished)
}

func TestRunReconciler_RetriesInterruptedJobWithinWindow(t *testing.T) {
	store := storage.NewMemStore()
	fake := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	run := &types.Run{
		ID: "r-1", ProjectID: "p-1", Status: types.RunRunning, SubmittedAt: fake.Now(),
		Spec: types.RunSpec{Retry: types.RetryPolicy{Retry: true}},
	}
	require.NoError(t, store.CreateRun(run))
	require.NoError(t, store.CreateJob(&types.Job{
		ID: "j-1", RunID: "r-1", JobNum: 0, SubmissionNum: 0,
		Status: types.JobTerminated, TerminationReason: types.ReasonInterruptedByNoCapacity,
	}))

	fake.Advance(time.Minute) // still within DefaultRetryWindow (3m)

	r := NewRunReconciler(store, fake)
	require.NoError(t, r.Handle("r-1"))

	jobs, err := store.ListJobsByRun("r-1")
	require.NoError(t, err)
	assert.Len(t, jobs, 2)

	got, err := store.GetRun("r-1")
	require.NoError(t, err)
	assert.False(t, got.ProcessingFinished)
	assert.Equal(t, types.RunPending, got.Status)
}

func TestRunReconciler_DoesNotRetryPastWindow(t *testing.T) {
	store := storage.NewMemStore()
	fake := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	run := &types.Run{
		ID: "r-1", ProjectID: "p-1", Status: types.RunRunning, SubmittedAt: fake.Now(),
		Spec: types.RunSpec{Retry: types.RetryPolicy{Retry: true}},
	}
	require.NoError(t, store.CreateRun(run))
	require.NoError(t, store.CreateJob(&types.Job{
		ID: "j-1", RunID: "r-1", JobNum: 0, SubmissionNum: 0,
		Status: types.JobTerminated, TerminationReason: types.ReasonInterruptedByNoCapacity,
	}))

	fake.Advance(types.DefaultRetryWindow + time.Minute)

	r := NewRunReconciler(store, fake)
	require.NoError(t, r.Handle("r-1"))

	jobs, err := store.ListJobsByRun("r-1")
	require.NoError(t, err)
	assert.Len(t, jobs, 1)

	got, err := store.GetRun("r-1")
	require.NoError(t, err)
	assert.True(t, got.ProcessingFinished)
	assert.Equal(t, types.RunTerminated, got.Status)
}

func TestRunReconciler_StopCascadesToJobsThenTerminates(t *testing.T) {
	store := storage.NewMemStore()
	fake := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	run := &types.Run{ID: "r-1", ProjectID: "p-1", Status: types.RunRunning, SubmittedAt: fake.Now(), StopRequested: true}
	require.NoError(t, store.CreateRun(run))
	require.NoError(t, store.CreateJob(&types.Job{ID: "j-1", RunID: "r-1", JobNum: 0, Status: types.JobRunning}))

	r := NewRunReconciler(store, fake)
	require.NoError(t, r.Handle("r-1"))

	job, err := store.GetJob("j-1")
	require.NoError(t, err)
	assert.Equal(t, types.JobTerminating, job.Status)
	assert.Equal(t, types.ReasonTerminatedByUser, job.TerminationReason)

	got, err := store.GetRun("r-1")
	require.NoError(t, err)
	assert.Equal(t, types.RunTerminating, got.Status)
	assert.False(t, got.ProcessingFinished)
}
