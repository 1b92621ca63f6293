package jobqueue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLiveWorkers struct {
	live map[string]bool
}

func (f fakeLiveWorkers) IsLive(workerID string) bool { return f.live[workerID] }

func TestWatchdogRecoversAbandonedJob(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	q := New(store)
	retrier := NewRetrier(q)
	live := fakeLiveWorkers{live: map[string]bool{}}
	wd := NewWatchdog(q, store, live, retrier)
	wd.staleAfter = 0 // treat everything as stale immediately

	job, err := q.Enqueue(ctx, "conv", SourceUser)
	require.NoError(t, err)
	_, err = q.Claim(ctx, "dead-worker")
	require.NoError(t, err)

	wd.CleanupStartupOrphans(ctx)

	recovered, err := q.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, recovered.Status)
	assert.Equal(t, 1, recovered.Retries)
}

func TestWatchdogFailsJobAfterRetriesExhausted(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	q := New(store)
	retrier := NewRetrier(q)
	live := fakeLiveWorkers{live: map[string]bool{}}
	wd := NewWatchdog(q, store, live, retrier)
	wd.staleAfter = 0

	job, err := q.Enqueue(ctx, "conv", SourceUser)
	require.NoError(t, err)
	job.MaxRetries = 0
	store.jobs[job.ID] = job

	_, err = q.Claim(ctx, "dead-worker")
	require.NoError(t, err)

	wd.CleanupStartupOrphans(ctx)

	final, err := q.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, final.Status)
	require.NotNil(t, final.Error)
	assert.Equal(t, "WATCHDOG_TIMEOUT", final.Error.Code)
}

func TestWatchdogLeavesLiveWorkerJobsAlone(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	q := New(store)
	retrier := NewRetrier(q)
	live := fakeLiveWorkers{live: map[string]bool{"worker-1": true}}
	wd := NewWatchdog(q, store, live, retrier)
	wd.staleAfter = 0

	_, err := q.Enqueue(ctx, "conv", SourceUser)
	require.NoError(t, err)
	claimed, err := q.Claim(ctx, "worker-1")
	require.NoError(t, err)

	wd.CleanupStartupOrphans(ctx)

	unchanged, err := q.Get(ctx, claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPlanning, unchanged.Status)
}

func TestSweepIntervalAndStaleAfterDefaults(t *testing.T) {
	assert.Equal(t, 30*time.Second, SweepInterval)
	assert.Equal(t, 2*time.Minute, StaleAfter)
}
