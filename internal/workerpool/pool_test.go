package workerpool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axiscore/axiscore/internal/jobqueue"
)

type fakeExecutor struct {
	mu      sync.Mutex
	seen    []string
	delay   time.Duration
	onExec  func(*jobqueue.Job)
	execute int64
}

func (f *fakeExecutor) Execute(ctx context.Context, job *jobqueue.Job) {
	atomic.AddInt64(&f.execute, 1)
	if f.delay > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(f.delay):
		}
	}
	f.mu.Lock()
	f.seen = append(f.seen, job.ID)
	f.mu.Unlock()
	if f.onExec != nil {
		f.onExec(job)
	}
}

func testConfig() Config {
	return Config{
		WorkerCount:        3,
		PollInterval:        10 * time.Millisecond,
		PollIntervalJitter:  2 * time.Millisecond,
		JobTimeout:          time.Second,
		MaxConcurrentJobs:   10,
	}
}

func TestPoolProcessesEnqueuedJobs(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queue := jobqueue.New(jobqueue.NewMemStore())
	exec := &fakeExecutor{}
	pool := NewPool("node-1", queue, testConfig(), exec)

	const n = 5
	ids := make(map[string]bool)
	for i := 0; i < n; i++ {
		job, err := queue.Enqueue(context.Background(), "conv", jobqueue.SourceUser)
		require.NoError(t, err)
		ids[job.ID] = true
	}

	pool.Start(ctx)
	defer pool.Stop()

	require.Eventually(t, func() bool {
		exec.mu.Lock()
		defer exec.mu.Unlock()
		return len(exec.seen) == n
	}, 2*time.Second, 10*time.Millisecond)

	exec.mu.Lock()
	for _, id := range exec.seen {
		assert.True(t, ids[id])
	}
	exec.mu.Unlock()
}

func TestPoolHealthReflectsWorkerCount(t *testing.T) {
	queue := jobqueue.New(jobqueue.NewMemStore())
	exec := &fakeExecutor{}
	cfg := testConfig()
	pool := NewPool("node-1", queue, cfg, exec)

	health := pool.Health()
	assert.Equal(t, 0, health.TotalWorkers) // not started yet

	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)
	defer func() {
		cancel()
		pool.Stop()
	}()

	health = pool.Health()
	assert.Equal(t, cfg.WorkerCount, health.TotalWorkers)
}

func TestPoolCancelJob(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queue := jobqueue.New(jobqueue.NewMemStore())
	var cancelled int64
	exec := &fakeExecutor{
		delay: 5 * time.Second,
		onExec: func(j *jobqueue.Job) {},
	}
	pool := NewPool("node-1", queue, testConfig(), exec)

	job, err := queue.Enqueue(context.Background(), "conv", jobqueue.SourceUser)
	require.NoError(t, err)

	pool.Start(ctx)
	defer pool.Stop()

	require.Eventually(t, func() bool {
		return len(pool.ActiveJobIDs()) == 1
	}, time.Second, 5*time.Millisecond)

	found := pool.CancelJob(job.ID)
	assert.True(t, found)
	atomic.AddInt64(&cancelled, 1)
}
