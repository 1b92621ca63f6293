package workerpool

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/axiscore/axiscore/internal/jobqueue"
)

type workerStatus string

const (
	workerStatusIdle    workerStatus = "idle"
	workerStatusWorking workerStatus = "working"
)

// sessionRegistry is the subset of Pool a Worker needs, named after the
// teacher's SessionRegistry interface (pkg/queue/worker.go).
type sessionRegistry interface {
	RegisterJob(jobID string, cancel context.CancelFunc)
	UnregisterJob(jobID string)
}

// Worker polls the queue for claimable jobs and runs each one through the
// bound JobExecutor.
type Worker struct {
	id       string
	queue    *jobqueue.Queue
	config   Config
	executor JobExecutor
	pool     sessionRegistry
	stopCh   <-chan struct{}

	mu            sync.RWMutex
	status        workerStatus
	currentJobID  string
	jobsProcessed int
	lastActivity  time.Time
}

func newWorker(id string, queue *jobqueue.Queue, cfg Config, executor JobExecutor, pool sessionRegistry, stopCh <-chan struct{}) *Worker {
	return &Worker{
		id:           id,
		queue:        queue,
		config:       cfg,
		executor:     executor,
		pool:         pool,
		stopCh:       stopCh,
		status:       workerStatusIdle,
		lastActivity: time.Now(),
	}
}

func (w *Worker) health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID:            w.id,
		Status:        string(w.status),
		CurrentJobID:  w.currentJobID,
		JobsProcessed: w.jobsProcessed,
		LastActivity:  w.lastActivity,
	}
}

func (w *Worker) run(ctx context.Context) {
	log := slog.With("worker_id", w.id)
	log.Info("worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("worker shutting down")
			return
		case <-ctx.Done():
			log.Info("context cancelled, worker shutting down")
			return
		default:
			if err := w.pollAndProcess(ctx); err != nil {
				if errors.Is(err, jobqueue.ErrNoJobsAvailable) || errors.Is(err, ErrAtCapacity) {
					w.sleep(w.pollInterval())
					continue
				}
				log.Error("error claiming job", "error", err)
				w.sleep(time.Second)
			}
		}
	}
}

func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

func (w *Worker) pollAndProcess(ctx context.Context) error {
	if pool, ok := w.pool.(*Pool); ok && pool.atCapacity() {
		return ErrAtCapacity
	}

	job, err := w.queue.Claim(ctx, w.id)
	if err != nil {
		return err
	}

	log := slog.With("job_id", job.ID, "worker_id", w.id)
	log.Info("job claimed")

	w.setStatus(workerStatusWorking, job.ID)
	defer w.setStatus(workerStatusIdle, "")

	jobCtx, cancel := context.WithTimeout(ctx, w.config.JobTimeout)
	defer cancel()

	w.pool.RegisterJob(job.ID, cancel)
	defer w.pool.UnregisterJob(job.ID)

	w.executor.Execute(jobCtx, job)

	w.mu.Lock()
	w.jobsProcessed++
	w.mu.Unlock()

	log.Info("job processing complete")
	return nil
}

func (w *Worker) pollInterval() time.Duration {
	base := w.config.PollInterval
	jitter := w.config.PollIntervalJitter
	if jitter <= 0 {
		return base
	}
	offset := time.Duration(rand.Int64N(int64(2 * jitter)))
	return base - jitter + offset
}

func (w *Worker) setStatus(status workerStatus, jobID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.currentJobID = jobID
	w.lastActivity = time.Now()
}
