package jobqueue

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// StaleAfter is how long a non-terminal job may go without a status update
// before the watchdog considers it abandoned (spec §4.2's crash-recovery
// note). Generalizes the teacher's orphan-detection timeout
// (pkg/queue/orphan.go's defaultOrphanTimeout).
const StaleAfter = 2 * time.Minute

// SweepInterval is how often the watchdog scans for stale jobs.
const SweepInterval = 30 * time.Second

// LiveWorkers reports which worker IDs are currently alive, so the watchdog
// can distinguish "still being worked, just slow" from "owner crashed".
type LiveWorkers interface {
	IsLive(workerID string) bool
}

// Watchdog periodically recovers jobs left in a non-terminal state by a
// crashed or hung worker, transitioning them to failed (if retries are
// exhausted) or back to queued (handled by the Retrier). Adapted from the
// teacher's runOrphanDetection/detectAndRecoverOrphans
// (pkg/queue/orphan.go), generalized from tarsy's single "processing"
// state to the richer state machine here.
type Watchdog struct {
	queue   *Queue
	store   Store
	live    LiveWorkers
	retrier *Retrier

	staleAfter time.Duration
	interval   time.Duration

	stopCh chan struct{}
	once   sync.Once
}

// NewWatchdog constructs a Watchdog with default timings; use the With*
// options pattern via direct field assignment before Start if different
// timings are needed in tests.
func NewWatchdog(queue *Queue, store Store, live LiveWorkers, retrier *Retrier) *Watchdog {
	return &Watchdog{
		queue:      queue,
		store:      store,
		live:       live,
		retrier:    retrier,
		staleAfter: StaleAfter,
		interval:   SweepInterval,
		stopCh:     make(chan struct{}),
	}
}

// Start runs the periodic sweep in a background goroutine until ctx is
// cancelled or Stop is called. CleanupStartupOrphans should be called once,
// synchronously, before Start — mirroring the teacher's
// CleanupStartupOrphans-then-background-loop sequencing in cmd/tarsy/main.go.
func (w *Watchdog) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.stopCh:
				return
			case <-ticker.C:
				w.sweep(ctx)
			}
		}
	}()
}

// Stop halts the background sweep goroutine.
func (w *Watchdog) Stop() {
	w.once.Do(func() { close(w.stopCh) })
}

// CleanupStartupOrphans runs one synchronous sweep, intended to run once at
// process startup before any new jobs are claimed, so jobs abandoned by a
// previous process instance are recovered before fresh work begins.
func (w *Watchdog) CleanupStartupOrphans(ctx context.Context) {
	w.sweep(ctx)
}

func (w *Watchdog) sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-w.staleAfter)
	liveSet := map[string]bool{} // reserved for stores that cannot call w.live directly

	stale, err := w.store.ListStale(ctx, cutoff, liveSet)
	if err != nil {
		slog.Error("watchdog: list stale failed", "error", err)
		return
	}

	for _, job := range stale {
		if job.WorkerID != "" && w.live != nil && w.live.IsLive(job.WorkerID) {
			continue
		}
		w.recover(ctx, job)
	}
}

func (w *Watchdog) recover(ctx context.Context, job *Job) {
	slog.Warn("watchdog: recovering stale job", "jobId", job.ID, "status", job.Status, "workerId", job.WorkerID, "retries", job.Retries)

	if job.Retries >= job.MaxRetries {
		if _, err := w.queue.Fail(ctx, job.ID, job.Version, job.Status, JobError{
			Code:      "WATCHDOG_TIMEOUT",
			Message:   "job abandoned by worker and retries exhausted",
			Retriable: false,
		}); err != nil {
			slog.Error("watchdog: failed to mark job failed", "jobId", job.ID, "error", err)
		}
		return
	}

	if w.retrier != nil {
		if err := w.retrier.Requeue(ctx, job); err != nil {
			slog.Error("watchdog: requeue failed", "jobId", job.ID, "error", err)
		}
	}
}
