package jobqueue

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"time"
)

// BaseBackoff and MaxBackoff bound the exponential backoff applied before
// a failed job is requeued: 1s * 2^retries, capped at 5 minutes, with
// +/-20% jitter so a burst of simultaneously-failed jobs does not thunder
// back onto the queue in lockstep.
const (
	BaseBackoff = 1 * time.Second
	MaxBackoff  = 5 * time.Minute
	jitterFrac  = 0.20
)

// Retrier re-enqueues retriable jobs after a backoff delay. It owns no
// goroutine of its own: callers (the orchestrator's failure path, and the
// watchdog) invoke Requeue directly, and scheduling the delay is the
// caller's responsibility via RequeueAfter.
type Retrier struct {
	queue *Queue
}

// NewRetrier constructs a Retrier bound to queue.
func NewRetrier(queue *Queue) *Retrier {
	return &Retrier{queue: queue}
}

// Backoff returns the delay to wait before the (1-indexed) nth retry.
func Backoff(retryNum int) time.Duration {
	if retryNum < 1 {
		retryNum = 1
	}
	d := time.Duration(float64(BaseBackoff) * math.Pow(2, float64(retryNum-1)))
	if d > MaxBackoff {
		d = MaxBackoff
	}
	jitter := 1 + (rand.Float64()*2-1)*jitterFrac
	return time.Duration(float64(d) * jitter)
}

// Requeue immediately resets job to queued, incrementing its retry count.
// Callers that want a delayed retry should sleep (or schedule a timer) for
// Backoff(job.Retries+1) before calling this.
func (r *Retrier) Requeue(ctx context.Context, job *Job) error {
	updated, ok, err := r.queue.store.Requeue(ctx, job.ID, job.Version)
	if err != nil {
		return err
	}
	if !ok {
		// Job moved on (or reached a terminal state) since we read it;
		// nothing to do.
		return nil
	}
	r.queue.notify(updated, job.Status, StatusQueued)
	slog.Info("jobqueue: requeued after failure", "jobId", job.ID, "retries", updated.Retries)
	return nil
}

// RequeueAfter schedules a delayed requeue on its own goroutine, honoring
// ctx cancellation. Intended for the orchestrator's retriable-failure path,
// where the caller already knows job's post-failure state and wants the
// backoff to happen off the handling goroutine.
func (r *Retrier) RequeueAfter(ctx context.Context, job *Job, delay time.Duration) {
	go func() {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			if err := r.Requeue(ctx, job); err != nil {
				slog.Error("jobqueue: delayed requeue failed", "jobId", job.ID, "error", err)
			}
		}
	}()
}
