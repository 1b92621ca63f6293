package jobqueue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/axiscore/axiscore/pkg/axismsg"
)

// Listener is notified after a job's status commits. Listeners run
// synchronously in registration order on the goroutine that performed the
// transition, mirroring the teacher's events.NotifyListener commit-order
// contract (pkg/events/manager.go).
type Listener func(job *Job, from, to Status)

// Queue is the public API of the Job Queue & State Machine: durable
// enqueue, exclusive claim, and CAS-guarded transitions, generalizing the
// teacher's pkg/queue.Manager claim-transaction pattern (pkg/queue/worker.go)
// to the richer multi-state machine and explicit version column of spec §4.2.
type Queue struct {
	store Store

	mu        sync.Mutex
	listeners []Listener
}

// New wraps store in a Queue.
func New(store Store) *Queue {
	return &Queue{store: store}
}

// OnTransition registers a listener invoked after every committed
// transition. Must be called during startup wiring, before any Claim or
// Transition call, matching the registry's Register/Dispatch ownership
// split.
func (q *Queue) OnTransition(l Listener) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.listeners = append(q.listeners, l)
}

func (q *Queue) notify(job *Job, from, to Status) {
	q.mu.Lock()
	listeners := make([]Listener, len(q.listeners))
	copy(listeners, q.listeners)
	q.mu.Unlock()

	for _, l := range listeners {
		l(job, from, to)
	}
}

// Enqueue creates a new job in status queued, version 0.
func (q *Queue) Enqueue(ctx context.Context, conversationID string, source Source) (*Job, error) {
	now := time.Now().UTC()
	job := &Job{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Source:         source,
		Status:         StatusQueued,
		Version:        0,
		CreatedAt:      now,
		UpdatedAt:      now,
		MaxRetries:     MaxRetriesDefault,
	}
	if err := q.store.Insert(ctx, job); err != nil {
		return nil, err
	}
	slog.Info("jobqueue: enqueued", "jobId", job.ID, "conversationId", conversationID, "source", source)
	return job, nil
}

// Claim atomically assigns the oldest queued job to workerID, transitioning
// it to planning. Returns ErrNoJobsAvailable if the queue is empty.
func (q *Queue) Claim(ctx context.Context, workerID string) (*Job, error) {
	job, err := q.store.ClaimNext(ctx, workerID)
	if err != nil {
		return nil, err
	}
	q.notify(job, StatusQueued, StatusPlanning)
	return job, nil
}

// Transition performs a CAS-guarded move from job's current (status,
// version) to newStatus, applying patch to mutate domain fields (plan,
// validation, result, error) as part of the same atomic update. Returns
// ErrVersionMismatch if the job has moved on since the caller last read it,
// or an error wrapping axerr.CodeInvalidTransition-shaped detail if the
// edge itself is illegal.
func (q *Queue) Transition(ctx context.Context, jobID string, expectVersion int64, from, to Status, patch func(*Job)) (*Job, error) {
	updated, ok, err := q.store.CAS(ctx, jobID, from, expectVersion, to, patch)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrVersionMismatch
	}
	q.notify(updated, from, to)
	slog.Debug("jobqueue: transitioned", "jobId", jobID, "from", from, "to", to, "version", updated.Version)
	return updated, nil
}

// Get returns the current job state.
func (q *Queue) Get(ctx context.Context, jobID string) (*Job, error) {
	return q.store.Get(ctx, jobID)
}

// Cancel transitions job to cancelled from whatever its current
// cancellable state is. It re-reads the job to discover its current
// version rather than requiring the caller to track it, since cancellation
// is typically user-initiated out-of-band from the executing worker.
func (q *Queue) Cancel(ctx context.Context, jobID string, reason string) (*Job, error) {
	job, err := q.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() {
		return job, nil
	}
	return q.Transition(ctx, jobID, job.Version, job.Status, StatusCancelled, func(j *Job) {
		j.Error = &JobError{Code: "CANCELLED", Message: reason, Retriable: false}
	})
}

// Complete transitions job to completed with the given result payload.
func (q *Queue) Complete(ctx context.Context, jobID string, expectVersion int64, from Status, result map[string]any) (*Job, error) {
	return q.Transition(ctx, jobID, expectVersion, from, StatusCompleted, func(j *Job) {
		j.Result = result
	})
}

// Fail transitions job to failed, recording a structured JobError.
func (q *Queue) Fail(ctx context.Context, jobID string, expectVersion int64, from Status, jobErr JobError) (*Job, error) {
	return q.Transition(ctx, jobID, expectVersion, from, StatusFailed, func(j *Job) {
		j.Error = &jobErr
	})
}

// SetPlan attaches an execution plan to a job mid-transition, e.g.
// planning -> validating.
func SetPlan(plan *axismsg.ExecutionPlan) func(*Job) {
	return func(j *Job) { j.Plan = plan }
}

// SetValidation attaches a validation result, e.g. validating ->
// awaiting_approval or validating -> executing.
func SetValidation(v *axismsg.ValidationResult) func(*Job) {
	return func(j *Job) { j.Validation = v }
}
