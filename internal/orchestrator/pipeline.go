package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/axiscore/axiscore/internal/axerr"
	"github.com/axiscore/axiscore/internal/jobqueue"
	"github.com/axiscore/axiscore/internal/router"
	"github.com/axiscore/axiscore/pkg/axismsg"
)

// NewOrchestrator wires an Orchestrator from its capability interfaces, per
// the leaves-first composition spec §9 describes. cfg may be the zero value,
// in which case DefaultConfig applies.
func NewOrchestrator(queue *jobqueue.Queue, dispatch *router.Router, messages MessageStore, broadcast Broadcaster, audit AuditSink, cfg Config, opts ...Option) *Orchestrator {
	if cfg.ConversationHistoryLimit == 0 && cfg.StepTimeout == 0 {
		cfg = DefaultConfig()
	}
	o := &Orchestrator{
		queue:       queue,
		dispatch:    dispatch,
		messages:    messages,
		broadcast:   broadcast,
		audit:       audit,
		cfg:         cfg,
		retrier:     jobqueue.NewRetrier(queue),
		activeExecs: make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Enqueue creates a job and records the triggering user turn, implementing
// gateway.JobService.
func (o *Orchestrator) Enqueue(ctx context.Context, conversationID, content string) (*jobqueue.Job, error) {
	job, err := o.queue.Enqueue(ctx, conversationID, jobqueue.SourceUser)
	if err != nil {
		return nil, err
	}
	if err := o.messages.Append(ctx, axismsg.ConversationMessage{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           "user",
		Content:        content,
		JobID:          job.ID,
		CreatedAt:      time.Now().UTC(),
	}); err != nil {
		return nil, fmt.Errorf("orchestrator: record user message: %w", err)
	}
	return job, nil
}

// EnqueueScheduled creates a job tagged with jobqueue.SourceSchedule rather
// than SourceUser, so the approval cache's "scheduled, non-user source"
// eligibility predicate recognizes it. The seeding turn is recorded with
// role "system" rather than "user", since nothing typed it.
func (o *Orchestrator) EnqueueScheduled(ctx context.Context, conversationID, content string) (*jobqueue.Job, error) {
	job, err := o.queue.Enqueue(ctx, conversationID, jobqueue.SourceSchedule)
	if err != nil {
		return nil, err
	}
	if err := o.messages.Append(ctx, axismsg.ConversationMessage{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           "system",
		Content:        content,
		JobID:          job.ID,
		CreatedAt:      time.Now().UTC(),
	}); err != nil {
		return nil, fmt.Errorf("orchestrator: record scheduled turn: %w", err)
	}
	return job, nil
}

// Get implements gateway.JobService.
func (o *Orchestrator) Get(ctx context.Context, jobID string) (*jobqueue.Job, error) {
	return o.queue.Get(ctx, jobID)
}

// Approve consumes a pending approval nonce and resumes execution on a
// spawned goroutine, since the worker that originally claimed this job
// already returned from Execute when it parked in awaiting_approval (spec
// §8 scenario 3).
func (o *Orchestrator) Approve(ctx context.Context, jobID, nonce string) error {
	job, err := o.queue.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != jobqueue.StatusAwaitingApproval {
		return axerr.New(axerr.CodeConflict, "job is not awaiting approval", false, 409, nil)
	}
	if job.Validation == nil {
		return axerr.New(axerr.CodeConflict, "job has no pending validation", false, 409, nil)
	}
	stored, _ := job.Validation.Metadata["nonce"].(string)
	if stored == "" || stored != nonce {
		return axerr.New(axerr.CodeConflict, "approval nonce does not match or was already consumed", false, 409, nil)
	}

	updated, err := o.queue.Transition(ctx, jobID, job.Version, jobqueue.StatusAwaitingApproval, jobqueue.StatusExecuting, nil)
	if err != nil {
		if errors.Is(err, jobqueue.ErrVersionMismatch) {
			return axerr.New(axerr.CodeConflict, "approval already consumed", false, 409, nil)
		}
		return err
	}

	o.audit.Record(ctx, axismsg.AuditEntry{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Actor:     "user",
		Action:    "approval.granted",
		RiskLevel: updated.Validation.OverallRisk,
		JobID:     jobID,
	})
	o.broadcast.BroadcastStatus(updated.ConversationID, jobID, string(jobqueue.StatusExecuting))

	execCtx, cancel := context.WithCancel(context.Background())
	o.registerExec(jobID, cancel)
	go func() {
		defer cancel()
		defer o.unregisterExec(jobID)
		o.runExecution(execCtx, updated, updated.Plan)
	}()
	return nil
}

// Cancel stops a job's in-flight work on this node, if any is registered
// here, then falls back to a direct CAS transition for jobs not actively
// running locally (still queued, or parked awaiting approval).
func (o *Orchestrator) Cancel(ctx context.Context, jobID string) error {
	o.mu.Lock()
	cancel, running := o.activeExecs[jobID]
	o.mu.Unlock()
	if running {
		cancel()
	}
	_, err := o.queue.Cancel(ctx, jobID, "cancelled by user")
	return err
}

// Execute drives one claimed job through ingest -> plan -> route -> validate
// -> execute (spec §4.5), implementing workerpool.JobExecutor. It is
// responsible for leaving the job in a terminal status, or parked in
// awaiting_approval, before returning.
func (o *Orchestrator) Execute(ctx context.Context, job *jobqueue.Job) {
	ctx, cancel := context.WithCancel(ctx)
	o.registerExec(job.ID, cancel)
	defer o.unregisterExec(job.ID)
	defer cancel()

	o.broadcast.BroadcastStatus(job.ConversationID, job.ID, string(jobqueue.StatusPlanning))

	history, err := o.messages.List(ctx, job.ConversationID, o.cfg.ConversationHistoryLimit)
	if err != nil {
		o.failFromStatus(ctx, job, jobqueue.StatusPlanning, axerr.CodeValidation, fmt.Sprintf("loading conversation history: %v", err), false)
		return
	}
	userMessage, historyLines := splitHistory(history, job.ID)

	plan, fastText, planErr := o.plan(ctx, job.ID, userMessage, historyLines, false)
	if planErr != nil {
		o.handlePipelineError(ctx, job, jobqueue.StatusPlanning, planErr)
		return
	}

	if plan == nil {
		updated, err := o.queue.Transition(ctx, job.ID, job.Version, jobqueue.StatusPlanning, jobqueue.StatusCompleted, func(j *jobqueue.Job) {
			j.Result = map[string]any{"text": fastText}
		})
		if err != nil {
			slog.Error("orchestrator: completing fast-path job", "jobId", job.ID, "error", err)
			return
		}
		o.finishSuccess(ctx, updated, fastText)
		return
	}

	updated, err := o.queue.Transition(ctx, job.ID, job.Version, jobqueue.StatusPlanning, jobqueue.StatusValidating, jobqueue.SetPlan(plan))
	if err != nil {
		slog.Error("orchestrator: moving job to validating", "jobId", job.ID, "error", err)
		return
	}
	job = updated
	o.broadcast.BroadcastStatus(job.ConversationID, job.ID, string(jobqueue.StatusValidating))

	validation, valErr := o.validate(ctx, job.ID, plan, string(job.Source))
	if valErr != nil {
		o.handlePipelineError(ctx, job, jobqueue.StatusValidating, valErr)
		return
	}

	switch validation.Verdict {
	case axismsg.VerdictRejected:
		o.failFromStatus(ctx, job, jobqueue.StatusValidating, axerr.CodePlanRejected, validation.Reasoning, false)
	case axismsg.VerdictNeedsRevision:
		o.failFromStatus(ctx, job, jobqueue.StatusValidating, axerr.CodeNeedsRevision, validation.Reasoning, true)
	case axismsg.VerdictNeedsUserApproval:
		nonce, err := generateNonce()
		if err != nil {
			o.failFromStatus(ctx, job, jobqueue.StatusValidating, axerr.CodeValidation, "generating approval nonce: "+err.Error(), false)
			return
		}
		if validation.Metadata == nil {
			validation.Metadata = map[string]any{}
		}
		validation.Metadata["nonce"] = nonce

		updated, err := o.queue.Transition(ctx, job.ID, job.Version, jobqueue.StatusValidating, jobqueue.StatusAwaitingApproval, jobqueue.SetValidation(&validation))
		if err != nil {
			slog.Error("orchestrator: moving job to awaiting_approval", "jobId", job.ID, "error", err)
			return
		}
		o.broadcast.BroadcastApprovalRequired(updated.ConversationID, updated.ID, plan, validation.StepResults, nonce)
		o.audit.Record(ctx, axismsg.AuditEntry{
			ID:        uuid.NewString(),
			Timestamp: time.Now().UTC(),
			Actor:     "sentinel",
			Action:    "approval.required",
			RiskLevel: validation.OverallRisk,
			JobID:     job.ID,
		})
		// Job parks here; Approve() resumes it on its own goroutine.
	case axismsg.VerdictApproved:
		updated, err := o.queue.Transition(ctx, job.ID, job.Version, jobqueue.StatusValidating, jobqueue.StatusExecuting, jobqueue.SetValidation(&validation))
		if err != nil {
			slog.Error("orchestrator: moving job to executing", "jobId", job.ID, "error", err)
			return
		}
		o.runExecution(ctx, updated, plan)
	default:
		o.failFromStatus(ctx, job, jobqueue.StatusValidating, axerr.CodeInvalidValidation, fmt.Sprintf("unrecognized verdict %q", validation.Verdict), false)
	}
}

// runExecution steps a validated plan through gear:runtime one step at a
// time, recording each step's result, then transitions the job to its
// terminal status. Used both from Execute's auto-approved path and from
// Approve's post-gate continuation goroutine.
func (o *Orchestrator) runExecution(ctx context.Context, job *jobqueue.Job, plan *axismsg.ExecutionPlan) {
	o.broadcast.BroadcastStatus(job.ConversationID, job.ID, string(jobqueue.StatusExecuting))

	stepResults := make([]map[string]any, 0, len(plan.Steps))
	for _, step := range plan.Steps {
		stepCtx := ctx
		var cancel context.CancelFunc = func() {}
		if o.cfg.StepTimeout > 0 {
			stepCtx, cancel = context.WithTimeout(ctx, o.cfg.StepTimeout)
		}
		resp, err := o.dispatchMessage(stepCtx, ComponentGearRuntime, "execute.request", job.ID, map[string]any{
			"stepId":     step.ID,
			"gear":       step.Gear,
			"action":     step.Action,
			"parameters": step.Parameters,
		})
		cancel()
		if err != nil {
			o.handlePipelineError(ctx, job, jobqueue.StatusExecuting, o.classifyGearError(err))
			return
		}
		stepResults = append(stepResults, map[string]any{"stepId": step.ID, "output": resp.Payload})
	}

	updated, err := o.queue.Transition(ctx, job.ID, job.Version, jobqueue.StatusExecuting, jobqueue.StatusCompleted, func(j *jobqueue.Job) {
		j.Result = map[string]any{"steps": stepResults}
	})
	if err != nil {
		slog.Error("orchestrator: completing executed job", "jobId", job.ID, "error", err)
		return
	}
	o.finishSuccess(ctx, updated, "")
}

// finishSuccess broadcasts a completed job's result and records the
// assistant's turn in the conversation.
func (o *Orchestrator) finishSuccess(ctx context.Context, job *jobqueue.Job, fastText string) {
	o.broadcast.BroadcastResult(job.ConversationID, job.ID, job.Result)

	content := fastText
	if content == "" {
		if raw, err := json.Marshal(job.Result); err == nil {
			content = string(raw)
		}
	}
	if err := o.messages.Append(ctx, axismsg.ConversationMessage{
		ID:             uuid.NewString(),
		ConversationID: job.ConversationID,
		Role:           "assistant",
		Content:        content,
		JobID:          job.ID,
		CreatedAt:      time.Now().UTC(),
	}); err != nil {
		slog.Error("orchestrator: recording assistant message", "jobId", job.ID, "error", err)
	}
}

// handlePipelineError routes a *axerr.Error raised anywhere in the pipeline
// to either a delayed retry (retriable, retries remaining) or a terminal
// failure, per spec §7.
func (o *Orchestrator) handlePipelineError(ctx context.Context, job *jobqueue.Job, from jobqueue.Status, pipelineErr error) {
	var axErr *axerr.Error
	if !errors.As(pipelineErr, &axErr) {
		axErr = axerr.Wrap(axerr.CodeDispatch, pipelineErr.Error(), pipelineErr)
	}
	o.failFromStatus(ctx, job, from, axErr.Code, axErr.Message, axErr.Retriable)
}

// failFromStatus transitions job to failed (recording the structured
// error), broadcasts it, audits it, and — for retriable codes with retries
// remaining — schedules a backoff requeue via the same Retrier the watchdog
// uses for crash recovery.
func (o *Orchestrator) failFromStatus(ctx context.Context, job *jobqueue.Job, from jobqueue.Status, code, message string, retriable bool) {
	updated, err := o.queue.Fail(ctx, job.ID, job.Version, from, jobqueue.JobError{Code: code, Message: message, Retriable: retriable})
	if err != nil {
		slog.Error("orchestrator: failing job", "jobId", job.ID, "error", err)
		return
	}

	o.broadcast.BroadcastError(updated.ConversationID, updated.ID, code, message)
	o.audit.Record(ctx, axismsg.AuditEntry{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Actor:     "orchestrator",
		Action:    "job.failed",
		RiskLevel: axismsg.RiskMedium,
		JobID:     updated.ID,
		Details:   map[string]any{"code": code, "message": message, "retriable": retriable},
	})

	if retriable && updated.Retries < updated.MaxRetries {
		o.retrier.RequeueAfter(context.WithoutCancel(ctx), updated, jobqueue.Backoff(updated.Retries+1))
	}
}

// registerExec and unregisterExec track the cancellation handle for a job
// actively running on this node, so Cancel() can interrupt it cooperatively
// rather than only flipping its stored status.
func (o *Orchestrator) registerExec(jobID string, cancel context.CancelFunc) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.activeExecs[jobID] = cancel
}

func (o *Orchestrator) unregisterExec(jobID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.activeExecs, jobID)
}

// splitHistory separates the turn that triggered jobID from the
// conversation's prior turns, returning the triggering content and a
// flattened "role: content" history for the planner's prompt.
func splitHistory(msgs []axismsg.ConversationMessage, jobID string) (current string, history []string) {
	idx := -1
	for i, m := range msgs {
		if m.JobID == jobID && m.Role == "user" {
			idx = i
		}
	}
	if idx == -1 {
		idx = len(msgs) - 1
	}
	if idx < 0 {
		return "", nil
	}
	current = msgs[idx].Content
	for _, m := range msgs[:idx] {
		history = append(history, m.Role+": "+m.Content)
	}
	return current, history
}
