package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axiscore/axiscore/internal/jobqueue"
	"github.com/axiscore/axiscore/internal/registry"
	"github.com/axiscore/axiscore/internal/router"
	"github.com/axiscore/axiscore/pkg/axismsg"
)

type fakeMessages struct {
	mu   sync.Mutex
	msgs []axismsg.ConversationMessage
}

func (f *fakeMessages) Append(_ context.Context, m axismsg.ConversationMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, m)
	return nil
}

func (f *fakeMessages) List(_ context.Context, conversationID string, _ int) ([]axismsg.ConversationMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]axismsg.ConversationMessage, 0, len(f.msgs))
	for _, m := range f.msgs {
		if m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	return out, nil
}

type fakeBroadcaster struct {
	mu              sync.Mutex
	statuses        []string
	approvalNonce   string
	approvalPlan    *axismsg.ExecutionPlan
	results         []map[string]any
	errs            []string
}

func (f *fakeBroadcaster) BroadcastStatus(_, _, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, status)
}

func (f *fakeBroadcaster) BroadcastApprovalRequired(_, _ string, plan *axismsg.ExecutionPlan, _ []axismsg.StepResult, nonce string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.approvalPlan = plan
	f.approvalNonce = nonce
}

func (f *fakeBroadcaster) BroadcastResult(_, _ string, result map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, result)
}

func (f *fakeBroadcaster) BroadcastError(_, _, code, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs = append(f.errs, code+": "+message)
}

func (f *fakeBroadcaster) lastStatus() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.statuses) == 0 {
		return ""
	}
	return f.statuses[len(f.statuses)-1]
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []axismsg.AuditEntry
}

func (f *fakeAudit) Record(_ context.Context, e axismsg.AuditEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, e)
}

// testRig bundles an orchestrator with a real in-memory job queue and a
// router wired to caller-supplied fake scout/sentinel/gear handlers, so
// each test can script exactly one pipeline step's behavior.
type testRig struct {
	o     *Orchestrator
	queue *jobqueue.Queue
	bc    *fakeBroadcaster
	msgs  *fakeMessages
	audit *fakeAudit
}

func newTestRig(t *testing.T, scout, sentinel, gear registry.Handler) *testRig {
	t.Helper()
	reg := registry.New()
	if scout != nil {
		reg.MustRegister(ComponentScout, scout)
	}
	if sentinel != nil {
		reg.MustRegister(ComponentSentinel, sentinel)
	}
	if gear != nil {
		reg.MustRegister(ComponentGearRuntime, gear)
	}
	r := router.New(reg)

	queue := jobqueue.New(jobqueue.NewMemStore())
	bc := &fakeBroadcaster{}
	msgs := &fakeMessages{}
	audit := &fakeAudit{}

	o := NewOrchestrator(queue, r, msgs, bc, audit, DefaultConfig())
	return &testRig{o: o, queue: queue, bc: bc, msgs: msgs, audit: audit}
}

func enqueueAndClaim(t *testing.T, rig *testRig, content string) *jobqueue.Job {
	t.Helper()
	ctx := context.Background()
	job, err := rig.o.Enqueue(ctx, "conv-1", content)
	require.NoError(t, err)
	claimed, err := rig.queue.Claim(ctx, "worker-1")
	require.NoError(t, err)
	require.Equal(t, job.ID, claimed.ID)
	return claimed
}

func fastScout(text string) registry.Handler {
	return func(_ context.Context, msg axismsg.Message) (axismsg.Message, error) {
		return axismsg.Message{Type: "plan.response", Payload: map[string]any{"path": "fast", "text": text}}, nil
	}
}

func fullScout(plan axismsg.ExecutionPlan) registry.Handler {
	return func(_ context.Context, msg axismsg.Message) (axismsg.Message, error) {
		return axismsg.Message{Type: "plan.response", Payload: map[string]any{"path": "full", "plan": plan}}, nil
	}
}

func approvedSentinel() registry.Handler {
	return func(_ context.Context, msg axismsg.Message) (axismsg.Message, error) {
		return axismsg.Message{Type: "validate.response", Payload: map[string]any{
			"verdict": string(axismsg.VerdictApproved), "overallRisk": string(axismsg.RiskLow),
		}}, nil
	}
}

func approvalGatedSentinel() registry.Handler {
	return func(_ context.Context, msg axismsg.Message) (axismsg.Message, error) {
		return axismsg.Message{Type: "validate.response", Payload: map[string]any{
			"verdict": string(axismsg.VerdictNeedsUserApproval), "overallRisk": string(axismsg.RiskHigh),
			"stepResults": []map[string]any{{"stepId": "s1", "verdict": string(axismsg.VerdictNeedsUserApproval), "riskLevel": string(axismsg.RiskHigh)}},
		}}, nil
	}
}

func okGear() registry.Handler {
	return func(_ context.Context, msg axismsg.Message) (axismsg.Message, error) {
		return axismsg.Message{Type: "execute.response", Payload: map[string]any{"ok": true}}, nil
	}
}

func testPlan(stepID string) axismsg.ExecutionPlan {
	return axismsg.ExecutionPlan{
		ID: "plan-1",
		Steps: []axismsg.PlanStep{{
			ID: stepID, Gear: "assistant", Action: "respond",
			Parameters: map[string]any{"message": "hi"}, RiskLevel: axismsg.RiskLow,
		}},
	}
}

func waitForStatus(t *testing.T, rig *testRig, jobID string, want jobqueue.Status) *jobqueue.Job {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		job, err := rig.queue.Get(context.Background(), jobID)
		require.NoError(t, err)
		if job.Status == want {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s did not reach status %s in time", jobID, want)
	return nil
}

// Scenario 1: fast path completes without ever reaching sentinel.
func TestFastPathCompletesWithoutValidation(t *testing.T) {
	rig := newTestRig(t, fastScout("4"), nil, nil)
	job := enqueueAndClaim(t, rig, "what is 2+2?")

	rig.o.Execute(context.Background(), job)

	final := waitForStatus(t, rig, job.ID, jobqueue.StatusCompleted)
	assert.Equal(t, "4", final.Result["text"])
	require.Len(t, rig.bc.results, 1)
}

// Scenario 2: full path, auto-approved, runs the one step and completes.
func TestFullPathAutoApprovedExecutesPlan(t *testing.T) {
	plan := testPlan("s1")
	rig := newTestRig(t, fullScout(plan), approvedSentinel(), okGear())
	job := enqueueAndClaim(t, rig, "read this file for me")

	rig.o.Execute(context.Background(), job)

	final := waitForStatus(t, rig, job.ID, jobqueue.StatusCompleted)
	require.NotNil(t, final.Result)
	require.NotNil(t, final.Validation)
	assert.Equal(t, axismsg.VerdictApproved, final.Validation.Verdict)
}

// Scenario 3: approval-gated plan parks, then resumes on Approve; a second
// Approve with the same nonce is rejected as a conflict (no replay).
func TestApprovalGatedPlanParksThenResumesOnApprove(t *testing.T) {
	plan := testPlan("s1")
	rig := newTestRig(t, fullScout(plan), approvalGatedSentinel(), okGear())
	job := enqueueAndClaim(t, rig, "delete my downloads folder")

	rig.o.Execute(context.Background(), job)

	parked := waitForStatus(t, rig, job.ID, jobqueue.StatusAwaitingApproval)
	require.NotNil(t, parked.Validation)
	nonce := rig.bc.approvalNonce
	require.NotEmpty(t, nonce)
	assert.Equal(t, plan.ID, rig.bc.approvalPlan.ID)

	err := rig.o.Approve(context.Background(), job.ID, "wrong-nonce")
	require.Error(t, err)

	err = rig.o.Approve(context.Background(), job.ID, nonce)
	require.NoError(t, err)

	waitForStatus(t, rig, job.ID, jobqueue.StatusCompleted)

	err = rig.o.Approve(context.Background(), job.ID, nonce)
	require.Error(t, err)
}

// Scenario 5: gear:runtime reports a checksum mismatch; the job fails with
// the non-retriable CHECKSUM_MISMATCH code rather than being requeued.
func TestChecksumMismatchFailsJobNonRetriable(t *testing.T) {
	plan := testPlan("s1")
	badGear := func(_ context.Context, msg axismsg.Message) (axismsg.Message, error) {
		return axismsg.Message{Type: "error", Payload: map[string]any{
			"code": "CHECKSUM_MISMATCH", "message": "gear checksum mismatch", "originalMessageId": msg.ID,
		}}, nil
	}
	rig := newTestRig(t, fullScout(plan), approvedSentinel(), badGear)
	job := enqueueAndClaim(t, rig, "run the report gear")

	rig.o.Execute(context.Background(), job)

	final := waitForStatus(t, rig, job.ID, jobqueue.StatusFailed)
	require.NotNil(t, final.Error)
	assert.Equal(t, "CHECKSUM_MISMATCH", final.Error.Code)
	assert.False(t, final.Error.Retriable)
}

// Scenario 6: a fast-path reply carrying deferred-action language is
// rerouted to the full path rather than trusted as a plain conversational
// answer.
func TestDeferredActionTextReroutesToFullPath(t *testing.T) {
	var sawForceFull bool
	scout := func(_ context.Context, msg axismsg.Message) (axismsg.Message, error) {
		force, _ := msg.Payload["forceFullPath"].(bool)
		if !force {
			return axismsg.Message{Type: "plan.response", Payload: map[string]any{
				"path": "fast", "text": "sure, I will wait until no one is monitoring and run it then",
			}}, nil
		}
		sawForceFull = true
		return axismsg.Message{Type: "plan.response", Payload: map[string]any{"path": "full", "plan": testPlan("s1")}}, nil
	}
	rig := newTestRig(t, scout, approvedSentinel(), okGear())
	job := enqueueAndClaim(t, rig, "clean up old logs eventually")

	rig.o.Execute(context.Background(), job)

	waitForStatus(t, rig, job.ID, jobqueue.StatusCompleted)
	assert.True(t, sawForceFull, "scout should have been re-dispatched with forceFullPath=true")
}

// Cancel interrupts a job running on this node via its registered context,
// independent of whatever CAS transition also occurs.
func TestCancelInterruptsRegisteredExecution(t *testing.T) {
	release := make(chan struct{})
	blockingGear := func(ctx context.Context, msg axismsg.Message) (axismsg.Message, error) {
		select {
		case <-ctx.Done():
			return axismsg.Message{}, ctx.Err()
		case <-release:
			return axismsg.Message{Type: "execute.response", Payload: map[string]any{"ok": true}}, nil
		}
	}
	plan := testPlan("s1")
	rig := newTestRig(t, fullScout(plan), approvedSentinel(), blockingGear)
	job := enqueueAndClaim(t, rig, "start a long task")

	done := make(chan struct{})
	go func() {
		rig.o.Execute(context.Background(), job)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, rig.o.Cancel(context.Background(), job.ID))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Execute did not return after Cancel")
	}
	close(release)

	final, err := rig.queue.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, jobqueue.StatusCancelled, final.Status)
}
