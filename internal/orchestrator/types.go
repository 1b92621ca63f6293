// Package orchestrator implements the Pipeline Orchestrator (C6): the
// processor body that runs on a claimed job, encoding the request
// lifecycle (ingest -> plan -> route -> validate -> execute) through the
// Job Queue's CAS interface. It implements workerpool.JobExecutor (the
// integration point the Worker Pool drives) and gateway.JobService (the
// integration point the Gateway drives), without importing either package,
// per the capability-interface composition spec §9 describes.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/axiscore/axiscore/internal/jobqueue"
	"github.com/axiscore/axiscore/internal/router"
	"github.com/axiscore/axiscore/internal/signing"
	"github.com/axiscore/axiscore/pkg/axismsg"
)

// Component addresses dispatched to via the Message Router (spec §4.5,
// glossary "Component").
const (
	ComponentScout       = "scout"
	ComponentSentinel    = "sentinel"
	ComponentGearRuntime = "gear:runtime"
)

// Broadcaster is the narrow slice of gateway.ConnectionManager the
// orchestrator needs to push status updates to WebSocket clients. Declared
// here rather than imported so this package has no dependency on the
// gateway's transport details.
type Broadcaster interface {
	BroadcastStatus(conversationID, jobID, status string)
	BroadcastApprovalRequired(conversationID, jobID string, plan *axismsg.ExecutionPlan, risks []axismsg.StepResult, nonce string)
	BroadcastResult(conversationID, jobID string, result map[string]any)
	BroadcastError(conversationID, jobID, code, message string)
}

// MessageStore persists conversation turns. Implements gateway.MessageStore
// on the read side; the orchestrator only ever appends.
type MessageStore interface {
	Append(ctx context.Context, msg axismsg.ConversationMessage) error
	List(ctx context.Context, conversationID string, limit int) ([]axismsg.ConversationMessage, error)
}

// AuditSink mirrors router.AuditSink so the orchestrator can record
// job-lifecycle entries (approval grants, terminal failures) without
// importing the audit package's storage backend.
type AuditSink interface {
	Record(ctx context.Context, entry axismsg.AuditEntry)
}

// Config controls pipeline timing and limits.
type Config struct {
	// ConversationHistoryLimit bounds how many prior messages are loaded
	// for the planner's conversationHistory payload.
	ConversationHistoryLimit int
	// StepTimeout bounds a single execute.request dispatch when the plan
	// step itself declares no resource timeout.
	StepTimeout time.Duration
}

// DefaultConfig returns sane defaults.
func DefaultConfig() Config {
	return Config{ConversationHistoryLimit: 50, StepTimeout: 2 * time.Minute}
}

// Orchestrator ties the Job Queue, Message Router, Message Store, and
// Gateway broadcaster together into the request lifecycle of spec §4.5.
type Orchestrator struct {
	queue     *jobqueue.Queue
	dispatch  *router.Router
	messages  MessageStore
	broadcast Broadcaster
	audit     AuditSink
	cfg       Config

	retrier *jobqueue.Retrier

	signer   *signing.Service
	identity string

	mu         sync.Mutex
	activeExecs map[string]context.CancelFunc
}

// Option configures an Orchestrator at construction.
type Option func(*Orchestrator)

// WithSigning has the orchestrator sign every message it dispatches under
// identity, so the Message Router's signature middleware (when enabled)
// accepts internal plan.request/validate.request/execute.request traffic
// the same way it would any other component's. Nil svc leaves signing off.
func WithSigning(svc *signing.Service, identity string) Option {
	return func(o *Orchestrator) {
		o.signer = svc
		o.identity = identity
	}
}
