// Package gateway implements the Gateway (C10): the one HTTP and WebSocket
// surface external clients see. It never touches a store or a plugin
// directly — every operation is delegated through a small set of
// capability interfaces satisfied by the Pipeline Orchestrator, keeping the
// gateway itself a thin, security-hardened edge (auth, rate limiting,
// header hygiene, response scrubbing).
package gateway

import (
	"context"

	"github.com/axiscore/axiscore/internal/jobqueue"
	"github.com/axiscore/axiscore/pkg/axismsg"
)

// JobService is the narrow surface the gateway needs from the orchestrator.
// The orchestrator owns nonce issuance/consumption for the approval gate
// (spec §4.8, §8 scenario 3) since it alone knows when a job enters
// awaiting_approval.
type JobService interface {
	Enqueue(ctx context.Context, conversationID, content string) (*jobqueue.Job, error)
	Get(ctx context.Context, jobID string) (*jobqueue.Job, error)
	Approve(ctx context.Context, jobID, nonce string) error
	Cancel(ctx context.Context, jobID string) error
}

// MessageStore is the narrow surface the gateway needs for conversation
// history. Implemented by whatever owns the `messages` core table.
type MessageStore interface {
	List(ctx context.Context, conversationID string, limit int) ([]axismsg.ConversationMessage, error)
}

// TokenStore issues and consumes one-time WebSocket auth tokens (the
// `ws_connection_tokens` core table, spec §6). A token is valid for exactly
// one WS upgrade.
type TokenStore interface {
	Issue(ctx context.Context, sessionID string) (string, error)
	Consume(ctx context.Context, token string) (sessionID string, ok bool, err error)
}

// ReadinessChecker reports whether the process is ready to accept traffic
// (distinct from liveness, which the HTTP server answers just by running).
type ReadinessChecker interface {
	Ready(ctx context.Context) error
}
