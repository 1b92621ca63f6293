// Package router implements the Message Router (C3): dispatch of typed
// AxisMessages through a middleware chain onto handlers resolved from the
// Component Registry, with signature verification, size gating, latency
// tracking, audit, and timeout-driven cancellation.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/axiscore/axiscore/internal/axerr"
	"github.com/axiscore/axiscore/internal/registry"
	"github.com/axiscore/axiscore/internal/signing"
	"github.com/axiscore/axiscore/pkg/axismsg"
)

// MaxMessageSizeBytes is the hard cap on a dispatched message's serialized
// size (spec §4.3).
const MaxMessageSizeBytes = 1 << 20 // 1 MiB

// MessageWarningThresholdBytes logs a warning above this size but still
// allows dispatch.
const MessageWarningThresholdBytes = 100 << 10 // 100 KiB

// LatencyWarnThreshold is the dispatch duration above which the latency
// middleware logs a warning.
const LatencyWarnThreshold = 1 * time.Second

// AuditSink receives one entry per dispatch, matching the Audit Log (C9)
// contract. Kept as a narrow interface so the router has no import-time
// dependency on the audit package's storage backend.
type AuditSink interface {
	Record(ctx context.Context, entry axismsg.AuditEntry)
}

// Middleware wraps a Next handler, composing outermost-first per spec §4.3.
type Middleware func(next HandlerFunc) HandlerFunc

// HandlerFunc is the router-internal processing function threaded through
// the middleware chain.
type HandlerFunc func(ctx context.Context, msg axismsg.Message) axismsg.Message

// Router dispatches messages through registered middleware onto registry
// handlers.
type Router struct {
	reg           *registry.Registry
	signer        *signing.Service
	audit         AuditSink
	signingOn     bool
	userMiddlewares []Middleware
}

// Option configures a Router at construction.
type Option func(*Router)

// WithSigning enables signature verification using svc. If svc is nil,
// signing is disabled.
func WithSigning(svc *signing.Service) Option {
	return func(r *Router) {
		r.signer = svc
		r.signingOn = svc != nil
	}
}

// WithAudit attaches an audit sink.
func WithAudit(sink AuditSink) Option {
	return func(r *Router) { r.audit = sink }
}

// WithMiddleware appends user middleware, innermost of the built-ins but
// outside the handler itself (spec §4.3 step 6).
func WithMiddleware(mw ...Middleware) Option {
	return func(r *Router) { r.userMiddlewares = append(r.userMiddlewares, mw...) }
}

// New creates a Router bound to reg.
func New(reg *registry.Registry, opts ...Option) *Router {
	r := &Router{reg: reg}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Dispatch routes msg through the middleware chain to the handler
// registered for msg.To, returning its response. Infrastructure and
// handler-thrown errors are converted to a type:"error" response rather
// than propagated, matching spec §4.3.
func (r *Router) Dispatch(ctx context.Context, msg axismsg.Message) axismsg.Message {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	chain := r.buildChain()
	dispatchCtx, cancel := r.withTimeout(ctx, msg)
	defer cancel()

	return chain(dispatchCtx, msg)
}

// buildChain composes built-in middleware outermost-to-innermost, then user
// middleware, then the terminal handler-resolution step.
func (r *Router) buildChain() HandlerFunc {
	terminal := r.resolveAndInvoke

	chain := terminal
	// Compose innermost first so that, once wrapped in order below, the
	// declared outermost-to-innermost order in spec §4.3 holds.
	for i := len(r.userMiddlewares) - 1; i >= 0; i-- {
		chain = r.userMiddlewares[i](chain)
	}
	chain = r.signatureMiddleware(chain)
	chain = r.sizeGateMiddleware(chain)
	chain = r.latencyMiddleware(chain)
	chain = r.auditMiddleware(chain)
	chain = r.errorWrapMiddleware(chain)
	return chain
}

// errorWrapMiddleware is the outermost layer: it never lets a panic escape
// Dispatch, converting it into an error response instead.
func (r *Router) errorWrapMiddleware(next HandlerFunc) HandlerFunc {
	return func(ctx context.Context, msg axismsg.Message) (resp axismsg.Message) {
		defer func() {
			if rec := recover(); rec != nil {
				slog.Error("router: handler panicked", "to", msg.To, "type", msg.Type, "panic", rec)
				resp = errorResponse(msg, axerr.CodeDispatch, fmt.Sprintf("internal error: %v", rec))
			}
		}()
		return next(ctx, msg)
	}
}

func (r *Router) auditMiddleware(next HandlerFunc) HandlerFunc {
	return func(ctx context.Context, msg axismsg.Message) axismsg.Message {
		resp := next(ctx, msg)
		if r.audit != nil {
			r.audit.Record(ctx, axismsg.AuditEntry{
				ID:        uuid.NewString(),
				Timestamp: time.Now().UTC(),
				Actor:     msg.From,
				Action:    "dispatch:" + msg.Type,
				RiskLevel: axismsg.RiskLow,
				Target:    msg.To,
				JobID:     msg.JobID,
				Details:   map[string]any{"messageId": msg.ID, "correlationId": msg.CorrelationID},
			})
		}
		return resp
	}
}

func (r *Router) latencyMiddleware(next HandlerFunc) HandlerFunc {
	return func(ctx context.Context, msg axismsg.Message) axismsg.Message {
		start := time.Now()
		resp := next(ctx, msg)
		if d := time.Since(start); d > LatencyWarnThreshold {
			slog.Warn("router: slow dispatch", "to", msg.To, "type", msg.Type, "duration", d)
		}
		return resp
	}
}

func (r *Router) sizeGateMiddleware(next HandlerFunc) HandlerFunc {
	return func(ctx context.Context, msg axismsg.Message) axismsg.Message {
		raw, err := json.Marshal(msg)
		if err != nil {
			return errorResponse(msg, axerr.CodeValidation, "message is not serializable")
		}
		size := len(raw)
		if size > MaxMessageSizeBytes {
			return errorResponse(msg, axerr.CodeValidation, fmt.Sprintf("message size %d exceeds limit %d", size, MaxMessageSizeBytes))
		}
		if size > MessageWarningThresholdBytes {
			slog.Warn("router: large message", "to", msg.To, "type", msg.Type, "bytes", size)
		}
		return next(ctx, msg)
	}
}

func (r *Router) signatureMiddleware(next HandlerFunc) HandlerFunc {
	return func(ctx context.Context, msg axismsg.Message) axismsg.Message {
		if !r.signingOn {
			return next(ctx, msg)
		}

		raw, ok := msg.Metadata["_signedEnvelope"]
		if !ok {
			return errorResponse(msg, axerr.CodeAuth, "missing signed envelope")
		}
		envelope, ok := raw.(axismsg.SignedEnvelope)
		if !ok {
			return errorResponse(msg, axerr.CodeAuth, "malformed signed envelope")
		}
		if envelope.Signer != msg.From {
			return errorResponse(msg, axerr.CodeAuth, "envelope signer does not match sender")
		}

		body, err := json.Marshal(msg.Payload)
		if err != nil {
			return errorResponse(msg, axerr.CodeAuth, "unverifiable payload")
		}
		result := r.signer.Verify(body, envelope)
		if !result.Valid {
			signing.LogVerifyFailure(envelope.Signer, result)
			return errorResponse(msg, axerr.CodeAuth, "signature verification failed")
		}

		return next(ctx, msg)
	}
}

// resolveAndInvoke is the innermost step: look up msg.To in the registry
// and invoke its handler.
func (r *Router) resolveAndInvoke(ctx context.Context, msg axismsg.Message) axismsg.Message {
	handler, ok := r.reg.GetHandler(msg.To)
	if !ok {
		return errorResponse(msg, axerr.CodeNotFound, fmt.Sprintf("no component registered for %q", msg.To))
	}

	resp, err := handler(ctx, msg)
	if err != nil {
		if ctx.Err() != nil {
			return errorResponse(msg, axerr.CodeTimeout, "dispatch timed out")
		}
		return errorResponse(msg, axerr.CodeDispatch, err.Error())
	}
	return resp
}

// withTimeout derives a cancellable context from msg.Metadata.timeoutMs, if
// set and positive.
func (r *Router) withTimeout(ctx context.Context, msg axismsg.Message) (context.Context, context.CancelFunc) {
	if ms := msg.TimeoutMs(); ms > 0 {
		return context.WithTimeout(ctx, time.Duration(ms)*time.Millisecond)
	}
	return context.WithCancel(ctx)
}

// errorResponse builds the type:"error" response routed back to msg.From,
// per spec §4.3.
func errorResponse(msg axismsg.Message, code, message string) axismsg.Message {
	return axismsg.Message{
		ID:            uuid.NewString(),
		CorrelationID: msg.CorrelationID,
		Timestamp:     time.Now().UTC(),
		From:          msg.To,
		To:            msg.From,
		Type:          "error",
		Payload: map[string]any{
			"code":             code,
			"message":          message,
			"originalMessageId": msg.ID,
		},
		JobID: msg.JobID,
	}
}
