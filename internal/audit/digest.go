package audit

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/slack-go/slack"

	"github.com/axiscore/axiscore/pkg/axismsg"
)

// DigestSinkConfig configures the optional Slack notification sink for
// critical-risk audit entries.
type DigestSinkConfig struct {
	Token   string
	Channel string
}

// DigestSink posts a Slack message for every critical-risk audit entry it
// sees, leaving all other entries untouched. Adapted from the teacher's
// pkg/slack.Service (nil-safe, fail-open notification pattern): a nil
// *DigestSink is safe to call Notify on and is simply a no-op.
type DigestSink struct {
	client  *slack.Client
	channel string
}

// NewDigestSink constructs a DigestSink, or returns nil if cfg is
// incomplete (matching the teacher's NewService contract).
func NewDigestSink(cfg DigestSinkConfig) *DigestSink {
	if cfg.Token == "" || cfg.Channel == "" {
		return nil
	}
	return &DigestSink{client: slack.New(cfg.Token), channel: cfg.Channel}
}

// Notify posts a message for entry if its risk level is critical. Errors
// are logged, never returned — a Slack outage must never block the audit
// write path it's observing.
func (d *DigestSink) Notify(ctx context.Context, entry axismsg.AuditEntry) {
	if d == nil {
		return
	}
	if entry.RiskLevel != axismsg.RiskCritical {
		return
	}

	text := fmt.Sprintf(":rotating_light: critical-risk action `%s` by `%s` on job `%s`", entry.Action, entry.Actor, entry.JobID)
	_, _, err := d.client.PostMessageContext(ctx, d.channel, slack.MsgOptionText(text, false))
	if err != nil {
		slog.Error("audit: failed to post critical-risk digest to Slack", "jobId", entry.JobID, "error", err)
	}
}

// Sink wraps a Store and an optional DigestSink behind the router's
// AuditSink interface.
type Sink struct {
	store  Store
	digest *DigestSink
}

// NewSink constructs a Sink. digest may be nil.
func NewSink(store Store, digest *DigestSink) *Sink {
	return &Sink{store: store, digest: digest}
}

// Record implements router.AuditSink.
func (s *Sink) Record(ctx context.Context, entry axismsg.AuditEntry) {
	if err := s.store.Append(ctx, entry); err != nil {
		slog.Error("audit: failed to append entry", "jobId", entry.JobID, "action", entry.Action, "error", err)
	}
	s.digest.Notify(ctx, entry)
}
