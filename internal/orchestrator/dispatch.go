package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/axiscore/axiscore/internal/axerr"
	"github.com/axiscore/axiscore/pkg/axismsg"
)

// dispatchMessage sends one message through the Message Router and turns a
// type:"error" response into a Go error, so pipeline code never has to
// branch on msg.Type itself. When the orchestrator was constructed with
// WithSigning, the outgoing message carries a signed envelope so the
// router's signature middleware (if enabled) treats internal dispatch the
// same as any other component's.
func (o *Orchestrator) dispatchMessage(ctx context.Context, to, msgType, jobID string, payload map[string]any) (axismsg.Message, error) {
	msg := axismsg.Message{
		From:    "orchestrator",
		To:      to,
		Type:    msgType,
		JobID:   jobID,
		Payload: payload,
	}
	if o.signer != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			return axismsg.Message{}, fmt.Errorf("marshal payload for signing: %w", err)
		}
		envelope, err := o.signer.Sign(body, o.identity)
		if err != nil {
			slog.Error("orchestrator: failed to sign outgoing message", "to", to, "type", msgType, "error", err)
			return axismsg.Message{}, fmt.Errorf("sign outgoing message: %w", err)
		}
		msg.Metadata = map[string]any{"_signedEnvelope": envelope}
	}

	resp := o.dispatch.Dispatch(ctx, msg)
	if resp.Type != "error" {
		return resp, nil
	}
	code, _ := resp.Payload["code"].(string)
	message, _ := resp.Payload["message"].(string)
	if code == "" {
		code = axerr.CodeDispatch
	}
	return resp, axerr.New(code, message, axerr.Retriable(code), 0, nil)
}

// isTransportError reports whether code is one the router itself
// synthesizes for infrastructure failures (no handler registered, dispatch
// timed out, or a handler-level panic/error) rather than a component
// answering with a content-level domain error.
func isTransportError(code string) bool {
	switch code {
	case axerr.CodeDispatch, axerr.CodeTimeout, axerr.CodeNotFound:
		return true
	default:
		return false
	}
}

// classifyScoutError maps a dispatch error onto the scout-specific domain
// codes of spec §7: transport failures become SCOUT_UNREACHABLE (retriable);
// anything else is taken as a content-level SCOUT_ERROR, using the upstream
// code's own retriability when one was supplied.
func classifyScoutError(err error) *axerr.Error {
	code, message := errorParts(err)
	if isTransportError(code) {
		return axerr.New(axerr.CodeScoutUnreachable, message, true, 0, err)
	}
	return axerr.New(axerr.CodeScoutError, message, axerr.Retriable(code), 0, err)
}

// classifySentinelError is classifyScoutError's validator-side counterpart.
func classifySentinelError(err error) *axerr.Error {
	code, message := errorParts(err)
	if isTransportError(code) {
		return axerr.New(axerr.CodeSentinelUnreachable, message, true, 0, err)
	}
	return axerr.New(axerr.CodeInvalidValidation, message, false, 0, err)
}

// classifyGearError is the execute.request counterpart: a transport failure
// and a handler-reported execution failure both surface as the single
// retriable GEAR_EXECUTION_FAILED code spec §7 declares, except for a
// checksum mismatch, which the Plugin Sandbox Host reports explicitly and
// which must stay non-retriable (the plugin is disabled, not transient).
func (o *Orchestrator) classifyGearError(err error) *axerr.Error {
	code, message := errorParts(err)
	if code == axerr.CodeChecksumMismatch {
		return axerr.New(axerr.CodeChecksumMismatch, message, false, 0, err)
	}
	return axerr.New(axerr.CodeGearExecutionFailed, message, true, 0, err)
}

func errorParts(err error) (code, message string) {
	var axErr *axerr.Error
	if errors.As(err, &axErr) {
		return axErr.Code, axErr.Message
	}
	return "", err.Error()
}

// plan dispatches plan.request to scout, decoding its response into either
// a fast-path reply (plan == nil) or a full ExecutionPlan. It also
// implements the scenario 6 reroute: a fast-path reply flagged as carrying
// deferred-action language is re-requested with forceFullPath set, so a
// malicious prompt cannot dodge validation by dressing a future tool call
// up as plain conversation.
func (o *Orchestrator) plan(ctx context.Context, jobID, userMessage string, history []string, forceFull bool) (*axismsg.ExecutionPlan, string, error) {
	resp, err := o.dispatchMessage(ctx, ComponentScout, "plan.request", jobID, map[string]any{
		"userMessage":         userMessage,
		"conversationHistory": history,
		"forceFullPath":       forceFull,
	})
	if err != nil {
		return nil, "", classifyScoutError(err)
	}

	path, _ := resp.Payload["path"].(string)
	switch path {
	case "fast":
		text, _ := resp.Payload["text"].(string)
		if !forceFull && isDeferredAction(text) {
			return o.plan(ctx, jobID, userMessage, history, true)
		}
		return nil, text, nil
	case "full":
		raw, ok := resp.Payload["plan"]
		if !ok {
			return nil, "", axerr.New(axerr.CodeInvalidPlan, "scout returned full path with no plan", true, 0, nil)
		}
		var plan axismsg.ExecutionPlan
		if err := remarshal(raw, &plan); err != nil {
			return nil, "", axerr.New(axerr.CodeInvalidPlan, "malformed plan from scout: "+err.Error(), true, 0, err)
		}
		if len(plan.Steps) == 0 {
			return nil, "", axerr.New(axerr.CodeInvalidPlan, "plan has no steps", true, 0, nil)
		}
		plan.JobID = jobID
		return &plan, "", nil
	default:
		return nil, "", axerr.New(axerr.CodeInvalidPlan, fmt.Sprintf("scout returned unrecognized path %q", path), true, 0, nil)
	}
}

// validate dispatches validate.request to sentinel. Per the information
// barrier of spec §4.5, the payload carries exclusively the plan (plus the
// originating job's source tag, which only feeds the approval cache's
// eligibility predicate, spec §4.6): no userMessage, no conversation
// history, nothing sentinel could use to second-guess the plan against the
// original request's intent.
func (o *Orchestrator) validate(ctx context.Context, jobID string, plan *axismsg.ExecutionPlan, source string) (axismsg.ValidationResult, error) {
	resp, err := o.dispatchMessage(ctx, ComponentSentinel, "validate.request", jobID, map[string]any{
		"plan":   plan,
		"source": source,
	})
	if err != nil {
		return axismsg.ValidationResult{}, classifySentinelError(err)
	}
	var result axismsg.ValidationResult
	if err := remarshal(resp.Payload, &result); err != nil {
		return axismsg.ValidationResult{}, axerr.New(axerr.CodeInvalidValidation, "malformed validation result: "+err.Error(), false, 0, err)
	}
	return result, nil
}

// remarshal round-trips src through JSON into dst, used to decode a
// message's loosely-typed payload into a concrete wire struct.
func remarshal(src any, dst any) error {
	raw, err := json.Marshal(src)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}
