package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/axiscore/axiscore/internal/registry"
	"github.com/axiscore/axiscore/pkg/axismsg"
)

// executeRequestPayload is the shape of an execute.request message's
// payload, as the Pipeline Orchestrator dispatches it per plan step.
type executeRequestPayload struct {
	StepID     string         `json:"stepId"`
	Gear       string         `json:"gear"`
	Action     string         `json:"action"`
	Parameters map[string]any `json:"parameters"`
}

// Domain error codes surfaced on an execute.response's error payload. These
// mirror axerr's codes without importing that package, so sandbox stays
// free of a dependency the rest of its call graph does not otherwise need.
const (
	codeChecksumMismatch    = "CHECKSUM_MISMATCH"
	codeRateLimit           = "ERR_RATE_LIMIT"
	codeGearExecutionFailed = "GEAR_EXECUTION_FAILED"
)

// Handler adapts Host to registry.Handler for composition-root wiring under
// the "gear:runtime" component address: it decodes an execute.request,
// resolves the target gear's declared ResourceLimits from the manifest it
// was launched with, and calls through to Call. Known failure modes are
// returned as a type:"error" response carrying their specific code rather
// than a bare Go error, so the dispatching orchestrator can tell a
// checksum-disabled plugin apart from a transient execution failure instead
// of everything collapsing to the router's generic dispatch-failure code.
func (h *Host) Handler() registry.Handler {
	return func(ctx context.Context, msg axismsg.Message) (axismsg.Message, error) {
		raw, err := json.Marshal(msg.Payload)
		if err != nil {
			return axismsg.Message{}, fmt.Errorf("marshal execute request payload: %w", err)
		}
		var req executeRequestPayload
		if err := json.Unmarshal(raw, &req); err != nil {
			return axismsg.Message{}, fmt.Errorf("decode execute request payload: %w", err)
		}

		manifest, ok := h.Manifest(req.Gear)
		if !ok {
			return axismsg.Message{}, fmt.Errorf("gear %s not running", req.Gear)
		}
		limits := LimitsFromManifest(manifest.Resources)

		result, err := h.Call(ctx, req.Gear, req.Action, req.Parameters, limits)
		if err != nil {
			code := codeGearExecutionFailed
			switch {
			case errors.Is(err, ErrChecksumMismatch), errors.Is(err, ErrPluginDisabled):
				code = codeChecksumMismatch
			case errors.Is(err, ErrRateLimited):
				code = codeRateLimit
			}
			return errorMessage(msg, code, err.Error()), nil
		}

		return axismsg.Message{
			From:    "gear:runtime",
			To:      msg.From,
			Type:    "execute.response",
			JobID:   msg.JobID,
			Payload: result,
		}, nil
	}
}

func errorMessage(msg axismsg.Message, code, message string) axismsg.Message {
	return axismsg.Message{
		From:  "gear:runtime",
		To:    msg.From,
		Type:  "error",
		JobID: msg.JobID,
		Payload: map[string]any{
			"code":              code,
			"message":           message,
			"originalMessageId": msg.ID,
		},
	}
}
