package validator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/axiscore/axiscore/internal/registry"
	"github.com/axiscore/axiscore/pkg/axismsg"
)

// validateRequestPayload is the shape of a validate.request message's
// payload. It carries exclusively the plan (plus the originating job's
// source tag, per spec §4.6): the information barrier of spec §4.5 means
// sentinel never sees the user's original message or conversation history,
// only what the plan itself declares.
type validateRequestPayload struct {
	Plan   axismsg.ExecutionPlan `json:"plan"`
	Source string                `json:"source,omitempty"`
}

// forbiddenPayloadKeys are the keys spec §4.6's information barrier names
// explicitly: if a caller's payload carries any of these, the barrier
// handler logs a violation and ignores them — validateRequestPayload has
// no field for any of them, so decoding into it structurally drops them;
// this check exists purely to make that drop observable, per the §8
// property that a barrier violation must not pass silently.
var forbiddenPayloadKeys = []string{
	"userMessage", "conversationHistory", "journalData", "journalMemories",
	"relevantMemories", "gearCatalog", "gearManifests", "originalMessage",
}

// detectBarrierViolation reports which forbidden keys, if any, are present
// in a validate.request's raw payload.
func detectBarrierViolation(payload map[string]any) []string {
	var found []string
	for _, key := range forbiddenPayloadKeys {
		if _, ok := payload[key]; ok {
			found = append(found, key)
		}
	}
	return found
}

// Handler adapts Validator to registry.Handler for composition-root wiring
// under the "sentinel" component address.
func (v *Validator) Handler() registry.Handler {
	return func(ctx context.Context, msg axismsg.Message) (axismsg.Message, error) {
		if violated := detectBarrierViolation(msg.Payload); len(violated) > 0 {
			slog.Warn("validator: information barrier violation, forbidden keys ignored",
				"jobId", msg.JobID, "keys", violated)
		}

		raw, err := json.Marshal(msg.Payload)
		if err != nil {
			return axismsg.Message{}, fmt.Errorf("marshal validate request payload: %w", err)
		}
		var req validateRequestPayload
		if err := json.Unmarshal(raw, &req); err != nil {
			return axismsg.Message{}, fmt.Errorf("decode validate request payload: %w", err)
		}

		result := v.Evaluate(ctx, &req.Plan, req.Source)

		payload, err := toPayload(result)
		if err != nil {
			return axismsg.Message{}, err
		}
		return axismsg.Message{
			From:    "sentinel",
			To:      msg.From,
			Type:    "validate.response",
			JobID:   msg.JobID,
			Payload: payload,
		}, nil
	}
}

func toPayload(result axismsg.ValidationResult) (map[string]any, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal validation result: %w", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode validation result as payload: %w", err)
	}
	return payload, nil
}
