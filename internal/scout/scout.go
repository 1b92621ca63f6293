// Package scout implements the planner component addressed by the
// Orchestrator's plan.request dispatch (spec §4.5 step 2). It decides
// between a conversational "fast path" reply and a full ExecutionPlan,
// optionally backed by an llmclient.Client; with no client configured it
// falls back to a minimal heuristic so the rest of the pipeline is
// exercisable without a real model binding (spec §1 treats the provider's
// wire format as out of scope).
package scout

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/axiscore/axiscore/internal/llmclient"
	"github.com/axiscore/axiscore/internal/registry"
	"github.com/axiscore/axiscore/pkg/axismsg"
)

// Planner is the scout's public type, registered under the "scout"
// component address.
type Planner struct {
	llm llmclient.Client // nil -> heuristic fallback
}

// New constructs a Planner. Passing a nil client selects the heuristic
// fallback path.
func New(llm llmclient.Client) *Planner {
	return &Planner{llm: llm}
}

// planRequestPayload is the shape of a plan.request message's payload
// (spec §4.5 step 2: "{userMessage, jobId, conversationId,
// conversationHistory}"), plus forceFullPath for the malicious-content
// reroute of spec §8 scenario 6.
type planRequestPayload struct {
	UserMessage         string   `json:"userMessage"`
	ConversationHistory []string `json:"conversationHistory"`
	ForceFullPath        bool     `json:"forceFullPath"`
}

// planResponse is the wire shape scout's response payload decodes into:
// either {path:"fast", text} or {path:"full", plan}.
type planResponse struct {
	Path string                `json:"path"`
	Text string                `json:"text,omitempty"`
	Plan *axismsg.ExecutionPlan `json:"plan,omitempty"`
}

// Handler adapts Planner to registry.Handler for composition-root wiring
// under the "scout" component address.
func (p *Planner) Handler() registry.Handler {
	return func(ctx context.Context, msg axismsg.Message) (axismsg.Message, error) {
		raw, err := json.Marshal(msg.Payload)
		if err != nil {
			return axismsg.Message{}, fmt.Errorf("marshal plan request payload: %w", err)
		}
		var req planRequestPayload
		if err := json.Unmarshal(raw, &req); err != nil {
			return axismsg.Message{}, fmt.Errorf("decode plan request payload: %w", err)
		}

		resp, err := p.plan(ctx, msg.JobID, req)
		if err != nil {
			return axismsg.Message{}, err
		}

		payload, err := toPayload(resp)
		if err != nil {
			return axismsg.Message{}, err
		}
		return axismsg.Message{
			From:    "scout",
			To:      msg.From,
			Type:    "plan.response",
			JobID:   msg.JobID,
			Payload: payload,
		}, nil
	}
}

func toPayload(resp planResponse) (map[string]any, error) {
	raw, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("marshal plan response: %w", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode plan response as payload: %w", err)
	}
	return payload, nil
}

func (p *Planner) plan(ctx context.Context, jobID string, req planRequestPayload) (planResponse, error) {
	var resp planResponse
	if p.llm != nil {
		var err error
		resp, err = p.planWithLLM(ctx, req)
		if err != nil {
			return planResponse{}, err
		}
	} else {
		resp = p.planHeuristic(req)
	}

	// forceFullPath is an instruction, not a suggestion: if the planner
	// (LLM or heuristic) still answered fast, wrap its text as a single
	// low-risk step rather than trust the reroute to the model's
	// cooperation (spec §8 scenario 6).
	if req.ForceFullPath && resp.Path == "fast" {
		resp = planResponse{
			Path: "full",
			Plan: &axismsg.ExecutionPlan{
				ID:    uuid.NewString(),
				JobID: jobID,
				Steps: []axismsg.PlanStep{{
					ID:        uuid.NewString(),
					Gear:      "assistant",
					Action:    "respond",
					Parameters: map[string]any{"message": resp.Text},
					RiskLevel: axismsg.RiskMedium,
				}},
				Reasoning: "rerouted to full path: original fast-path text flagged deferred-action language",
			},
		}
	}
	return resp, nil
}

func (p *Planner) planWithLLM(ctx context.Context, req planRequestPayload) (planResponse, error) {
	var sb strings.Builder
	sb.WriteString("Decide whether this request can be answered directly (\"fast\" path) ")
	sb.WriteString("or requires a tool-using plan (\"full\" path). ")
	if req.ForceFullPath {
		sb.WriteString("The full path is required; do not answer fast. ")
	}
	sb.WriteString("Respond as JSON: {\"path\":\"fast\",\"text\":\"...\"} or {\"path\":\"full\",\"plan\":{...}}.")

	out, err := p.llm.Complete(ctx, llmclient.CompletionRequest{
		Messages: []llmclient.Message{
			{Role: llmclient.RoleSystem, Content: sb.String()},
			{Role: llmclient.RoleUser, Content: req.UserMessage},
		},
	})
	if err != nil {
		return planResponse{}, err
	}

	var resp planResponse
	if err := json.Unmarshal([]byte(out.Content), &resp); err != nil {
		return planResponse{}, fmt.Errorf("scout: malformed LLM plan response: %w", err)
	}
	return resp, nil
}

// planHeuristic is the no-LLM-configured fallback: short, question-shaped
// messages get a canned fast-path reply; anything else becomes a one-step
// plan delegating to a generic "assistant" gear, so the rest of the
// pipeline (validate, execute) remains exercisable in development and
// tests without a model binding.
func (p *Planner) planHeuristic(req planRequestPayload) planResponse {
	text := strings.TrimSpace(req.UserMessage)
	if isSimpleQuestion(text) {
		return planResponse{Path: "fast", Text: "I don't have a model configured to answer that yet."}
	}
	return planResponse{
		Path: "full",
		Plan: &axismsg.ExecutionPlan{
			ID: uuid.NewString(),
			Steps: []axismsg.PlanStep{{
				ID:        uuid.NewString(),
				Gear:      "assistant",
				Action:    "respond",
				Parameters: map[string]any{"message": text},
				RiskLevel: axismsg.RiskLow,
			}},
			Reasoning: "heuristic fallback plan: no LLM client configured",
		},
	}
}

func isSimpleQuestion(text string) bool {
	return len(text) > 0 && len(text) < 40 && strings.HasSuffix(text, "?")
}
