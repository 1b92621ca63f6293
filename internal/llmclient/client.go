// Package llmclient defines the Go-side contract for the LLM provider the
// planner (scout) and, optionally, the Safety Validator's LLM-assisted
// evaluation mode call into. The spec treats the concrete model provider's
// wire format as an external collaborator (spec §1 Non-goals); this
// package ships only the interface plus an in-memory test double, exactly
// as tarsy's pkg/agent.LLMClient wraps its Python sidecar's gRPC stream —
// collapsed here to a single structured request/response since neither
// caller needs token-level streaming.
package llmclient

import "context"

// Role is a conversation turn's speaker, mirroring tarsy's RoleSystem/
// RoleUser/RoleAssistant constants.
type Role string

// Role constants.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn submitted to the model.
type Message struct {
	Role    Role
	Content string
}

// CompletionRequest is a single structured call: a system/user message
// sequence, and an optional JSON-Schema the caller wants the response
// shaped against (scout requests a {path, text?, plan?} shape; a
// validator LLM mode requests a ValidationResult shape).
type CompletionRequest struct {
	Messages   []Message
	ResponseSchema map[string]any
}

// CompletionResponse is the model's structured reply. Content carries the
// raw text (or JSON text, when ResponseSchema was set) the caller decodes
// further; Usage is surfaced for observability only.
type CompletionResponse struct {
	Content string
	Usage   Usage
}

// Usage reports token consumption for one call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Client is the Go-side interface to a real LLM provider binding, modeled
// as a small gRPC-shaped service (tarsy's pkg/agent/llm_grpc.go binds its
// LLMClient interface over a generated grpc.ClientConn the same way) —
// this package never imports a concrete vendor SDK.
type Client interface {
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)
	Close() error
}
