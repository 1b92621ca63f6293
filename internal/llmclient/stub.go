package llmclient

import "context"

// StubClient is an in-memory Client test double: it never calls out to a
// real provider, returning a canned response (or a caller-supplied
// function's result) instead. Grounded on the teacher's pattern of shipping
// a deterministic fake alongside every external-collaborator interface for
// unit tests (e.g. pkg/agent's MockLLMClient generated for llm_client_test.go).
type StubClient struct {
	// Respond, when set, computes the response for each call. If nil,
	// Fixed is returned unconditionally.
	Respond func(req CompletionRequest) (CompletionResponse, error)
	Fixed   CompletionResponse
}

// NewStubClient returns a StubClient that always answers with fixed.
func NewStubClient(fixed CompletionResponse) *StubClient {
	return &StubClient{Fixed: fixed}
}

// Complete implements Client.
func (s *StubClient) Complete(_ context.Context, req CompletionRequest) (CompletionResponse, error) {
	if s.Respond != nil {
		return s.Respond(req)
	}
	return s.Fixed, nil
}

// Close implements Client.
func (s *StubClient) Close() error { return nil }
