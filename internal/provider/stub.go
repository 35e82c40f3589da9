package provider

import "context"

// Stub is a local provider used when no endpoint is configured. It mirrors
// the daemon's request/response behavior without any network dependency.
type Stub struct{}

// NewStub returns the local stub provider.
func NewStub() *Stub {
	return &Stub{}
}

// RequestCompletion answers immediately with a trivial continuation.
func (s *Stub) RequestCompletion(ctx context.Context, req Request) (Completion, error) {
	if err := ctx.Err(); err != nil {
		return Completion{}, err
	}
	if req.Prompt == "" {
		return Completion{Text: "Start typing..."}, nil
	}
	return Completion{Text: "...", Continuation: true}, nil
}
