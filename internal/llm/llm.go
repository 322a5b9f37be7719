package llm

import (
	"context"
	"errors"

	"optimizer-backend/internal/workflow"
)

// Message is a provider-agnostic chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client abstracts LLM providers. It covers the two workflow collaborators
// (bullet generation and bullet evaluation) plus the plain chat completion
// used by the chat and prompt-chain surfaces.
type Client interface {
	workflow.Generator
	workflow.Evaluator
	Complete(ctx context.Context, messages []Message) (string, error)
}

// ErrNotImplemented is returned by the placeholder client.
var ErrNotImplemented = errors.New("LLM not implemented")

// PlaceholderClient is a stub implementation until provider wiring is added.
type PlaceholderClient struct{}

// Generate returns ErrNotImplemented.
func (PlaceholderClient) Generate(ctx context.Context, in workflow.GenerateInput) (string, error) {
	_ = ctx
	_ = in
	return "", ErrNotImplemented
}

// Evaluate returns ErrNotImplemented.
func (PlaceholderClient) Evaluate(ctx context.Context, in workflow.EvaluateInput) (workflow.Evaluation, error) {
	_ = ctx
	_ = in
	return workflow.Evaluation{}, ErrNotImplemented
}

// Complete returns ErrNotImplemented.
func (PlaceholderClient) Complete(ctx context.Context, messages []Message) (string, error) {
	_ = ctx
	_ = messages
	return "", ErrNotImplemented
}

var _ Client = PlaceholderClient{}
