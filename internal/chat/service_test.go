package chat

import (
	"context"
	"errors"
	"strings"
	"testing"

	"optimizer-backend/internal/llm"
	"optimizer-backend/internal/workflow"
)

type scriptedLLM struct {
	replies []string
	calls   [][]llm.Message
	err     error
}

func (s *scriptedLLM) Complete(ctx context.Context, messages []llm.Message) (string, error) {
	s.calls = append(s.calls, messages)
	if s.err != nil {
		return "", s.err
	}
	reply := s.replies[0]
	if len(s.replies) > 1 {
		s.replies = s.replies[1:]
	}
	return reply, nil
}

func (s *scriptedLLM) Generate(ctx context.Context, in workflow.GenerateInput) (string, error) {
	return "", errors.New("not used")
}

func (s *scriptedLLM) Evaluate(ctx context.Context, in workflow.EvaluateInput) (workflow.Evaluation, error) {
	return workflow.Evaluation{}, errors.New("not used")
}

func TestCompleteDefaultsThreadID(t *testing.T) {
	fake := &scriptedLLM{replies: []string{" hello there \n"}}
	svc := &Service{LLM: fake}

	result, err := svc.Complete(context.Background(), []llm.Message{{Role: "user", Content: "hi"}}, "")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if result.ThreadID != "default" {
		t.Fatalf("expected default thread id, got %q", result.ThreadID)
	}
	if result.Content != "hello there" {
		t.Fatalf("expected trimmed content, got %q", result.Content)
	}
}

func TestCompleteRejectsEmptyMessages(t *testing.T) {
	svc := &Service{LLM: &scriptedLLM{}}

	if _, err := svc.Complete(context.Background(), nil, "t1"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := svc.Complete(context.Background(), []llm.Message{{Role: "user", Content: "  "}}, "t1"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for blank content, got %v", err)
	}
}

func TestChainFeedsTopicIntoSecondStep(t *testing.T) {
	fake := &scriptedLLM{replies: []string{" Calcium CT score \n", "calcium CT score cholesterol relationship"}}
	svc := &Service{LLM: fake}

	result, err := svc.Chain(context.Background(), "How does Calcium CT score relate to high cholesterol?")
	if err != nil {
		t.Fatalf("chain: %v", err)
	}
	if result.Topic != "Calcium CT score" {
		t.Fatalf("unexpected topic: %q", result.Topic)
	}
	if result.SearchQuery != "calcium CT score cholesterol relationship" {
		t.Fatalf("unexpected query: %q", result.SearchQuery)
	}
	if len(fake.calls) != 2 {
		t.Fatalf("expected 2 llm calls, got %d", len(fake.calls))
	}
	secondPrompt := fake.calls[1][0].Content
	if !strings.Contains(secondPrompt, "Calcium CT score") {
		t.Fatalf("second prompt missing topic: %q", secondPrompt)
	}
	if strings.Contains(secondPrompt, "{{TOPIC}}") {
		t.Fatalf("placeholder not substituted: %q", secondPrompt)
	}
}

func TestChainPropagatesLLMError(t *testing.T) {
	fake := &scriptedLLM{err: errors.New("boom")}
	svc := &Service{LLM: fake}

	if _, err := svc.Chain(context.Background(), "any question"); err == nil {
		t.Fatal("expected error")
	}
}
