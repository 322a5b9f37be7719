package chat

import (
	"context"
	"errors"
	"strings"

	"optimizer-backend/internal/llm"
)

// ErrInvalidInput indicates the request failed validation.
var ErrInvalidInput = errors.New("invalid input")

// Service runs plain completions and the two-step topic/search-query chain.
type Service struct {
	LLM llm.Client
}

// ChatResult is the reply to one completion turn.
type ChatResult struct {
	Content  string
	ThreadID string
}

// Complete sends the conversation to the model and returns its reply.
func (s *Service) Complete(ctx context.Context, messages []llm.Message, threadID string) (ChatResult, error) {
	if len(messages) == 0 {
		return ChatResult{}, ErrInvalidInput
	}
	for _, msg := range messages {
		if strings.TrimSpace(msg.Content) == "" {
			return ChatResult{}, ErrInvalidInput
		}
	}
	if strings.TrimSpace(threadID) == "" {
		threadID = "default"
	}

	content, err := s.LLM.Complete(ctx, messages)
	if err != nil {
		return ChatResult{}, err
	}
	return ChatResult{Content: strings.TrimSpace(content), ThreadID: threadID}, nil
}

// ChainResult carries both steps of the prompt chain.
type ChainResult struct {
	Topic       string
	SearchQuery string
}

// Chain extracts the main topic of a question, then turns that topic into a
// web search query. The second call only sees the first call's output.
func (s *Service) Chain(ctx context.Context, question string) (ChainResult, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return ChainResult{}, ErrInvalidInput
	}

	topicPrompt := strings.ReplaceAll(llm.ChainTopicPromptTemplate(), "{{QUESTION}}", question)
	topic, err := s.LLM.Complete(ctx, []llm.Message{{Role: "user", Content: topicPrompt}})
	if err != nil {
		return ChainResult{}, err
	}
	topic = strings.TrimSpace(topic)

	queryPrompt := strings.ReplaceAll(llm.ChainQueryPromptTemplate(), "{{TOPIC}}", topic)
	query, err := s.LLM.Complete(ctx, []llm.Message{{Role: "user", Content: queryPrompt}})
	if err != nil {
		return ChainResult{}, err
	}

	return ChainResult{Topic: topic, SearchQuery: strings.TrimSpace(query)}, nil
}
