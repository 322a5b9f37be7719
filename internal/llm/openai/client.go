package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"optimizer-backend/internal/llm"
	"optimizer-backend/internal/workflow"
)

const defaultAPIURL = "https://api.openai.com/v1/chat/completions"

// ErrSchemaMismatch indicates the evaluator returned JSON that does not match
// the grade/feedback schema even after one repair attempt.
var ErrSchemaMismatch = errors.New("evaluation response does not match schema")

// Client implements llm.Client using OpenAI Chat Completions.
type Client struct {
	apiKey     string
	model      string
	apiURL     string
	httpClient *http.Client
}

// NewClient constructs a new OpenAI client. Missing credentials or model are
// configuration errors and fail construction.
func NewClient(apiKey, model string) (*Client, error) {
	if strings.TrimSpace(model) == "" {
		return nil, fmt.Errorf("LLM_MODEL is required for OpenAI")
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}
	timeout := 120 * time.Second
	if raw := strings.TrimSpace(os.Getenv("OPENAI_TIMEOUT_SECONDS")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			timeout = time.Duration(parsed) * time.Second
		}
	}
	return &Client{
		apiKey: apiKey,
		model:  model,
		apiURL: defaultAPIURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    *float32        `json:"temperature,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage,omitempty"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Generate produces raw candidate text for one bullet set.
func (c *Client) Generate(ctx context.Context, in workflow.GenerateInput) (string, error) {
	temp := float32(0.2)
	content, usage, err := c.chatOnce(ctx, BuildGeneratePrompt(in), &temp, false)
	if err != nil {
		return "", err
	}
	logUsage(c.model, "generate", usage)
	return content, nil
}

// Evaluate grades one bullet and returns the structured verdict. A response
// that is not valid JSON is sent back once through a repair prompt before
// giving up.
func (c *Client) Evaluate(ctx context.Context, in workflow.EvaluateInput) (workflow.Evaluation, error) {
	temp := float32(0)
	content, usage, err := c.chatOnce(ctx, BuildEvaluatePrompt(in), &temp, true)
	if err != nil {
		return workflow.Evaluation{}, err
	}
	logUsage(c.model, "evaluate", usage)

	eval, err := parseEvaluation([]byte(content))
	if err == nil {
		return eval, nil
	}

	fixed, usage, err := c.chatOnce(ctx, buildFixPrompt([]byte(content)), &temp, true)
	if err != nil {
		return workflow.Evaluation{}, err
	}
	logUsage(c.model, "evaluate-fix", usage)
	return parseEvaluation([]byte(fixed))
}

// Complete runs a plain chat completion over the given messages.
func (c *Client) Complete(ctx context.Context, messages []llm.Message) (string, error) {
	content, usage, err := c.chatOnce(ctx, messages, nil, false)
	if err != nil {
		return "", err
	}
	logUsage(c.model, "complete", usage)
	return content, nil
}

func (c *Client) chatOnce(ctx context.Context, messages []llm.Message, temperature *float32, jsonMode bool) (string, *chatResponseUsage, error) {
	reqMessages := make([]chatMessage, 0, len(messages))
	for _, m := range messages {
		reqMessages = append(reqMessages, chatMessage{Role: m.Role, Content: m.Content})
	}
	reqBody := chatRequest{
		Model:       c.model,
		Messages:    reqMessages,
		Temperature: temperature,
	}
	if jsonMode {
		reqBody.ResponseFormat = &responseFormat{Type: "json_object"}
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(payload))
	if err != nil {
		return "", nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), "Client.Timeout") {
			return "", nil, fmt.Errorf("openai request timeout: %w", err)
		}
		return "", nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", nil, err
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", nil, fmt.Errorf("openai response parse: %w", err)
	}
	if parsed.Error != nil {
		return "", nil, fmt.Errorf("openai error: %s (%s)", parsed.Error.Message, parsed.Error.Type)
	}
	if len(parsed.Choices) == 0 {
		return "", nil, fmt.Errorf("openai response missing choices")
	}

	content := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if content == "" {
		return "", nil, fmt.Errorf("openai response empty content")
	}
	return content, toUsage(parsed.Usage), nil
}

type evaluationPayload struct {
	Grade    string `json:"grade"`
	Feedback string `json:"feedback"`
}

// parseEvaluation decodes the evaluator's JSON verdict. A missing feedback
// field is treated as empty, never as an error.
func parseEvaluation(raw []byte) (workflow.Evaluation, error) {
	var payload evaluationPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return workflow.Evaluation{}, fmt.Errorf("%w: %v", ErrSchemaMismatch, err)
	}
	switch strings.ToLower(strings.TrimSpace(payload.Grade)) {
	case "pass":
		return workflow.Evaluation{Grade: workflow.GradePass, Feedback: payload.Feedback}, nil
	case "fail":
		return workflow.Evaluation{Grade: workflow.GradeFail, Feedback: payload.Feedback}, nil
	default:
		return workflow.Evaluation{}, fmt.Errorf("%w: grade %q", ErrSchemaMismatch, payload.Grade)
	}
}

type chatResponseUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

func toUsage(raw *struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}) *chatResponseUsage {
	if raw == nil {
		return nil
	}
	return &chatResponseUsage{
		PromptTokens:     raw.PromptTokens,
		CompletionTokens: raw.CompletionTokens,
		TotalTokens:      raw.TotalTokens,
	}
}

func logUsage(model, op string, usage *chatResponseUsage) {
	if usage == nil {
		log.Printf("llm response model=%s op=%s", model, op)
		return
	}
	log.Printf("llm response model=%s op=%s prompt_tokens=%d completion_tokens=%d total_tokens=%d",
		model, op, usage.PromptTokens, usage.CompletionTokens, usage.TotalTokens)
}

var _ llm.Client = (*Client)(nil)
