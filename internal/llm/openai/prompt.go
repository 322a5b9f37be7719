package openai

import (
	"fmt"
	"strconv"
	"strings"

	"optimizer-backend/internal/llm"
	"optimizer-backend/internal/workflow"
)

const (
	systemPromptGenerate = "You are a resume writing engine. Respond with the bullet points only. No preamble, no closing remarks."
	systemPromptEvaluate = "You are a strict resume bullet evaluator. Respond with JSON only. Never omit keys. Output must match the schema exactly."
	systemPromptFixJSON  = "You are a JSON repair tool. Return only valid JSON that matches the schema exactly."
)

// BuildGeneratePrompt creates the chat messages for one generation call.
func BuildGeneratePrompt(in workflow.GenerateInput) []llm.Message {
	count := in.BulletCount
	if count <= 0 {
		count = workflow.DefaultBulletCount
	}
	replacer := strings.NewReplacer(
		"{{JOB}}", in.Job,
		"{{BULLET_COUNT}}", strconv.Itoa(count),
	)
	developer := replacer.Replace(llm.GeneratePromptTemplate())

	var user strings.Builder
	fmt.Fprintf(&user, "Target role: %s\n", in.Job)
	if strings.TrimSpace(in.ResumeContext) != "" {
		fmt.Fprintf(&user, "\nGround the experience in this candidate background:\n%s\n", in.ResumeContext)
	}
	if strings.TrimSpace(in.FeedbackBlock) != "" {
		fmt.Fprintf(&user, "\nPrevious feedback to address:\n%s", in.FeedbackBlock)
	}

	return []llm.Message{
		{Role: "system", Content: systemPromptGenerate},
		{Role: "developer", Content: developer},
		{Role: "user", Content: user.String()},
	}
}

// BuildEvaluatePrompt creates the chat messages for grading one bullet.
func BuildEvaluatePrompt(in workflow.EvaluateInput) []llm.Message {
	developer := strings.NewReplacer("{{JOB}}", in.Job).Replace(llm.EvaluatePromptTemplate())
	return []llm.Message{
		{Role: "system", Content: systemPromptEvaluate},
		{Role: "developer", Content: developer},
		{Role: "user", Content: fmt.Sprintf("Bullet point:\n%q", in.Bullet)},
	}
}

func buildFixPrompt(raw []byte) []llm.Message {
	return []llm.Message{
		{Role: "system", Content: systemPromptFixJSON},
		{Role: "user", Content: fmt.Sprintf("Fix this JSON to match {\"grade\": \"pass\" | \"fail\", \"feedback\": string} exactly. Output JSON only:\n%s", string(raw))},
	}
}
