package llm

import _ "embed"

var (
	//go:embed prompts/generate.txt
	promptGenerate string
	//go:embed prompts/evaluate.txt
	promptEvaluate string
	//go:embed prompts/chain_topic.txt
	promptChainTopic string
	//go:embed prompts/chain_query.txt
	promptChainQuery string
)

// GeneratePromptTemplate returns the bullet generation prompt template.
func GeneratePromptTemplate() string { return promptGenerate }

// EvaluatePromptTemplate returns the bullet evaluation rubric template.
func EvaluatePromptTemplate() string { return promptEvaluate }

// ChainTopicPromptTemplate returns the topic-extraction step of the prompt chain.
func ChainTopicPromptTemplate() string { return promptChainTopic }

// ChainQueryPromptTemplate returns the search-query step of the prompt chain.
func ChainQueryPromptTemplate() string { return promptChainQuery }
