package ai

import "context"

// TokenUsage reports upstream token consumption for one extraction call.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Provider is a generative model capable of answering an extraction prompt
// with a JSON document.
type Provider interface {
	Complete(ctx context.Context, prompt string) (string, TokenUsage, error)
}
