package domain

import "context"

// Provider is the interface every text-generation backend implements.
type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	Name() string
	Healthy(ctx context.Context) error
}

type ChatRequest struct {
	System    string
	Messages  []Turn
	Model     string
	MaxTokens int
}

type ChatResponse struct {
	Content      string
	FinishReason string // stop | length | end_turn | max_tokens
	Usage        Usage
	LatencyMs    int64 // time taken for this call in milliseconds
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
