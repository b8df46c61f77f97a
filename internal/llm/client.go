// Package llm is the inference boundary: a single completion call used by the
// planner and the discipline cores, plus retry, parsing and test doubles.
package llm

import (
	"context"
	"time"
)

// Request is one completion. Tag names the calling concern ("planner",
// "requirements", "codegen", ...) for logging, metrics and scripted mocks.
type Request struct {
	Tag         string
	System      string
	User        string
	JSONMode    bool
	Temperature float64
	MaxTokens   int
}

// Usage reports token accounting for a completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the assistant text of a completion.
type Response struct {
	Content      string
	Model        string
	FinishReason string
	Usage        Usage
}

// Client completes prompts.
type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// Config configures the HTTP client.
type Config struct {
	BaseURL         string
	APIKey          string
	Model           string
	Timeout         time.Duration
	MaxPromptTokens int
	Headers         map[string]string
}
