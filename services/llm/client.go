package llm

import "context"

// Role values for chat messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single chat message exchanged with an LLM backend.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request describes one completion call.
type Request struct {
	// Model is the backend model name (e.g. "gpt-4.1").
	Model string `json:"model"`

	// Messages is the full conversation to send.
	Messages []Message `json:"messages"`

	// JSONMode forces the backend to return a single JSON object.
	JSONMode bool `json:"json_mode"`

	// Temperature overrides the backend default when non-nil.
	Temperature *float32 `json:"temperature,omitempty"`

	// MaxTokens caps the completion length when non-nil.
	MaxTokens *int `json:"max_tokens,omitempty"`
}

// Usage reports token consumption and the estimated cost of one call.
type Usage struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	CostUSD          float64 `json:"cost_usd"`
}

// Response is the result of one completion call.
type Response struct {
	Content string `json:"content"`
	Usage   Usage  `json:"usage"`
}

// Client defines the standard interface for any LLM backend.
//
// Implementations make exactly one blocking call per Complete invocation
// and must respect ctx cancellation and deadlines.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}
