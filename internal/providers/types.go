package providers

import "context"

// Provider is the interface generation backends implement.
type Provider interface {
	// Chat sends messages to the model and returns its reply.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// DefaultModel returns the provider's default model name.
	DefaultModel() string

	// Name returns the provider identifier (e.g. "gemini").
	Name() string
}

// Option keys accepted in ChatRequest.Options.
const (
	OptTemperature = "temperature"
	OptMaxTokens   = "max_tokens"
)

// ChatRequest contains the input for a Chat call.
type ChatRequest struct {
	Messages []Message             `json:"messages"`
	Model    string                 `json:"model,omitempty"`
	APIKey   string                 `json:"-"` // per-call credential; empty = provider default
	Options  map[string]interface{} `json:"options,omitempty"`
}

// ChatResponse is the result from a model call.
type ChatResponse struct {
	Content      string `json:"content"`
	FinishReason string `json:"finish_reason"` // "stop", "length", "content_filter"
	Usage        *Usage `json:"usage,omitempty"`
}

// ImageContent represents a base64-encoded attachment for vision-capable models.
type ImageContent struct {
	MimeType string `json:"mime_type"` // e.g. "image/jpeg"
	Data     string `json:"data"`      // base64-encoded bytes
}

// Message represents a conversation message.
type Message struct {
	Role    string         `json:"role"` // "system", "user", "assistant"
	Content string         `json:"content"`
	Images  []ImageContent `json:"images,omitempty"`
}

// Usage tracks token consumption.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
