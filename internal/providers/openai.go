package providers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIProvider implements Provider for OpenAI-compatible APIs, including
// Gemini's /v1beta/openai endpoint. Clients are cached per API key so the
// credential can change on every call.
type OpenAIProvider struct {
	name         string
	apiKey       string
	apiBase      string
	defaultModel string
	httpClient   *http.Client

	mu      sync.Mutex
	clients map[string]*openai.Client
}

func NewOpenAIProvider(name, apiKey, apiBase, defaultModel string) *OpenAIProvider {
	if apiBase == "" {
		apiBase = "https://api.openai.com/v1"
	}
	apiBase = strings.TrimRight(apiBase, "/")

	return &OpenAIProvider{
		name:         name,
		apiKey:       apiKey,
		apiBase:      apiBase,
		defaultModel: defaultModel,
		httpClient:   &http.Client{Timeout: 120 * time.Second},
		clients:      make(map[string]*openai.Client),
	}
}

// WithTimeout replaces the HTTP client timeout.
func (p *OpenAIProvider) WithTimeout(d time.Duration) *OpenAIProvider {
	if d > 0 {
		p.httpClient = &http.Client{Timeout: d}
	}
	return p
}

func (p *OpenAIProvider) Name() string         { return p.name }
func (p *OpenAIProvider) DefaultModel() string { return p.defaultModel }

func (p *OpenAIProvider) client(apiKey string) *openai.Client {
	if apiKey == "" {
		apiKey = p.apiKey
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.clients[apiKey]; ok {
		return c
	}
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = p.apiBase
	cfg.HTTPClient = p.httpClient
	c := openai.NewClientWithConfig(cfg)
	p.clients[apiKey] = c
	return c
}

func (p *OpenAIProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if err := checkAttachments(req.Messages); err != nil {
		return nil, fmt.Errorf("%s: %w", p.name, err)
	}
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	oaiReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: toOpenAIMessages(req.Messages),
	}
	if v, ok := req.Options[OptTemperature].(float64); ok {
		oaiReq.Temperature = float32(v)
	}
	if v, ok := req.Options[OptMaxTokens].(int); ok {
		oaiReq.MaxTokens = v
	}

	resp, err := p.client(req.APIKey).CreateChatCompletion(ctx, oaiReq)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.name, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%s: %w", p.name, ErrEmptyResponse)
	}

	choice := resp.Choices[0]
	return &ChatResponse{
		Content:      strings.TrimSpace(choice.Message.Content),
		FinishReason: string(choice.FinishReason),
		Usage: &Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

// SupportsAttachment reports whether a file of mimeType can be sent to the
// model. Chat completions only carry images, as image_url parts.
func SupportsAttachment(mimeType string) bool {
	switch mimeType {
	case "image/jpeg", "image/png", "image/webp", "image/gif":
		return true
	}
	return false
}

func checkAttachments(msgs []Message) error {
	for _, m := range msgs {
		for _, img := range m.Images {
			if !SupportsAttachment(img.MimeType) {
				return fmt.Errorf("%w: %s", ErrUnsupportedAttachment, img.MimeType)
			}
		}
	}
	return nil
}

// toOpenAIMessages converts messages, sending images as data URLs.
func toOpenAIMessages(msgs []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		if len(m.Images) == 0 {
			out = append(out, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
			continue
		}
		parts := make([]openai.ChatMessagePart, 0, len(m.Images)+1)
		if m.Content != "" {
			parts = append(parts, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeText,
				Text: m.Content,
			})
		}
		for _, img := range m.Images {
			parts = append(parts, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL:    "data:" + img.MimeType + ";base64," + img.Data,
					Detail: openai.ImageURLDetailAuto,
				},
			})
		}
		out = append(out, openai.ChatCompletionMessage{Role: m.Role, MultiContent: parts})
	}
	return out
}
