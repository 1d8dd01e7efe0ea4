package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const okCompletion = `{"id":"c1","object":"chat.completion","model":"m",
"choices":[{"index":0,"message":{"role":"assistant","content":"  hello there  "},"finish_reason":"stop"}],
"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}`

func newTestServer(t *testing.T, handler http.HandlerFunc) *OpenAIProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewOpenAIProvider("gemini", "fallback", srv.URL+"/v1/", "gemini-test")
}

// TestChat_UsesPerCallKeyAndTrims checks the Authorization header follows
// the request credential and the reply is trimmed.
func TestChat_UsesPerCallKeyAndTrims(t *testing.T) {
	var gotAuth, gotPath string
	p := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, okCompletion)
	})

	resp, err := p.Chat(context.Background(), ChatRequest{
		APIKey:   "k2",
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello there", resp.Content)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, 5, resp.Usage.TotalTokens)
	assert.Equal(t, "Bearer k2", gotAuth)
	assert.Equal(t, "/v1/chat/completions", gotPath)
}

func TestChat_FallbackKeyWhenEmpty(t *testing.T) {
	var gotAuth string
	p := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		io.WriteString(w, okCompletion)
	})
	_, err := p.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: "user", Content: "hi"}}})
	require.NoError(t, err)
	assert.Equal(t, "Bearer fallback", gotAuth)
}

func TestChat_ImagesBecomeDataURLParts(t *testing.T) {
	var body struct {
		Model    string `json:"model"`
		Messages []struct {
			Content []struct {
				Type     string `json:"type"`
				Text     string `json:"text"`
				ImageURL struct {
					URL string `json:"url"`
				} `json:"image_url"`
			} `json:"content"`
		} `json:"messages"`
	}
	p := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		io.WriteString(w, okCompletion)
	})

	_, err := p.Chat(context.Background(), ChatRequest{Messages: []Message{{
		Role:    "user",
		Content: "User has sent multiple images.",
		Images: []ImageContent{
			{MimeType: "image/jpeg", Data: "AAA"},
			{MimeType: "image/png", Data: "BBB"},
		},
	}}})
	require.NoError(t, err)

	assert.Equal(t, "gemini-test", body.Model)
	require.Len(t, body.Messages, 1)
	parts := body.Messages[0].Content
	require.Len(t, parts, 3)
	assert.Equal(t, "text", parts[0].Type)
	assert.Equal(t, "data:image/jpeg;base64,AAA", parts[1].ImageURL.URL)
	assert.Equal(t, "data:image/png;base64,BBB", parts[2].ImageURL.URL)
}

func TestChat_AttachmentKinds(t *testing.T) {
	tests := []struct {
		mime string
		sent bool
	}{
		{"image/jpeg", true},
		{"image/png", true},
		{"image/webp", true},
		{"image/gif", true},
		{"application/pdf", false},
		{"video/mp4", false},
		{"audio/ogg", false},
		{"audio/mpeg", false},
		{"application/octet-stream", false},
	}
	for _, tt := range tests {
		t.Run(tt.mime, func(t *testing.T) {
			var partType, url string
			hits := 0
			p := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				hits++
				var body struct {
					Messages []struct {
						Content []struct {
							Type     string `json:"type"`
							ImageURL struct {
								URL string `json:"url"`
							} `json:"image_url"`
						} `json:"content"`
					} `json:"messages"`
				}
				require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
				parts := body.Messages[0].Content
				partType, url = parts[len(parts)-1].Type, parts[len(parts)-1].ImageURL.URL
				io.WriteString(w, okCompletion)
			})

			_, err := p.Chat(context.Background(), ChatRequest{Messages: []Message{{
				Role:    "user",
				Content: "User has sent a file.",
				Images:  []ImageContent{{MimeType: tt.mime, Data: "AAAA"}},
			}}})

			if tt.sent {
				require.NoError(t, err)
				assert.Equal(t, "image_url", partType)
				assert.Equal(t, "data:"+tt.mime+";base64,AAAA", url)
				return
			}
			assert.ErrorIs(t, err, ErrUnsupportedAttachment)
			assert.Equal(t, OutcomeFatal, Classify(err), "content problems must not rotate keys")
			assert.Zero(t, hits)
		})
	}
}

func TestChat_EmptyChoices(t *testing.T) {
	p := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"id":"c1","choices":[]}`)
	})
	_, err := p.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: "user", Content: "hi"}}})
	assert.ErrorIs(t, err, ErrEmptyResponse)
	assert.Equal(t, OutcomeFatal, Classify(err))
}

func TestChat_ErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   Outcome
	}{
		{"rate limited", 429, `{"error":{"message":"Resource has been exhausted","type":"rate_limit","code":429}}`, OutcomeRetryable},
		{"bad key", 400, `{"error":{"message":"API key not valid. Please pass a valid API key.","type":"invalid_request_error","code":400}}`, OutcomeRetryable},
		{"forbidden", 403, `{"error":{"message":"permission denied","type":"auth","code":403}}`, OutcomeRetryable},
		{"server error", 500, `{"error":{"message":"internal","type":"server","code":500}}`, OutcomeFatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			})
			_, err := p.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: "user", Content: "hi"}}})
			require.Error(t, err)
			assert.Equal(t, tt.want, Classify(err))
			assert.Equal(t, tt.status, StatusCode(err))
		})
	}
}

func TestClassify_PlainErrors(t *testing.T) {
	assert.Equal(t, OutcomeSuccess, Classify(nil))
	assert.Equal(t, OutcomeRetryable, Classify(errors.New("googleapi: Error 429: quota")))
	assert.Equal(t, OutcomeRetryable, Classify(errors.New("Invalid API key")))
	assert.Equal(t, OutcomeRetryable, Classify(fmt.Errorf("wrap: %w", &HTTPError{Status: 401, Body: "nope"})))
	assert.Equal(t, OutcomeFatal, Classify(errors.New("connection reset by peer")))
	assert.Equal(t, OutcomeFatal, Classify(fmt.Errorf("call: %w", context.Canceled)))
}

func TestParseRetryAfter(t *testing.T) {
	assert.Zero(t, ParseRetryAfter(""))
	assert.Zero(t, ParseRetryAfter("soon"))
	assert.Equal(t, "7s", ParseRetryAfter(" 7 ").String())
	assert.True(t, strings.HasPrefix(OutcomeRetryable.String(), "retry"))
}
