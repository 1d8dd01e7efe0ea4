package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

var (
	// ErrEmptyResponse is returned when the backend answers without any choice.
	ErrEmptyResponse = errors.New("empty response from model")
	// ErrUnsupportedAttachment rejects attachments the chat completions
	// endpoint cannot carry. It is raised before any request is sent.
	ErrUnsupportedAttachment = errors.New("unsupported attachment type")
)

// HTTPError is a non-2xx response from an HTTP backend.
type HTTPError struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Body)
}

// Outcome classifies the result of one backend attempt.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	// OutcomeRetryable means the credential was rate-limited or rejected;
	// another credential may succeed.
	OutcomeRetryable
	OutcomeFatal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetryable:
		return "retryable"
	default:
		return "fatal"
	}
}

// Classify maps an attempt error to an Outcome.
func Classify(err error) Outcome {
	if err == nil {
		return OutcomeSuccess
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, ErrUnsupportedAttachment) {
		return OutcomeFatal
	}
	if IsRateLimited(err) || IsInvalidCredential(err) {
		return OutcomeRetryable
	}
	return OutcomeFatal
}

// IsRateLimited reports quota or rate-limit rejections.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	if StatusCode(err) == http.StatusTooManyRequests {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "resource exhausted") ||
		strings.Contains(msg, "resource_exhausted")
}

// IsInvalidCredential reports rejected or revoked API keys. Any error text
// mentioning "invalid" counts, matching how the Gemini API words bad keys.
func IsInvalidCredential(err error) bool {
	if err == nil {
		return false
	}
	switch StatusCode(err) {
	case http.StatusUnauthorized, http.StatusForbidden:
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "invalid") || strings.Contains(msg, "api key not valid")
}

// StatusCode extracts an HTTP status from known error types, or 0.
func StatusCode(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Status
	}
	return 0
}

// ParseRetryAfter reads a Retry-After header given in seconds.
func ParseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
