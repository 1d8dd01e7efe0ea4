// Package tts converts reply text to speech for voice delivery.
package tts

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/nextlevelbuilder/gchat/internal/config"
)

const (
	defaultBaseURL = "https://api.elevenlabs.io"
	defaultVoiceID = "pMsXgVXv3BLzUgSXRplE"
	defaultModelID = "eleven_multilingual_v2"
	defaultTimeout = 30 * time.Second
)

// Synthesizer renders text to an audio file and returns its path.
// The caller owns the file and must remove it.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (string, error)
}

// ElevenLabs talks to the ElevenLabs text-to-speech API.
type ElevenLabs struct {
	client  *resty.Client
	apiKey  string
	voiceID string
	modelID string
	dir     string
}

type synthRequest struct {
	Text    string `json:"text"`
	ModelID string `json:"model_id"`
}

// NewElevenLabs builds a client from config. Files are written to dir,
// or the system temp dir when dir is empty.
func NewElevenLabs(cfg config.TtsConfig, dir string) *ElevenLabs {
	el := cfg.ElevenLabs
	base := el.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	timeout := defaultTimeout
	if cfg.TimeoutMs > 0 {
		timeout = time.Duration(cfg.TimeoutMs) * time.Millisecond
	}
	voice := el.VoiceID
	if voice == "" {
		voice = defaultVoiceID
	}
	model := el.ModelID
	if model == "" {
		model = defaultModelID
	}
	if dir == "" {
		dir = os.TempDir()
	}
	return &ElevenLabs{
		client: resty.New().
			SetBaseURL(base).
			SetTimeout(timeout).
			SetHeader("Accept", "audio/mpeg"),
		apiKey:  el.APIKey,
		voiceID: voice,
		modelID: model,
		dir:     dir,
	}
}

// Enabled reports whether an API key is configured.
func (e *ElevenLabs) Enabled() bool { return e.apiKey != "" }

// Synthesize posts text and stores the returned mp3 under a unique name.
func (e *ElevenLabs) Synthesize(ctx context.Context, text string) (string, error) {
	if e.apiKey == "" {
		return "", fmt.Errorf("tts: elevenlabs api key not configured")
	}

	resp, err := e.client.R().
		SetContext(ctx).
		SetHeader("xi-api-key", e.apiKey).
		SetHeader("Content-Type", "application/json").
		SetPathParam("voice", e.voiceID).
		SetBody(synthRequest{Text: text, ModelID: e.modelID}).
		Post("/v1/text-to-speech/{voice}")
	if err != nil {
		return "", fmt.Errorf("tts: request: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("tts: elevenlabs status %d: %s", resp.StatusCode(), truncate(resp.String(), 200))
	}
	audio := resp.Body()
	if len(audio) == 0 {
		return "", fmt.Errorf("tts: empty audio response")
	}

	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", fmt.Errorf("tts: create dir: %w", err)
	}
	path := filepath.Join(e.dir, "voice-"+uuid.NewString()+".mp3")
	if err := os.WriteFile(path, audio, 0o600); err != nil {
		return "", fmt.Errorf("tts: write audio: %w", err)
	}
	return path, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
