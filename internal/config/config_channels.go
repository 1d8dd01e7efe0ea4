package config

// TelegramConfig configures the Telegram bot connection and its owners.
type TelegramConfig struct {
	Token         string              `json:"-" env:"GCHAT_TELEGRAM_TOKEN"`
	Proxy         string              `json:"proxy,omitempty" env:"GCHAT_TELEGRAM_PROXY" validate:"omitempty,url"`
	OwnerIDs      FlexibleStringSlice `json:"owner_ids,omitempty" env:"GCHAT_OWNER_IDS"`          // may run admin commands
	NotifyChatID  int64               `json:"notify_chat_id,omitempty" env:"GCHAT_NOTIFY_CHAT_ID"` // operator reports (0 = first owner)
	MediaMaxBytes int64               `json:"media_max_bytes,omitempty"`                           // default 20MB
}

// ProviderConfig configures the OpenAI-compatible generation backend.
// The API key here is only the fallback when no rotation keys are stored.
type ProviderConfig struct {
	Name       string `json:"name,omitempty"`
	APIKey     string `json:"-" env:"GCHAT_GEMINI_API_KEY"`
	APIBase    string `json:"api_base,omitempty" env:"GCHAT_PROVIDER_API_BASE" validate:"omitempty,url"`
	Model      string `json:"model,omitempty" env:"GCHAT_MODEL"`
	TimeoutSec int    `json:"timeout_sec,omitempty" validate:"gte=0"`
}

// ChatConfig holds the conversational behaviour knobs.
type ChatConfig struct {
	DefaultRole          string     `json:"default_role,omitempty"`
	DefaultSecondaryRole string     `json:"default_secondary_role,omitempty"`
	Timezone             string     `json:"timezone,omitempty" env:"GCHAT_TIMEZONE"`
	ThinkDelays          []Duration `json:"think_delays,omitempty" validate:"min=1"`
	BatchSize            int        `json:"batch_size,omitempty" validate:"gte=1"`
	MaxLength            int        `json:"max_length,omitempty" validate:"gte=1"`
	MaxAttempts          int        `json:"max_attempts,omitempty" validate:"gte=1"`
	CharDelay            Duration   `json:"char_delay,omitempty"`
	TypingInterval       Duration   `json:"typing_interval,omitempty"`
	RotationBackoff      Duration   `json:"rotation_backoff,omitempty"`
	VoicePrefix          string     `json:"voice_prefix,omitempty"`
	Smileys              []string   `json:"smileys,omitempty"`
	StickerDelayMin      Duration   `json:"sticker_delay_min,omitempty"`
	StickerDelayMax      Duration   `json:"sticker_delay_max,omitempty" validate:"gtefield=StickerDelayMin"`
}

// AttachmentsConfig controls the photo aggregation window.
type AttachmentsConfig struct {
	Window  Duration `json:"window,omitempty"`
	Retries int      `json:"retries,omitempty" validate:"gte=1"`
}

// TtsConfig configures speech synthesis for voice replies.
type TtsConfig struct {
	ElevenLabs TtsElevenLabsConfig `json:"elevenlabs,omitempty"`
	TimeoutMs  int                 `json:"timeout_ms,omitempty"` // default 30000
}

// TtsElevenLabsConfig configures the ElevenLabs TTS provider.
type TtsElevenLabsConfig struct {
	APIKey  string `json:"-" env:"GCHAT_TTS_ELEVENLABS_API_KEY"`
	BaseURL string `json:"base_url,omitempty"`
	VoiceID string `json:"voice_id,omitempty" env:"GCHAT_TTS_ELEVENLABS_VOICE_ID"` // default "pMsXgVXv3BLzUgSXRplE"
	ModelID string `json:"model_id,omitempty"`                                     // default "eleven_multilingual_v2"
}
