package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

// FlexibleStringSlice accepts both ["str"] and [123] in JSON.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

// UnmarshalText splits a comma-separated env value ("1,2,3").
func (f *FlexibleStringSlice) UnmarshalText(text []byte) error {
	var out []string
	for _, part := range strings.Split(string(text), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	*f = out
	return nil
}

// Duration is a time.Duration that reads "4s" style strings from JSON and env.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		// bare numbers are seconds
		var secs float64
		if err2 := json.Unmarshal(data, &secs); err2 != nil {
			return fmt.Errorf("duration: %w", err)
		}
		*d = Duration(secs * float64(time.Second))
		return nil
	}
	return d.UnmarshalText([]byte(s))
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("duration: %w", err)
	}
	*d = Duration(v)
	return nil
}

// Config is the root configuration for the gchat bot.
type Config struct {
	Telegram    TelegramConfig    `json:"telegram"`
	Provider    ProviderConfig    `json:"provider"`
	Chat        ChatConfig        `json:"chat"`
	Attachments AttachmentsConfig `json:"attachments"`
	Database    DatabaseConfig    `json:"database"`
	Tts         TtsConfig         `json:"tts,omitempty"`
	Media       MediaConfig       `json:"media,omitempty"`
	Metrics     MetricsConfig     `json:"metrics,omitempty"`
	Telemetry   TelemetryConfig   `json:"telemetry,omitempty"`
	mu          sync.RWMutex
}

// DatabaseConfig selects the key/value backend that holds conversation state.
type DatabaseConfig struct {
	Driver     string `json:"driver" env:"GCHAT_DB_DRIVER" validate:"oneof=sqlite postgres redis file memory"`
	DSN        string `json:"-" env:"GCHAT_DB_DSN" validate:"required_if=Driver postgres,required_if=Driver redis"`
	Path       string `json:"path,omitempty" env:"GCHAT_DB_PATH"` // sqlite file or JSON directory
	Collection string `json:"collection,omitempty" validate:"required"`
}

// MediaConfig controls downloaded attachments on disk.
type MediaConfig struct {
	Dir             string   `json:"dir,omitempty" env:"GCHAT_MEDIA_DIR"`
	MaxBytes        int64    `json:"max_bytes,omitempty" validate:"gte=0"`
	MaxImageSide    int      `json:"max_image_side,omitempty" validate:"gte=0"`
	JanitorSchedule string   `json:"janitor_schedule,omitempty"`
	JanitorMaxAge   Duration `json:"janitor_max_age,omitempty"`
}

// MetricsConfig exposes Prometheus metrics when Listen is set.
type MetricsConfig struct {
	Listen string `json:"listen,omitempty" env:"GCHAT_METRICS_LISTEN"`
}

// TelemetryConfig configures OpenTelemetry OTLP export.
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled,omitempty" env:"GCHAT_TELEMETRY_ENABLED"`
	Endpoint    string            `json:"endpoint,omitempty" env:"GCHAT_TELEMETRY_ENDPOINT"` // e.g. "localhost:4317"
	Protocol    string            `json:"protocol,omitempty" env:"GCHAT_TELEMETRY_PROTOCOL" validate:"omitempty,oneof=grpc http"`
	Insecure    bool              `json:"insecure,omitempty" env:"GCHAT_TELEMETRY_INSECURE"`
	ServiceName string            `json:"service_name,omitempty" env:"GCHAT_TELEMETRY_SERVICE_NAME"`
	Headers     map[string]string `json:"headers,omitempty"`
}

// ChatSettings returns a snapshot of the chat section.
func (c *Config) ChatSettings() ChatConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Chat
}

// ReplaceChat swaps the chat section, used by hot reload.
func (c *Config) ReplaceChat(chat ChatConfig) {
	c.mu.Lock()
	c.Chat = chat
	c.mu.Unlock()
}
