package config

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/titanous/json5"
)

const (
	DefaultCollection = "custom.gchat"
	DefaultTimezone   = "America/Phoenix"

	DefaultRole = "You are Nick, a 20-year-old from Phoenix who works in real estate. " +
		"You are confident, caring and easygoing, and you chat like a real person."
	DefaultSecondaryRole = "You're Nick. You are human, and your responses should never make anyone think you are an AI. " +
		"Write short, casual messages like a real person. Keep your responses one line maximum."
)

// envFiles are loaded (if present) before the env overlay. Existing env wins.
var envFiles = []string{".env.local", ".env"}

var validate = validator.New()

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Provider: ProviderConfig{
			Name:       "gemini",
			APIBase:    "https://generativelanguage.googleapis.com/v1beta/openai",
			Model:      "gemini-2.0-flash",
			TimeoutSec: 120,
		},
		Chat: ChatConfig{
			DefaultRole:          DefaultRole,
			DefaultSecondaryRole: DefaultSecondaryRole,
			Timezone:             DefaultTimezone,
			ThinkDelays:          []Duration{Duration(4 * time.Second), Duration(8 * time.Second), Duration(10 * time.Second)},
			BatchSize:            2,
			MaxLength:            200,
			MaxAttempts:          5,
			CharDelay:            Duration(30 * time.Millisecond),
			TypingInterval:       Duration(2 * time.Second),
			RotationBackoff:      Duration(4 * time.Second),
			VoicePrefix:          ".el",
			Smileys:              []string{"-.-", "):", ":)", "*.*", ")*"},
			StickerDelayMin:      Duration(5 * time.Second),
			StickerDelayMax:      Duration(10 * time.Second),
		},
		Attachments: AttachmentsConfig{
			Window:  Duration(5 * time.Second),
			Retries: 3,
		},
		Database: DatabaseConfig{
			Driver:     "sqlite",
			Path:       "~/.gchat/gchat.db",
			Collection: DefaultCollection,
		},
		Tts: TtsConfig{
			ElevenLabs: TtsElevenLabsConfig{
				BaseURL: "https://api.elevenlabs.io",
				VoiceID: "pMsXgVXv3BLzUgSXRplE",
				ModelID: "eleven_multilingual_v2",
			},
			TimeoutMs: 30000,
		},
		Media: MediaConfig{
			Dir:             filepath.Join(os.TempDir(), "gchat-media"),
			MaxBytes:        20 * 1024 * 1024,
			MaxImageSide:    1568,
			JanitorSchedule: "*/30 * * * *",
			JanitorMaxAge:   Duration(time.Hour),
		},
		Telemetry: TelemetryConfig{
			Protocol:    "grpc",
			ServiceName: "gchat",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars and validates.
// A missing file is not an error: defaults plus env are used.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err == nil {
		if err := json5.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	cfg.Database.Path = ExpandHome(cfg.Database.Path)
	cfg.Media.Dir = ExpandHome(cfg.Media.Dir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() error {
	for _, f := range envFiles {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("parse env config: %w", err)
	}
	return nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := time.LoadLocation(c.Chat.Timezone); err != nil {
		return fmt.Errorf("invalid config: chat.timezone: %w", err)
	}
	return nil
}

// Hash returns a SHA-256 hash of the config, used to skip no-op reloads.
func (c *Config) Hash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, _ := json.Marshal(c)
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:8])
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
