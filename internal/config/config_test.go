package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Chat.BatchSize)
	assert.Equal(t, 200, cfg.Chat.MaxLength)
	assert.Equal(t, 5, cfg.Chat.MaxAttempts)
	assert.Equal(t, 5*time.Second, cfg.Attachments.Window.Std())
	assert.Equal(t, DefaultCollection, cfg.Database.Collection)
	require.Len(t, cfg.Chat.ThinkDelays, 3)
	assert.Equal(t, 10*time.Second, cfg.Chat.ThinkDelays[2].Std())
}

func TestLoad_JSON5WithDurations(t *testing.T) {
	path := writeConfig(t, `{
		// comments are allowed
		chat: {
			think_delays: ["1s", 2],
			max_length: 120,
		},
		telegram: { owner_ids: [12345, "678"] },
		database: { driver: "memory" },
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []Duration{Duration(time.Second), Duration(2 * time.Second)}, cfg.Chat.ThinkDelays)
	assert.Equal(t, 120, cfg.Chat.MaxLength)
	assert.Equal(t, FlexibleStringSlice{"12345", "678"}, cfg.Telegram.OwnerIDs)
	assert.Equal(t, "memory", cfg.Database.Driver)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `{ provider: { model: "from-file" } }`)
	t.Setenv("GCHAT_MODEL", "from-env")
	t.Setenv("GCHAT_TELEGRAM_TOKEN", "tok")
	t.Setenv("GCHAT_OWNER_IDS", "1, 2")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Provider.Model)
	assert.Equal(t, "tok", cfg.Telegram.Token)
	assert.Equal(t, FlexibleStringSlice{"1", "2"}, cfg.Telegram.OwnerIDs)
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown driver", `{ database: { driver: "mongo" } }`},
		{"postgres without dsn", `{ database: { driver: "postgres" } }`},
		{"zero batch", `{ chat: { batch_size: -1 } }`},
		{"bad timezone", `{ chat: { timezone: "Mars/Olympus" } }`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	path := writeConfig(t, `{ chat: { max_length: 100 } }`)
	cfg, err := Load(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *Config, 1)
	go func() {
		_ = Watch(ctx, path, cfg, func(c *Config) {
			select {
			case got <- c:
			default:
			}
		})
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(`{ chat: { max_length: 150 } }`), 0o600))

	select {
	case c := <-got:
		assert.Equal(t, 150, c.Chat.MaxLength)
	case <-time.After(3 * time.Second):
		t.Fatal("config was not reloaded")
	}
}
