package cmd

import (
	"fmt"
	"time"

	"github.com/nextlevelbuilder/gchat/internal/agent"
	"github.com/nextlevelbuilder/gchat/internal/attachments"
	"github.com/nextlevelbuilder/gchat/internal/batcher"
	"github.com/nextlevelbuilder/gchat/internal/config"
	"github.com/nextlevelbuilder/gchat/internal/delivery"
	"github.com/nextlevelbuilder/gchat/internal/kv"
	"github.com/nextlevelbuilder/gchat/internal/kv/file"
	"github.com/nextlevelbuilder/gchat/internal/kv/pg"
	"github.com/nextlevelbuilder/gchat/internal/kv/redis"
	"github.com/nextlevelbuilder/gchat/internal/kv/sqlite"
	"github.com/nextlevelbuilder/gchat/internal/store"
)

// openStore opens the configured key/value backend.
func openStore(cfg config.DatabaseConfig) (kv.Store, error) {
	switch cfg.Driver {
	case "postgres":
		return pg.Open(cfg.DSN)
	case "redis":
		return redis.Open(cfg.DSN)
	case "file":
		return file.Open(cfg.Path)
	case "memory":
		return kv.NewMemory(), nil
	case "sqlite", "":
		return sqlite.Open(cfg.Path)
	}
	return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
}

// loadState loads config and opens the conversation store for the admin
// subcommands. The caller closes the returned kv.Store.
func loadState() (*config.Config, kv.Store, *store.ConversationStore, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}
	kvs, err := openStore(cfg.Database)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open store: %w", err)
	}
	return cfg, kvs, store.NewConversationStore(kvs, cfg.Database.Collection), nil
}

func durations(ds []config.Duration) []time.Duration {
	out := make([]time.Duration, len(ds))
	for i, d := range ds {
		out[i] = d.Std()
	}
	return out
}

func deliveryOptions(chat config.ChatConfig) delivery.Options {
	return delivery.Options{
		MaxLength:      chat.MaxLength,
		MaxAttempts:    chat.MaxAttempts,
		CharDelay:      chat.CharDelay.Std(),
		TypingInterval: chat.TypingInterval.Std(),
		VoicePrefix:    chat.VoicePrefix,
	}
}

func batcherOptions(chat config.ChatConfig) batcher.Options {
	return batcher.Options{
		ThinkDelays: durations(chat.ThinkDelays),
		BatchSize:   chat.BatchSize,
		Backoff:     chat.RotationBackoff.Std(),
	}
}

func attachmentOptions(cfg *config.Config) attachments.Options {
	return attachments.Options{
		Window:  cfg.Attachments.Window.Std(),
		Retries: cfg.Attachments.Retries,
		Backoff: cfg.ChatSettings().RotationBackoff.Std(),
	}
}

func stickerOptions(chat config.ChatConfig) agent.StickerOptions {
	return agent.StickerOptions{
		Smileys:  chat.Smileys,
		MinDelay: chat.StickerDelayMin.Std(),
		MaxDelay: chat.StickerDelayMax.Std(),
	}
}

// reloader applies a changed config to the running components.
type reloader struct {
	cfg       *config.Config
	defaults  func(role, secondary string)
	deliverer *delivery.Deliverer
	batcher   *batcher.Batcher
	agg       *attachments.Aggregator
	router    *agent.Router
}

func (r *reloader) apply(next *config.Config) {
	chat := next.ChatSettings()
	r.cfg.ReplaceChat(chat)
	r.defaults(chat.DefaultRole, chat.DefaultSecondaryRole)
	r.deliverer.SetOptions(deliveryOptions(chat))
	r.batcher.SetOptions(batcherOptions(chat))
	r.agg.SetOptions(attachmentOptions(next))
	r.router.SetStickerOptions(stickerOptions(chat))
}
