// Package telegram connects the bot to the Telegram Bot API using long
// polling. Private messages are normalized onto the bus; owner commands are
// answered in place.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/mymmrac/telego"

	"github.com/nextlevelbuilder/gchat/internal/bus"
	"github.com/nextlevelbuilder/gchat/internal/channels"
	"github.com/nextlevelbuilder/gchat/internal/config"
)

// Channel connects to Telegram via the Bot API using long polling.
type Channel struct {
	*channels.BaseChannel
	bot        *telego.Bot
	config     config.TelegramConfig
	mediaDir   string
	commands   *Commands
	client     *http.Client
	admit      func(userID int64) bool
	pollCancel context.CancelFunc // cancels the long polling context
	pollDone   chan struct{}      // closed when polling goroutine exits
}

// New creates a new Telegram channel from config. Downloads land in
// mediaDir. commands may be nil, in which case owner commands are ignored.
func New(cfg config.TelegramConfig, mediaDir string, msgBus bus.MessageRouter, commands *Commands) (*Channel, error) {
	var opts []telego.BotOption
	client := http.DefaultClient

	if cfg.Proxy != "" {
		proxyURL, parseErr := url.Parse(cfg.Proxy)
		if parseErr != nil {
			return nil, fmt.Errorf("invalid proxy URL %q: %w", cfg.Proxy, parseErr)
		}
		client = &http.Client{
			Transport: &http.Transport{
				Proxy: http.ProxyURL(proxyURL),
			},
		}
		opts = append(opts, telego.WithHTTPClient(client))
	}

	bot, err := telego.NewBot(cfg.Token, opts...)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	return &Channel{
		BaseChannel: channels.NewBaseChannel("telegram", msgBus, cfg.OwnerIDs),
		bot:         bot,
		config:      cfg,
		mediaDir:    mediaDir,
		commands:    commands,
		client:      client,
	}, nil
}

// SetAdmission installs the check run before any download or publish.
// Owner commands are answered regardless.
func (c *Channel) SetAdmission(admit func(userID int64) bool) { c.admit = admit }

// Bot exposes the underlying client for the outbound sender.
func (c *Channel) Bot() *telego.Bot { return c.bot }

// Start begins long polling for Telegram updates.
func (c *Channel) Start(ctx context.Context) error {
	slog.Info("starting telegram bot (polling mode)")

	// Stop() cancels this context to cleanly shut down long polling.
	pollCtx, cancel := context.WithCancel(ctx)
	c.pollCancel = cancel
	c.pollDone = make(chan struct{})

	updates, err := c.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("start long polling: %w", err)
	}

	c.SetRunning(true)
	slog.Info("telegram bot connected", "username", c.bot.Username())

	// Register bot menu commands with retry.
	go func() {
		commands := DefaultMenuCommands()
		for attempt := 1; attempt <= 3; attempt++ {
			if err := c.SyncMenuCommands(pollCtx, commands); err != nil {
				slog.Warn("failed to sync telegram menu commands", "error", err, "attempt", attempt)
				if attempt < 3 {
					select {
					case <-pollCtx.Done():
						return
					case <-time.After(time.Duration(attempt*5) * time.Second):
					}
				}
			} else {
				slog.Info("telegram menu commands synced")
				return
			}
		}
	}()

	go func() {
		defer close(c.pollDone)
		for {
			select {
			case <-pollCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					slog.Info("telegram updates channel closed")
					return
				}
				if update.Message != nil {
					c.handleMessage(pollCtx, update.Message)
				} else {
					slog.Debug("telegram update skipped (no message)", "update_id", update.UpdateID)
				}
			}
		}
	}()

	return nil
}

// Stop shuts down the Telegram bot by cancelling the long polling context
// and waiting for the polling goroutine to exit.
func (c *Channel) Stop(_ context.Context) error {
	slog.Info("stopping telegram bot")
	c.SetRunning(false)

	if c.pollCancel != nil {
		c.pollCancel()
	}

	// Telegram holds the getUpdates lock until the poller exits.
	if c.pollDone != nil {
		select {
		case <-c.pollDone:
			slog.Info("telegram bot stopped")
		case <-time.After(10 * time.Second):
			slog.Warn("telegram polling goroutine did not exit within timeout")
		}
	}

	return nil
}
