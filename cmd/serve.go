package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/gchat/internal/agent"
	"github.com/nextlevelbuilder/gchat/internal/attachments"
	"github.com/nextlevelbuilder/gchat/internal/batcher"
	"github.com/nextlevelbuilder/gchat/internal/bus"
	"github.com/nextlevelbuilder/gchat/internal/channels"
	"github.com/nextlevelbuilder/gchat/internal/channels/telegram"
	"github.com/nextlevelbuilder/gchat/internal/config"
	"github.com/nextlevelbuilder/gchat/internal/delivery"
	"github.com/nextlevelbuilder/gchat/internal/keyring"
	"github.com/nextlevelbuilder/gchat/internal/media"
	"github.com/nextlevelbuilder/gchat/internal/metrics"
	"github.com/nextlevelbuilder/gchat/internal/notify"
	"github.com/nextlevelbuilder/gchat/internal/prompt"
	"github.com/nextlevelbuilder/gchat/internal/providers"
	"github.com/nextlevelbuilder/gchat/internal/sessions"
	"github.com/nextlevelbuilder/gchat/internal/store"
	"github.com/nextlevelbuilder/gchat/internal/tracing"
	"github.com/nextlevelbuilder/gchat/internal/tts"
)

const (
	notifyQueueSize = 64
	notifyBurst     = 3
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the Telegram bot (default command)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	setupLogging()

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Telegram.Token == "" {
		return errors.New("GCHAT_TELEGRAM_TOKEN is not set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			slog.Warn("tracing shutdown failed", "error", err)
		}
	}()

	kvs, err := openStore(cfg.Database)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer kvs.Close()
	st := store.NewConversationStore(kvs, cfg.Database.Collection)
	slog.Info("state store ready", "driver", cfg.Database.Driver, "collection", cfg.Database.Collection)

	chat := cfg.ChatSettings()
	sess, err := sessions.NewManager(ctx, st, chat.DefaultRole, chat.DefaultSecondaryRole)
	if err != nil {
		return fmt.Errorf("load sessions: %w", err)
	}
	pool, err := keyring.NewPool(ctx, st, cfg.Provider.APIKey)
	if err != nil {
		return fmt.Errorf("load keys: %w", err)
	}
	if pool.Len() == 0 {
		slog.Warn("no API keys stored and no fallback key configured; add one with /setgkey add <key>")
	}

	provider := providers.NewOpenAIProvider(cfg.Provider.Name, "", cfg.Provider.APIBase, cfg.Provider.Model)
	if cfg.Provider.TimeoutSec > 0 {
		provider = provider.WithTimeout(time.Duration(cfg.Provider.TimeoutSec) * time.Second)
	}
	gen := keyring.NewGenerator(pool, provider, cfg.Provider.Model)

	prompts, err := prompt.NewBuilder(chat.Timezone)
	if err != nil {
		return fmt.Errorf("prompt builder: %w", err)
	}

	msgBus := bus.New(0)
	tg, err := telegram.New(cfg.Telegram, cfg.Media.Dir, msgBus, telegram.NewCommands(sess, pool))
	if err != nil {
		return err
	}
	tg.SetAdmission(sess.IsAdmitted)
	sender := telegram.NewSender(tg.Bot())

	var notifier notify.Notifier = notify.Log{}
	var noteQueue *notify.Queue
	if chatID := notifyChatID(cfg.Telegram); chatID != 0 {
		noteQueue = notify.NewQueue(sender.NotifyFunc(chatID), notifyQueueSize, rate.Every(time.Second), notifyBurst)
		notifier = noteQueue
	}

	var synth tts.Synthesizer
	if el := tts.NewElevenLabs(cfg.Tts, cfg.Media.Dir); el.Enabled() {
		synth = el
	}

	deliverer := delivery.New(sender, synth, notifier, deliveryOptions(chat))
	b := batcher.New(batcher.Deps{
		Sessions:  sess,
		Store:     st,
		Generator: gen,
		Deliverer: deliverer,
		Prompts:   prompts,
		Notifier:  notifier,
	}, batcherOptions(chat))
	agg := attachments.New(attachments.Deps{
		Sessions:  sess,
		Generator: gen,
		Deliverer: deliverer,
		Prompts:   prompts,
		Loader:    media.NewLoader(cfg.Media.MaxBytes, cfg.Media.MaxImageSide),
		Notifier:  notifier,
	}, attachmentOptions(cfg))
	router := agent.NewRouter(sess, b, agg, sender, notifier, stickerOptions(chat))

	var janitor *media.Janitor
	if cfg.Media.JanitorSchedule != "" {
		if janitor, err = media.NewJanitor(cfg.Media.Dir, cfg.Media.JanitorSchedule, cfg.Media.JanitorMaxAge.Std()); err != nil {
			return err
		}
	}

	rl := &reloader{cfg: cfg, defaults: sess.SetDefaults, deliverer: deliverer, batcher: b, agg: agg, router: router}

	eg, egCtx := errgroup.WithContext(ctx)
	b.Start(egCtx)
	agg.Start(egCtx)

	eg.Go(func() error { return router.Run(egCtx, msgBus) })
	eg.Go(func() error {
		return config.Watch(egCtx, cfgPath, cfg, rl.apply)
	})
	if noteQueue != nil {
		eg.Go(func() error { return noteQueue.Run(egCtx) })
	}
	if janitor != nil {
		eg.Go(func() error { return janitor.Run(egCtx) })
	}
	if cfg.Metrics.Listen != "" {
		eg.Go(func() error { return metrics.Serve(egCtx, cfg.Metrics.Listen) })
	}

	chMgr := channels.NewManager()
	chMgr.RegisterChannel(tg)
	if err := chMgr.StartAll(egCtx); err != nil {
		return err
	}
	slog.Info("gchat running", "version", Version, "keys", pool.Len())

	<-egCtx.Done()
	slog.Info("shutting down")
	stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = chMgr.StopAll(stopCtx)

	err = eg.Wait()
	agg.Close()
	b.Wait()
	router.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// notifyChatID picks where operator notes go: the configured chat, else
// the first numeric owner.
func notifyChatID(cfg config.TelegramConfig) int64 {
	if cfg.NotifyChatID != 0 {
		return cfg.NotifyChatID
	}
	for _, o := range cfg.OwnerIDs {
		if id, err := strconv.ParseInt(strings.TrimSpace(o), 10, 64); err == nil {
			return id
		}
	}
	return 0
}
