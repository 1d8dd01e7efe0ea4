// Package agent routes admitted inbound messages to the component that
// answers them.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/nextlevelbuilder/gchat/internal/attachments"
	"github.com/nextlevelbuilder/gchat/internal/batcher"
	"github.com/nextlevelbuilder/gchat/internal/bus"
	"github.com/nextlevelbuilder/gchat/internal/channels"
	"github.com/nextlevelbuilder/gchat/internal/delivery"
	"github.com/nextlevelbuilder/gchat/internal/media"
	"github.com/nextlevelbuilder/gchat/internal/metrics"
	"github.com/nextlevelbuilder/gchat/internal/notify"
	"github.com/nextlevelbuilder/gchat/internal/sessions"
)

// StickerOptions configures the sticker auto-reply.
type StickerOptions struct {
	Smileys  []string
	MinDelay time.Duration
	MaxDelay time.Duration
}

// Router dispatches by message kind after the admission check.
type Router struct {
	sessions *sessions.Manager
	batcher  *batcher.Batcher
	agg      *attachments.Aggregator
	sender   delivery.Sender
	notifier notify.Notifier

	mu       sync.RWMutex
	stickers StickerOptions

	wg    sync.WaitGroup
	sleep func(ctx context.Context, d time.Duration) error
	rng   func(n int64) int64
}

// NewRouter wires the handlers.
func NewRouter(sess *sessions.Manager, b *batcher.Batcher, agg *attachments.Aggregator, sender delivery.Sender, notifier notify.Notifier, stickers StickerOptions) *Router {
	if notifier == nil {
		notifier = notify.Log{}
	}
	return &Router{
		sessions: sess,
		batcher:  b,
		agg:      agg,
		sender:   sender,
		notifier: notifier,
		stickers: stickers,
		sleep:    sleepCtx,
		rng:      rand.Int64N,
	}
}

// SetStickerOptions swaps the sticker settings, used on config reload.
func (r *Router) SetStickerOptions(o StickerOptions) {
	r.mu.Lock()
	r.stickers = o
	r.mu.Unlock()
}

// Run consumes the bus until ctx is cancelled.
func (r *Router) Run(ctx context.Context, mb bus.MessageRouter) error {
	for {
		msg, ok := mb.ConsumeInbound(ctx)
		if !ok {
			r.wg.Wait()
			return nil
		}
		if err := r.Handle(ctx, msg); err != nil {
			slog.Warn("router: handle failed", "user_id", msg.UserID, "kind", msg.Kind, "error", err)
			r.notifier.Notify(notify.ComponentError(componentFor(msg.Kind), err))
		}
	}
}

// Handle routes one message. Messages from users who are not admitted are
// dropped without touching any state.
func (r *Router) Handle(ctx context.Context, msg bus.InboundMessage) error {
	admitted := r.sessions.IsAdmitted(msg.UserID)
	metrics.MessagesReceived.WithLabelValues(string(msg.Kind), fmt.Sprint(admitted)).Inc()
	if !admitted {
		slog.Debug("router: sender not admitted", "user_id", msg.UserID, "kind", msg.Kind)
		media.Remove(msg.Media)
		return nil
	}

	switch msg.Kind {
	case bus.KindText:
		slog.Debug("router: text", "user_id", msg.UserID, "preview", channels.Truncate(msg.Content, 50))
		_, err := r.batcher.Enqueue(ctx, batcher.Message{
			UserID: msg.UserID,
			ChatID: msg.ChatID,
			Name:   msg.SenderName,
			Text:   msg.Content,
		})
		return err

	case bus.KindPhoto:
		r.agg.Submit(attachmentFrom(msg, attachments.KindPhoto))
		return nil

	case bus.KindFile:
		r.agg.HandleFile(attachmentFrom(msg, attachments.Kind(msg.MediaKind)))
		return nil

	case bus.KindSticker:
		r.replySmiley(ctx, msg)
		return nil

	default:
		media.Remove(msg.Media)
		return fmt.Errorf("unknown message kind %q", msg.Kind)
	}
}

func attachmentFrom(msg bus.InboundMessage, kind attachments.Kind) attachments.Attachment {
	return attachments.Attachment{
		UserID:    msg.UserID,
		ChatID:    msg.ChatID,
		MessageID: msg.MessageID,
		Name:      msg.SenderName,
		Path:      msg.Media,
		Caption:   msg.Caption,
		Kind:      kind,
	}
}

// replySmiley answers a sticker or GIF with a random smiley after a pause.
func (r *Router) replySmiley(ctx context.Context, msg bus.InboundMessage) {
	r.mu.RLock()
	opts := r.stickers
	r.mu.RUnlock()
	if len(opts.Smileys) == 0 {
		return
	}

	smiley := opts.Smileys[r.rng(int64(len(opts.Smileys)))]
	delay := opts.MinDelay
	if span := opts.MaxDelay - opts.MinDelay; span > 0 {
		delay += time.Duration(r.rng(int64(span)))
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.sleep(ctx, delay); err != nil {
			return
		}
		if err := r.sender.SendText(ctx, msg.ChatID, smiley, 0); err != nil {
			r.notifier.Notify(notify.ComponentError("handle_sticker", err))
		}
	}()
}

// Wait blocks until pending sticker replies finish.
func (r *Router) Wait() { r.wg.Wait() }

func componentFor(k bus.Kind) string {
	switch k {
	case bus.KindText:
		return "gchat"
	case bus.KindSticker:
		return "handle_sticker"
	default:
		return "handle_files"
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
