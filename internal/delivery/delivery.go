// Package delivery validates generated replies and hands them to the chat
// with human-like pacing, as text or as synthesized voice.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"

	"github.com/nextlevelbuilder/gchat/internal/metrics"
	"github.com/nextlevelbuilder/gchat/internal/notify"
	"github.com/nextlevelbuilder/gchat/internal/tracing"
	"github.com/nextlevelbuilder/gchat/internal/tts"
)

var (
	// ErrTooLong is returned by Validate when no attempt fit MaxLength.
	ErrTooLong = errors.New("response exceeds length limit")
	// ErrEmpty is returned by Validate when every attempt came back blank.
	ErrEmpty = errors.New("response is empty")
)

// Sender is the outbound side of the messaging channel.
type Sender interface {
	SendTyping(ctx context.Context, chatID int64) error
	SendText(ctx context.Context, chatID int64, text string, replyTo int) error
	SendVoice(ctx context.Context, chatID int64, path string, replyTo int) error
}

// Target addresses one delivery. ReplyTo is a message id, 0 for none.
type Target struct {
	UserID  int64
	ChatID  int64
	ReplyTo int
}

// Mode is how a reply reached the user.
type Mode string

const (
	ModeNone  Mode = "none"
	ModeText  Mode = "text"
	ModeVoice Mode = "voice"
)

// Result describes a finished delivery.
type Result struct {
	Mode Mode
	Text string
}

// Options holds the tunables. Zero values fall back to the defaults.
type Options struct {
	MaxLength      int
	MaxAttempts    int
	CharDelay      time.Duration
	TypingInterval time.Duration
	VoicePrefix    string
	// ReadingMax caps the typing shown while a message is being read.
	ReadingMax time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxLength <= 0 {
		o.MaxLength = 200
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.TypingInterval <= 0 {
		o.TypingInterval = 2 * time.Second
	}
	if o.ReadingMax <= 0 {
		o.ReadingMax = 5 * time.Second
	}
	return o
}

// GenerateFunc produces one candidate reply.
type GenerateFunc func(ctx context.Context) (string, error)

// Deliverer is shared by every user; it holds no per-user state.
type Deliverer struct {
	sender   Sender
	synth    tts.Synthesizer
	notifier notify.Notifier

	mu   sync.RWMutex
	opts Options

	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Deliverer. synth may be nil, in which case voice replies
// are sent as text.
func New(sender Sender, synth tts.Synthesizer, notifier notify.Notifier, opts Options) *Deliverer {
	if notifier == nil {
		notifier = notify.Log{}
	}
	return &Deliverer{
		sender:   sender,
		synth:    synth,
		notifier: notifier,
		opts:     opts.withDefaults(),
		sleep:    sleepCtx,
	}
}

// SetOptions swaps the tunables, used on config reload.
func (d *Deliverer) SetOptions(opts Options) {
	d.mu.Lock()
	d.opts = opts.withDefaults()
	d.mu.Unlock()
}

func (d *Deliverer) options() Options {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.opts
}

// Validate calls gen until it returns a non-blank reply within MaxLength
// (inclusive), for at most MaxAttempts calls. Blank replies count as failed
// attempts. Generation errors are returned as-is.
func (d *Deliverer) Validate(ctx context.Context, userID int64, gen GenerateFunc) (string, error) {
	opts := d.options()
	failure := ErrEmpty
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		text, err := gen(ctx)
		if err != nil {
			return "", err
		}
		length := utf8.RuneCountInString(text)
		switch {
		case strings.TrimSpace(text) == "":
			metrics.LengthRetries.Inc()
			slog.Debug("reply is empty", "user_id", userID, "attempt", attempt)
			if attempt < opts.MaxAttempts {
				d.notifier.Notify(fmt.Sprintf("Retrying response generation for user: %d due to empty response.", userID))
			}
		case length > opts.MaxLength:
			failure = ErrTooLong
			metrics.LengthRetries.Inc()
			slog.Debug("reply over length limit", "user_id", userID, "attempt", attempt, "length", length)
			if attempt < opts.MaxAttempts {
				d.notifier.Notify(fmt.Sprintf("Retrying response generation for user: %d due to long response.", userID))
			}
		default:
			return text, nil
		}
	}
	d.notifier.Notify(fmt.Sprintf("Failed to generate a suitable response after %d attempts for user: %d", opts.MaxAttempts, userID))
	return "", failure
}

// Unusable reports whether err means Validate gave up without a reply.
func Unusable(err error) bool {
	return errors.Is(err, ErrTooLong) || errors.Is(err, ErrEmpty)
}

// Deliver sends text to t. A reply starting with the voice prefix is
// synthesized and sent as voice; if synthesis or the voice send fails the
// remainder goes out as text. Text delivery blocks for the typing
// simulation first.
func (d *Deliverer) Deliver(ctx context.Context, t Target, text string) (Result, error) {
	ctx, span := tracing.Tracer().Start(ctx, "delivery.deliver")
	defer span.End()
	span.SetAttributes(attribute.Int64("user_id", t.UserID))

	opts := d.options()
	if opts.VoicePrefix != "" && strings.HasPrefix(text, opts.VoicePrefix) {
		rest := strings.TrimSpace(text[len(opts.VoicePrefix):])
		if rest == "" {
			return Result{Mode: ModeNone}, nil
		}
		if d.sendVoice(ctx, t, rest) {
			metrics.Deliveries.WithLabelValues(string(ModeVoice)).Inc()
			span.SetAttributes(attribute.String("mode", string(ModeVoice)))
			return Result{Mode: ModeVoice, Text: rest}, nil
		}
		text = rest
	}

	if err := d.Pace(ctx, t.ChatID, utf8.RuneCountInString(text)); err != nil {
		return Result{Mode: ModeNone}, err
	}
	if err := d.sender.SendText(ctx, t.ChatID, text, t.ReplyTo); err != nil {
		return Result{Mode: ModeNone}, fmt.Errorf("send text: %w", err)
	}
	metrics.Deliveries.WithLabelValues(string(ModeText)).Inc()
	span.SetAttributes(attribute.String("mode", string(ModeText)))
	return Result{Mode: ModeText, Text: text}, nil
}

// sendVoice reports whether a voice message went out. The synthesized
// file is always removed.
func (d *Deliverer) sendVoice(ctx context.Context, t Target, text string) bool {
	if d.synth == nil {
		return false
	}
	path, err := d.synth.Synthesize(ctx, text)
	if err != nil {
		slog.Warn("voice synthesis failed, sending text", "user_id", t.UserID, "error", err)
		return false
	}
	defer func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			slog.Debug("remove voice file", "path", path, "error", err)
		}
	}()
	if err := d.sender.SendVoice(ctx, t.ChatID, path, t.ReplyTo); err != nil {
		slog.Warn("voice send failed, sending text", "user_id", t.UserID, "error", err)
		return false
	}
	return true
}

// Pace shows "typing" for chars*CharDelay, re-sending the action every
// TypingInterval. It returns when the time is up or ctx is done.
func (d *Deliverer) Pace(ctx context.Context, chatID int64, chars int) error {
	opts := d.options()
	return d.typeFor(ctx, chatID, time.Duration(chars)*opts.CharDelay, opts.TypingInterval)
}

// Reading shows "typing" once and waits while the bot "reads" text:
// a tenth of a second per character, capped at ReadingMax.
func (d *Deliverer) Reading(ctx context.Context, chatID int64, text string) error {
	if err := d.sender.SendTyping(ctx, chatID); err != nil {
		slog.Debug("typing action failed", "chat_id", chatID, "error", err)
	}
	return d.sleep(ctx, ReadingTime(text, d.options().ReadingMax))
}

// ReadingTime is one tenth of a second per character, capped at max.
func ReadingTime(text string, max time.Duration) time.Duration {
	dur := time.Duration(utf8.RuneCountInString(text)) * time.Second / 10
	return min(dur, max)
}

func (d *Deliverer) typeFor(ctx context.Context, chatID int64, total, interval time.Duration) error {
	for remaining := total; remaining > 0; remaining -= interval {
		if err := d.sender.SendTyping(ctx, chatID); err != nil {
			slog.Debug("typing action failed", "chat_id", chatID, "error", err)
		}
		if err := d.sleep(ctx, min(interval, remaining)); err != nil {
			return err
		}
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
