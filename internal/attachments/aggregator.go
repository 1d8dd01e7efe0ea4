// Package attachments turns media sent by a user into model replies.
// Photos arriving close together are answered once, as a group; other
// files are answered one at a time.
package attachments

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nextlevelbuilder/gchat/internal/delivery"
	"github.com/nextlevelbuilder/gchat/internal/keyring"
	"github.com/nextlevelbuilder/gchat/internal/media"
	"github.com/nextlevelbuilder/gchat/internal/metrics"
	"github.com/nextlevelbuilder/gchat/internal/notify"
	"github.com/nextlevelbuilder/gchat/internal/prompt"
	"github.com/nextlevelbuilder/gchat/internal/providers"
	"github.com/nextlevelbuilder/gchat/internal/sessions"
)

// Kind names a non-photo attachment in the prompt.
type Kind string

const (
	KindPhoto    Kind = "photo"
	KindVideo    Kind = "video"
	KindAudio    Kind = "audio"
	KindPDF      Kind = "pdf"
	KindDocument Kind = "document"
)

// Attachment is one downloaded file from a user.
type Attachment struct {
	UserID    int64
	ChatID    int64
	MessageID int
	Name      string
	Path      string
	Caption   string
	Kind      Kind
}

// Generator produces a reply for a prompt.
type Generator interface {
	Generate(ctx context.Context, req keyring.Request, policy keyring.Policy) (string, error)
}

// Options tunes the aggregator.
type Options struct {
	// Window is how long a photo group stays open. It is not extended by
	// later photos.
	Window  time.Duration
	Retries int
	Backoff time.Duration
}

// Deps are the collaborators an Aggregator drives.
type Deps struct {
	Sessions  *sessions.Manager
	Generator Generator
	Deliverer *delivery.Deliverer
	Prompts   *prompt.Builder
	Loader    media.Loader
	Notifier  notify.Notifier
}

type window struct {
	items []Attachment
	timer Timer
}

// Aggregator keeps at most one open photo window per user.
type Aggregator struct {
	deps Deps

	mu      sync.Mutex
	windows map[int64]*window
	opts    Options
	ctx     context.Context

	wg        sync.WaitGroup
	afterFunc AfterFunc
}

// New creates an Aggregator.
func New(deps Deps, opts Options) *Aggregator {
	if deps.Notifier == nil {
		deps.Notifier = notify.Log{}
	}
	return &Aggregator{
		deps:      deps,
		windows:   make(map[int64]*window),
		opts:      normalize(opts),
		ctx:       context.Background(),
		afterFunc: realAfterFunc,
	}
}

func normalize(o Options) Options {
	if o.Window <= 0 {
		o.Window = 5 * time.Second
	}
	if o.Retries <= 0 {
		o.Retries = 3
	}
	return o
}

// Start sets the context generation runs under.
func (a *Aggregator) Start(ctx context.Context) {
	a.mu.Lock()
	a.ctx = ctx
	a.mu.Unlock()
}

// SetOptions swaps the tunables. Open windows keep their timers.
func (a *Aggregator) SetOptions(opts Options) {
	a.mu.Lock()
	a.opts = normalize(opts)
	a.mu.Unlock()
}

// Submit adds a photo to the user's window, opening one if needed.
func (a *Aggregator) Submit(att Attachment) {
	a.mu.Lock()
	defer a.mu.Unlock()

	w, ok := a.windows[att.UserID]
	if !ok {
		w = &window{}
		a.windows[att.UserID] = w
		a.wg.Add(1)
		userID := att.UserID
		w.timer = a.afterFunc(a.opts.Window, func() { a.fire(userID) })
		metrics.OpenWindows.Inc()
	}
	w.items = append(w.items, att)
}

// Open reports whether userID has an open window and its size.
func (a *Aggregator) Open(userID int64) (int, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	w, ok := a.windows[userID]
	if !ok {
		return 0, false
	}
	return len(w.items), true
}

func (a *Aggregator) fire(userID int64) {
	defer a.wg.Done()

	a.mu.Lock()
	w, ok := a.windows[userID]
	delete(a.windows, userID)
	ctx, opts := a.ctx, a.opts
	a.mu.Unlock()
	if !ok {
		return
	}
	metrics.OpenWindows.Dec()
	if len(w.items) == 0 {
		return
	}

	if err := a.answerPhotos(ctx, w.items, opts); err != nil && ctx.Err() == nil {
		slog.Warn("attachments: photo group failed", "user_id", userID, "error", err)
		a.deps.Notifier.Notify(fmt.Sprintf("Error processing images in `handle_files` for user %d: %v", userID, err))
	}
}

func (a *Aggregator) answerPhotos(ctx context.Context, items []Attachment, opts Options) error {
	paths := make([]string, 0, len(items))
	caption := ""
	for _, it := range items {
		paths = append(paths, it.Path)
		if caption == "" {
			caption = it.Caption
		}
	}
	defer media.Remove(paths...)

	text := "User has sent multiple images." + captionSuffix(caption)
	return a.answer(ctx, items[0], text, paths, opts)
}

// HandleFile answers a single non-photo file in the background.
func (a *Aggregator) HandleFile(att Attachment) {
	a.mu.Lock()
	ctx, opts := a.ctx, a.opts
	a.mu.Unlock()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer media.Remove(att.Path)
		text := fmt.Sprintf("User has sent a %s.", att.Kind) + captionSuffix(att.Caption)
		if err := a.answer(ctx, att, text, []string{att.Path}, opts); err != nil && ctx.Err() == nil {
			slog.Warn("attachments: file failed", "user_id", att.UserID, "kind", att.Kind, "error", err)
			a.deps.Notifier.Notify(fmt.Sprintf("Error processing %s in `handle_files` for user %d: %v", att.Kind, att.UserID, err))
		}
	}()
}

// answer records the turn, generates with the light policy and replies to
// the originating message.
func (a *Aggregator) answer(ctx context.Context, origin Attachment, text string, paths []string, opts Options) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	turn, err := a.deps.Sessions.AppendUserTurn(ctx, origin.UserID, origin.Name, text)
	if err != nil {
		return err
	}
	full := a.deps.Prompts.Build(turn.Role, turn.History, text)
	req := keyring.Request{
		UserID: origin.UserID,
		Messages: []providers.Message{{
			Role:    "user",
			Content: full,
			Images:  a.deps.Loader.Load(paths),
		}},
	}

	reply, err := a.deps.Deliverer.Validate(ctx, origin.UserID, func(ctx context.Context) (string, error) {
		return a.deps.Generator.Generate(ctx, req, keyring.LightPolicy(opts.Retries, opts.Backoff))
	})
	if delivery.Unusable(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := a.deps.Sessions.AppendReply(ctx, origin.UserID, reply); err != nil {
		return err
	}
	_, err = a.deps.Deliverer.Deliver(ctx, delivery.Target{
		UserID:  origin.UserID,
		ChatID:  origin.ChatID,
		ReplyTo: origin.MessageID,
	}, reply)
	return err
}

// Close cancels open windows, removes their files and waits for running
// replies to finish.
func (a *Aggregator) Close() {
	a.mu.Lock()
	for userID, w := range a.windows {
		if w.timer.Stop() {
			a.wg.Done()
			metrics.OpenWindows.Dec()
			for _, it := range w.items {
				media.Remove(it.Path)
			}
			delete(a.windows, userID)
		}
	}
	a.mu.Unlock()
	a.wg.Wait()
}

func captionSuffix(caption string) string {
	if caption == "" {
		return ""
	}
	return " Caption: " + caption
}
