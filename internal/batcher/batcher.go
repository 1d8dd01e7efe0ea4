// Package batcher collects a user's text messages into batches and drains
// them with one goroutine per user, so replies come back in order and
// quick bursts of messages are answered together.
package batcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/nextlevelbuilder/gchat/internal/delivery"
	"github.com/nextlevelbuilder/gchat/internal/keyring"
	"github.com/nextlevelbuilder/gchat/internal/metrics"
	"github.com/nextlevelbuilder/gchat/internal/notify"
	"github.com/nextlevelbuilder/gchat/internal/prompt"
	"github.com/nextlevelbuilder/gchat/internal/providers"
	"github.com/nextlevelbuilder/gchat/internal/sessions"
	"github.com/nextlevelbuilder/gchat/internal/store"
)

// Message is one admitted text message.
type Message struct {
	UserID int64
	ChatID int64
	Name   string
	Text   string
}

// Generator produces a reply for a prompt.
type Generator interface {
	Generate(ctx context.Context, req keyring.Request, policy keyring.Policy) (string, error)
}

// Options tunes batching.
type Options struct {
	ThinkDelays []time.Duration
	BatchSize   int
	Backoff     time.Duration
}

// Deps are the collaborators a Batcher drives.
type Deps struct {
	Sessions  *sessions.Manager
	Store     *store.ConversationStore
	Generator Generator
	Deliverer *delivery.Deliverer
	Prompts   *prompt.Builder
	Notifier  notify.Notifier
}

type userQueue struct {
	mu     sync.Mutex
	items  []string
	chatID int64
	name   string
	// loaded is set once the persisted queue has been merged into items.
	// Until then the stored copy is never overwritten.
	loaded bool
}

// Batcher is safe for concurrent use.
type Batcher struct {
	deps Deps

	mu     sync.Mutex
	queues map[int64]*userQueue
	opts   Options
	ctx    context.Context

	wg    sync.WaitGroup
	sleep func(ctx context.Context, d time.Duration) error
	pick  func(n int) int
}

// New creates a Batcher. Drain goroutines run on context.Background until
// Start supplies a process context.
func New(deps Deps, opts Options) *Batcher {
	if deps.Notifier == nil {
		deps.Notifier = notify.Log{}
	}
	return &Batcher{
		deps:   deps,
		queues: make(map[int64]*userQueue),
		opts:   normalize(opts),
		ctx:    context.Background(),
		sleep:  sleepCtx,
		pick:   rand.IntN,
	}
}

func normalize(o Options) Options {
	if o.BatchSize <= 0 {
		o.BatchSize = 2
	}
	if len(o.ThinkDelays) == 0 {
		o.ThinkDelays = []time.Duration{4 * time.Second, 8 * time.Second, 10 * time.Second}
	}
	return o
}

// Start sets the context drain goroutines run under. Cancelling it stops
// drains at their next wait; unsent fragments stay persisted.
func (b *Batcher) Start(ctx context.Context) {
	b.mu.Lock()
	b.ctx = ctx
	b.mu.Unlock()
}

// Wait blocks until every running drain has returned.
func (b *Batcher) Wait() { b.wg.Wait() }

// SetOptions swaps the tunables, used on config reload.
func (b *Batcher) SetOptions(opts Options) {
	b.mu.Lock()
	b.opts = normalize(opts)
	b.mu.Unlock()
}

func (b *Batcher) state() (Options, context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opts, b.ctx
}

func (b *Batcher) queue(userID int64) *userQueue {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[userID]
	if !ok {
		q = &userQueue{}
		b.queues[userID] = q
	}
	return q
}

// Enqueue records msg and starts a drain for the user if none is running.
// It never generates and only blocks for the queue write. The return
// value reports whether a new drain was started.
func (b *Batcher) Enqueue(ctx context.Context, msg Message) (bool, error) {
	q := b.queue(msg.UserID)

	q.mu.Lock()
	defer q.mu.Unlock()

	b.loadLocked(ctx, msg.UserID, q)
	q.items = append(q.items, msg.Text)
	q.chatID = msg.ChatID
	q.name = msg.Name
	b.persistLocked(ctx, msg.UserID, q)

	if !b.deps.Sessions.TryAcquire(msg.UserID) {
		return false, nil
	}
	_, runCtx := b.state()
	b.wg.Add(1)
	go b.drain(runCtx, msg.UserID, q)
	return true, nil
}

// loadLocked merges the persisted queue ahead of any in-memory fragments.
// A failed read leaves q unloaded so the next call tries again.
// Caller holds q.mu.
func (b *Batcher) loadLocked(ctx context.Context, userID int64, q *userQueue) {
	if q.loaded {
		return
	}
	persisted, err := b.deps.Store.Queue(ctx, userID)
	if err != nil {
		slog.Warn("batcher: load persisted queue", "user_id", userID, "error", err)
		return
	}
	q.items = append(persisted, q.items...)
	q.loaded = true
}

// persistLocked writes q.items back unless the stored copy was never read.
// Caller holds q.mu.
func (b *Batcher) persistLocked(ctx context.Context, userID int64, q *userQueue) {
	if !q.loaded {
		slog.Debug("batcher: persist skipped, stored queue not loaded", "user_id", userID)
		return
	}
	if err := b.deps.Store.SetQueue(ctx, userID, q.items); err != nil {
		slog.Warn("batcher: persist queue", "user_id", userID, "error", err)
	}
}

// Pending returns the in-memory queue for userID.
func (b *Batcher) Pending(userID int64) []string {
	q := b.queue(userID)
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.items)
}

func (b *Batcher) drain(ctx context.Context, userID int64, q *userQueue) {
	defer b.wg.Done()
	metrics.ActiveDrains.Inc()
	defer metrics.ActiveDrains.Dec()

	released := false
	defer func() {
		if !released {
			b.deps.Sessions.Release(userID)
		}
	}()

	for {
		// Emptiness check and release share q.mu with Enqueue, so a
		// fragment appended now is either seen here or starts a new drain.
		q.mu.Lock()
		if len(q.items) == 0 {
			b.deps.Sessions.Release(userID)
			released = true
			q.loaded = false
			q.mu.Unlock()
			return
		}
		q.mu.Unlock()

		opts, _ := b.state()
		delay := opts.ThinkDelays[b.pick(len(opts.ThinkDelays))]
		if err := b.sleep(ctx, delay); err != nil {
			slog.Debug("batcher: drain stopped", "user_id", userID, "error", err)
			return
		}

		if err := b.iterate(ctx, userID, q, opts); err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("batcher: batch failed", "user_id", userID, "error", err)
			b.deps.Notifier.Notify(notify.ComponentError("process_messages", err))
		}
	}
}

func (b *Batcher) iterate(ctx context.Context, userID int64, q *userQueue, opts Options) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			metrics.BatchesProcessed.WithLabelValues("panic").Inc()
		}
	}()

	q.mu.Lock()
	b.loadLocked(ctx, userID, q)
	n := min(opts.BatchSize, len(q.items))
	batch := slices.Clone(q.items[:n])
	q.items = slices.Clone(q.items[n:])
	chatID, name := q.chatID, q.name
	b.persistLocked(ctx, userID, q)
	q.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}
	metrics.BatchSize.Observe(float64(len(batch)))

	joined := strings.Join(batch, " ")
	turn, err := b.deps.Sessions.AppendUserTurn(ctx, userID, name, joined)
	if err != nil {
		metrics.BatchesProcessed.WithLabelValues("error").Inc()
		return err
	}
	full := b.deps.Prompts.Build(turn.Role, turn.History, joined)

	if err := b.deps.Deliverer.Reading(ctx, chatID, joined); err != nil {
		return err
	}

	req := keyring.Request{
		UserID:   userID,
		Messages: []providers.Message{{Role: "user", Content: full}},
	}
	reply, err := b.deps.Deliverer.Validate(ctx, userID, func(ctx context.Context) (string, error) {
		return b.deps.Generator.Generate(ctx, req, keyring.DefaultPolicy(opts.Backoff))
	})
	switch {
	case errors.Is(err, delivery.ErrTooLong):
		metrics.BatchesProcessed.WithLabelValues("too_long").Inc()
		return nil
	case errors.Is(err, delivery.ErrEmpty):
		metrics.BatchesProcessed.WithLabelValues("empty").Inc()
		return nil
	case errors.Is(err, keyring.ErrExhaustedCredentials):
		metrics.BatchesProcessed.WithLabelValues("exhausted").Inc()
		return err
	case err != nil:
		metrics.BatchesProcessed.WithLabelValues("error").Inc()
		return err
	}

	if err := b.deps.Sessions.AppendReply(ctx, userID, reply); err != nil {
		return err
	}
	if _, err := b.deps.Deliverer.Deliver(ctx, delivery.Target{UserID: userID, ChatID: chatID}, reply); err != nil {
		metrics.BatchesProcessed.WithLabelValues("error").Inc()
		return err
	}
	metrics.BatchesProcessed.WithLabelValues("delivered").Inc()
	return nil
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
