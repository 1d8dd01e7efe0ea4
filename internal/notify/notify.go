// Package notify delivers operator notes (retries, failures, errors) to the
// bot owner without ever blocking the conversation that produced them.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/time/rate"
)

// Notifier accepts operator notes. Implementations must not block.
type Notifier interface {
	Notify(text string)
}

// ComponentError formats an unexpected failure in a named component.
func ComponentError(component string, err error) string {
	return fmt.Sprintf("An error occurred in `%s`: %v", component, err)
}

// SendFunc delivers one note to the operator channel.
type SendFunc func(ctx context.Context, text string) error

// Queue buffers notes and sends them from a single goroutine, paced by a
// token bucket so a burst of failures cannot trip the platform's flood
// limits. Notes that arrive while the buffer is full are dropped.
type Queue struct {
	send    SendFunc
	ch      chan string
	limiter *rate.Limiter
	dropped atomic.Int64
}

// NewQueue creates a queue holding up to size pending notes.
func NewQueue(send SendFunc, size int, every rate.Limit, burst int) *Queue {
	if size <= 0 {
		size = 64
	}
	if burst <= 0 {
		burst = 1
	}
	return &Queue{
		send:    send,
		ch:      make(chan string, size),
		limiter: rate.NewLimiter(every, burst),
	}
}

// Notify enqueues text. It never blocks.
func (q *Queue) Notify(text string) {
	select {
	case q.ch <- text:
	default:
		n := q.dropped.Add(1)
		slog.Warn("operator note dropped", "pending", len(q.ch), "dropped_total", n)
	}
}

// Dropped returns how many notes were discarded on a full buffer.
func (q *Queue) Dropped() int64 { return q.dropped.Load() }

// Run sends queued notes until ctx is cancelled.
func (q *Queue) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case text := <-q.ch:
			if err := q.limiter.Wait(ctx); err != nil {
				return nil
			}
			if err := q.send(ctx, text); err != nil {
				slog.Warn("operator note failed", "error", err)
			}
		}
	}
}

// Log writes notes to the process log only.
type Log struct{}

func (Log) Notify(text string) { slog.Info("operator note", "text", text) }

// Nop discards notes.
type Nop struct{}

func (Nop) Notify(string) {}
