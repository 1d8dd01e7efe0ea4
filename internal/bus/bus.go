// Package bus decouples channel polling from message handling.
package bus

import (
	"context"
	"log/slog"
)

const defaultInboundBuffer = 256

// MessageBus is an in-process FIFO of inbound messages.
type MessageBus struct {
	inbound chan InboundMessage
}

// New creates a bus holding up to size pending messages.
func New(size int) *MessageBus {
	if size <= 0 {
		size = defaultInboundBuffer
	}
	return &MessageBus{inbound: make(chan InboundMessage, size)}
}

// PublishInbound queues msg. It blocks while the buffer is full so the
// poller applies backpressure instead of dropping user input.
func (b *MessageBus) PublishInbound(msg InboundMessage) {
	select {
	case b.inbound <- msg:
	default:
		slog.Warn("bus: inbound buffer full, waiting", "user_id", msg.UserID, "pending", len(b.inbound))
		b.inbound <- msg
	}
}

// ConsumeInbound returns the next message, or false once ctx is done.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	select {
	case <-ctx.Done():
		return InboundMessage{}, false
	case msg := <-b.inbound:
		return msg, true
	}
}

// Pending returns the number of queued messages.
func (b *MessageBus) Pending() int { return len(b.inbound) }
