// Package channels provides the channel abstraction layer. A channel polls
// an external platform and hands normalized messages to the bus.
package channels

import (
	"context"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/mattn/go-runewidth"

	"github.com/nextlevelbuilder/gchat/internal/bus"
)

// Channel defines the interface that all channel implementations must satisfy.
type Channel interface {
	// Name returns the channel identifier (e.g., "telegram").
	Name() string

	// Start begins listening for messages. Should be non-blocking after setup.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the channel.
	Stop(ctx context.Context) error

	// IsRunning returns whether the channel is actively processing messages.
	IsRunning() bool
}

// BaseChannel provides shared functionality for all channel implementations.
// Channel implementations should embed this struct.
type BaseChannel struct {
	name    string
	bus     bus.MessageRouter
	running atomic.Bool
	owners  map[int64]bool
}

// NewBaseChannel creates a new BaseChannel. Owner entries that are not
// numeric IDs are ignored.
func NewBaseChannel(name string, msgBus bus.MessageRouter, owners []string) *BaseChannel {
	return &BaseChannel{
		name:   name,
		bus:    msgBus,
		owners: ParseOwners(owners),
	}
}

// ParseOwners converts configured owner IDs to a lookup set.
func ParseOwners(owners []string) map[int64]bool {
	out := make(map[int64]bool, len(owners))
	for _, o := range owners {
		id, err := strconv.ParseInt(strings.TrimSpace(o), 10, 64)
		if err != nil {
			continue
		}
		out[id] = true
	}
	return out
}

// Name returns the channel name.
func (c *BaseChannel) Name() string { return c.name }

// IsRunning returns whether the channel is running.
func (c *BaseChannel) IsRunning() bool { return c.running.Load() }

// SetRunning updates the running state.
func (c *BaseChannel) SetRunning(running bool) { c.running.Store(running) }

// Bus returns the message bus reference.
func (c *BaseChannel) Bus() bus.MessageRouter { return c.bus }

// IsOwner reports whether userID may run admin commands.
func (c *BaseChannel) IsOwner(userID int64) bool { return c.owners[userID] }

// Owners returns the owner IDs in no particular order.
func (c *BaseChannel) Owners() []int64 {
	out := make([]int64, 0, len(c.owners))
	for id := range c.owners {
		out = append(out, id)
	}
	return out
}

// HandleMessage stamps the channel name on msg and publishes it.
func (c *BaseChannel) HandleMessage(msg bus.InboundMessage) {
	msg.Channel = c.name
	c.bus.PublishInbound(msg)
}

// Truncate shortens s to maxWidth display cells, appending "..." if truncated.
func Truncate(s string, maxWidth int) string {
	if runewidth.StringWidth(s) <= maxWidth {
		return s
	}
	return runewidth.Truncate(s, maxWidth, "...")
}
