package channels

import (
	"context"
	"log/slog"
	"sort"
	"sync"
)

// Manager owns the lifecycle of the registered channels.
type Manager struct {
	channels map[string]Channel
	mu       sync.RWMutex
}

// NewManager creates a new channel manager.
// Channels are registered externally via RegisterChannel.
func NewManager() *Manager {
	return &Manager{channels: make(map[string]Channel)}
}

// StartAll starts all registered channels. A channel that fails to start
// is logged and skipped.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.channels) == 0 {
		slog.Warn("no channels enabled")
		return nil
	}

	for name, channel := range m.channels {
		slog.Info("starting channel", "channel", name)
		if err := channel.Start(ctx); err != nil {
			slog.Error("failed to start channel", "channel", name, "error", err)
		}
	}
	return nil
}

// StopAll gracefully stops all channels.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	slog.Info("stopping all channels")
	for name, channel := range m.channels {
		if err := channel.Stop(ctx); err != nil {
			slog.Error("error stopping channel", "channel", name, "error", err)
		}
	}
	return nil
}

// RegisterChannel adds a channel to the manager.
func (m *Manager) RegisterChannel(channel Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[channel.Name()] = channel
}

// GetChannel returns a channel by name.
func (m *Manager) GetChannel(name string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	channel, ok := m.channels[name]
	return channel, ok
}

// Status reports whether each registered channel is running.
func (m *Manager) Status() map[string]bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]bool, len(m.channels))
	for name, channel := range m.channels {
		out[name] = channel.IsRunning()
	}
	return out
}

// Names returns the registered channel names, sorted.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
