// Package sessions owns per-user conversation state: who may talk to the
// bot, which users have a running drain task, their transcripts and roles.
package sessions

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/nextlevelbuilder/gchat/internal/store"
)

// Manager is built once at startup from the persisted enablement sets.
type Manager struct {
	st *store.ConversationStore

	mu       sync.RWMutex
	enabled  map[int64]bool
	disabled map[int64]bool
	forAll   bool
	active   map[int64]bool
	locks    map[int64]*sync.Mutex

	defaultRole      string
	defaultSecondary string
}

// NewManager loads the enable/disable sets and the global flag.
func NewManager(ctx context.Context, st *store.ConversationStore, defaultRole, defaultSecondary string) (*Manager, error) {
	m := &Manager{
		st:               st,
		enabled:          make(map[int64]bool),
		disabled:         make(map[int64]bool),
		active:           make(map[int64]bool),
		locks:            make(map[int64]*sync.Mutex),
		defaultRole:      defaultRole,
		defaultSecondary: defaultSecondary,
	}

	enabled, err := st.EnabledUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("load enabled users: %w", err)
	}
	disabled, err := st.DisabledUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("load disabled users: %w", err)
	}
	forAll, err := st.ForAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load global flag: %w", err)
	}
	for _, id := range enabled {
		m.enabled[id] = true
	}
	for _, id := range disabled {
		m.disabled[id] = true
	}
	m.forAll = forAll
	return m, nil
}

// SetDefaults replaces the default primary and secondary roles.
func (m *Manager) SetDefaults(role, secondary string) {
	m.mu.Lock()
	m.defaultRole = role
	m.defaultSecondary = secondary
	m.mu.Unlock()
}

func (m *Manager) defaults() (string, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.defaultRole, m.defaultSecondary
}

// --- admission ---

// IsAdmitted reports whether messages from userID are processed.
// Disabled wins over both the global flag and the enabled set.
func (m *Manager) IsAdmitted(userID int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.disabled[userID] {
		return false
	}
	return m.forAll || m.enabled[userID]
}

// Enable moves userID into the enabled set.
func (m *Manager) Enable(ctx context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.disabled, userID)
	m.enabled[userID] = true
	return m.persistSets(ctx)
}

// Disable moves userID into the disabled set. A running drain task is not
// interrupted; only new messages are refused.
func (m *Manager) Disable(ctx context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.enabled, userID)
	m.disabled[userID] = true
	return m.persistSets(ctx)
}

// ToggleAll flips the global flag and returns its new value.
func (m *Manager) ToggleAll(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.forAll = !m.forAll
	if err := m.st.SetForAll(ctx, m.forAll); err != nil {
		return m.forAll, fmt.Errorf("persist global flag: %w", err)
	}
	return m.forAll, nil
}

// Snapshot returns sorted copies of the sets and the global flag.
func (m *Manager) Snapshot() (enabled, disabled []int64, forAll bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedIDs(m.enabled), sortedIDs(m.disabled), m.forAll
}

// persistSets writes both sets. Caller holds m.mu.
func (m *Manager) persistSets(ctx context.Context) error {
	if err := m.st.SetEnabledUsers(ctx, sortedIDs(m.enabled)); err != nil {
		return fmt.Errorf("persist enabled users: %w", err)
	}
	if err := m.st.SetDisabledUsers(ctx, sortedIDs(m.disabled)); err != nil {
		return fmt.Errorf("persist disabled users: %w", err)
	}
	return nil
}

func sortedIDs(set map[int64]bool) []int64 {
	out := make([]int64, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// --- active set ---

// TryAcquire marks userID as having a drain task. It returns false when
// one is already running; this is the only place that decision is made.
func (m *Manager) TryAcquire(userID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active[userID] {
		return false
	}
	m.active[userID] = true
	return true
}

// Release clears userID from the active set.
func (m *Manager) Release(userID int64) {
	m.mu.Lock()
	delete(m.active, userID)
	m.mu.Unlock()
}

// IsActive reports whether userID has a running drain task.
func (m *Manager) IsActive(userID int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active[userID]
}

// ActiveCount returns the number of running drain tasks.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)
}

// userLock serialises transcript and role edits for one user.
func (m *Manager) userLock(userID int64) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[userID] = l
	}
	return l
}
