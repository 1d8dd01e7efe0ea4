package sessions

import (
	"context"
	"fmt"
)

// RoleSwitch describes the outcome of a secondary-role command.
type RoleSwitch struct {
	Role      string
	Secondary bool
}

// Role returns the active role for userID, or the default role.
func (m *Manager) Role(ctx context.Context, userID int64) (string, error) {
	return m.role(ctx, userID)
}

func (m *Manager) role(ctx context.Context, userID int64) (string, error) {
	role, ok, err := m.st.Role(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("load role: %w", err)
	}
	if ok && role != "" {
		return role, nil
	}
	def, _ := m.defaults()
	return def, nil
}

func (m *Manager) primary(ctx context.Context, userID int64) (string, error) {
	role, ok, err := m.st.PrimaryRole(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("load primary role: %w", err)
	}
	if ok && role != "" {
		return role, nil
	}
	def, _ := m.defaults()
	return def, nil
}

func (m *Manager) secondary(ctx context.Context, userID int64) (string, error) {
	role, ok, err := m.st.SecondaryRole(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("load secondary role: %w", err)
	}
	if ok {
		return role, nil
	}
	_, def := m.defaults()
	return def, nil
}

// SetRole stores text as both the active and the primary role and clears
// the transcript. Empty text restores the default role.
func (m *Manager) SetRole(ctx context.Context, userID int64, text string) (string, error) {
	l := m.userLock(userID)
	l.Lock()
	defer l.Unlock()

	if text == "" {
		text, _ = m.defaults()
	}
	if err := m.st.SetRole(ctx, userID, text); err != nil {
		return "", fmt.Errorf("save role: %w", err)
	}
	if err := m.st.SetPrimaryRole(ctx, userID, text); err != nil {
		return "", fmt.Errorf("save primary role: %w", err)
	}
	if err := m.st.ClearHistory(ctx, userID); err != nil {
		return "", fmt.Errorf("clear transcript: %w", err)
	}
	return text, nil
}

// ToggleSecondary switches the active role between primary and secondary.
func (m *Manager) ToggleSecondary(ctx context.Context, userID int64) (RoleSwitch, error) {
	l := m.userLock(userID)
	l.Lock()
	defer l.Unlock()

	primary, err := m.primary(ctx, userID)
	if err != nil {
		return RoleSwitch{}, err
	}
	secondary, err := m.secondary(ctx, userID)
	if err != nil {
		return RoleSwitch{}, err
	}
	current, err := m.currentOr(ctx, userID, primary)
	if err != nil {
		return RoleSwitch{}, err
	}

	out := RoleSwitch{Role: primary}
	if current == primary {
		out = RoleSwitch{Role: secondary, Secondary: true}
	}
	if err := m.st.SetRole(ctx, userID, out.Role); err != nil {
		return RoleSwitch{}, fmt.Errorf("save role: %w", err)
	}
	if err := m.st.ClearHistory(ctx, userID); err != nil {
		return RoleSwitch{}, fmt.Errorf("clear transcript: %w", err)
	}
	return out, nil
}

// SetSecondary stores a custom secondary role. If the secondary role is
// currently active it takes effect immediately.
func (m *Manager) SetSecondary(ctx context.Context, userID int64, text string) (RoleSwitch, error) {
	if text == "" {
		return RoleSwitch{}, fmt.Errorf("secondary role text is empty")
	}
	l := m.userLock(userID)
	l.Lock()
	defer l.Unlock()

	if err := m.st.SetSecondaryRole(ctx, userID, text); err != nil {
		return RoleSwitch{}, fmt.Errorf("save secondary role: %w", err)
	}
	active, err := m.replaceIfSecondary(ctx, userID, text)
	if err != nil {
		return RoleSwitch{}, err
	}
	if err := m.st.ClearHistory(ctx, userID); err != nil {
		return RoleSwitch{}, fmt.Errorf("clear transcript: %w", err)
	}
	return RoleSwitch{Role: text, Secondary: active}, nil
}

// ResetSecondary drops the custom secondary role in favour of the default.
func (m *Manager) ResetSecondary(ctx context.Context, userID int64) (RoleSwitch, error) {
	l := m.userLock(userID)
	l.Lock()
	defer l.Unlock()

	if err := m.st.ClearSecondaryRole(ctx, userID); err != nil {
		return RoleSwitch{}, fmt.Errorf("clear secondary role: %w", err)
	}
	_, def := m.defaults()
	active, err := m.replaceIfSecondary(ctx, userID, def)
	if err != nil {
		return RoleSwitch{}, err
	}
	if err := m.st.ClearHistory(ctx, userID); err != nil {
		return RoleSwitch{}, fmt.Errorf("clear transcript: %w", err)
	}
	return RoleSwitch{Role: def, Secondary: active}, nil
}

// replaceIfSecondary sets the active role to text when the active role is
// not the primary one. Caller holds the user lock.
func (m *Manager) replaceIfSecondary(ctx context.Context, userID int64, text string) (bool, error) {
	primary, err := m.primary(ctx, userID)
	if err != nil {
		return false, err
	}
	current, err := m.currentOr(ctx, userID, primary)
	if err != nil {
		return false, err
	}
	if current == primary {
		return false, nil
	}
	if err := m.st.SetRole(ctx, userID, text); err != nil {
		return false, fmt.Errorf("save role: %w", err)
	}
	return true, nil
}

func (m *Manager) currentOr(ctx context.Context, userID int64, fallback string) (string, error) {
	role, ok, err := m.st.Role(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("load role: %w", err)
	}
	if !ok || role == "" {
		return fallback, nil
	}
	return role, nil
}
