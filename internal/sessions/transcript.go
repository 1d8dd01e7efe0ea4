package sessions

import (
	"context"
	"fmt"
)

// Turn is the state needed to prompt the model after a user turn.
type Turn struct {
	Role    string
	History []string
}

// RoleHeader is the first transcript line.
func RoleHeader(role string) string { return "Role: " + role }

// UserLine formats one user turn.
func UserLine(name, text string) string { return name + ": " + text }

// AppendUserTurn records "<name>: <text>" and returns the active role and
// the transcript including the new line. A missing transcript starts with
// the role header.
func (m *Manager) AppendUserTurn(ctx context.Context, userID int64, name, text string) (Turn, error) {
	l := m.userLock(userID)
	l.Lock()
	defer l.Unlock()

	role, err := m.role(ctx, userID)
	if err != nil {
		return Turn{}, err
	}
	history, err := m.st.History(ctx, userID)
	if err != nil {
		return Turn{}, fmt.Errorf("load transcript: %w", err)
	}
	if len(history) == 0 {
		history = []string{RoleHeader(role)}
	}
	history = append(history, UserLine(name, text))
	if err := m.st.SetHistory(ctx, userID, history); err != nil {
		return Turn{}, fmt.Errorf("save transcript: %w", err)
	}
	return Turn{Role: role, History: history}, nil
}

// AppendReply records an accepted bot reply verbatim.
func (m *Manager) AppendReply(ctx context.Context, userID int64, reply string) error {
	l := m.userLock(userID)
	l.Lock()
	defer l.Unlock()

	history, err := m.st.History(ctx, userID)
	if err != nil {
		return fmt.Errorf("load transcript: %w", err)
	}
	if len(history) == 0 {
		role, err := m.role(ctx, userID)
		if err != nil {
			return err
		}
		history = []string{RoleHeader(role)}
	}
	history = append(history, reply)
	if err := m.st.SetHistory(ctx, userID, history); err != nil {
		return fmt.Errorf("save transcript: %w", err)
	}
	return nil
}

// History returns the stored transcript.
func (m *Manager) History(ctx context.Context, userID int64) ([]string, error) {
	return m.st.History(ctx, userID)
}

// ResetHistory clears the transcript; identity and role are kept.
// Resetting an empty transcript is a no-op.
func (m *Manager) ResetHistory(ctx context.Context, userID int64) error {
	l := m.userLock(userID)
	l.Lock()
	defer l.Unlock()
	if err := m.st.ClearHistory(ctx, userID); err != nil {
		return fmt.Errorf("clear transcript: %w", err)
	}
	return nil
}
