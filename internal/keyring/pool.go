// Package keyring holds the shared credential pool and the generator that
// rotates through it on rate-limit and invalid-key failures.
package keyring

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nextlevelbuilder/gchat/internal/store"
)

var (
	// ErrEmptyPool is returned before any backend call when no credential exists.
	ErrEmptyPool = errors.New("keyring: credential pool is empty")
	// ErrInvalidIndex is returned by admin edits given an out-of-range position.
	ErrInvalidIndex = errors.New("keyring: invalid key index")
)

// Pool is the ordered credential list plus one shared rotation cursor.
// When no keys are stored the fallback key acts as a one-element pool.
type Pool struct {
	mu       sync.Mutex
	st       *store.ConversationStore
	fallback string
	keys     []string
	cursor   int
}

// NewPool loads the stored keys and cursor.
func NewPool(ctx context.Context, st *store.ConversationStore, fallback string) (*Pool, error) {
	p := &Pool{st: st, fallback: fallback}
	if err := p.Reload(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

// Reload re-reads keys and cursor from the store.
func (p *Pool) Reload(ctx context.Context) error {
	keys, err := p.st.Credentials(ctx)
	if err != nil {
		return fmt.Errorf("load credentials: %w", err)
	}
	cursor, err := p.st.Cursor(ctx)
	if err != nil {
		return fmt.Errorf("load key cursor: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = keys
	p.cursor = cursor
	if n := len(p.effective()); n == 0 || p.cursor < 0 || p.cursor >= n {
		p.cursor = 0
	}
	return nil
}

// effective returns the keys rotation works over. Caller holds p.mu.
func (p *Pool) effective() []string {
	if len(p.keys) > 0 {
		return p.keys
	}
	if p.fallback != "" {
		return []string{p.fallback}
	}
	return nil
}

// Len returns the number of usable credentials.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.effective())
}

// Current returns the cursor and the credential it points at.
func (p *Pool) Current() (int, string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	keys := p.effective()
	if len(keys) == 0 {
		return 0, "", ErrEmptyPool
	}
	return p.cursor, keys[p.cursor], nil
}

// Advance moves the cursor to (from+1) mod n and persists it. If another
// caller already moved the cursor away from from, nothing changes, so
// concurrent failures on the same key rotate only once.
func (p *Pool) Advance(ctx context.Context, from int) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.effective())
	if n == 0 {
		return 0, ErrEmptyPool
	}
	if p.cursor != from {
		return p.cursor, nil
	}
	p.cursor = (from + 1) % n
	if err := p.st.SetCursor(ctx, p.cursor); err != nil {
		return p.cursor, fmt.Errorf("persist key cursor: %w", err)
	}
	return p.cursor, nil
}

// List returns a copy of the stored keys and the cursor.
func (p *Pool) List() ([]string, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.keys))
	copy(out, p.keys)
	return out, p.cursor
}

// Add appends a key.
func (p *Pool) Add(ctx context.Context, key string) error {
	if key == "" {
		return fmt.Errorf("keyring: empty key")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	keys := append(append([]string(nil), p.keys...), key)
	if err := p.st.SetCredentials(ctx, keys); err != nil {
		return fmt.Errorf("persist credentials: %w", err)
	}
	// The first stored key replaces the fallback at the same position.
	p.keys = keys
	return nil
}

// Select points the cursor at the 1-based position.
func (p *Pool) Select(ctx context.Context, position int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := position - 1
	if idx < 0 || idx >= len(p.keys) {
		return fmt.Errorf("%w: %d", ErrInvalidIndex, position)
	}
	if err := p.st.SetCursor(ctx, idx); err != nil {
		return fmt.Errorf("persist key cursor: %w", err)
	}
	p.cursor = idx
	return nil
}

// Remove deletes the key at the 1-based position. The cursor is clamped
// to the last remaining key.
func (p *Pool) Remove(ctx context.Context, position int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := position - 1
	if idx < 0 || idx >= len(p.keys) {
		return fmt.Errorf("%w: %d", ErrInvalidIndex, position)
	}
	keys := make([]string, 0, len(p.keys)-1)
	keys = append(keys, p.keys[:idx]...)
	keys = append(keys, p.keys[idx+1:]...)
	if err := p.st.SetCredentials(ctx, keys); err != nil {
		return fmt.Errorf("persist credentials: %w", err)
	}
	p.keys = keys

	if p.cursor >= len(keys) {
		p.cursor = max(0, len(keys)-1)
		if err := p.st.SetCursor(ctx, p.cursor); err != nil {
			return fmt.Errorf("persist key cursor: %w", err)
		}
	}
	return nil
}
