// Package store maps conversation state onto the kv layout used by the bot:
// one collection, flat keys, JSON values.
package store

import (
	"context"
	"fmt"

	"github.com/nextlevelbuilder/gchat/internal/kv"
)

const (
	keyEnabledUsers  = "enabled_users"
	keyDisabledUsers = "disabled_users"
	keyForAll        = "gchat_for_all"
	keyCredentials   = "gemini_keys"
	keyCursor        = "current_key_index"
)

func historyKey(userID int64) string       { return fmt.Sprintf("chat_history.%d", userID) }
func roleKey(userID int64) string          { return fmt.Sprintf("custom_roles.%d", userID) }
func primaryRoleKey(userID int64) string   { return fmt.Sprintf("custom_roles_primary.%d", userID) }
func secondaryRoleKey(userID int64) string { return fmt.Sprintf("custom_roles_secondary.%d", userID) }
func queueKey(userID int64) string         { return fmt.Sprintf("user_message_queue.%d", userID) }

// ConversationStore is the typed view over a kv.Store collection.
// It holds no state of its own; callers serialise read-modify-write.
type ConversationStore struct {
	kv         kv.Store
	collection string
}

// NewConversationStore scopes s to collection.
func NewConversationStore(s kv.Store, collection string) *ConversationStore {
	return &ConversationStore{kv: s, collection: collection}
}

func get[T any](ctx context.Context, c *ConversationStore, key string) (T, bool, error) {
	var v T
	ok, err := kv.GetJSON(ctx, c.kv, c.collection, key, &v)
	return v, ok, err
}

func (c *ConversationStore) set(ctx context.Context, key string, v any) error {
	return kv.SetJSON(ctx, c.kv, c.collection, key, v)
}

func (c *ConversationStore) del(ctx context.Context, key string) error {
	return c.kv.Delete(ctx, c.collection, key)
}

// --- transcript ---

// History returns the stored transcript, or nil when none exists.
func (c *ConversationStore) History(ctx context.Context, userID int64) ([]string, error) {
	h, _, err := get[[]string](ctx, c, historyKey(userID))
	return h, err
}

func (c *ConversationStore) SetHistory(ctx context.Context, userID int64, lines []string) error {
	return c.set(ctx, historyKey(userID), lines)
}

func (c *ConversationStore) ClearHistory(ctx context.Context, userID int64) error {
	return c.del(ctx, historyKey(userID))
}

// --- roles ---

// Role returns the active role; ok is false when none was ever set.
func (c *ConversationStore) Role(ctx context.Context, userID int64) (string, bool, error) {
	return get[string](ctx, c, roleKey(userID))
}

func (c *ConversationStore) SetRole(ctx context.Context, userID int64, role string) error {
	return c.set(ctx, roleKey(userID), role)
}

func (c *ConversationStore) PrimaryRole(ctx context.Context, userID int64) (string, bool, error) {
	return get[string](ctx, c, primaryRoleKey(userID))
}

func (c *ConversationStore) SetPrimaryRole(ctx context.Context, userID int64, role string) error {
	return c.set(ctx, primaryRoleKey(userID), role)
}

func (c *ConversationStore) SecondaryRole(ctx context.Context, userID int64) (string, bool, error) {
	return get[string](ctx, c, secondaryRoleKey(userID))
}

func (c *ConversationStore) SetSecondaryRole(ctx context.Context, userID int64, role string) error {
	return c.set(ctx, secondaryRoleKey(userID), role)
}

func (c *ConversationStore) ClearSecondaryRole(ctx context.Context, userID int64) error {
	return c.del(ctx, secondaryRoleKey(userID))
}

// --- pending queue ---

func (c *ConversationStore) Queue(ctx context.Context, userID int64) ([]string, error) {
	q, _, err := get[[]string](ctx, c, queueKey(userID))
	return q, err
}

func (c *ConversationStore) SetQueue(ctx context.Context, userID int64, queue []string) error {
	if len(queue) == 0 {
		return c.ClearQueue(ctx, userID)
	}
	return c.set(ctx, queueKey(userID), queue)
}

func (c *ConversationStore) ClearQueue(ctx context.Context, userID int64) error {
	return c.del(ctx, queueKey(userID))
}

// --- enablement ---

func (c *ConversationStore) EnabledUsers(ctx context.Context) ([]int64, error) {
	v, _, err := get[[]int64](ctx, c, keyEnabledUsers)
	return v, err
}

func (c *ConversationStore) SetEnabledUsers(ctx context.Context, ids []int64) error {
	return c.set(ctx, keyEnabledUsers, ids)
}

func (c *ConversationStore) DisabledUsers(ctx context.Context) ([]int64, error) {
	v, _, err := get[[]int64](ctx, c, keyDisabledUsers)
	return v, err
}

func (c *ConversationStore) SetDisabledUsers(ctx context.Context, ids []int64) error {
	return c.set(ctx, keyDisabledUsers, ids)
}

func (c *ConversationStore) ForAll(ctx context.Context) (bool, error) {
	v, _, err := get[bool](ctx, c, keyForAll)
	return v, err
}

func (c *ConversationStore) SetForAll(ctx context.Context, on bool) error {
	return c.set(ctx, keyForAll, on)
}

// --- credential pool ---

func (c *ConversationStore) Credentials(ctx context.Context) ([]string, error) {
	v, _, err := get[[]string](ctx, c, keyCredentials)
	return v, err
}

func (c *ConversationStore) SetCredentials(ctx context.Context, keys []string) error {
	return c.set(ctx, keyCredentials, keys)
}

func (c *ConversationStore) Cursor(ctx context.Context) (int, error) {
	v, _, err := get[int](ctx, c, keyCursor)
	return v, err
}

func (c *ConversationStore) SetCursor(ctx context.Context, cursor int) error {
	return c.set(ctx, keyCursor, cursor)
}
