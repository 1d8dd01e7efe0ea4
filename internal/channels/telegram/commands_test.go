package telegram

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/gchat/internal/keyring"
	"github.com/nextlevelbuilder/gchat/internal/kv"
	"github.com/nextlevelbuilder/gchat/internal/sessions"
	"github.com/nextlevelbuilder/gchat/internal/store"
)

func newCommands(t *testing.T) (*Commands, *sessions.Manager, *keyring.Pool) {
	t.Helper()
	ctx := context.Background()
	st := store.NewConversationStore(kv.NewMemory(), "custom.gchat")
	sess, err := sessions.NewManager(ctx, st, "default role", "default secondary")
	require.NoError(t, err)
	pool, err := keyring.NewPool(ctx, st, "")
	require.NoError(t, err)
	return NewCommands(sess, pool), sess, pool
}

func TestParseCommand(t *testing.T) {
	cmd, args, ok := parseCommand("/GChat@my_bot on 42")
	require.True(t, ok)
	assert.Equal(t, "gchat", cmd)
	assert.Equal(t, []string{"on", "42"}, args)

	_, _, ok = parseCommand("hello /gchat")
	assert.False(t, ok)
	_, _, ok = parseCommand("/")
	assert.False(t, ok)
}

func TestExecute_Gchat(t *testing.T) {
	c, sess, _ := newCommands(t)
	ctx := context.Background()

	reply, ok := c.Execute(ctx, "/gchat on 42", 1)
	require.True(t, ok)
	assert.Equal(t, "gchat is enabled for user 42.", reply)
	assert.True(t, sess.IsAdmitted(42))

	reply, _ = c.Execute(ctx, "/gc off 42", 1)
	assert.Equal(t, "gchat is disabled for user 42.", reply)
	assert.False(t, sess.IsAdmitted(42))

	// Without a user ID the replied-to user is used.
	reply, _ = c.Execute(ctx, "/gchat on", 7)
	assert.Equal(t, "gchat is enabled for user 7.", reply)

	reply, _ = c.Execute(ctx, "/gchat all", 1)
	assert.Equal(t, "gchat is now enabled for all users.", reply)
	assert.True(t, sess.IsAdmitted(1000))
	assert.False(t, sess.IsAdmitted(42), "disabled users stay out")

	reply, _ = c.Execute(ctx, "/gchat bogus", 1)
	assert.Contains(t, reply, "Usage:")
}

func TestExecute_GchatDel(t *testing.T) {
	c, sess, _ := newCommands(t)
	ctx := context.Background()
	_, err := sess.AppendUserTurn(ctx, 5, "Ann", "hi")
	require.NoError(t, err)

	reply, _ := c.Execute(ctx, "/gchat del 5", 1)
	assert.Equal(t, "Chat history deleted for user 5.", reply)
	h, err := sess.History(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, h)
}

func TestExecute_Role(t *testing.T) {
	c, sess, _ := newCommands(t)
	ctx := context.Background()

	reply, _ := c.Execute(ctx, "/role 5 a grumpy pirate", 1)
	assert.Equal(t, "Role set successfully for user 5!\nNew Role: a grumpy pirate", reply)
	role, err := sess.Role(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, "a grumpy pirate", role)

	reply, _ = c.Execute(ctx, "/role 5", 1)
	assert.Equal(t, "Role reset to default for user 5.", reply)
	role, _ = sess.Role(ctx, 5)
	assert.Equal(t, "default role", role)

	// Role text without a user ID applies to the target.
	_, _ = c.Execute(ctx, "/role a poet", 9)
	role, _ = sess.Role(ctx, 9)
	assert.Equal(t, "a poet", role)
}

func TestExecute_UserIDRequiredWithoutTarget(t *testing.T) {
	c, sess, _ := newCommands(t)
	ctx := context.Background()

	for _, line := range []string{"/gchat on", "/gchat off", "/gchat del", "/role a poet", "/rolex", "/rolex r"} {
		reply, ok := c.Execute(ctx, line, 0)
		require.True(t, ok, line)
		assert.Contains(t, reply, "Usage:", line)
		assert.Contains(t, reply, "<user_id>", line)
	}
	assert.False(t, sess.IsAdmitted(0))
	role, err := sess.Role(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, "default role", role)

	reply, _ := c.Execute(ctx, "/gchat all", 0)
	assert.Equal(t, "gchat is now enabled for all users.", reply, "all needs no user")
}

func TestExecute_Rolex(t *testing.T) {
	c, sess, _ := newCommands(t)
	ctx := context.Background()

	reply, _ := c.Execute(ctx, "/rolex 5", 1)
	assert.Equal(t, "Secondary Role Activated for user 5:\ndefault secondary", reply)

	reply, _ = c.Execute(ctx, "/rolex 5 a calm monk", 1)
	assert.Equal(t, "Custom secondary role set for user 5!\nNew Secondary Role: a calm monk", reply)
	role, _ := sess.Role(ctx, 5)
	assert.Equal(t, "a calm monk", role, "active secondary is replaced")

	reply, _ = c.Execute(ctx, "/rolex 5 R", 1)
	assert.Equal(t, "Secondary role reset to default for user 5.\nNew Secondary Role:\ndefault secondary", reply)

	reply, _ = c.Execute(ctx, "/rolex 5", 1)
	assert.Equal(t, "Switched back to Primary Role for user 5:\ndefault role", reply)
}

func TestExecute_SetKey(t *testing.T) {
	c, _, pool := newCommands(t)
	ctx := context.Background()

	reply, _ := c.Execute(ctx, "/setgkey", 1)
	assert.Equal(t, "API keys:\n\n\nCurrent key: None", reply)

	_, _ = c.Execute(ctx, "/setgkey add AIzaFirstKey0001", 1)
	reply, _ = c.Execute(ctx, "/setgkey add AIzaSecondKey002", 1)
	assert.Equal(t, "New API key added successfully!", reply)
	assert.Equal(t, 2, pool.Len())

	reply, _ = c.Execute(ctx, "/setgkey set 2", 1)
	assert.Equal(t, "Current API key set to key 2.", reply)
	_, cursor := pool.List()
	assert.Equal(t, 1, cursor)

	reply, _ = c.Execute(ctx, "/setgkey set 9", 1)
	assert.Equal(t, "Invalid key index: 9.", reply)
	reply, _ = c.Execute(ctx, "/setgkey del x", 1)
	assert.Equal(t, "Invalid key index: x.", reply)

	reply, _ = c.Execute(ctx, "/setgkey", 1)
	assert.Equal(t, "API keys:\n\n1. AIza...0001\n2. AIza...y002\n\nCurrent key: 2. AIza...y002", reply)

	reply, _ = c.Execute(ctx, "/setgkey del 2", 1)
	assert.Equal(t, "API key 2 deleted successfully!", reply)
	keys, cursor := pool.List()
	assert.Equal(t, []string{"AIzaFirstKey0001"}, keys)
	assert.Equal(t, 0, cursor, "cursor clamps to the last key")
}

func TestExecute_Unknown(t *testing.T) {
	c, _, _ := newCommands(t)
	_, ok := c.Execute(context.Background(), "/weather", 1)
	assert.False(t, ok)
	_, ok = c.Execute(context.Background(), "plain text", 1)
	assert.False(t, ok)
}

func TestExecute_AddWithoutKeyLists(t *testing.T) {
	c, _, _ := newCommands(t)
	reply, ok := c.Execute(context.Background(), "/setgkey add", 1)
	require.True(t, ok)
	// "add" without a key falls through to the listing.
	assert.Contains(t, reply, "API keys:")
}
