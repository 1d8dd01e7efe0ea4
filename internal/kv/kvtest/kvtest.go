// Package kvtest holds the behaviour every kv.Store backend must satisfy.
package kvtest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/gchat/internal/kv"
)

// Run exercises s against the shared contract.
func Run(t *testing.T, s kv.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("missing key", func(t *testing.T) {
		_, err := s.Get(ctx, "c1", "absent")
		assert.ErrorIs(t, err, kv.ErrNotFound)

		var dst []string
		ok, err := kv.GetJSON(ctx, s, "c1", "absent", &dst)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("set get overwrite", func(t *testing.T) {
		require.NoError(t, kv.SetJSON(ctx, s, "c1", "chat_history.1", []string{"Role: r", "Ann: hi"}))
		var got []string
		ok, err := kv.GetJSON(ctx, s, "c1", "chat_history.1", &got)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []string{"Role: r", "Ann: hi"}, got)

		require.NoError(t, kv.SetJSON(ctx, s, "c1", "chat_history.1", []string{"Role: r"}))
		ok, err = kv.GetJSON(ctx, s, "c1", "chat_history.1", &got)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []string{"Role: r"}, got)
	})

	t.Run("collections are isolated", func(t *testing.T) {
		require.NoError(t, kv.SetJSON(ctx, s, "c1", "current_key_index", 3))
		_, err := s.Get(ctx, "c2", "current_key_index")
		assert.ErrorIs(t, err, kv.ErrNotFound)
	})

	t.Run("null reads as absent", func(t *testing.T) {
		require.NoError(t, kv.SetJSON(ctx, s, "c1", "user_message_queue.7", nil))
		var q []string
		ok, err := kv.GetJSON(ctx, s, "c1", "user_message_queue.7", &q)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, kv.SetJSON(ctx, s, "c1", "gchat_for_all", true))
		require.NoError(t, s.Delete(ctx, "c1", "gchat_for_all"))
		_, err := s.Get(ctx, "c1", "gchat_for_all")
		assert.ErrorIs(t, err, kv.ErrNotFound)
		// deleting again is not an error
		assert.NoError(t, s.Delete(ctx, "c1", "gchat_for_all"))
	})
}
