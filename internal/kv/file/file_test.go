package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/gchat/internal/kv"
	"github.com/nextlevelbuilder/gchat/internal/kv/kvtest"
)

func TestStore_Contract(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	kvtest.Run(t, s)
}

func TestStore_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, kv.SetJSON(ctx, s, "custom.gchat", "user_message_queue.42", []string{"hi", "there"}))

	_, err = os.Stat(filepath.Join(dir, "custom.gchat.json"))
	require.NoError(t, err)

	reopened, err := Open(dir)
	require.NoError(t, err)
	var q []string
	ok, err := kv.GetJSON(ctx, reopened, "custom.gchat", "user_message_queue.42", &q)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"hi", "there"}, q)
}

func TestStore_RejectsNonJSON(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	assert.Error(t, s.Set(context.Background(), "c", "k", []byte("not json")))
}

func TestStore_NoTempFilesLeft(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, kv.SetJSON(context.Background(), s, "c", "k", 1))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotEqual(t, ".tmp", filepath.Ext(e.Name()))
	}
}
