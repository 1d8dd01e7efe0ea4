package kv_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/gchat/internal/kv"
	"github.com/nextlevelbuilder/gchat/internal/kv/kvtest"
)

func TestMemory_Contract(t *testing.T) {
	kvtest.Run(t, kv.NewMemory())
}

func TestMemory_ValuesAreCopied(t *testing.T) {
	m := kv.NewMemory()
	ctx := context.Background()
	buf := []byte(`"a"`)
	require.NoError(t, m.Set(ctx, "c", "k", buf))
	buf[1] = 'b'

	got, err := m.Get(ctx, "c", "k")
	require.NoError(t, err)
	assert.Equal(t, `"a"`, string(got))
}

func TestMemory_Keys(t *testing.T) {
	m := kv.NewMemory()
	ctx := context.Background()
	require.NoError(t, kv.SetJSON(ctx, m, "c", "b", 1))
	require.NoError(t, kv.SetJSON(ctx, m, "c", "a", 1))
	require.NoError(t, kv.SetJSON(ctx, m, "other", "z", 1))
	assert.Equal(t, []string{"a", "b"}, m.Keys("c"))
}
