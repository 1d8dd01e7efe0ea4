package pg

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/gchat/internal/kv/kvtest"
)

// TestStore_Contract needs a live database; set GCHAT_TEST_POSTGRES_DSN to run it.
func TestStore_Contract(t *testing.T) {
	dsn := os.Getenv("GCHAT_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("GCHAT_TEST_POSTGRES_DSN not set")
	}
	s, err := Open(dsn)
	require.NoError(t, err)
	t.Cleanup(func() {
		s.db.Exec(`DELETE FROM kv_entries WHERE collection IN ('c1', 'c2')`)
		s.Close()
	})
	kvtest.Run(t, s)
}
