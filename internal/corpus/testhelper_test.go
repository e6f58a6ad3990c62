package corpus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// openTestStore opens a throwaway in-memory corpus, migrated and ready to
// use. Each call gets its own database — "file::memory:" would be shared
// across connections in the pool, so tests use the simpler ":memory:" DSN
// and pin the pool to a single connection below, since database/sql would
// otherwise open several, each with its own empty database.
func openTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(context.Background(), ":memory:", nil)
	require.NoError(t, err)

	// :memory: is per-connection; pin the pool to one connection so every
	// query in a test sees the same database.
	store.DB().SetMaxOpenConns(1)

	t.Cleanup(func() { _ = store.Close() })

	return store
}
