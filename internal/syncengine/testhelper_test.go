package syncengine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cardsync/cardsync/internal/corpus"
)

func openTestStore(t *testing.T) *corpus.Store {
	t.Helper()

	store, err := corpus.Open(context.Background(), ":memory:", nil)
	require.NoError(t, err)

	store.DB().SetMaxOpenConns(1)

	t.Cleanup(func() { _ = store.Close() })

	return store
}
