package syncengine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllocatorFinalizeAdvancesUsnAndStampsMod(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	alloc := NewAllocator(store, nil)

	require.NoError(t, alloc.Finalize(ctx, 41, 12345))

	meta, err := alloc.CurrentMeta(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(12345), meta.Mod)
	require.Equal(t, int64(12345), meta.LS)
	require.Equal(t, int32(42), meta.Usn)
}
