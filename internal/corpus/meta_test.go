package corpus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMetaRoundTripAndBumpUsn(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	m, err := store.GetMeta(ctx)
	require.NoError(t, err)
	require.Zero(t, m.Mod)

	m.Mod = 42
	m.Scm = 42
	m.Conf = []byte(`{"x":1}`)
	require.NoError(t, store.SetMeta(ctx, m))

	got, err := store.GetMeta(ctx)
	require.NoError(t, err)
	require.Equal(t, m, got)

	require.NoError(t, store.BumpUsn(ctx, 9))

	got, err = store.GetMeta(ctx)
	require.NoError(t, err)
	require.Equal(t, int32(9), got.Usn)
}
