package corpus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cardsync/cardsync/internal/syncproto"
)

func TestInsertIgnoreRevlogDropsDuplicatePrimaryKey(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	row := syncproto.RevlogRow{ID: 1000, CardID: 1, USN: 1, Ease: 3}

	require.NoError(t, store.InsertIgnoreRevlog(ctx, []syncproto.RevlogRow{row}))
	require.NoError(t, store.InsertIgnoreRevlog(ctx, []syncproto.RevlogRow{{ID: 1000, CardID: 1, USN: 1, Ease: 4}}))

	n, err := store.CountRevlog(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	rows, err := store.FetchRevlogPage(ctx, syncproto.RoleServer, 0, 0, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, int32(3), rows[0].Ease, "insert-or-ignore keeps the first write")
}

func TestMarkRevlogAcknowledged(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	require.NoError(t, store.InsertIgnoreRevlog(ctx, []syncproto.RevlogRow{{ID: 1, CardID: 1, USN: -1}}))
	require.NoError(t, store.MarkRevlogAcknowledged(ctx, 5))

	n, err := store.CountRevlogDirty(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
}
