package corpus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cardsync/cardsync/internal/syncproto"
)

func TestRegisterTagUnionSemantics(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	require.NoError(t, store.RegisterTag(ctx, "spanish", 3))
	require.NoError(t, store.RegisterTag(ctx, "spanish", 9))

	tags, err := store.SelectChangedTags(ctx, syncproto.RoleServer, 0)
	require.NoError(t, err)
	require.Equal(t, syncproto.TagSet{"spanish": 9}, tags)
}

func TestMarkTagsAcknowledged(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	require.NoError(t, store.RegisterTag(ctx, "verb", -1))
	require.NoError(t, store.MarkTagsAcknowledged(ctx, syncproto.RoleClient, 5))

	n, err := store.CountTagsDirty(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestSelectChangedGravesPartitionsByType(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	require.NoError(t, store.RecordGrave(ctx, 1, syncproto.GraveCard, -1))
	require.NoError(t, store.RecordGrave(ctx, 2, syncproto.GraveFact, -1))
	require.NoError(t, store.RecordGrave(ctx, 3, syncproto.GraveGroup, -1))

	graves, err := store.SelectChangedGraves(ctx, syncproto.RoleClient, 0)
	require.NoError(t, err)
	require.Equal(t, []int64{1}, graves.Cards)
	require.Equal(t, []int64{2}, graves.Facts)
	require.Equal(t, []int64{3}, graves.Groups)
}

func TestMarkGravesAcknowledged(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	require.NoError(t, store.RecordGrave(ctx, 1, syncproto.GraveCard, -1))
	require.NoError(t, store.MarkGravesAcknowledged(ctx, syncproto.RoleClient, 7))

	n, err := store.CountGravesDirty(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
}
