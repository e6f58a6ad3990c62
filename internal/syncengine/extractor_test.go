package syncengine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cardsync/cardsync/internal/corpus"
	"github.com/cardsync/cardsync/internal/syncproto"
)

func TestExtractorBuildClientAcknowledgesAndOmitsConfWhenNotNewer(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	ext := NewExtractor(store, nil)

	require.NoError(t, store.UpsertSmallObject(ctx, corpus.TableModels, syncproto.NamedRow{ID: 1, Mod: 1, USN: -1, Payload: []byte("m")}))
	require.NoError(t, store.RegisterTag(ctx, "verb", -1))
	require.NoError(t, store.RecordGrave(ctx, 5, syncproto.GraveCard, -1))

	params := syncproto.SessionParams{MinUsn: 0, MaxUsn: 10, LNewer: false}

	cs, err := ext.Build(ctx, syncproto.RoleClient, params)
	require.NoError(t, err)

	require.Len(t, cs.Models, 1)
	require.Equal(t, int32(10), cs.Models[0].USN, "outgoing rows are stamped with maxUsn")
	require.Equal(t, syncproto.TagSet{"verb": 10}, cs.Tags, "outgoing tags are stamped with maxUsn like every other extracted row")
	require.Equal(t, []int64{5}, cs.Graves.Cards)
	require.False(t, cs.HasConf)

	dirty, err := store.CountSmallObjectsDirty(ctx, corpus.TableModels)
	require.NoError(t, err)
	require.Zero(t, dirty, "client rows are acknowledged (rewritten off usn = -1) once extracted")
}

func TestExtractorBuildIncludesConfWhenLocalIsNewer(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	ext := NewExtractor(store, nil)

	meta, err := store.GetMeta(ctx)
	require.NoError(t, err)
	meta.Conf = []byte(`{"deck":"default"}`)
	require.NoError(t, store.SetMeta(ctx, meta))

	cs, err := ext.Build(ctx, syncproto.RoleServer, syncproto.SessionParams{LNewer: true})
	require.NoError(t, err)

	require.True(t, cs.HasConf)
	require.Equal(t, []byte(`{"deck":"default"}`), cs.Conf)
}

func TestExtractorBuildServerNeverRewritesItsOwnRows(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	ext := NewExtractor(store, nil)

	require.NoError(t, store.UpsertSmallObject(ctx, corpus.TableGroups, syncproto.NamedRow{ID: 1, Mod: 1, USN: 3}))

	_, err := ext.Build(ctx, syncproto.RoleServer, syncproto.SessionParams{MinUsn: 0, MaxUsn: 10})
	require.NoError(t, err)

	row, found, err := store.GetSmallObject(ctx, corpus.TableGroups, 1)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, int32(3), row.USN, "server's own stored rows are untouched by extraction")
}
