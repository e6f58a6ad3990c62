package syncengine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cardsync/cardsync/internal/corpus"
	"github.com/cardsync/cardsync/internal/syncproto"
)

func TestMergerAppliesGravesFactsBeforeCardsBeforeGroups(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	merger := NewMerger(store, nil)

	require.NoError(t, store.UpsertFacts(ctx, []syncproto.FactRow{{ID: 1, GUID: "g", ModelID: 1, GroupID: 1, Mod: 1, USN: 1}}))
	require.NoError(t, store.UpsertCards(ctx, []syncproto.CardRow{
		{ID: 10, FactID: 1, GroupID: 1, Mod: 1, USN: 1},
		{ID: 11, FactID: 1, GroupID: 1, Mod: 1, USN: 1},
	}))
	require.NoError(t, store.UpsertSmallObject(ctx, corpus.TableGroups, syncproto.NamedRow{ID: 99, Mod: 1, USN: 1}))

	cs := &syncproto.ChangeSet{Graves: syncproto.Graves{Facts: []int64{1}, Groups: []int64{99}}}

	require.NoError(t, merger.Apply(ctx, syncproto.SessionParams{MaxUsn: 5}, cs))

	cardCount, err := store.CountCards(ctx)
	require.NoError(t, err)
	require.Zero(t, cardCount, "deleting a fact cascades to its cards")

	factCount, err := store.CountFacts(ctx)
	require.NoError(t, err)
	require.Zero(t, factCount)

	groupCount, err := store.CountSmallObjects(ctx, corpus.TableGroups)
	require.NoError(t, err)
	require.Zero(t, groupCount)
}

func TestMergerNamedObjectsStrictlyNewerWins(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	merger := NewMerger(store, nil)

	require.NoError(t, store.UpsertSmallObject(ctx, corpus.TableModels, syncproto.NamedRow{ID: 1, Mod: 5, USN: 1, Payload: []byte("local")}))

	cs := &syncproto.ChangeSet{Models: []syncproto.NamedRow{
		{ID: 1, Mod: 5, USN: 9, Payload: []byte("incoming-equal")},
		{ID: 2, Mod: 1, USN: 9, Payload: []byte("incoming-new")},
	}}

	require.NoError(t, merger.Apply(ctx, syncproto.SessionParams{MaxUsn: 9}, cs))

	kept, _, err := store.GetSmallObject(ctx, corpus.TableModels, 1)
	require.NoError(t, err)
	require.Equal(t, []byte("local"), kept.Payload, "equal mod does not overwrite the local copy")

	inserted, found, err := store.GetSmallObject(ctx, corpus.TableModels, 2)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("incoming-new"), inserted.Payload)
}

func TestMergerTagUnionAndConfReplacement(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	merger := NewMerger(store, nil)

	cs := &syncproto.ChangeSet{
		Tags:    syncproto.TagSet{"noun": 3, "verb": 7},
		Conf:    []byte(`{"new":true}`),
		HasConf: true,
	}

	require.NoError(t, merger.Apply(ctx, syncproto.SessionParams{MaxUsn: 20}, cs))

	tags, err := store.SelectChangedTags(ctx, syncproto.RoleServer, 0)
	require.NoError(t, err)
	require.Equal(t, syncproto.TagSet{"noun": 20, "verb": 20}, tags, "tags are stamped at MaxUsn regardless of the incoming value")

	meta, err := store.GetMeta(ctx)
	require.NoError(t, err)
	require.Equal(t, []byte(`{"new":true}`), meta.Conf)
}

func TestMergerSkipsConfWhenHasConfFalse(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	merger := NewMerger(store, nil)

	meta, err := store.GetMeta(ctx)
	require.NoError(t, err)
	meta.Conf = []byte("original")
	require.NoError(t, store.SetMeta(ctx, meta))

	require.NoError(t, merger.Apply(ctx, syncproto.SessionParams{MaxUsn: 1}, &syncproto.ChangeSet{Conf: []byte("ignored"), HasConf: false}))

	got, err := store.GetMeta(ctx)
	require.NoError(t, err)
	require.Equal(t, []byte("original"), got.Conf)
}
