package syncengine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cardsync/cardsync/internal/syncproto"
)

func TestChunkerNextStreamsAcrossTablesWithinOneBudget(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	chunker := NewChunker(store, nil, 0)

	require.NoError(t, store.UpsertFacts(ctx, []syncproto.FactRow{{ID: 1, GUID: "g", ModelID: 1, GroupID: 1, Mod: 1, USN: -1}}))
	require.NoError(t, store.UpsertCards(ctx, []syncproto.CardRow{{ID: 1, FactID: 1, GroupID: 1, Mod: 1, USN: -1}}))
	require.NoError(t, store.InsertIgnoreRevlog(ctx, []syncproto.RevlogRow{{ID: 1, CardID: 1, USN: -1}}))

	chunker.Prepare()

	params := syncproto.SessionParams{MinUsn: 0, MaxUsn: 5}
	chunk, err := chunker.Next(ctx, syncproto.RoleClient, params)
	require.NoError(t, err)

	require.True(t, chunk.Done, "all three tables fit well under the row budget in one call")
	require.Len(t, chunk.Revlog, 1)
	require.Len(t, chunk.Cards, 1)
	require.Len(t, chunk.Facts, 1)
	require.Equal(t, int32(5), chunk.Cards[0].USN, "outgoing rows are stamped with maxUsn")
	require.Empty(t, chunk.Facts[0].SFld, "sfld is blanked on the wire")

	dirty, err := store.CountCardsDirty(ctx)
	require.NoError(t, err)
	require.Zero(t, dirty, "exhausted tables are acknowledged on the client")
}

func TestChunkerNextIsNoOpAcknowledgeOnServer(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	chunker := NewChunker(store, nil, 0)

	require.NoError(t, store.UpsertFacts(ctx, []syncproto.FactRow{{ID: 1, GUID: "g", ModelID: 1, GroupID: 1, Mod: 1, USN: 3}}))
	require.NoError(t, store.UpsertCards(ctx, []syncproto.CardRow{
		{ID: 1, FactID: 1, GroupID: 1, Mod: 1, USN: 3},
		{ID: 2, FactID: 1, GroupID: 1, Mod: 1, USN: -1},
	}))

	chunker.Prepare()

	_, err := chunker.Next(ctx, syncproto.RoleServer, syncproto.SessionParams{MinUsn: 3, MaxUsn: 9})
	require.NoError(t, err)

	mods, err := store.NewerCardMods(ctx, syncproto.RoleServer, 3, []int64{1})
	require.NoError(t, err)
	require.Equal(t, int64(1), mods[1], "server-side rows are never rewritten by acknowledge")

	dirty, err := store.CountCardsDirty(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), dirty, "acknowledge leaves usn = -1 rows untouched on the server")
}

func TestChunkerApplyKeepsOnlyStrictlyNewerRows(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	chunker := NewChunker(store, nil, 0)

	require.NoError(t, store.UpsertFacts(ctx, []syncproto.FactRow{{ID: 1, GUID: "g", ModelID: 1, GroupID: 1, Mod: 10, USN: 1}}))
	require.NoError(t, store.UpsertCards(ctx, []syncproto.CardRow{{ID: 1, FactID: 1, GroupID: 1, Mod: 10, USN: 1}}))

	incoming := &syncproto.Chunk{
		Cards: []syncproto.CardRow{{ID: 1, FactID: 1, GroupID: 1, Mod: 3, USN: 9}},
		Facts: []syncproto.FactRow{{ID: 1, GUID: "g", ModelID: 1, GroupID: 1, Mod: 3, USN: 9, Flds: "stale\x1fdata"}},
	}

	require.NoError(t, chunker.Apply(ctx, syncproto.RoleServer, syncproto.SessionParams{MinUsn: 0, MaxUsn: 9}, incoming))

	mods, err := store.NewerCardMods(ctx, syncproto.RoleServer, 0, []int64{1})
	require.NoError(t, err)
	require.Equal(t, int64(10), mods[1], "an older incoming mod must not overwrite the newer local row")
}

func TestChunkerApplyInsertsNewRowsAndRefreshesSortFields(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	chunker := NewChunker(store, nil, 0)

	incoming := &syncproto.Chunk{
		Facts: []syncproto.FactRow{{ID: 1, GUID: "g", ModelID: 1, GroupID: 1, Mod: 1, USN: 9, Flds: "front\x1fback", SFld: ""}},
		Cards: []syncproto.CardRow{{ID: 1, FactID: 1, GroupID: 1, Mod: 1, USN: 9}},
	}

	require.NoError(t, chunker.Apply(ctx, syncproto.RoleClient, syncproto.SessionParams{MinUsn: 0, MaxUsn: 9}, incoming))

	rows, err := store.FetchFactsPage(ctx, syncproto.RoleServer, 0, 0, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "front", rows[0].SFld, "sort field cache is recomputed for freshly applied facts")
}
