package syncengine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cardsync/cardsync/internal/corpus"
	"github.com/cardsync/cardsync/internal/syncproto"
)

func setCorpusMeta(t *testing.T, store *corpus.Store, mod, scm int64) {
	t.Helper()

	ctx := context.Background()

	m, err := store.GetMeta(ctx)
	require.NoError(t, err)

	m.Mod = mod
	m.Scm = scm

	require.NoError(t, store.SetMeta(ctx, m))
}

func TestSessionRunReturnsNoChangesWhenModsMatch(t *testing.T) {
	ctx := context.Background()
	clientStore := openTestStore(t)
	serverStore := openTestStore(t)

	client := NewSession(syncproto.RoleClient, clientStore, nil, "", 0)
	server := NewSession(syncproto.RoleServer, serverStore, nil, "", 0)

	ourMeta, err := client.Meta(ctx)
	require.NoError(t, err)

	outcome, err := client.Run(ctx, server, ourMeta)
	require.NoError(t, err)
	require.Equal(t, syncproto.OutcomeNoChanges, outcome)
}

func TestSessionRunReturnsFullSyncOnSchemaMismatch(t *testing.T) {
	ctx := context.Background()
	clientStore := openTestStore(t)
	serverStore := openTestStore(t)

	setCorpusMeta(t, clientStore, 100, 1)
	setCorpusMeta(t, serverStore, 50, 2)

	client := NewSession(syncproto.RoleClient, clientStore, nil, "", 0)
	server := NewSession(syncproto.RoleServer, serverStore, nil, "", 0)

	ourMeta, err := client.Meta(ctx)
	require.NoError(t, err)

	outcome, err := client.Run(ctx, server, ourMeta)
	require.NoError(t, err)
	require.Equal(t, syncproto.OutcomeFullSync, outcome)
}

func TestSessionRunStreamsClientChangesToServerAndReconciles(t *testing.T) {
	ctx := context.Background()
	clientStore := openTestStore(t)
	serverStore := openTestStore(t)

	setCorpusMeta(t, clientStore, 100, 1)
	setCorpusMeta(t, serverStore, 50, 1)

	require.NoError(t, clientStore.UpsertFacts(ctx, []syncproto.FactRow{
		{ID: 1, GUID: "g1", ModelID: 1, GroupID: 1, Mod: 1, USN: -1, Flds: "front\x1fback"},
	}))
	require.NoError(t, clientStore.UpsertCards(ctx, []syncproto.CardRow{
		{ID: 1, FactID: 1, GroupID: 1, Mod: 1, USN: -1},
	}))

	client := NewSession(syncproto.RoleClient, clientStore, nil, "", 0)
	server := NewSession(syncproto.RoleServer, serverStore, nil, "", 0)

	ourMeta, err := client.Meta(ctx)
	require.NoError(t, err)

	outcome, err := client.Run(ctx, server, ourMeta)
	require.NoError(t, err)
	require.Equal(t, syncproto.OutcomeSuccess, outcome)

	serverCards, err := serverStore.CountCards(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), serverCards, "the client's dirty card was streamed to the server")

	clientDirty, err := clientStore.CountCardsDirty(ctx)
	require.NoError(t, err)
	require.Zero(t, clientDirty, "the client's card was acknowledged once streamed")

	clientMeta, err := clientStore.GetMeta(ctx)
	require.NoError(t, err)
	serverMeta, err := serverStore.GetMeta(ctx)
	require.NoError(t, err)
	require.Equal(t, serverMeta.Mod, clientMeta.Mod, "both sides converge on the server's chosen mod")
	require.Equal(t, serverMeta.Usn, clientMeta.Usn)
}

func TestSessionRunSurfacesIntegrityViolation(t *testing.T) {
	ctx := context.Background()
	clientStore := openTestStore(t)
	serverStore := openTestStore(t)

	setCorpusMeta(t, clientStore, 100, 1)
	setCorpusMeta(t, serverStore, 50, 1)

	// A dirty card pointing at a fact that was never created. Streaming it
	// to the server acknowledges it on the client, but nothing in the
	// protocol can repair the dangling reference, so the client's own
	// post-merge sanity check must still reject it.
	require.NoError(t, clientStore.UpsertCards(ctx, []syncproto.CardRow{
		{ID: 1, FactID: 999, GroupID: 1, Mod: 1, USN: -1},
	}))

	client := NewSession(syncproto.RoleClient, clientStore, nil, "", 0)
	server := NewSession(syncproto.RoleServer, serverStore, nil, "", 0)

	ourMeta, err := client.Meta(ctx)
	require.NoError(t, err)

	_, err = client.Run(ctx, server, ourMeta)
	require.Error(t, err)

	var syncErr *syncproto.SyncError
	require.ErrorAs(t, err, &syncErr)
	require.ErrorIs(t, err, syncproto.ErrIntegrity, "a card without a matching fact is an orphan")
}
