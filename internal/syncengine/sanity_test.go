package syncengine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cardsync/cardsync/internal/syncproto"
)

func TestSanityCheckComputesFixedOrderVector(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	checker := NewSanityChecker(store, nil)

	require.NoError(t, store.UpsertFacts(ctx, []syncproto.FactRow{{ID: 1, GUID: "g", ModelID: 1, GroupID: 1, Mod: 1, USN: 1, Flds: "abcd"}}))
	require.NoError(t, store.UpsertCards(ctx, []syncproto.CardRow{{ID: 1, FactID: 1, GroupID: 1, Mod: 1, USN: 1}}))
	require.NoError(t, store.RegisterTag(ctx, "verb", 1))

	v, err := checker.Check(ctx)
	require.NoError(t, err)

	require.Equal(t, syncproto.SanityVector{Cards: 1, Facts: 1, FieldSum: 4, Tags: 1}, v)
}

func TestSanityCheckRejectsOrphanCard(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	checker := NewSanityChecker(store, nil)

	require.NoError(t, store.UpsertCards(ctx, []syncproto.CardRow{{ID: 1, FactID: 99, GroupID: 1, Mod: 1, USN: 1}}))

	_, err := checker.Check(ctx)
	require.ErrorIs(t, err, syncproto.ErrIntegrity)
}

func TestSanityCheckRejectsUnacknowledgedRows(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	checker := NewSanityChecker(store, nil)

	require.NoError(t, store.RegisterTag(ctx, "dirty", -1))

	_, err := checker.Check(ctx)
	require.ErrorIs(t, err, syncproto.ErrIntegrity)
}

func TestSanityCheckerEqual(t *testing.T) {
	a := syncproto.SanityVector{Cards: 1}
	b := syncproto.SanityVector{Cards: 1}
	c := syncproto.SanityVector{Cards: 2}

	require.True(t, a.Equal(b))
	require.False(t, a.Equal(c))
}

func TestDumpMismatchWritesForensicSnapshot(t *testing.T) {
	store := openTestStore(t)
	checker := NewSanityChecker(store, nil)
	checker.ForensicDir = t.TempDir()

	local := syncproto.SanityVector{Cards: 1}
	remote := syncproto.SanityVector{Cards: 2}

	checker.DumpMismatch(syncproto.RoleClient, local, remote, time.Unix(0, 1))

	entries, err := os.ReadDir(checker.ForensicDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	data, err := os.ReadFile(filepath.Join(checker.ForensicDir, entries[0].Name()))
	require.NoError(t, err)
	require.Contains(t, string(data), "role: client")
}

func TestDumpMismatchNoOpWhenForensicDirUnset(t *testing.T) {
	store := openTestStore(t)
	checker := NewSanityChecker(store, nil)

	checker.DumpMismatch(syncproto.RoleServer, syncproto.SanityVector{}, syncproto.SanityVector{Cards: 1}, time.Now())
}
