package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestSessionRegistry(t *testing.T) *sessionRegistry {
	t.Helper()

	path := filepath.Join(t.TempDir(), "corpus.db")

	return newSessionRegistry(path, 0, nil)
}

func TestSessionRegistryReusesTheSameSessionAcrossRequestsForOneID(t *testing.T) {
	registry := newTestSessionRegistry(t)

	first, err := registry.acquire(context.Background(), "session-a")
	require.NoError(t, err)

	second, err := registry.acquire(context.Background(), "session-a")
	require.NoError(t, err)

	require.Same(t, first.session, second.session, "repeat calls with the same session id must not fork a new Session")
}

func TestSessionRegistryGivesDifferentIDsIndependentSessions(t *testing.T) {
	registry := newTestSessionRegistry(t)

	a, err := registry.acquire(context.Background(), "session-a")
	require.NoError(t, err)
	defer registry.finish("session-a")

	b, err := registry.acquire(context.Background(), "session-b")
	require.NoError(t, err)
	defer registry.finish("session-b")

	require.NotSame(t, a.session, b.session)
}

func TestSessionRegistryHoldsTheCorpusLockUntilFinish(t *testing.T) {
	registry := newTestSessionRegistry(t)

	_, err := registry.acquire(context.Background(), "session-a")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = registry.acquire(ctx, "session-b")
	require.Error(t, err, "a second logical session must wait for the first's corpus lock, not interleave with it")

	registry.finish("session-a")

	c, err := registry.acquire(context.Background(), "session-b")
	require.NoError(t, err)
	registry.finish("session-b")
	require.NotNil(t, c)
}
