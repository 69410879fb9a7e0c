package hub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAddWatcherIsIdempotent(t *testing.T) {
	audit := &fakeAudit{}
	h := New(Options{Audit: audit})
	defer h.Shutdown(context.Background())

	h.AddWatcher(context.Background(), "s1", "a1")
	h.AddWatcher(context.Background(), "s1", "a1")

	require.Equal(t, []string{"a1"}, h.WatchersOf("s1"))
	require.Equal(t, 1, h.WatchedSessionCount())

	require.Eventually(t, func() bool {
		saves, _, _ := audit.snapshot()
		return len(saves) == 1 && saves[0] == "s1/a1"
	}, testWait, 5*time.Millisecond)
}

func TestWatcherOrderIsSubscriptionOrder(t *testing.T) {
	h := New(Options{})
	defer h.Shutdown(context.Background())

	h.AddWatcher(context.Background(), "s1", "a1")
	h.AddWatcher(context.Background(), "s1", "a2")
	h.AddWatcher(context.Background(), "s1", "a3")

	require.Equal(t, []string{"a1", "a2", "a3"}, h.WatchersOf("s1"))
}

func TestRemoveWatcherDropsEmptySession(t *testing.T) {
	audit := &fakeAudit{}
	h := New(Options{Audit: audit})
	defer h.Shutdown(context.Background())

	h.AddWatcher(context.Background(), "s1", "a1")
	h.AddWatcher(context.Background(), "s1", "a2")

	h.RemoveWatcher(context.Background(), "s1", "a1")
	require.Equal(t, []string{"a2"}, h.WatchersOf("s1"))

	h.RemoveWatcher(context.Background(), "s1", "a2")
	require.Empty(t, h.WatchersOf("s1"))
	require.Equal(t, 0, h.WatchedSessionCount())

	require.Eventually(t, func() bool {
		_, deletes, _ := audit.snapshot()
		return len(deletes) == 2
	}, testWait, 5*time.Millisecond)
}

func TestRemoveAbsentWatcherIsNoOp(t *testing.T) {
	audit := &fakeAudit{}
	h := New(Options{Audit: audit})
	defer h.Shutdown(context.Background())

	h.RemoveWatcher(context.Background(), "s1", "ghost")

	h.AddWatcher(context.Background(), "s1", "a1")
	h.RemoveWatcher(context.Background(), "s1", "ghost")
	require.Equal(t, []string{"a1"}, h.WatchersOf("s1"))

	time.Sleep(20 * time.Millisecond)
	_, deletes, _ := audit.snapshot()
	require.Empty(t, deletes)
}

func TestAddWatcherIgnoresEmptyIDs(t *testing.T) {
	h := New(Options{})
	defer h.Shutdown(context.Background())

	h.AddWatcher(context.Background(), "", "a1")
	h.AddWatcher(context.Background(), "s1", "")
	require.Equal(t, 0, h.WatchedSessionCount())
}

func TestAddWatcherAfterShutdown(t *testing.T) {
	h := New(Options{})
	h.Shutdown(context.Background())

	h.AddWatcher(context.Background(), "s1", "a1")
	require.Equal(t, 0, h.WatchedSessionCount())
}
