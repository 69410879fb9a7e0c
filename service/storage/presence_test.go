package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestPresenceKey(t *testing.T) {
	require.Equal(t, "live:presence:u42", presenceKey("u42"))
}

func TestParsePresenceRecord(t *testing.T) {
	rec := parsePresenceRecord("u1", map[string]string{
		"online":           "1",
		"connection_count": "3",
		"connected_at":     "1700000000",
		"last_seen":        "1700000060",
	})
	require.Equal(t, "u1", rec.UserID)
	require.True(t, rec.Online)
	require.Equal(t, 3, rec.ConnectionCount)
	require.Equal(t, int64(1700000000), rec.ConnectedAt.Unix())
	require.Equal(t, int64(1700000060), rec.LastSeen.Unix())
}

func TestParsePresenceRecordOffline(t *testing.T) {
	rec := parsePresenceRecord("u1", map[string]string{
		"online":           "0",
		"connection_count": "0",
	})
	require.False(t, rec.Online)
	require.Equal(t, 0, rec.ConnectionCount)
	require.True(t, rec.ConnectedAt.IsZero())
	require.True(t, rec.LastSeen.IsZero())
}

func TestParsePresenceRecordGarbage(t *testing.T) {
	rec := parsePresenceRecord("u1", map[string]string{
		"online":           "yes",
		"connection_count": "many",
		"connected_at":     "not-a-ts",
	})
	require.False(t, rec.Online)
	require.Equal(t, 0, rec.ConnectionCount)
	require.True(t, rec.ConnectedAt.IsZero())
}

// testPresenceStore needs a real redis; set TEST_REDIS_ADDR to run the
// lifecycle test against one.
func testPresenceStore(t *testing.T) *PresenceStore {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr, DB: 9})
	require.NoError(t, rdb.FlushDB(context.Background()).Err())
	t.Cleanup(func() { _ = rdb.Close() })
	return NewPresenceStore(rdb)
}

func TestPresenceLifecycle(t *testing.T) {
	s := testPresenceStore(t)
	ctx := context.Background()

	n, err := s.Connect(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	n, err = s.Connect(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	ids, err := s.OnlineUserIDs(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"u1"}, ids)

	n, err = s.Disconnect(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	rec, found, err := s.Record(ctx, "u1")
	require.NoError(t, err)
	require.True(t, found)
	require.True(t, rec.Online)
	require.Equal(t, 1, rec.ConnectionCount)

	n, err = s.Disconnect(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, int64(0), n)

	// Extra disconnect clamps at zero instead of going negative.
	n, err = s.Disconnect(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, int64(0), n)

	rec, found, err = s.Record(ctx, "u1")
	require.NoError(t, err)
	require.True(t, found)
	require.False(t, rec.Online)

	ids, err = s.OnlineUserIDs(ctx)
	require.NoError(t, err)
	require.Empty(t, ids)
}

func TestPresenceSweepResetsStaleRecords(t *testing.T) {
	s := testPresenceStore(t)
	ctx := context.Background()

	past := time.Now().Add(-time.Hour)
	s.now = func() time.Time { return past }
	_, err := s.Connect(ctx, "stale")
	require.NoError(t, err)

	s.now = time.Now
	_, err = s.Connect(ctx, "fresh")
	require.NoError(t, err)

	swept, err := s.Sweep(ctx, 5*time.Minute)
	require.NoError(t, err)
	require.Equal(t, 1, swept)

	ids, err := s.OnlineUserIDs(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"fresh"}, ids)

	rec, _, err := s.Record(ctx, "stale")
	require.NoError(t, err)
	require.False(t, rec.Online)
	require.Equal(t, 0, rec.ConnectionCount)
}

func TestPresenceTouchUnknownUser(t *testing.T) {
	s := testPresenceStore(t)
	require.NoError(t, s.Touch(context.Background(), "never-seen"))
	_, found, err := s.Record(context.Background(), "never-seen")
	require.NoError(t, err)
	require.False(t, found)
}
