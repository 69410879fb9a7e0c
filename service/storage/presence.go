package storage

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Presence records live in one hash per user plus an index set of users
// currently flagged online:
//
//	live:presence:<user>  -> {online, connection_count, connected_at, last_seen}
//	live:presence:online  -> set of user ids with online=1
//
// Every state transition runs as a single Lua script so the
// read-modify-write on connection_count cannot interleave with a
// concurrent connect or disconnect.

const (
	presenceKeyPrefix = "live:presence:"
	presenceIndexKey  = "live:presence:online"
)

func presenceKey(user string) string { return presenceKeyPrefix + user }

// Connect: create-or-increment, flag online, refresh last_seen.
// connected_at marks the start of the current online span.
// Returns the resulting connection count.
var luaPresenceConnect = redis.NewScript(`
local key  = KEYS[1]
local idx  = KEYS[2]
local user = ARGV[1]
local now  = ARGV[2]
local n = redis.call("HINCRBY", key, "connection_count", 1)
if n == 1 then
  redis.call("HSET", key, "connected_at", now)
end
redis.call("HSET", key, "online", 1, "last_seen", now)
redis.call("SADD", idx, user)
return n
`)

// Disconnect: decrement with a floor of 0, online follows the count,
// last_seen refreshed regardless. Returns the resulting count.
var luaPresenceDisconnect = redis.NewScript(`
local key  = KEYS[1]
local idx  = KEYS[2]
local user = ARGV[1]
local now  = ARGV[2]
local c = tonumber(redis.call("HGET", key, "connection_count") or "0") - 1
if c < 0 then c = 0 end
local online = 0
if c > 0 then online = 1 end
redis.call("HSET", key, "connection_count", c, "online", online, "last_seen", now)
if online == 0 then
  redis.call("SREM", idx, user)
end
return c
`)

// Touch refreshes last_seen for an existing record only; a heartbeat for a
// user the store has never seen is dropped.
var luaPresenceTouch = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
  redis.call("HSET", KEYS[1], "last_seen", ARGV[1])
  return 1
end
return 0
`)

// Sweep walks the online index and force-offlines every record whose
// last_seen predates the cutoff. Repairs records orphaned by a process
// that died without emitting disconnects. Returns the number swept.
var luaPresenceSweep = redis.NewScript(`
local idx    = KEYS[1]
local prefix = ARGV[1]
local cutoff = tonumber(ARGV[2])
local swept  = 0
for _, u in ipairs(redis.call("SMEMBERS", idx)) do
  local key = prefix .. u
  local ls = tonumber(redis.call("HGET", key, "last_seen") or "0")
  if ls < cutoff then
    redis.call("HSET", key, "online", 0, "connection_count", 0)
    redis.call("SREM", idx, u)
    swept = swept + 1
  end
end
return swept
`)

// PresenceRecord is the durable per-user online state.
type PresenceRecord struct {
	UserID          string
	Online          bool
	ConnectionCount int
	ConnectedAt     time.Time
	LastSeen        time.Time
}

// PresenceStore keeps per-user presence records in redis. The records
// survive process restarts; the in-memory connection registry does not.
type PresenceStore struct {
	rdb *redis.Client
	now func() time.Time // injectable for tests
}

func NewPresenceStore(rdb *redis.Client) *PresenceStore {
	return &PresenceStore{rdb: rdb, now: time.Now}
}

func (s *PresenceStore) Connect(ctx context.Context, userID string) (int64, error) {
	n, err := luaPresenceConnect.Run(ctx, s.rdb,
		[]string{presenceKey(userID), presenceIndexKey},
		userID, s.now().Unix()).Int64()
	if err != nil {
		return 0, errors.Wrap(err, "presence connect")
	}
	return n, nil
}

func (s *PresenceStore) Disconnect(ctx context.Context, userID string) (int64, error) {
	n, err := luaPresenceDisconnect.Run(ctx, s.rdb,
		[]string{presenceKey(userID), presenceIndexKey},
		userID, s.now().Unix()).Int64()
	if err != nil {
		return 0, errors.Wrap(err, "presence disconnect")
	}
	return n, nil
}

func (s *PresenceStore) Touch(ctx context.Context, userID string) error {
	err := luaPresenceTouch.Run(ctx, s.rdb,
		[]string{presenceKey(userID)}, s.now().Unix()).Err()
	return errors.Wrap(err, "presence touch")
}

func (s *PresenceStore) Sweep(ctx context.Context, staleness time.Duration) (int, error) {
	cutoff := s.now().Add(-staleness).Unix()
	n, err := luaPresenceSweep.Run(ctx, s.rdb,
		[]string{presenceIndexKey}, presenceKeyPrefix, cutoff).Int64()
	if err != nil {
		return 0, errors.Wrap(err, "presence sweep")
	}
	return int(n), nil
}

// OnlineUserIDs lists users the durable store currently flags online.
func (s *PresenceStore) OnlineUserIDs(ctx context.Context) ([]string, error) {
	ids, err := s.rdb.SMembers(ctx, presenceIndexKey).Result()
	if err != nil {
		return nil, errors.Wrap(err, "presence online index")
	}
	return ids, nil
}

// Record fetches one user's presence record; found=false when the user has
// never connected.
func (s *PresenceStore) Record(ctx context.Context, userID string) (*PresenceRecord, bool, error) {
	vals, err := s.rdb.HGetAll(ctx, presenceKey(userID)).Result()
	if err != nil {
		return nil, false, errors.Wrap(err, "presence record")
	}
	if len(vals) == 0 {
		return nil, false, nil
	}
	return parsePresenceRecord(userID, vals), true, nil
}

func parsePresenceRecord(userID string, vals map[string]string) *PresenceRecord {
	rec := &PresenceRecord{UserID: userID}
	rec.Online = vals["online"] == "1"
	rec.ConnectionCount, _ = strconv.Atoi(vals["connection_count"])
	if ts, err := strconv.ParseInt(vals["connected_at"], 10, 64); err == nil {
		rec.ConnectedAt = time.Unix(ts, 0)
	}
	if ts, err := strconv.ParseInt(vals["last_seen"], 10, 64); err == nil {
		rec.LastSeen = time.Unix(ts, 0)
	}
	return rec
}
