// Package presence derives online/offline status from live realtime
// connections. State lives in Redis so every gateway instance sees the same
// view: a set of connection ids per user, plus one sorted set indexing the
// currently-online user ids by last-connect time.
//
// A user is online iff their connection-id set is non-empty. Status is never
// written directly; it always follows a connection id in or out of the set,
// so a missed disconnect for one of several connections cannot strand a user
// "online forever".
package presence

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	connSetPrefix  = "presence:conns:" // SET of connection ids, one key per user
	onlineIndexKey = "presence:online" // ZSET of online user ids, scored by recency
)

// Tracker maintains presence state in Redis. All operations are safe under
// interleaving across processes because they rely on atomic set primitives.
type Tracker struct {
	rdb *redis.Client
}

func NewTracker(rdb *redis.Client) *Tracker { return &Tracker{rdb: rdb} }

func connSetKey(userID uint64) string {
	return connSetPrefix + strconv.FormatUint(userID, 10)
}

// MarkOnline records a new live connection for the user and refreshes their
// position in the online index.
func (t *Tracker) MarkOnline(ctx context.Context, userID uint64, connID string) error {
	pipe := t.rdb.TxPipeline()
	pipe.SAdd(ctx, connSetKey(userID), connID)
	pipe.ZAdd(ctx, onlineIndexKey, redis.Z{
		Score:  float64(time.Now().UTC().Unix()),
		Member: strconv.FormatUint(userID, 10),
	})
	_, err := pipe.Exec(ctx)
	return err
}

// removeConnScript removes one connection id and, if the set emptied, the
// user's online-index entry, in a single server-side step. Interleaving with
// a concurrent connect is therefore safe: an SADD lands either before the
// script (the set stays non-empty, nothing is purged) or after it (the fresh
// connection survives untouched). Redis drops the set key itself once SREM
// empties it, so no DEL is needed. Returns the remaining cardinality.
var removeConnScript = redis.NewScript(`
	redis.call('SREM', KEYS[1], ARGV[1])
	local n = redis.call('SCARD', KEYS[1])
	if n == 0 then
		redis.call('ZREM', KEYS[2], ARGV[2])
	end
	return n
`)

// RemoveConnection drops one connection id for the user. When the set
// becomes empty the user is purged from the online index and false is
// returned (the user just went offline); otherwise true.
func (t *Tracker) RemoveConnection(ctx context.Context, userID uint64, connID string) (bool, error) {
	n, err := removeConnScript.Run(ctx, t.rdb,
		[]string{connSetKey(userID), onlineIndexKey},
		connID, strconv.FormatUint(userID, 10)).Int64()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// IsOnline reports whether the user has at least one live connection.
func (t *Tracker) IsOnline(ctx context.Context, userID uint64) (bool, error) {
	n, err := t.rdb.SCard(ctx, connSetKey(userID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// BulkIsOnline answers IsOnline for many users with one round trip.
func (t *Tracker) BulkIsOnline(ctx context.Context, userIDs []uint64) (map[uint64]bool, error) {
	out := make(map[uint64]bool, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	pipe := t.rdb.Pipeline()
	cmds := make(map[uint64]*redis.IntCmd, len(userIDs))
	for _, id := range userIDs {
		cmds[id] = pipe.SCard(ctx, connSetKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	for id, cmd := range cmds {
		out[id] = cmd.Val() > 0
	}
	return out, nil
}

// ListOnlineUserIDs returns every user id in the online index, most recent
// first.
func (t *Tracker) ListOnlineUserIDs(ctx context.Context) ([]uint64, error) {
	members, err := t.rdb.ZRevRange(ctx, onlineIndexKey, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]uint64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseUint(m, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}
