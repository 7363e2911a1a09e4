package presence

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	livenessKeyFmt = "rs:online:uid:%d"
	onlineSetKey   = "rs:online:ids"
)

// Kicker forcibly closes a user's live connection on this node. Wired
// in by the composition root so presence never imports the ws layer.
type Kicker func(uid int64)

// Tracker records which users are reachable, shared across service
// instances through Redis. Liveness is a TTL key per uid; the online
// set is a hint that gets pruned lazily on reads.
type Tracker struct {
	cli    *redis.Client
	ttl    time.Duration
	log    *zap.Logger
	kicker Kicker
}

func New(cli *redis.Client, ttl time.Duration, log *zap.Logger) *Tracker {
	if ttl <= 0 {
		ttl = 90 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Tracker{cli: cli, ttl: ttl, log: log}
}

// SetKicker registers the connection-closing callback. Called once at
// process wiring, before any Kick.
func (t *Tracker) SetKicker(k Kicker) { t.kicker = k }

func livenessKey(uid int64) string {
	return fmt.Sprintf(livenessKeyFmt, uid)
}

// Heartbeat refreshes the uid's liveness record and keeps it in the
// online set. Repeated calls just extend the TTL.
func (t *Tracker) Heartbeat(ctx context.Context, uid int64) error {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	if err := t.cli.Set(ctx, livenessKey(uid), now, t.ttl).Err(); err != nil {
		return err
	}
	return t.cli.SAdd(ctx, onlineSetKey, strconv.FormatInt(uid, 10)).Err()
}

// Offline drops the uid's liveness record and set membership.
func (t *Tracker) Offline(ctx context.Context, uid int64) error {
	if err := t.cli.Del(ctx, livenessKey(uid)).Err(); err != nil {
		return err
	}
	return t.cli.SRem(ctx, onlineSetKey, strconv.FormatInt(uid, 10)).Err()
}

// IsOnline checks the liveness record, not the online set; the set may
// run stale until the next OnlineIDs pass.
func (t *Tracker) IsOnline(ctx context.Context, uid int64) bool {
	n, err := t.cli.Exists(ctx, livenessKey(uid)).Result()
	if err != nil {
		t.log.Warn("presence liveness check failed", zap.Int64("uid", uid), zap.Error(err))
		return false
	}
	return n > 0
}

// OnlineIDs returns the currently live uids. Members whose liveness
// record has expired are removed from the set on the way through.
func (t *Tracker) OnlineIDs(ctx context.Context) ([]int64, error) {
	members, err := t.cli.SMembers(ctx, onlineSetKey).Result()
	if err != nil {
		return nil, err
	}
	out := make([]int64, 0, len(members))
	for _, m := range members {
		uid, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			t.log.Warn("bad member in online set", zap.String("member", m))
			_ = t.cli.SRem(ctx, onlineSetKey, m).Err()
			continue
		}
		n, err := t.cli.Exists(ctx, livenessKey(uid)).Result()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			if err := t.cli.SRem(ctx, onlineSetKey, m).Err(); err != nil {
				t.log.Debug("online set prune failed", zap.Int64("uid", uid), zap.Error(err))
			}
			continue
		}
		out = append(out, uid)
	}
	return out, nil
}

// Kick force-closes the uid's live connection (forced-logout notice
// first, handled by the kicker) and clears presence. Used for admin
// session termination and login-elsewhere conflicts.
func (t *Tracker) Kick(ctx context.Context, uid int64) error {
	if t.kicker != nil {
		t.kicker(uid)
	}
	return t.Offline(ctx, uid)
}
