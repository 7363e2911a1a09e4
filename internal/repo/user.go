package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	RoleUser      = "user"
	RoleModerator = "moderator"
	RoleAdmin     = "admin"
)

const profileKeyFmt = "rs:user:profile:%d"

// Profile is the slice of a user the notification layer cares about.
type Profile struct {
	UID      int64  `json:"uid"`
	Nickname string `json:"nickname"`
	Avatar   string `json:"avatar"`
	Role     string `json:"role"`
}

// UserRepo reads user display data and roles. Profiles are served
// read-through from Redis; the DB stays the source of truth.
type UserRepo struct {
	db  *sql.DB
	cli *redis.Client
	ttl time.Duration
	log *zap.Logger
}

func NewUserRepo(db *sql.DB, cli *redis.Client, cacheTTL time.Duration, log *zap.Logger) *UserRepo {
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &UserRepo{db: db, cli: cli, ttl: cacheTTL, log: log}
}

func profileKey(uid int64) string { return fmt.Sprintf(profileKeyFmt, uid) }

// Profile returns the user's display profile, trying the cache first.
// A missing user returns (nil, nil). Cache failures fall through to
// the DB and are logged, never surfaced.
func (r *UserRepo) Profile(ctx context.Context, uid int64) (*Profile, error) {
	if r.cli != nil {
		raw, err := r.cli.Get(ctx, profileKey(uid)).Result()
		if err == nil {
			var p Profile
			if jerr := json.Unmarshal([]byte(raw), &p); jerr == nil {
				return &p, nil
			}
			// poisoned entry, drop and refetch
			_ = r.cli.Del(ctx, profileKey(uid)).Err()
		} else if !errors.Is(err, redis.Nil) {
			r.log.Warn("profile cache read failed", zap.Int64("uid", uid), zap.Error(err))
		}
	}

	var p Profile
	var avatar sql.NullString
	err := r.db.QueryRowContext(ctx, `
SELECT id, nickname, avatar, role FROM rs_user WHERE id = ?
`, uid).Scan(&p.UID, &p.Nickname, &avatar, &p.Role)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.Avatar = avatar.String

	if r.cli != nil {
		if b, jerr := json.Marshal(p); jerr == nil {
			if cerr := r.cli.Set(ctx, profileKey(uid), b, r.ttl).Err(); cerr != nil {
				r.log.Debug("profile cache write failed", zap.Int64("uid", uid), zap.Error(cerr))
			}
		}
	}
	return &p, nil
}

// EvictProfile rewrites the cached profile from the DB, or deletes the
// entry when the user is gone. Called by the API layer after profile
// edits.
func (r *UserRepo) EvictProfile(ctx context.Context, uid int64) error {
	if r.cli == nil {
		return nil
	}
	if err := r.cli.Del(ctx, profileKey(uid)).Err(); err != nil {
		return err
	}
	_, err := r.Profile(ctx, uid)
	return err
}

// ModeratorIDs enumerates active users allowed to review pending
// recipes. Used for moderator fan-out.
func (r *UserRepo) ModeratorIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id FROM rs_user WHERE role IN (?, ?) AND enabled = 1
`, RoleModerator, RoleAdmin)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
