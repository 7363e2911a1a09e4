package auth

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Session is what a valid bearer token resolves to.
type Session struct {
	UID  int64
	Role string
}

// ExtractToken gets the bearer credential from the Authorization
// header or a query parameter fallback (websocket clients cannot
// always set headers).
func ExtractToken(r *http.Request, header, bearerPrefix, queryKey string) string {
	if header != "" {
		v := strings.TrimSpace(r.Header.Get(header))
		if v != "" {
			if bearerPrefix != "" && strings.HasPrefix(v, bearerPrefix) {
				return strings.TrimSpace(strings.TrimPrefix(v, bearerPrefix))
			}
			return v
		}
	}
	if queryKey != "" {
		if q := strings.TrimSpace(r.URL.Query().Get(queryKey)); q != "" {
			return q
		}
	}
	return ""
}

// SessionStore resolves tokens against the session hashes the API
// service writes at login (prefix+token, fields userId/role, TTL
// owned by the API service).
type SessionStore struct {
	Prefix string
	cli    *redis.Client
}

func NewSessionStore(cli *redis.Client, prefix string) *SessionStore {
	if prefix == "" {
		prefix = "rs:token:"
	}
	return &SessionStore{Prefix: prefix, cli: cli}
}

// Resolve returns the session for a token, or (nil, nil) when the
// token is unknown, expired or malformed.
func (s *SessionStore) Resolve(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, nil
	}
	fields, err := s.cli.HGetAll(ctx, s.Prefix+token).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}
	uid, err := strconv.ParseInt(fields["userId"], 10, 64)
	if err != nil || uid <= 0 {
		return nil, nil
	}
	role := fields["role"]
	if role == "" {
		role = "user"
	}
	return &Session{UID: uid, Role: role}, nil
}
