// Package store persists the session record: access token, refresh token and
// the last known user, under three fixed keys.
package store

import (
	"context"
	"encoding/json"
	"fmt"

	"schedule-client/internal/model"
)

const (
	KeyAccessToken  = "auth_token"
	KeyRefreshToken = "refresh_token"
	KeyCurrentUser  = "current_user"
)

var keys = []string{KeyAccessToken, KeyRefreshToken, KeyCurrentUser}

// Record is the durable session state. The zero Record means logged out.
type Record struct {
	AccessToken  string
	RefreshToken string
	User         *model.User
}

func (r Record) Empty() bool {
	return r.AccessToken == "" && r.RefreshToken == "" && r.User == nil
}

// SessionStore is written by the session only. Save replaces all three keys,
// Clear removes them.
type SessionStore interface {
	Load(ctx context.Context) (Record, error)
	Save(ctx context.Context, r Record) error
	Clear(ctx context.Context) error
}

// encode flattens r into key/value pairs; empty fields have no entry.
func encode(r Record) (map[string]string, error) {
	vals := make(map[string]string, len(keys))
	if r.AccessToken != "" {
		vals[KeyAccessToken] = r.AccessToken
	}
	if r.RefreshToken != "" {
		vals[KeyRefreshToken] = r.RefreshToken
	}
	if r.User != nil {
		b, err := json.Marshal(r.User)
		if err != nil {
			return nil, fmt.Errorf("encode user: %w", err)
		}
		vals[KeyCurrentUser] = string(b)
	}
	return vals, nil
}

func decode(vals map[string]string) (Record, error) {
	r := Record{
		AccessToken:  vals[KeyAccessToken],
		RefreshToken: vals[KeyRefreshToken],
	}
	if blob := vals[KeyCurrentUser]; blob != "" {
		u := &model.User{}
		if err := json.Unmarshal([]byte(blob), u); err != nil {
			return Record{}, fmt.Errorf("decode %s: %w", KeyCurrentUser, err)
		}
		r.User = u
	}
	return r, nil
}
