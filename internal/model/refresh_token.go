package model

import "time"

// RefreshToken is an opaque, stateful credential. The token value itself is
// random; validity is decided by store lookup, never by parsing the value.
// A token moves from active to revoked (rotation, logout, logout-all) or to
// expired, and never back.
type RefreshToken struct {
	Token     string    `json:"token"`
	UserID    string    `json:"user_id"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Revoked   bool      `json:"revoked"`
}

func (t *RefreshToken) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}
