package models

import "time"

// RefreshToken is a persisted session. A token is active while it is neither
// revoked nor past ExpiresAt.
type RefreshToken struct {
	ID        string
	UserID    string
	Token     string
	ExpiresAt time.Time
	Revoked   bool
	CreatedAt time.Time
}

// IsExpired reports whether the token is past its stored expiry at now.
func (t *RefreshToken) IsExpired(now time.Time) bool {
	return !t.ExpiresAt.After(now)
}
