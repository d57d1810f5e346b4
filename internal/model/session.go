package model

import "time"

// Session is a persisted refresh token. Rotation rewrites RefreshToken and
// ExpiresAt in place; logout clears Active.
type Session struct {
	ID           int64
	UserID       int64
	RefreshToken string
	CreatedAt    time.Time
	ExpiresAt    time.Time
	Active       bool
}

// Usable reports whether the refresh token may still be exchanged at now.
func (s *Session) Usable(now time.Time) bool {
	return s.Active && now.Before(s.ExpiresAt)
}
