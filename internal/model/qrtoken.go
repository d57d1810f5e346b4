package model

import "time"

// QRToken grants unauthenticated download of one file until ExpiresAt.
type QRToken struct {
	ID        int64
	Token     string
	UserID    int64
	FileID    int64
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Valid reports whether the token can be redeemed at now. A token is dead
// from the instant now reaches ExpiresAt, even if the row still exists.
func (q *QRToken) Valid(now time.Time) bool {
	return now.Before(q.ExpiresAt)
}
