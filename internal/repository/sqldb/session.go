package sqldb

import (
	"context"
	"fmt"
	"time"

	"github.com/sakif/bioqr/internal/apperror"
	"github.com/sakif/bioqr/internal/model"
	"github.com/sakif/bioqr/internal/repository"
)

var _ repository.SessionRepository = (*DB)(nil)

func (db *DB) CreateSession(ctx context.Context, s *model.Session) error {
	s.CreatedAt = utc(s.CreatedAt)
	s.ExpiresAt = utc(s.ExpiresAt)
	s.Active = true

	err := db.conn.QueryRowContext(ctx, db.rebind(`
		INSERT INTO sessions (user_id, refresh_token, created_at, expires_at, is_active)
		VALUES (?, ?, ?, ?, TRUE)
		RETURNING id`),
		s.UserID, s.RefreshToken, s.CreatedAt, s.ExpiresAt,
	).Scan(&s.ID)
	if err != nil {
		return fmt.Errorf("sqldb: inserting session for user %d: %w", s.UserID, err)
	}
	return nil
}

func (db *DB) GetSessionByToken(ctx context.Context, refreshToken string) (*model.Session, error) {
	var s model.Session
	err := db.conn.QueryRowContext(ctx, db.rebind(`
		SELECT id, user_id, refresh_token, created_at, expires_at, is_active
		FROM sessions WHERE refresh_token = ?`),
		refreshToken,
	).Scan(&s.ID, &s.UserID, &s.RefreshToken, &s.CreatedAt, &s.ExpiresAt, &s.Active)
	if err != nil {
		if isNoRows(err) {
			return nil, apperror.NotFound("session", "for refresh token")
		}
		return nil, fmt.Errorf("sqldb: getting session: %w", err)
	}
	return &s, nil
}

// RotateSession is the compare-and-swap at the heart of refresh: the WHERE
// clause re-checks everything that made oldToken usable, and the database
// serializes the UPDATE, so the first writer wins and every later attempt
// with oldToken matches zero rows.
func (db *DB) RotateSession(ctx context.Context, oldToken, newToken string, newExpiry, now time.Time) error {
	res, err := db.conn.ExecContext(ctx, db.rebind(`
		UPDATE sessions SET refresh_token = ?, expires_at = ?
		WHERE refresh_token = ? AND is_active = TRUE AND expires_at > ?`),
		newToken, utc(newExpiry), oldToken, utc(now),
	)
	if err != nil {
		return fmt.Errorf("sqldb: rotating session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqldb: rotating session: %w", err)
	}
	if n == 0 {
		return apperror.NotFound("session", "for refresh token")
	}
	return nil
}

func (db *DB) DeactivateSession(ctx context.Context, userID int64, refreshToken string) (int64, error) {
	res, err := db.conn.ExecContext(ctx, db.rebind(`
		UPDATE sessions SET is_active = FALSE
		WHERE user_id = ? AND refresh_token = ? AND is_active = TRUE`),
		userID, refreshToken,
	)
	if err != nil {
		return 0, fmt.Errorf("sqldb: deactivating session for user %d: %w", userID, err)
	}
	return res.RowsAffected()
}

func (db *DB) DeactivateAllSessions(ctx context.Context, userID int64) (int64, error) {
	res, err := db.conn.ExecContext(ctx, db.rebind(`
		UPDATE sessions SET is_active = FALSE
		WHERE user_id = ? AND is_active = TRUE`),
		userID,
	)
	if err != nil {
		return 0, fmt.Errorf("sqldb: deactivating sessions for user %d: %w", userID, err)
	}
	return res.RowsAffected()
}

func (db *DB) DeleteStaleSessions(ctx context.Context, now time.Time) (int64, error) {
	res, err := db.conn.ExecContext(ctx, db.rebind(`
		DELETE FROM sessions WHERE expires_at <= ? OR is_active = FALSE`),
		utc(now),
	)
	if err != nil {
		return 0, fmt.Errorf("sqldb: deleting stale sessions: %w", err)
	}
	return res.RowsAffected()
}
