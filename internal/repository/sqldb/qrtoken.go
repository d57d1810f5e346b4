package sqldb

import (
	"context"
	"fmt"
	"time"

	"github.com/sakif/bioqr/internal/apperror"
	"github.com/sakif/bioqr/internal/model"
	"github.com/sakif/bioqr/internal/repository"
)

var _ repository.QRTokenRepository = (*DB)(nil)

func (db *DB) CreateQRToken(ctx context.Context, q *model.QRToken) error {
	q.CreatedAt = utc(q.CreatedAt)
	q.ExpiresAt = utc(q.ExpiresAt)

	err := db.conn.QueryRowContext(ctx, db.rebind(`
		INSERT INTO qr_tokens (token, user_id, file_id, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id`),
		q.Token, q.UserID, q.FileID, q.CreatedAt, q.ExpiresAt,
	).Scan(&q.ID)
	if err != nil {
		if _, dup := uniqueViolation(err); dup {
			return apperror.Conflict("token", "QR token already exists")
		}
		return fmt.Errorf("sqldb: inserting QR token for file %d: %w", q.FileID, err)
	}
	return nil
}

// GetValidQRToken treats an expired token exactly like an unknown one.
func (db *DB) GetValidQRToken(ctx context.Context, token string, now time.Time) (*model.QRToken, error) {
	var q model.QRToken
	err := db.conn.QueryRowContext(ctx, db.rebind(`
		SELECT id, token, user_id, file_id, created_at, expires_at
		FROM qr_tokens WHERE token = ? AND expires_at > ?`),
		token, utc(now),
	).Scan(&q.ID, &q.Token, &q.UserID, &q.FileID, &q.CreatedAt, &q.ExpiresAt)
	if err != nil {
		if isNoRows(err) {
			return nil, apperror.NotFound("QR token", "for token")
		}
		return nil, fmt.Errorf("sqldb: getting QR token: %w", err)
	}
	return &q, nil
}

func (db *DB) DeleteExpiredQRTokens(ctx context.Context, now time.Time) (int64, error) {
	res, err := db.conn.ExecContext(ctx, db.rebind(`DELETE FROM qr_tokens WHERE expires_at <= ?`), utc(now))
	if err != nil {
		return 0, fmt.Errorf("sqldb: deleting expired QR tokens: %w", err)
	}
	return res.RowsAffected()
}
