// Package repository declares the persistence contracts the services
// depend on. Implementations live in sub-packages (sqldb).
//
// Conventions shared by every implementation:
//   - lookups that match nothing return an error wrapping apperror.ErrNotFound
//   - unique-constraint violations return an error wrapping apperror.ErrConflict
//   - every time.Time written or compared is UTC
package repository

import (
	"context"
	"time"

	"github.com/sakif/bioqr/internal/model"
)

type UserRepository interface {
	// CreateUser inserts u and fills in ID, CreatedAt and UpdatedAt.
	CreateUser(ctx context.Context, u *model.User) error
	GetUserByID(ctx context.Context, id int64) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)
	GetUserByOAuth(ctx context.Context, provider, providerID string) (*model.User, error)
}

type SessionRepository interface {
	CreateSession(ctx context.Context, s *model.Session) error
	GetSessionByToken(ctx context.Context, refreshToken string) (*model.Session, error)
	// RotateSession replaces oldToken with newToken in a single conditional
	// update. It succeeds only if the row still holds oldToken, is active
	// and unexpired at now; otherwise it returns ErrNotFound. Of any number
	// of concurrent calls with the same oldToken, at most one succeeds.
	RotateSession(ctx context.Context, oldToken, newToken string, newExpiry, now time.Time) error
	DeactivateSession(ctx context.Context, userID int64, refreshToken string) (int64, error)
	DeactivateAllSessions(ctx context.Context, userID int64) (int64, error)
	// DeleteStaleSessions removes rows that are expired at now or inactive.
	DeleteStaleSessions(ctx context.Context, now time.Time) (int64, error)
}

type FileRepository interface {
	CreateFile(ctx context.Context, f *model.File) error
	// GetFileForOwner matches on (id, owner) in one predicate, so another
	// user's file is indistinguishable from a missing one.
	GetFileForOwner(ctx context.Context, id, ownerID int64) (*model.File, error)
	GetFileByID(ctx context.Context, id int64) (*model.File, error)
	ListFilesByOwner(ctx context.Context, ownerID int64) ([]model.File, error)
	// DeleteFileForOwner deletes the row and returns it, for blob cleanup.
	DeleteFileForOwner(ctx context.Context, id, ownerID int64) (*model.File, error)
}

type QRTokenRepository interface {
	CreateQRToken(ctx context.Context, q *model.QRToken) error
	// GetValidQRToken returns the token only if it expires after now.
	GetValidQRToken(ctx context.Context, token string, now time.Time) (*model.QRToken, error)
	DeleteExpiredQRTokens(ctx context.Context, now time.Time) (int64, error)
}
