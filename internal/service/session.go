package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/sakif/bioqr/internal/apperror"
	"github.com/sakif/bioqr/internal/auth"
	"github.com/sakif/bioqr/internal/model"
	"github.com/sakif/bioqr/internal/repository"
)

// refreshTimeout bounds one rotation. The rotation runs detached from the
// caller that started it (others may be waiting on it), so it needs its
// own deadline.
const refreshTimeout = 10 * time.Second

// TokenPair is what a successful login or refresh hands the client.
// ExpiresIn is the access token lifetime in seconds.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
}

// SessionService issues, rotates and revokes token pairs.
//
// SESSION STATES (one row per device login):
//
//	ACTIVE ──refresh──▶ ACTIVE (same row, new token value; old value is dead)
//	   │
//	   ├──logout──▶ INACTIVE ──sweep──▶ deleted
//	   └──expiry──▶ EXPIRED  ──sweep──▶ deleted
type SessionService struct {
	sessions repository.SessionRepository
	tokens   *auth.TokenService
	logger   *slog.Logger
	now      func() time.Time

	// inflight coalesces concurrent refreshes of the same token into one
	// rotation whose result every caller receives.
	inflight singleflight.Group
}

func NewSessionService(sessions repository.SessionRepository, tokens *auth.TokenService, logger *slog.Logger) *SessionService {
	return &SessionService{
		sessions: sessions,
		tokens:   tokens,
		logger:   logger,
		now:      time.Now,
	}
}

// IssuePair mints a token pair for userID and persists the refresh token as
// a new ACTIVE session. Called after every successful login.
func (s *SessionService) IssuePair(ctx context.Context, userID int64) (*TokenPair, error) {
	access, _, err := s.tokens.GenerateAccess(userID)
	if err != nil {
		return nil, fmt.Errorf("service/session: %w", err)
	}
	refresh, expiresAt, err := s.tokens.GenerateRefresh(userID)
	if err != nil {
		return nil, fmt.Errorf("service/session: %w", err)
	}

	sess := &model.Session{
		UserID:       userID,
		RefreshToken: refresh,
		CreatedAt:    s.now(),
		ExpiresAt:    expiresAt,
	}
	if err := s.sessions.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("service/session: storing session for user %d: %w", userID, err)
	}

	s.logger.Debug("session created", slog.Int64("userID", userID), slog.Int64("sessionID", sess.ID))
	return s.pair(access, refresh), nil
}

// Refresh exchanges a refresh token for a new pair, rotating the stored
// value in place. Every failure (bad signature, unknown, revoked, expired,
// already rotated) is InvalidRefreshToken.
//
// Concurrent calls presenting the same token share one rotation and all
// receive its result. A call arriving after that rotation finished presents
// a dead token and fails.
func (s *SessionService) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if refreshToken == "" {
		return nil, apperror.InvalidRefreshToken()
	}

	v, err, shared := s.inflight.Do(refreshToken, func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
		return s.rotate(rctx, refreshToken)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		s.logger.Debug("refresh coalesced with an in-flight rotation")
	}

	pair := *v.(*TokenPair)
	return &pair, nil
}

func (s *SessionService) rotate(ctx context.Context, oldToken string) (*TokenPair, error) {
	userID, err := s.tokens.ValidateRefresh(oldToken)
	if err != nil {
		s.logger.Debug("refresh token rejected", slog.String("reason", err.Error()))
		return nil, apperror.InvalidRefreshToken()
	}

	access, _, err := s.tokens.GenerateAccess(userID)
	if err != nil {
		return nil, fmt.Errorf("service/session: %w", err)
	}
	refresh, expiresAt, err := s.tokens.GenerateRefresh(userID)
	if err != nil {
		return nil, fmt.Errorf("service/session: %w", err)
	}

	// The conditional update is the authority: it only matches while the
	// row still holds oldToken and is active and unexpired.
	if err := s.sessions.RotateSession(ctx, oldToken, refresh, expiresAt, s.now()); err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			s.logger.Info("refresh with dead token",
				slog.Int64("userID", userID),
				slog.String("reason", s.deadReason(ctx, oldToken)),
			)
			return nil, apperror.InvalidRefreshToken()
		}
		return nil, fmt.Errorf("service/session: rotating session for user %d: %w", userID, err)
	}
	return s.pair(access, refresh), nil
}

// deadReason explains why a signed refresh token no longer matches a
// usable session. It only feeds the rotate log line; a rotated token leaves
// no row behind, so repeated "superseded" reasons hint at token reuse.
func (s *SessionService) deadReason(ctx context.Context, token string) string {
	sess, err := s.sessions.GetSessionByToken(ctx, token)
	switch {
	case errors.Is(err, apperror.ErrNotFound):
		return "superseded"
	case err != nil:
		return "lookup failed"
	case !sess.Active:
		return "revoked"
	case !sess.ExpiresAt.After(s.now()):
		return "expired"
	default:
		return "rotated concurrently"
	}
}

// Logout deactivates the session holding refreshToken, or every session of
// userID when refreshToken is empty. Logging out twice is not an error.
func (s *SessionService) Logout(ctx context.Context, userID int64, refreshToken string) error {
	var (
		n   int64
		err error
	)
	if refreshToken == "" {
		n, err = s.sessions.DeactivateAllSessions(ctx, userID)
	} else {
		n, err = s.sessions.DeactivateSession(ctx, userID, refreshToken)
	}
	if err != nil {
		return fmt.Errorf("service/session: logging out user %d: %w", userID, err)
	}

	s.logger.Info("user logged out",
		slog.Int64("userID", userID),
		slog.Bool("allDevices", refreshToken == ""),
		slog.Int64("sessions", n),
	)
	return nil
}

func (s *SessionService) pair(access, refresh string) *TokenPair {
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(s.tokens.AccessTTL() / time.Second),
	}
}
