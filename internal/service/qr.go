package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/sakif/bioqr/internal/apperror"
	"github.com/sakif/bioqr/internal/model"
	"github.com/sakif/bioqr/internal/qrcode"
	"github.com/sakif/bioqr/internal/repository"
)

const (
	DefaultQRMinutes = 60
	qrTokenBytes     = 16
)

// maxQRMinutes is the longest lifetime a time.Duration can hold.
const maxQRMinutes = math.MaxInt64 / int64(time.Minute)

// QRConfig controls issued token lifetimes and the links they encode.
type QRConfig struct {
	// BaseURL is the public origin; links are <BaseURL>/access-file/<token>.
	BaseURL        string
	DefaultMinutes int
	// MaxMinutes caps requested durations. Zero means no cap.
	MaxMinutes int
}

// IssuedQR is returned to the file owner after Issue.
type IssuedQR struct {
	Token     string    `json:"token"`
	URL       string    `json:"url"`
	Image     string    `json:"qrImage"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// QRService mints and redeems ephemeral access tokens. A token grants
// download of exactly one file until it expires, to anyone holding it. It
// is independent of login sessions and may be redeemed any number of
// times before expiry.
type QRService struct {
	tokens   repository.QRTokenRepository
	files    repository.FileRepository
	gate     *FileService
	renderer *qrcode.Renderer
	cfg      QRConfig
	logger   *slog.Logger
	now      func() time.Time
}

func NewQRService(
	tokens repository.QRTokenRepository,
	files repository.FileRepository,
	gate *FileService,
	renderer *qrcode.Renderer,
	cfg QRConfig,
	logger *slog.Logger,
) *QRService {
	if cfg.DefaultMinutes <= 0 {
		cfg.DefaultMinutes = DefaultQRMinutes
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &QRService{
		tokens:   tokens,
		files:    files,
		gate:     gate,
		renderer: renderer,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// Issue creates a token for fileID valid for minutes (0 selects the
// default; fractions are allowed) and renders its link as a QR code. Only
// the file's owner may issue one.
func (s *QRService) Issue(ctx context.Context, userID, fileID int64, minutes float64) (*IssuedQR, error) {
	if fileID <= 0 {
		return nil, apperror.ValidationFailed("file_id", "file_id is required")
	}
	ttl, err := s.lifetime(minutes)
	if err != nil {
		return nil, err
	}

	f, err := s.files.GetFileByID(ctx, fileID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("service/qr: getting file %d: %w", fileID, err)
	}
	if f.UserID != userID {
		return nil, apperror.Forbidden("You do not have access to this file")
	}

	token, err := newQRToken()
	if err != nil {
		return nil, fmt.Errorf("service/qr: %w", err)
	}

	now := s.now()
	q := &model.QRToken{
		Token:     token,
		UserID:    userID,
		FileID:    fileID,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if err := s.tokens.CreateQRToken(ctx, q); err != nil {
		return nil, fmt.Errorf("service/qr: storing token for file %d: %w", fileID, err)
	}

	link := s.cfg.BaseURL + "/access-file/" + token
	img, err := s.renderer.DataURL(link)
	if err != nil {
		return nil, fmt.Errorf("service/qr: %w", err)
	}

	s.logger.Info("QR token issued",
		slog.Int64("userID", userID),
		slog.Int64("fileID", fileID),
		slog.String("token", tokenPrefix(token)),
		slog.Duration("ttl", ttl),
	)
	return &IssuedQR{Token: token, URL: link, Image: img, ExpiresAt: q.ExpiresAt}, nil
}

// Redeem returns the file bound to token and a reader over its bytes. It
// needs no session. Unknown and expired tokens both fail with
// NotFoundOrExpired. The caller must close the reader.
func (s *QRService) Redeem(ctx context.Context, token string) (*model.File, io.ReadCloser, error) {
	expired := apperror.NotFoundOrExpired("Invalid or expired QR code")
	if token == "" {
		return nil, nil, expired
	}

	now := s.now()
	q, err := s.tokens.GetValidQRToken(ctx, token, now)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, nil, expired
		}
		return nil, nil, fmt.Errorf("service/qr: looking up token: %w", err)
	}
	if !q.Valid(now) {
		return nil, nil, expired
	}

	f, err := s.files.GetFileByID(ctx, q.FileID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("service/qr: getting file %d: %w", q.FileID, err)
	}

	body, err := s.gate.openBlob(ctx, f)
	if err != nil {
		return nil, nil, err
	}

	s.logger.Info("QR token redeemed", slog.Int64("fileID", f.ID), slog.String("token", tokenPrefix(token)))
	return f, body, nil
}

// lifetime turns a requested duration in minutes into a token lifetime.
func (s *QRService) lifetime(minutes float64) (time.Duration, error) {
	if minutes == 0 {
		minutes = float64(s.cfg.DefaultMinutes)
	}
	if math.IsNaN(minutes) || minutes < 0 {
		return 0, apperror.ValidationFailed("duration", "duration must be a positive number of minutes")
	}
	limit := maxQRMinutes
	if s.cfg.MaxMinutes > 0 && int64(s.cfg.MaxMinutes) < limit {
		limit = int64(s.cfg.MaxMinutes)
	}
	if minutes > float64(limit) {
		return 0, apperror.ValidationFailed("duration", fmt.Sprintf("duration must be at most %d minutes", limit))
	}
	ttl := time.Duration(minutes * float64(time.Minute))
	if ttl < time.Second {
		return 0, apperror.ValidationFailed("duration", "duration must be at least one second")
	}
	return ttl, nil
}

// newQRToken returns 128 random bits, hex-encoded.
func newQRToken() (string, error) {
	b := make([]byte, qrTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func tokenPrefix(token string) string {
	if len(token) > 8 {
		return token[:8]
	}
	return token
}
