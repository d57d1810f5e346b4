// Package auth provides credential primitives for the BioQR API: signed
// access and refresh tokens, password hashing, OAuth providers and the
// bearer-token middleware.
//
// TOKEN PAIR:
// Every successful login mints two JWTs signed with DIFFERENT secrets:
//
//	access token   short-lived (15m), verified statelessly on every request
//	refresh token  long-lived (7d), additionally checked against the
//	               sessions table and rotated on each use
//
// Separate secrets mean a leaked access-token key cannot forge refresh
// tokens, and the audience claim stops one kind being replayed as the other.
//
// JWT STRUCTURE (three base64-encoded parts separated by dots):
//
//	HEADER.PAYLOAD.SIGNATURE
//	- Header: {"alg":"HS256","typ":"JWT"}
//	- Payload: {"sub":"42","aud":["access"],"exp":1234567890,...}
//	- Signature: HMAC-SHA256(header+"."+payload, secretKey)
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/xid"
)

const (
	issuer = "bioqr"

	audienceAccess  = "access"
	audienceRefresh = "refresh"

	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour
)

// ErrTokenExpired is returned when a token's signature is fine but its exp
// claim has passed.
var ErrTokenExpired = errors.New("auth: token expired")

// TokenConfig configures a TokenService. Zero TTLs fall back to the defaults.
type TokenConfig struct {
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// TokenService handles JWT creation and validation for both token kinds.
type TokenService struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
}

// NewTokenService creates a TokenService. Both secrets must be at least 16
// characters and must differ.
// Example: BIOQR_AUTH_JWT_SECRET=$(openssl rand -hex 32)
func NewTokenService(cfg TokenConfig) (*TokenService, error) {
	if len(cfg.AccessSecret) < 16 {
		return nil, errors.New("auth: JWT secret must be at least 16 characters")
	}
	if len(cfg.RefreshSecret) < 16 {
		return nil, errors.New("auth: refresh secret must be at least 16 characters")
	}
	if cfg.AccessSecret == cfg.RefreshSecret {
		return nil, errors.New("auth: access and refresh secrets must differ")
	}

	ts := &TokenService{
		accessSecret:  []byte(cfg.AccessSecret),
		refreshSecret: []byte(cfg.RefreshSecret),
		accessTTL:     cfg.AccessTTL,
		refreshTTL:    cfg.RefreshTTL,
		now:           cfg.Now,
	}
	if ts.accessTTL <= 0 {
		ts.accessTTL = DefaultAccessTTL
	}
	if ts.refreshTTL <= 0 {
		ts.refreshTTL = DefaultRefreshTTL
	}
	if ts.now == nil {
		ts.now = time.Now
	}
	return ts, nil
}

// AccessTTL is the lifetime of access tokens; clients receive it as expiresIn.
func (s *TokenService) AccessTTL() time.Duration { return s.accessTTL }

// RefreshTTL is the lifetime of refresh tokens and of their session rows.
func (s *TokenService) RefreshTTL() time.Duration { return s.refreshTTL }

// GenerateAccess signs an access token for userID.
func (s *TokenService) GenerateAccess(userID int64) (string, time.Time, error) {
	return s.sign(userID, audienceAccess, s.accessTTL, s.accessSecret)
}

// GenerateRefresh signs a refresh token for userID. Each token carries a
// unique jti, so two logins within the same second still produce distinct
// values (the sessions table requires that).
func (s *TokenService) GenerateRefresh(userID int64) (string, time.Time, error) {
	return s.sign(userID, audienceRefresh, s.refreshTTL, s.refreshSecret)
}

// ValidateAccess verifies an access token and returns the user id in "sub".
func (s *TokenService) ValidateAccess(tokenStr string) (int64, error) {
	return s.validate(tokenStr, audienceAccess, s.accessSecret)
}

// ValidateRefresh verifies the signature and expiry of a refresh token. It
// does NOT consult the sessions table; that is the session service's job.
func (s *TokenService) ValidateRefresh(tokenStr string) (int64, error) {
	return s.validate(tokenStr, audienceRefresh, s.refreshSecret)
}

func (s *TokenService) sign(userID int64, audience string, ttl time.Duration, secret []byte) (string, time.Time, error) {
	now := s.now()
	expiresAt := now.Add(ttl)

	c := jwt.RegisteredClaims{
		ID:        xid.New().String(),
		Subject:   strconv.FormatInt(userID, 10),
		Audience:  jwt.ClaimStrings{audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		Issuer:    issuer,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: signing %s token: %w", audience, err)
	}
	return signed, expiresAt, nil
}

// validate parses tokenStr and checks signature, algorithm, issuer, audience
// and expiry. Passing jwt.WithValidMethods closes the "alg: none" hole.
func (s *TokenService) validate(tokenStr, audience string, secret []byte) (int64, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&jwt.RegisteredClaims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(issuer),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return 0, ErrTokenExpired
		}
		return 0, fmt.Errorf("auth: invalid token: %w", err)
	}

	c, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || !token.Valid {
		return 0, fmt.Errorf("auth: invalid token claims")
	}

	userID, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return 0, fmt.Errorf("auth: token has no valid subject")
	}
	return userID, nil
}
