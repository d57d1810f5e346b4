package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/bioqr/internal/apperror"
	"github.com/sakif/bioqr/internal/model"
	"github.com/sakif/bioqr/internal/service"
)

// AuthHandler serves local registration and login plus the token
// endpoints shared by every login method.
//
// ROUTES:
//   - POST /api/auth/register  → create a local account
//   - POST /api/auth/login     → password login, returns a token pair
//   - POST /api/auth/refresh   → rotate a refresh token
//   - POST /api/auth/logout    → revoke one session or all of them (bearer)
//   - GET  /api/auth/me        → current user's profile (bearer)
//   - GET  /api/auth/session   → "is my access token still good?" (bearer)
type AuthHandler struct {
	credentials *service.CredentialService
	sessions    *service.SessionService
	// revealLoginFailures keeps "unknown account" distinct from "wrong
	// password" in login responses.
	revealLoginFailures bool
	logger              *slog.Logger
}

func NewAuthHandler(
	credentials *service.CredentialService,
	sessions *service.SessionService,
	revealLoginFailures bool,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		credentials:         credentials,
		sessions:            sessions,
		revealLoginFailures: revealLoginFailures,
		logger:              logger,
	}
}

type loginRequest struct {
	// LoginField is an email address or a username.
	LoginField string `json:"loginField"`
	Password   string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// RegisterResponse is returned by registration.
type RegisterResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	User    *model.User `json:"user"`
}

// UserResponse wraps a user profile.
type UserResponse struct {
	Success bool        `json:"success"`
	User    *model.User `json:"user"`
}

// LoginResponse is returned by password login.
type LoginResponse struct {
	Success bool               `json:"success"`
	Message string             `json:"message"`
	User    *model.User        `json:"user"`
	Tokens  *service.TokenPair `json:"tokens"`
}

// TokensResponse is returned by refresh.
type TokensResponse struct {
	Success bool               `json:"success"`
	Tokens  *service.TokenPair `json:"tokens"`
}

// SessionResponse is returned by the session check.
type SessionResponse struct {
	Valid bool        `json:"valid"`
	User  *model.User `json:"user"`
}

// HandleRegister creates a local account. It does not log the user in.
//
// HTTP: POST /api/auth/register
// BODY: {"first_name","last_name","username","email","password"}
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var in service.RegisterInput
	if err := decodeJSON(w, r, &in, false); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	user, err := h.credentials.Register(r.Context(), in)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, RegisterResponse{
		Success: true,
		Message: "User registered successfully!",
		User:    user,
	})
}

// HandleLogin verifies credentials and issues a token pair.
//
// HTTP: POST /api/auth/login
// BODY: {"loginField": "alice" | "alice@x.com", "password": "..."}
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	user, err := h.credentials.AuthenticateLocal(r.Context(), req.LoginField, req.Password)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) && !h.revealLoginFailures {
			err = apperror.InvalidCredential()
		}
		if errors.Is(err, apperror.ErrNotFound) || errors.Is(err, apperror.ErrInvalidCredential) {
			h.logger.Info("login failed", slog.String("remoteAddr", r.RemoteAddr))
		}
		writeError(w, r, h.logger, err)
		return
	}

	pair, err := h.sessions.IssuePair(r.Context(), user.ID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	h.logger.Info("user logged in", slog.Int64("userID", user.ID))
	writeJSON(w, http.StatusOK, LoginResponse{
		Success: true,
		Message: "Login successful",
		User:    user,
		Tokens:  pair,
	})
}

// HandleRefresh rotates a refresh token. The old value stops working.
//
// HTTP: POST /api/auth/refresh
// BODY: {"refreshToken": "..."}
func (h *AuthHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	pair, err := h.sessions.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, TokensResponse{Success: true, Tokens: pair})
}

// HandleLogout revokes the session named in the body, or every session of
// the caller when the body is empty or has no refreshToken.
//
// HTTP: POST /api/auth/logout
// Auth: Required
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r, h.logger)
	if !ok {
		return
	}

	var req refreshRequest
	if err := decodeJSON(w, r, &req, true); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	if err := h.sessions.Logout(r.Context(), userID, req.RefreshToken); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Success: true, Message: "Logged out successfully"})
}

// HandleMe returns the authenticated user's profile.
//
// HTTP: GET /api/auth/me
// Auth: Required
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, UserResponse{Success: true, User: user})
}

// HandleSession confirms the access token is valid. The middleware has
// already done the real work; reaching this handler is the answer.
//
// HTTP: GET /api/auth/session
// Auth: Required
func (h *AuthHandler) HandleSession(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, SessionResponse{Valid: true, User: user})
}

func (h *AuthHandler) currentUser(w http.ResponseWriter, r *http.Request) (*model.User, bool) {
	userID, ok := requireUser(w, r, h.logger)
	if !ok {
		return nil, false
	}

	user, err := h.credentials.GetUserByID(r.Context(), userID)
	if err != nil {
		// A valid token for a user that no longer exists.
		if errors.Is(err, apperror.ErrNotFound) {
			err = apperror.Unauthorized("Authentication required")
		}
		writeError(w, r, h.logger, err)
		return nil, false
	}
	return user, true
}
