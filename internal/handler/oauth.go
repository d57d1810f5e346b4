package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/bioqr/internal/apperror"
	"github.com/sakif/bioqr/internal/auth"
	"github.com/sakif/bioqr/internal/service"
)

const (
	stateCookieName = "oauth_state"
	// stateCookiePath covers /auth/{provider} and its callback only.
	stateCookiePath   = "/auth"
	stateCookieMaxAge = 600
)

// OAuthHandler runs the browser side of the OAuth Authorization Code flow
// for every configured provider.
//
// FLOW:
//  1. GET /auth/{provider}?intent=login|register
//     → state "<intent>.<nonce>" goes into a cookie and the AuthURL
//  2. provider redirects back to GET /auth/{provider}/callback?code&state
//     → state checked against the cookie, intent read back out of it
//  3. the code is exchanged for a profile, the user found or created
//  4. the browser is sent to the frontend with the outcome
//
// Tokens for a login ride in the URL fragment, which browsers never send to
// a server, so they stay out of access logs and Referer headers.
type OAuthHandler struct {
	providers     map[string]auth.Provider
	credentials   *service.CredentialService
	sessions      *service.SessionService
	frontendURL   string
	secureCookies bool
	logger        *slog.Logger
}

func NewOAuthHandler(
	providers []auth.Provider,
	credentials *service.CredentialService,
	sessions *service.SessionService,
	frontendURL string,
	secureCookies bool,
	logger *slog.Logger,
) *OAuthHandler {
	byName := make(map[string]auth.Provider, len(providers))
	for _, p := range providers {
		byName[p.Name()] = p
	}
	return &OAuthHandler{
		providers:     byName,
		credentials:   credentials,
		sessions:      sessions,
		frontendURL:   strings.TrimRight(frontendURL, "/"),
		secureCookies: secureCookies,
		logger:        logger,
	}
}

// HandleBegin starts the handshake.
//
// HTTP: GET /auth/{provider}?intent=register
func (h *OAuthHandler) HandleBegin(w http.ResponseWriter, r *http.Request) {
	provider, ok := h.provider(w, r)
	if !ok {
		return
	}

	intent, err := auth.ParseIntent(r.URL.Query().Get("intent"))
	if err != nil {
		writeError(w, r, h.logger, apperror.ValidationFailed("intent", "intent must be login or register"))
		return
	}

	state := auth.NewState(intent)
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     stateCookiePath,
		MaxAge:   stateCookieMaxAge,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, provider.AuthURL(state), http.StatusTemporaryRedirect)
}

// HandleCallback completes the handshake started by HandleBegin.
//
// HTTP: GET /auth/{provider}/callback?code=xxx&state=yyy
func (h *OAuthHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	provider, ok := h.provider(w, r)
	if !ok {
		return
	}
	name := provider.Name()
	query := r.URL.Query()

	stateCookie, err := r.Cookie(stateCookieName)
	if err != nil || stateCookie.Value == "" || query.Get("state") != stateCookie.Value {
		h.logger.Warn("oauth callback: state mismatch", slog.String("provider", name))
		writeError(w, r, h.logger, apperror.ValidationFailed("state", "Invalid OAuth state"))
		return
	}
	intent, err := auth.ParseState(stateCookie.Value)
	if err != nil {
		writeError(w, r, h.logger, apperror.ValidationFailed("state", "Invalid OAuth state"))
		return
	}

	// Single use.
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    "",
		Path:     stateCookiePath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})

	if errParam := query.Get("error"); errParam != "" {
		h.logger.Info("oauth callback: provider returned an error",
			slog.String("provider", name),
			slog.String("error", errParam),
		)
		h.redirectLogin(w, r, "error", "oauth_failed", name)
		return
	}

	code := query.Get("code")
	if code == "" {
		h.redirectLogin(w, r, "error", "oauth_failed", name)
		return
	}

	profile, err := provider.Exchange(r.Context(), code)
	if err != nil {
		h.logger.Error("oauth callback: exchange failed",
			slog.String("provider", name),
			slog.String("error", err.Error()),
		)
		h.redirectLogin(w, r, "error", "oauth_failed", name)
		return
	}

	user, isNew, err := h.credentials.UpsertOAuthIdentity(r.Context(), profile)
	if err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			h.logger.Info("oauth callback: identity collides with an existing account",
				slog.String("provider", name),
			)
			h.redirectLogin(w, r, "error", "email_in_use", name)
			return
		}
		h.logger.Error("oauth callback: upsert failed",
			slog.String("provider", name),
			slog.String("error", err.Error()),
		)
		h.redirectLogin(w, r, "error", "oauth_failed", name)
		return
	}

	if intent == auth.IntentRegister {
		outcome := "user_exists"
		if isNew {
			outcome = "registration_success"
		}
		h.redirectLogin(w, r, "message", outcome, name)
		return
	}

	pair, err := h.sessions.IssuePair(r.Context(), user.ID)
	if err != nil {
		h.logger.Error("oauth callback: issuing tokens failed",
			slog.Int64("userID", user.ID),
			slog.String("error", err.Error()),
		)
		h.redirectLogin(w, r, "error", "oauth_failed", name)
		return
	}

	h.logger.Info("user logged in", slog.Int64("userID", user.ID), slog.String("provider", name))

	fragment := url.Values{}
	fragment.Set("accessToken", pair.AccessToken)
	fragment.Set("refreshToken", pair.RefreshToken)
	fragment.Set("expiresIn", strconv.FormatInt(pair.ExpiresIn, 10))
	http.Redirect(w, r, h.frontendURL+"/dashboard#"+fragment.Encode(), http.StatusSeeOther)
}

func (h *OAuthHandler) provider(w http.ResponseWriter, r *http.Request) (auth.Provider, bool) {
	name := chi.URLParam(r, "provider")
	p, ok := h.providers[name]
	if !ok {
		writeError(w, r, h.logger, apperror.NotFound("OAuth provider", name))
		return nil, false
	}
	return p, true
}

// redirectLogin sends the browser to the frontend login page with
// ?<key>=<value>&provider=<provider>.
func (h *OAuthHandler) redirectLogin(w http.ResponseWriter, r *http.Request, key, value, provider string) {
	q := url.Values{}
	q.Set(key, value)
	q.Set("provider", provider)
	http.Redirect(w, r, h.frontendURL+"/login?"+q.Encode(), http.StatusSeeOther)
}
