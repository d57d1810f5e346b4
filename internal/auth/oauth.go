package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
	"golang.org/x/oauth2/google"

	"github.com/sakif/bioqr/internal/model"
)

const (
	ProviderGitHub = "github"
	ProviderGoogle = "google"

	githubUserURL   = "https://api.github.com/user"
	googleUserURL   = "https://openidconnect.googleapis.com/v1/userinfo"
	defaultOAuthTTL = 10 * time.Second
)

// Provider is one OAuth identity provider. The handshake ends with a
// verified profile; everything after that (account linking, sessions)
// happens in the service layer.
type Provider interface {
	Name() string
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (*model.OAuthProfile, error)
}

// ProviderConfig holds the OAuth app credentials registered with a provider.
// CallbackURL must match the registered redirect URI exactly, e.g.
// "http://localhost:8080/auth/github/callback".
type ProviderConfig struct {
	ClientID     string
	ClientSecret string
	CallbackURL  string
	// Timeout bounds the code exchange plus the profile fetch.
	Timeout time.Duration
}

// Enabled reports whether credentials were supplied.
func (c ProviderConfig) Enabled() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// oauthProvider is the shared Authorization Code plumbing. Concrete
// providers differ only in endpoints, scopes and profile decoding.
type oauthProvider struct {
	name        string
	config      *oauth2.Config
	userInfoURL string
	client      *http.Client
	decode      func(*http.Response) (*model.OAuthProfile, error)
}

func newOAuthProvider(name string, cfg ProviderConfig, endpoint oauth2.Endpoint, scopes []string, userInfoURL string) *oauthProvider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultOAuthTTL
	}
	return &oauthProvider{
		name: name,
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.CallbackURL,
			Scopes:       scopes,
			Endpoint:     endpoint,
		},
		userInfoURL: userInfoURL,
		client:      &http.Client{Timeout: timeout},
	}
}

func (p *oauthProvider) Name() string { return p.name }

// AuthURL returns the provider's consent page URL carrying state.
func (p *oauthProvider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// Exchange trades the authorization code for a token (server to server,
// using the client secret) and fetches the user's profile with it. Both
// HTTP calls share p.client, so neither can hang past its timeout.
func (p *oauthProvider) Exchange(ctx context.Context, code string) (*model.OAuthProfile, error) {
	ctx, cancel := context.WithTimeout(ctx, p.client.Timeout)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.client)

	tok, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("auth: exchanging %s OAuth code: %w", p.name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("auth: building %s profile request: %w", p.name, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.config.Client(ctx, tok).Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth: calling %s profile API: %w", p.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("auth: %s profile API returned status %d", p.name, resp.StatusCode)
	}

	profile, err := p.decode(resp)
	if err != nil {
		return nil, err
	}
	profile.Provider = p.name
	return profile, nil
}

// =========================================================================
// GITHUB
// =========================================================================

// githubUser is the part of GET /user we use.
// https://docs.github.com/en/rest/users/users#get-the-authenticated-user
type githubUser struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Name      string `json:"name"`
	Email     string `json:"email"` // empty when the user hides it
	AvatarURL string `json:"avatar_url"`
}

// NewGitHubProvider requests read:user and user:email.
func NewGitHubProvider(cfg ProviderConfig) Provider {
	p := newOAuthProvider(ProviderGitHub, cfg, github.Endpoint, []string{"read:user", "user:email"}, githubUserURL)
	p.decode = decodeGitHubUser
	return p
}

func decodeGitHubUser(resp *http.Response) (*model.OAuthProfile, error) {
	var u githubUser
	if err := json.NewDecoder(resp.Body).Decode(&u); err != nil {
		return nil, fmt.Errorf("auth: decoding GitHub /user response: %w", err)
	}
	if u.ID == 0 || u.Login == "" {
		return nil, fmt.Errorf("auth: GitHub returned an invalid user (id=%d)", u.ID)
	}
	return &model.OAuthProfile{
		ProviderID:  strconv.FormatInt(u.ID, 10),
		Login:       u.Login,
		Email:       u.Email,
		DisplayName: u.Name,
		AvatarURL:   u.AvatarURL,
	}, nil
}

// =========================================================================
// GOOGLE
// =========================================================================

// googleUser is the OpenID Connect userinfo payload.
type googleUser struct {
	Sub     string `json:"sub"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

// NewGoogleProvider requests the OpenID profile and email scopes.
func NewGoogleProvider(cfg ProviderConfig) Provider {
	p := newOAuthProvider(ProviderGoogle, cfg, google.Endpoint, []string{"openid", "email", "profile"}, googleUserURL)
	p.decode = decodeGoogleUser
	return p
}

func decodeGoogleUser(resp *http.Response) (*model.OAuthProfile, error) {
	var u googleUser
	if err := json.NewDecoder(resp.Body).Decode(&u); err != nil {
		return nil, fmt.Errorf("auth: decoding Google userinfo response: %w", err)
	}
	if u.Sub == "" {
		return nil, fmt.Errorf("auth: Google returned a profile without a subject")
	}
	return &model.OAuthProfile{
		ProviderID:  u.Sub,
		Email:       u.Email,
		DisplayName: u.Name,
		AvatarURL:   u.Picture,
	}, nil
}
