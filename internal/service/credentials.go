// Package service holds the business rules of BioQR. Services sit between
// the HTTP handlers and the repositories:
//
//	handler (HTTP) → service (rules) → repository (DB)
//	                              ↘ storage (blobs), auth (tokens, hashing)
//
// Services never see an *http.Request. They return *apperror.AppError for
// anything the client caused and wrapped errors for everything else.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/sakif/bioqr/internal/apperror"
	"github.com/sakif/bioqr/internal/auth"
	"github.com/sakif/bioqr/internal/model"
	"github.com/sakif/bioqr/internal/repository"
)

// CredentialService owns identities: local registration and login, and the
// linking of OAuth identities to user records.
type CredentialService struct {
	users     repository.UserRepository
	passwords *auth.PasswordService
	logger    *slog.Logger
	now       func() time.Time
}

func NewCredentialService(users repository.UserRepository, passwords *auth.PasswordService, logger *slog.Logger) *CredentialService {
	return &CredentialService{
		users:     users,
		passwords: passwords,
		logger:    logger,
		now:       time.Now,
	}
}

// RegisterInput is a local sign-up request. Every field is required.
type RegisterInput struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	Password  string `json:"password"`
}

func (in *RegisterInput) normalize() {
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
}

func (in *RegisterInput) validate() error {
	switch {
	case in.FirstName == "":
		return apperror.ValidationFailed("first_name", "First name is required")
	case in.LastName == "":
		return apperror.ValidationFailed("last_name", "Last name is required")
	case in.Username == "":
		return apperror.ValidationFailed("username", "Username is required")
	case in.Email == "":
		return apperror.ValidationFailed("email", "Email is required")
	case in.Password == "":
		return apperror.ValidationFailed("password", "Password is required")
	}

	// A username with '@' would be classified as an email at login and could
	// never be used to sign in.
	if strings.Contains(in.Username, "@") {
		return apperror.ValidationFailed("username", "Username must not contain '@'")
	}
	if len(in.Username) > 64 {
		return apperror.ValidationFailed("username", "Username must be at most 64 characters")
	}
	if addr, err := mail.ParseAddress(in.Email); err != nil || addr.Address != in.Email {
		return apperror.ValidationFailed("email", "Invalid email format")
	}
	return nil
}

// Register creates a local account and returns it.
//
// Duplicates are checked up front so the common case gets a field-specific
// message; the unique indexes still catch a concurrent registration, and
// the repository maps that to the same Conflict.
func (s *CredentialService) Register(ctx context.Context, in RegisterInput) (*model.User, error) {
	in.normalize()
	if err := in.validate(); err != nil {
		return nil, err
	}

	if err := s.ensureFree(ctx, in.Email, in.Username); err != nil {
		return nil, err
	}

	hash, err := s.passwords.Hash(in.Password)
	if err != nil {
		if errors.Is(err, auth.ErrPasswordTooLong) {
			return nil, apperror.ValidationFailed("password", "Password must be at most 72 bytes")
		}
		return nil, fmt.Errorf("service/credentials: hashing password: %w", err)
	}

	user := &model.User{
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: hash,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("service/credentials: creating user %q: %w", in.Username, err)
	}

	s.logger.Info("user registered",
		slog.Int64("userID", user.ID),
		slog.String("username", user.Username),
	)
	return user, nil
}

func (s *CredentialService) ensureFree(ctx context.Context, email, username string) error {
	_, err := s.users.GetUserByEmail(ctx, email)
	switch {
	case err == nil:
		return apperror.Conflict("email", "Email already registered")
	case !errors.Is(err, apperror.ErrNotFound):
		return fmt.Errorf("service/credentials: checking email: %w", err)
	}

	_, err = s.users.GetUserByUsername(ctx, username)
	switch {
	case err == nil:
		return apperror.Conflict("username", "Username already taken")
	case !errors.Is(err, apperror.ErrNotFound):
		return fmt.Errorf("service/credentials: checking username: %w", err)
	}
	return nil
}

// AuthenticateLocal signs a user in with an email or username plus password.
//
// Unknown identities fail with NotFound naming the field kind; a wrong
// password (or an OAuth-only account, which has none) fails with
// InvalidCredential. Whether the HTTP layer keeps those apart is its call.
func (s *CredentialService) AuthenticateLocal(ctx context.Context, login, secret string) (*model.User, error) {
	field, err := auth.ClassifyLogin(login)
	if err != nil {
		return nil, apperror.ValidationFailed("loginField", "Email or username is required")
	}
	if secret == "" {
		return nil, apperror.ValidationFailed("password", "Password is required")
	}

	user, err := s.lookup(ctx, field)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.NotFoundMessage(field.Kind.String(), notFoundMessage(field.Kind))
		}
		return nil, fmt.Errorf("service/credentials: looking up %s: %w", field.Kind, err)
	}

	if !user.HasPassword() {
		s.logger.Info("password login attempted on OAuth-only account", slog.Int64("userID", user.ID))
		return nil, apperror.InvalidCredential()
	}
	if err := s.passwords.Verify(user.PasswordHash, secret); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			return nil, apperror.InvalidCredential()
		}
		return nil, fmt.Errorf("service/credentials: verifying password: %w", err)
	}
	return user, nil
}

// lookup dispatches on the classified field kind.
func (s *CredentialService) lookup(ctx context.Context, field auth.LoginField) (*model.User, error) {
	switch field.Kind {
	case auth.LoginByEmail:
		return s.users.GetUserByEmail(ctx, field.Value)
	default:
		return s.users.GetUserByUsername(ctx, field.Value)
	}
}

func notFoundMessage(kind auth.LoginKind) string {
	if kind == auth.LoginByEmail {
		return "No account found with this email address"
	}
	return "No account found with this username"
}

// UpsertOAuthIdentity returns the user linked to the profile's (provider,
// provider id), creating one on first sight. isNew reports whether the user
// was created by this call.
//
// An existing local account with the same email is NOT linked
// automatically: the provider's email claim is not proof of owning the
// local account, so that case is a Conflict.
func (s *CredentialService) UpsertOAuthIdentity(ctx context.Context, p *model.OAuthProfile) (user *model.User, isNew bool, err error) {
	if p == nil || p.Provider == "" || p.ProviderID == "" {
		return nil, false, fmt.Errorf("service/credentials: incomplete OAuth profile")
	}

	user, err = s.users.GetUserByOAuth(ctx, p.Provider, p.ProviderID)
	if err == nil {
		return user, false, nil
	}
	if !errors.Is(err, apperror.ErrNotFound) {
		return nil, false, fmt.Errorf("service/credentials: looking up %s identity: %w", p.Provider, err)
	}

	first, last := p.SplitName()
	user = &model.User{
		FirstName:     first,
		LastName:      last,
		Username:      oauthUsername(p, s.now()),
		Email:         oauthEmail(p),
		OAuthProvider: p.Provider,
		OAuthID:       p.ProviderID,
		AvatarURL:     p.AvatarURL,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			// Lost a race with a parallel callback for the same identity.
			if existing, lookupErr := s.users.GetUserByOAuth(ctx, p.Provider, p.ProviderID); lookupErr == nil {
				return existing, false, nil
			}
			return nil, false, err
		}
		return nil, false, fmt.Errorf("service/credentials: creating %s user: %w", p.Provider, err)
	}

	s.logger.Info("user created from OAuth",
		slog.Int64("userID", user.ID),
		slog.String("provider", p.Provider),
	)
	return user, true, nil
}

// oauthUsername is <base>_<provider>_<unixMillis>. The suffix keeps it
// unique without a lookup.
func oauthUsername(p *model.OAuthProfile, now time.Time) string {
	base := p.Login
	if base == "" && p.Email != "" {
		base, _, _ = strings.Cut(p.Email, "@")
	}
	if base == "" {
		base = p.ProviderID
	}
	base = strings.ReplaceAll(base, "@", "")
	return base + "_" + p.Provider + "_" + strconv.FormatInt(now.UnixMilli(), 10)
}

// oauthEmail falls back to a provider-local address when the provider hides
// the user's email.
func oauthEmail(p *model.OAuthProfile) string {
	if p.Email != "" {
		return strings.ToLower(p.Email)
	}
	local := p.Login
	if local == "" {
		local = p.ProviderID
	}
	return strings.ToLower(local) + "@" + p.Provider + ".local"
}

// GetUserByID returns the user for an authenticated principal.
func (s *CredentialService) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	user, err := s.users.GetUserByID(ctx, id)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("service/credentials: fetching user %d: %w", id, err)
	}
	return user, nil
}
