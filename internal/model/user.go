// Package model defines the data structures used throughout the application.
package model

import (
	"strings"
	"time"
)

// User represents an account, created either by local registration or on
// the first OAuth sign-in.
//
// Optional columns are plain strings here; an empty value is stored as NULL
// by the repository. That matters for the (oauth_provider, oauth_id) unique
// index: NULL pairs never collide, so any number of local-only accounts can
// coexist.
type User struct {
	ID            int64     `json:"id"`
	FirstName     string    `json:"firstName"`
	LastName      string    `json:"lastName"`
	Username      string    `json:"username"`
	Email         string    `json:"email"`
	PasswordHash  string    `json:"-"`
	OAuthProvider string    `json:"oauthProvider,omitempty"`
	OAuthID       string    `json:"-"`
	AvatarURL     string    `json:"avatarUrl,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// HasPassword reports whether the account can sign in with local credentials.
func (u *User) HasPassword() bool {
	return u.PasswordHash != ""
}

// OAuthProfile is the provider-verified identity handed over after a
// successful OAuth handshake.
type OAuthProfile struct {
	Provider    string
	ProviderID  string
	Login       string // provider username, when the provider has one
	Email       string
	DisplayName string
	AvatarURL   string
}

// SplitName breaks DisplayName at the first space into first and last name.
func (p OAuthProfile) SplitName() (first, last string) {
	name := strings.TrimSpace(p.DisplayName)
	if name == "" {
		return p.Login, ""
	}
	first, last, _ = strings.Cut(name, " ")
	return first, strings.TrimSpace(last)
}
