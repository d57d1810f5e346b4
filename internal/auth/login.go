package auth

import (
	"errors"
	"strings"
)

// LoginKind says which unique column a LoginField is matched against.
type LoginKind int

const (
	LoginByUsername LoginKind = iota
	LoginByEmail
)

func (k LoginKind) String() string {
	if k == LoginByEmail {
		return "email"
	}
	return "username"
}

// LoginField is the user-typed identifier on the login form, tagged with
// the kind of identity it names.
type LoginField struct {
	Kind  LoginKind
	Value string
}

// ErrEmptyLogin is returned by ClassifyLogin for blank input.
var ErrEmptyLogin = errors.New("auth: login field is empty")

// ClassifyLogin decides whether raw is an email address or a username.
// Usernames may not contain '@' (registration enforces it), so the presence
// of '@' is decisive. Emails are lower-cased to match how they are stored.
func ClassifyLogin(raw string) (LoginField, error) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return LoginField{}, ErrEmptyLogin
	}
	if strings.Contains(v, "@") {
		return LoginField{Kind: LoginByEmail, Value: strings.ToLower(v)}, nil
	}
	return LoginField{Kind: LoginByUsername, Value: v}, nil
}
