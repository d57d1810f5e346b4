package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/xid"
)

// Intent is what the user asked for when starting an OAuth handshake. It
// travels inside the OAuth state parameter and comes back untouched on the
// callback, so no server-side session or Referer inspection is needed.
type Intent string

const (
	IntentLogin    Intent = "login"
	IntentRegister Intent = "register"
)

var ErrInvalidState = errors.New("auth: invalid OAuth state")

// ParseIntent maps the ?intent= query value to an Intent. Blank means login.
func ParseIntent(s string) (Intent, error) {
	switch Intent(strings.ToLower(strings.TrimSpace(s))) {
	case "", IntentLogin:
		return IntentLogin, nil
	case IntentRegister:
		return IntentRegister, nil
	}
	return "", fmt.Errorf("auth: unknown OAuth intent %q", s)
}

// NewState builds an OAuth state value "<intent>.<nonce>". The nonce (an
// xid) is what makes the value unguessable; the caller stores the whole
// string in a short-lived cookie and compares it on callback.
func NewState(intent Intent) string {
	return string(intent) + "." + xid.New().String()
}

// ParseState extracts the intent from a state value produced by NewState.
func ParseState(state string) (Intent, error) {
	prefix, nonce, ok := strings.Cut(state, ".")
	if !ok || nonce == "" {
		return "", ErrInvalidState
	}
	if _, err := xid.FromString(nonce); err != nil {
		return "", ErrInvalidState
	}
	switch Intent(prefix) {
	case IntentLogin, IntentRegister:
		return Intent(prefix), nil
	}
	return "", ErrInvalidState
}
