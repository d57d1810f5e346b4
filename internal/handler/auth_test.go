package handler

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/bioqr/internal/service"
)

// =========================================================================
// REGISTER
// =========================================================================

func TestRegister(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	rec := env.doJSON(http.MethodPost, "/api/auth/register", map[string]string{
		"first_name": "Alice",
		"last_name":  "Liddell",
		"username":   "alice",
		"email":      "Alice@X.com",
		"password":   testPassword,
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp RegisterResponse
	decode(t, rec, &resp)
	assert.True(t, resp.Success)
	assert.Equal(t, "User registered successfully!", resp.Message)
	assert.Equal(t, "alice", resp.User.Username)
	assert.Equal(t, "alice@x.com", resp.User.Email)
	assert.NotContains(t, rec.Body.String(), "password", "hash must never be serialized")
}

func TestRegister_Errors(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.register("alice")

	tests := []struct {
		name      string
		body      any
		wantCode  int
		wantError string
		wantField string
	}{
		{
			name:      "duplicate username",
			body:      map[string]string{"first_name": "A", "last_name": "B", "username": "alice", "email": "other@x.com", "password": "pw"},
			wantCode:  http.StatusConflict,
			wantError: "conflict",
			wantField: "username",
		},
		{
			name:      "duplicate email",
			body:      map[string]string{"first_name": "A", "last_name": "B", "username": "alice2", "email": "alice@x.com", "password": "pw"},
			wantCode:  http.StatusConflict,
			wantError: "conflict",
			wantField: "email",
		},
		{
			name:      "missing field",
			body:      map[string]string{"first_name": "A", "username": "bob", "email": "bob@x.com", "password": "pw"},
			wantCode:  http.StatusBadRequest,
			wantError: "validation_error",
			wantField: "last_name",
		},
		{
			name:      "empty body",
			body:      nil,
			wantCode:  http.StatusBadRequest,
			wantError: "validation_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.doJSON(http.MethodPost, "/api/auth/register", tt.body, "")
			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())

			resp := decodeError(t, rec)
			assert.False(t, resp.Success)
			assert.Equal(t, tt.wantError, resp.Error)
			assert.Equal(t, tt.wantField, resp.Field)
		})
	}
}

func TestRegister_IgnoresExtraFormFields(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	rec := env.doJSON(http.MethodPost, "/api/auth/register", map[string]string{
		"first_name":      "Bob",
		"last_name":       "Builder",
		"username":        "bob",
		"email":           "bob@x.com",
		"password":        testPassword,
		"confirmPassword": testPassword,
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp RegisterResponse
	decode(t, rec, &resp)
	assert.Equal(t, "bob", resp.User.Username)
}

func TestRegister_MalformedJSON(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	rec := env.do(http.MethodPost, "/api/auth/register", strings.NewReader("{not json"), "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid JSON body", decodeError(t, rec).Message)
}

// =========================================================================
// LOGIN
// =========================================================================

func TestLogin_ByUsernameAndEmail(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	user := env.register("alice")

	for _, field := range []string{"alice", "alice@x.com", "ALICE@X.COM"} {
		t.Run(field, func(t *testing.T) {
			rec := env.doJSON(http.MethodPost, "/api/auth/login", map[string]string{
				"loginField": field,
				"password":   testPassword,
			}, "")
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

			var resp LoginResponse
			decode(t, rec, &resp)
			assert.Equal(t, "Login successful", resp.Message)
			assert.Equal(t, user.ID, resp.User.ID)
			assert.EqualValues(t, 900, resp.Tokens.ExpiresIn)

			id, err := env.tokens.ValidateAccess(resp.Tokens.AccessToken)
			require.NoError(t, err)
			assert.Equal(t, user.ID, id)
		})
	}
}

func TestLogin_Failures(t *testing.T) {
	tests := []struct {
		name        string
		hide        bool
		loginField  string
		password    string
		wantCode    int
		wantError   string
		wantMessage string
	}{
		{"wrong password", false, "alice@x.com", "wrongpw", http.StatusUnauthorized, "invalid_credentials", "Invalid credentials"},
		{"unknown username revealed", false, "nobody", testPassword, http.StatusNotFound, "not_found", "No account found with this username"},
		{"unknown email revealed", false, "nobody@x.com", testPassword, http.StatusNotFound, "not_found", "No account found with this email address"},
		{"unknown username hidden", true, "nobody", testPassword, http.StatusUnauthorized, "invalid_credentials", "Invalid credentials"},
		{"wrong password hidden", true, "alice", "wrongpw", http.StatusUnauthorized, "invalid_credentials", "Invalid credentials"},
		{"blank login field", false, "  ", testPassword, http.StatusBadRequest, "validation_error", "Email or username is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, envOptions{hideLoginFailures: tt.hide})
			env.register("alice")

			rec := env.doJSON(http.MethodPost, "/api/auth/login", map[string]string{
				"loginField": tt.loginField,
				"password":   tt.password,
			}, "")
			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())

			resp := decodeError(t, rec)
			assert.Equal(t, tt.wantError, resp.Error)
			assert.Equal(t, tt.wantMessage, resp.Message)
			assert.NotContains(t, rec.Body.String(), "Token")
		})
	}
}

// =========================================================================
// REFRESH & LOGOUT
// =========================================================================

func TestRefresh_RotatesOnce(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	s := env.registerAndLogin("alice")

	rec := env.doJSON(http.MethodPost, "/api/auth/refresh", map[string]string{"refreshToken": s.Tokens.RefreshToken}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp TokensResponse
	decode(t, rec, &resp)
	assert.NotEqual(t, s.Tokens.RefreshToken, resp.Tokens.RefreshToken)

	rec = env.doJSON(http.MethodPost, "/api/auth/refresh", map[string]string{"refreshToken": s.Tokens.RefreshToken}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid_refresh_token", decodeError(t, rec).Error)

	rec = env.doJSON(http.MethodPost, "/api/auth/refresh", map[string]string{"refreshToken": resp.Tokens.RefreshToken}, "")
	assert.Equal(t, http.StatusOK, rec.Code, "the rotated token works")
}

func TestRefresh_ConcurrentCallersShareOneRotation(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	s := env.registerAndLogin("alice")

	const n = 5
	var wg sync.WaitGroup
	codes := make([]int, n)
	pairs := make([]service.TokenPair, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := env.doJSON(http.MethodPost, "/api/auth/refresh", map[string]string{"refreshToken": s.Tokens.RefreshToken}, "")
			codes[i] = rec.Code
			if rec.Code == http.StatusOK {
				var resp TokensResponse
				if decodeErr := json.Unmarshal(rec.Body.Bytes(), &resp); decodeErr == nil {
					pairs[i] = *resp.Tokens
				}
			}
		}()
	}
	wg.Wait()

	// Every caller either joined the single rotation and got its result, or
	// arrived after it finished and found the old token spent.
	winners := map[string]bool{}
	for i, code := range codes {
		switch code {
		case http.StatusOK:
			winners[pairs[i].RefreshToken] = true
		case http.StatusUnauthorized:
		default:
			t.Fatalf("caller %d got status %d", i, code)
		}
	}
	assert.Len(t, winners, 1, "exactly one new refresh token may exist")
}

func TestRefresh_Garbage(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	rec := env.doJSON(http.MethodPost, "/api/auth/refresh", map[string]string{"refreshToken": "garbage"}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogout_SingleSession(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.register("alice")
	phone := env.login("alice")
	laptop := env.login("alice")

	rec := env.doJSON(http.MethodPost, "/api/auth/logout", map[string]string{"refreshToken": phone.Tokens.RefreshToken}, phone.Tokens.AccessToken)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.doJSON(http.MethodPost, "/api/auth/refresh", map[string]string{"refreshToken": phone.Tokens.RefreshToken}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.doJSON(http.MethodPost, "/api/auth/refresh", map[string]string{"refreshToken": laptop.Tokens.RefreshToken}, "")
	assert.Equal(t, http.StatusOK, rec.Code, "other devices stay signed in")
}

func TestLogout_AllSessions(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.register("alice")
	phone := env.login("alice")
	laptop := env.login("alice")

	// No body at all means every device.
	rec := env.do(http.MethodPost, "/api/auth/logout", nil, phone.Tokens.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp MessageResponse
	decode(t, rec, &resp)
	assert.Equal(t, "Logged out successfully", resp.Message)

	for _, s := range []session{phone, laptop} {
		rec = env.doJSON(http.MethodPost, "/api/auth/refresh", map[string]string{"refreshToken": s.Tokens.RefreshToken}, "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}
}

func TestLogout_RequiresAccessToken(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	rec := env.doJSON(http.MethodPost, "/api/auth/logout", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

// =========================================================================
// ME & SESSION
// =========================================================================

func TestMeAndSession(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	s := env.registerAndLogin("alice")

	rec := env.do(http.MethodGet, "/api/auth/me", nil, s.Tokens.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var me UserResponse
	decode(t, rec, &me)
	assert.True(t, me.Success)
	assert.Equal(t, "alice", me.User.Username)

	rec = env.do(http.MethodGet, "/api/auth/session", nil, s.Tokens.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var sess SessionResponse
	decode(t, rec, &sess)
	assert.True(t, sess.Valid)
	assert.Equal(t, s.User.ID, sess.User.ID)
}

func TestMe_Unauthenticated(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	s := env.registerAndLogin("alice")

	for name, token := range map[string]string{
		"no token":      "",
		"garbage":       "not-a-jwt",
		"refresh token": s.Tokens.RefreshToken,
	} {
		t.Run(name, func(t *testing.T) {
			rec := env.do(http.MethodGet, "/api/auth/me", nil, token, nil)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestMe_UserGone(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	token, _, err := env.tokens.GenerateAccess(999)
	require.NoError(t, err)

	rec := env.do(http.MethodGet, "/api/auth/me", nil, token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
