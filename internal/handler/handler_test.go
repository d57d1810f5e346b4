package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strconv"
	"testing"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/require"

	"github.com/sakif/bioqr/internal/auth"
	"github.com/sakif/bioqr/internal/logging"
	"github.com/sakif/bioqr/internal/model"
	"github.com/sakif/bioqr/internal/qrcode"
	"github.com/sakif/bioqr/internal/repository/sqldb"
	"github.com/sakif/bioqr/internal/service"
	"github.com/sakif/bioqr/internal/storage"
)

const (
	testBaseURL     = "http://api.test"
	testFrontendURL = "http://frontend.test"
	testPassword    = "secret123"
)

// =========================================================================
// TEST ENVIRONMENT
// =========================================================================

// envOptions tweaks newTestEnv.
type envOptions struct {
	hideLoginFailures bool
	maxUploadBytes    int64
}

// testEnv is the full handler stack on an in-memory SQLite database and a
// temporary blob directory, routed like the real server minus rate limits.
type testEnv struct {
	t        *testing.T
	router   chi.Router
	db       *sqldb.DB
	tokens   *auth.TokenService
	provider *fakeProvider
}

func newTestEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()
	ctx := context.Background()
	logger := logging.Discard()

	db, err := sqldb.Open(ctx, sqldb.DialectSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	blobs, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)

	tokens, err := auth.NewTokenService(auth.TokenConfig{
		AccessSecret:  "handler-test-access-secret-0001",
		RefreshSecret: "handler-test-refresh-secret-002",
	})
	require.NoError(t, err)

	credentials := service.NewCredentialService(db, auth.NewPasswordServiceForTest(4), logger)
	sessions := service.NewSessionService(db, tokens, logger)
	files := service.NewFileService(db, blobs, opts.maxUploadBytes, 0, logger)
	qr := service.NewQRService(db, db, files, qrcode.NewRenderer(64), service.QRConfig{BaseURL: testBaseURL}, logger)

	provider := &fakeProvider{name: auth.ProviderGitHub}

	authHandler := NewAuthHandler(credentials, sessions, !opts.hideLoginFailures, logger)
	oauthHandler := NewOAuthHandler([]auth.Provider{provider}, credentials, sessions, testFrontendURL, false, logger)
	fileHandler := NewFileHandler(files, logger)
	qrHandler := NewQRHandler(qr, logger)
	healthHandler := NewHealthHandler(db, testStart, logger)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Get("/health", healthHandler.HandleHealth)
	r.Get("/auth/{provider}", oauthHandler.HandleBegin)
	r.Get("/auth/{provider}/callback", oauthHandler.HandleCallback)
	r.Get("/access-file/{token}", qrHandler.HandleRedeem)
	r.Post("/api/auth/register", authHandler.HandleRegister)
	r.Post("/api/auth/login", authHandler.HandleLogin)
	r.Post("/api/auth/refresh", authHandler.HandleRefresh)
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(tokens))
		r.Post("/api/auth/logout", authHandler.HandleLogout)
		r.Get("/api/auth/me", authHandler.HandleMe)
		r.Get("/api/auth/session", authHandler.HandleSession)
		r.Post("/api/files", fileHandler.HandleUpload)
		r.Get("/api/files/{fileID}/download", fileHandler.HandleDownload)
		r.Delete("/api/files/{fileID}", fileHandler.HandleDelete)
		r.Get("/api/users/{userID}/files", fileHandler.HandleList)
		r.Post("/api/qr", qrHandler.HandleIssue)
	})

	return &testEnv{t: t, router: r, db: db, tokens: tokens, provider: provider}
}

// do sends a request with an optional bearer token.
func (e *testEnv) do(method, path string, body io.Reader, token string, header http.Header) *httptest.ResponseRecorder {
	e.t.Helper()
	req := httptest.NewRequest(method, path, body)
	for k, v := range header {
		req.Header[k] = v
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

// doJSON marshals body (unless nil) and sends it.
func (e *testEnv) doJSON(method, path string, body any, token string) *httptest.ResponseRecorder {
	e.t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(e.t, err)
		r = bytes.NewReader(b)
	}
	return e.do(method, path, r, token, http.Header{"Content-Type": {"application/json"}})
}

// session is a logged-in user.
type session struct {
	User   model.User
	Tokens service.TokenPair
}

// register creates a local account for name with testPassword.
func (e *testEnv) register(name string) model.User {
	e.t.Helper()
	rec := e.doJSON(http.MethodPost, "/api/auth/register", map[string]string{
		"first_name": "Test",
		"last_name":  name,
		"username":   name,
		"email":      name + "@x.com",
		"password":   testPassword,
	}, "")
	require.Equal(e.t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp RegisterResponse
	decode(e.t, rec, &resp)
	return *resp.User
}

// login signs name in and returns the session.
func (e *testEnv) login(name string) session {
	e.t.Helper()
	rec := e.doJSON(http.MethodPost, "/api/auth/login", map[string]string{
		"loginField": name,
		"password":   testPassword,
	}, "")
	require.Equal(e.t, http.StatusOK, rec.Code, rec.Body.String())

	var resp LoginResponse
	decode(e.t, rec, &resp)
	return session{User: *resp.User, Tokens: *resp.Tokens}
}

func (e *testEnv) registerAndLogin(name string) session {
	e.t.Helper()
	e.register(name)
	return e.login(name)
}

// upload posts data as multipart field "file".
func (e *testEnv) upload(token, filename, contentType string, data []byte) *httptest.ResponseRecorder {
	e.t.Helper()
	body, ct := multipartBody(e.t, "file", filename, contentType, data)
	return e.do(http.MethodPost, "/api/files", body, token, http.Header{"Content-Type": {ct}})
}

// uploadOK uploads and returns the stored file's id.
func (e *testEnv) uploadOK(token, filename string, data []byte) int64 {
	e.t.Helper()
	rec := e.upload(token, filename, "text/plain", data)
	require.Equal(e.t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp fileUploadedResponse
	decode(e.t, rec, &resp)
	return resp.File.ID
}

func multipartBody(t *testing.T, field, filename, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="`+field+`"; filename="`+filename+`"`)
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	part, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dst), rec.Body.String())
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	decode(t, rec, &resp)
	return resp
}

func itoa(n int64) string { return strconv.FormatInt(n, 10) }

// =========================================================================
// FAKE OAUTH PROVIDER
// =========================================================================

type fakeProvider struct {
	name    string
	profile *model.OAuthProfile
	err     error
	codes   []string
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) AuthURL(state string) string {
	return "https://provider.test/authorize?state=" + state
}

func (p *fakeProvider) Exchange(_ context.Context, code string) (*model.OAuthProfile, error) {
	p.codes = append(p.codes, code)
	if p.err != nil {
		return nil, p.err
	}
	if p.profile == nil {
		return nil, errors.New("no profile configured")
	}
	cp := *p.profile
	cp.Provider = p.name
	return &cp, nil
}
