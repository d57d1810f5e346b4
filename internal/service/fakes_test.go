package service

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sakif/bioqr/internal/apperror"
	"github.com/sakif/bioqr/internal/auth"
	"github.com/sakif/bioqr/internal/logging"
	"github.com/sakif/bioqr/internal/model"
	"github.com/sakif/bioqr/internal/storage"
)

// =========================================================================
// CLOCK
// =========================================================================

// fakeClock is a test-controlled time source shared by services and the
// token service.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func testLogger() *slog.Logger { return logging.Discard() }

func newTestTokens(t *testing.T, clock *fakeClock) *auth.TokenService {
	t.Helper()
	ts, err := auth.NewTokenService(auth.TokenConfig{
		AccessSecret:  "service-test-access-secret-0001",
		RefreshSecret: "service-test-refresh-secret-002",
		Now:           clock.Now,
	})
	require.NoError(t, err)
	return ts
}

// =========================================================================
// USER REPOSITORY
// =========================================================================

// fakeUsers is an in-memory repository.UserRepository with the same
// uniqueness rules as the real schema.
type fakeUsers struct {
	mu     sync.Mutex
	byID   map[int64]*model.User
	nextID int64
	err    error // returned by every call when set
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{byID: map[int64]*model.User{}, nextID: 1}
}

func (f *fakeUsers) CreateUser(_ context.Context, u *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	for _, existing := range f.byID {
		switch {
		case existing.Email == u.Email:
			return apperror.Conflict("email", "Email already registered")
		case existing.Username == u.Username:
			return apperror.Conflict("username", "Username already taken")
		case u.OAuthProvider != "" && existing.OAuthProvider == u.OAuthProvider && existing.OAuthID == u.OAuthID:
			return apperror.Conflict("oauth", "OAuth identity already linked")
		}
	}
	u.ID = f.nextID
	f.nextID++
	u.CreatedAt = time.Now().UTC()
	u.UpdatedAt = u.CreatedAt
	stored := *u
	f.byID[u.ID] = &stored
	return nil
}

func (f *fakeUsers) find(match func(*model.User) bool, key string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	for _, u := range f.byID {
		if match(u) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, apperror.NotFound("user", key)
}

func (f *fakeUsers) GetUserByID(_ context.Context, id int64) (*model.User, error) {
	return f.find(func(u *model.User) bool { return u.ID == id }, strconv.FormatInt(id, 10))
}

func (f *fakeUsers) GetUserByEmail(_ context.Context, email string) (*model.User, error) {
	return f.find(func(u *model.User) bool { return u.Email == email }, email)
}

func (f *fakeUsers) GetUserByUsername(_ context.Context, username string) (*model.User, error) {
	return f.find(func(u *model.User) bool { return u.Username == username }, username)
}

func (f *fakeUsers) GetUserByOAuth(_ context.Context, provider, id string) (*model.User, error) {
	return f.find(func(u *model.User) bool { return u.OAuthProvider == provider && u.OAuthID == id }, id)
}

// =========================================================================
// SESSION REPOSITORY
// =========================================================================

type fakeSessions struct {
	mu      sync.Mutex
	rows    []*model.Session
	rotates int // successful RotateSession calls
	// rotateGate, when set, is received from before each rotation so a test
	// can hold rotations in flight.
	rotateGate chan struct{}
}

func newFakeSessions() *fakeSessions { return &fakeSessions{} }

func (f *fakeSessions) CreateSession(_ context.Context, s *model.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s.ID = int64(len(f.rows) + 1)
	s.Active = true
	cp := *s
	f.rows = append(f.rows, &cp)
	return nil
}

func (f *fakeSessions) GetSessionByToken(_ context.Context, token string) (*model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.rows {
		if s.RefreshToken == token {
			cp := *s
			return &cp, nil
		}
	}
	return nil, apperror.NotFound("session", "for refresh token")
}

func (f *fakeSessions) RotateSession(_ context.Context, oldToken, newToken string, newExpiry, now time.Time) error {
	if f.rotateGate != nil {
		<-f.rotateGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.rows {
		if s.RefreshToken == oldToken && s.Usable(now) {
			s.RefreshToken = newToken
			s.ExpiresAt = newExpiry
			f.rotates++
			return nil
		}
	}
	return apperror.NotFound("session", "for refresh token")
}

func (f *fakeSessions) DeactivateSession(_ context.Context, userID int64, token string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, s := range f.rows {
		if s.UserID == userID && s.RefreshToken == token && s.Active {
			s.Active = false
			n++
		}
	}
	return n, nil
}

func (f *fakeSessions) DeactivateAllSessions(_ context.Context, userID int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, s := range f.rows {
		if s.UserID == userID && s.Active {
			s.Active = false
			n++
		}
	}
	return n, nil
}

func (f *fakeSessions) DeleteStaleSessions(_ context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.rows[:0]
	var n int64
	for _, s := range f.rows {
		if s.Usable(now) {
			kept = append(kept, s)
			continue
		}
		n++
	}
	f.rows = kept
	return n, nil
}

func (f *fakeSessions) activeCount(userID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.rows {
		if s.UserID == userID && s.Active {
			n++
		}
	}
	return n
}

// =========================================================================
// FILE REPOSITORY
// =========================================================================

type fakeFiles struct {
	mu     sync.Mutex
	rows   map[int64]*model.File
	nextID int64
	err    error // returned by CreateFile when set
	qr     *fakeQRTokens
}

func newFakeFiles() *fakeFiles { return &fakeFiles{rows: map[int64]*model.File{}, nextID: 1} }

func (f *fakeFiles) CreateFile(_ context.Context, file *model.File) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	file.ID = f.nextID
	f.nextID++
	cp := *file
	f.rows[file.ID] = &cp
	return nil
}

func (f *fakeFiles) GetFileForOwner(_ context.Context, id, ownerID int64) (*model.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if file, ok := f.rows[id]; ok && file.UserID == ownerID {
		cp := *file
		return &cp, nil
	}
	return nil, apperror.NotFound("file", strconv.FormatInt(id, 10))
}

func (f *fakeFiles) GetFileByID(_ context.Context, id int64) (*model.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if file, ok := f.rows[id]; ok {
		cp := *file
		return &cp, nil
	}
	return nil, apperror.NotFound("file", strconv.FormatInt(id, 10))
}

func (f *fakeFiles) ListFilesByOwner(_ context.Context, ownerID int64) ([]model.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []model.File{}
	for _, file := range f.rows {
		if file.UserID == ownerID {
			out = append(out, *file)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UploadedAt.Equal(out[j].UploadedAt) {
			return out[i].UploadedAt.After(out[j].UploadedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (f *fakeFiles) DeleteFileForOwner(_ context.Context, id, ownerID int64) (*model.File, error) {
	f.mu.Lock()
	file, ok := f.rows[id]
	if !ok || file.UserID != ownerID {
		f.mu.Unlock()
		return nil, apperror.NotFound("file", strconv.FormatInt(id, 10))
	}
	delete(f.rows, id)
	f.mu.Unlock()

	if f.qr != nil {
		f.qr.cascade(id)
	}
	return file, nil
}

// =========================================================================
// QR TOKEN REPOSITORY
// =========================================================================

type fakeQRTokens struct {
	mu   sync.Mutex
	rows map[string]*model.QRToken
}

func newFakeQRTokens() *fakeQRTokens { return &fakeQRTokens{rows: map[string]*model.QRToken{}} }

func (f *fakeQRTokens) CreateQRToken(_ context.Context, q *model.QRToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, dup := f.rows[q.Token]; dup {
		return apperror.Conflict("token", "QR token already exists")
	}
	q.ID = int64(len(f.rows) + 1)
	cp := *q
	f.rows[q.Token] = &cp
	return nil
}

func (f *fakeQRTokens) GetValidQRToken(_ context.Context, token string, now time.Time) (*model.QRToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if q, ok := f.rows[token]; ok && q.Valid(now) {
		cp := *q
		return &cp, nil
	}
	return nil, apperror.NotFound("QR token", "for token")
}

func (f *fakeQRTokens) DeleteExpiredQRTokens(_ context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for tok, q := range f.rows {
		if !q.Valid(now) {
			delete(f.rows, tok)
			n++
		}
	}
	return n, nil
}

func (f *fakeQRTokens) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

func (f *fakeQRTokens) cascade(fileID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for tok, q := range f.rows {
		if q.FileID == fileID {
			delete(f.rows, tok)
		}
	}
}

// =========================================================================
// BLOB STORE
// =========================================================================

type fakeBlobs struct {
	mu        sync.Mutex
	objects   map[string][]byte
	putErr    error
	deleteErr error
	existsErr error
	opens     int
	// block makes Put, Open and Exists wait for ctx to end, simulating a
	// hung backend.
	block bool
}

var _ storage.BlobStore = (*fakeBlobs)(nil)

func newFakeBlobs() *fakeBlobs { return &fakeBlobs{objects: map[string][]byte{}} }

func (f *fakeBlobs) Put(ctx context.Context, key string, r io.Reader, _ int64, _ string) error {
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if f.putErr != nil {
		return f.putErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = data
	return nil
}

func (f *fakeBlobs) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens++
	data, ok := f.objects[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeBlobs) Delete(_ context.Context, key string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	return nil
}

func (f *fakeBlobs) Exists(ctx context.Context, key string) (bool, error) {
	if f.block {
		<-ctx.Done()
		return false, ctx.Err()
	}
	if f.existsErr != nil {
		return false, f.existsErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[key]
	return ok, nil
}

func (f *fakeBlobs) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.objects)
}
