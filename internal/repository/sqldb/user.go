package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/sakif/bioqr/internal/apperror"
	"github.com/sakif/bioqr/internal/model"
	"github.com/sakif/bioqr/internal/repository"
)

// compile-time check that *DB implements repository.UserRepository
var _ repository.UserRepository = (*DB)(nil)

const userColumns = `id, first_name, last_name, username, email, password_hash,
	oauth_provider, oauth_id, avatar_url, created_at, updated_at`

// CreateUser inserts a new user. Duplicate email, username or OAuth
// identity comes back as apperror.ErrConflict naming the field.
func (db *DB) CreateUser(ctx context.Context, u *model.User) error {
	now := utc(time.Now())
	u.CreatedAt = now
	u.UpdatedAt = now

	err := db.conn.QueryRowContext(ctx, db.rebind(`
		INSERT INTO users (first_name, last_name, username, email, password_hash,
		                   oauth_provider, oauth_id, avatar_url, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`),
		u.FirstName,
		u.LastName,
		u.Username,
		u.Email,
		nullable(u.PasswordHash),
		nullable(u.OAuthProvider),
		nullable(u.OAuthID),
		nullable(u.AvatarURL),
		u.CreatedAt,
		u.UpdatedAt,
	).Scan(&u.ID)
	if err != nil {
		if _, dup := uniqueViolation(err); dup {
			return userConflict(err)
		}
		return fmt.Errorf("sqldb: inserting user %q: %w", u.Username, err)
	}
	return nil
}

// GetUserByID retrieves a user by internal ID.
func (db *DB) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	return db.getUser(ctx, "id", strconv.FormatInt(id, 10), `WHERE id = ?`, id)
}

func (db *DB) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return db.getUser(ctx, "email", email, `WHERE email = ?`, email)
}

func (db *DB) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	return db.getUser(ctx, "username", username, `WHERE username = ?`, username)
}

func (db *DB) GetUserByOAuth(ctx context.Context, provider, providerID string) (*model.User, error) {
	return db.getUser(ctx, provider+" identity", providerID,
		`WHERE oauth_provider = ? AND oauth_id = ?`, provider, providerID)
}

func (db *DB) getUser(ctx context.Context, what, key, where string, args ...any) (*model.User, error) {
	row := db.conn.QueryRowContext(ctx, db.rebind(`SELECT `+userColumns+` FROM users `+where), args...)

	u, err := scanUser(row)
	if err != nil {
		if isNoRows(err) {
			return nil, apperror.NotFound("user", key)
		}
		return nil, fmt.Errorf("sqldb: getting user by %s: %w", what, err)
	}
	return u, nil
}

func scanUser(row *sql.Row) (*model.User, error) {
	var (
		u                                   model.User
		hash, provider, oauthID, avatarURL sql.NullString
	)
	err := row.Scan(
		&u.ID,
		&u.FirstName,
		&u.LastName,
		&u.Username,
		&u.Email,
		&hash,
		&provider,
		&oauthID,
		&avatarURL,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	u.PasswordHash = hash.String
	u.OAuthProvider = provider.String
	u.OAuthID = oauthID.String
	u.AvatarURL = avatarURL.String
	return &u, nil
}
