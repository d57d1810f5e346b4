package sqldb

import (
	"database/sql"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/sakif/bioqr/internal/apperror"
)

const pgUniqueViolation = "23505"

// uniqueViolation reports whether err is a unique-constraint failure and,
// if so, which constraint or column list the engine named.
func uniqueViolation(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return pgErr.ConstraintName, true
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		// "constraint failed: UNIQUE constraint failed: users.email (2067)"
		msg := liteErr.Error()
		code := liteErr.Code()
		if code == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
			(code&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(msg, "UNIQUE")) {
			return msg, true
		}
	}
	return "", false
}

// userConflict turns a users-table unique violation into the matching
// apperror.Conflict. Non-violations are returned unchanged.
func userConflict(err error) error {
	detail, ok := uniqueViolation(err)
	if !ok {
		return err
	}
	switch {
	case strings.Contains(detail, "email"):
		return apperror.Conflict("email", "Email already registered")
	case strings.Contains(detail, "username"):
		return apperror.Conflict("username", "Username already taken")
	default:
		return apperror.Conflict("oauth", "OAuth identity already linked")
	}
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
