package sqldb

import (
	"context"
	"fmt"
	"strconv"

	"github.com/sakif/bioqr/internal/apperror"
	"github.com/sakif/bioqr/internal/model"
	"github.com/sakif/bioqr/internal/repository"
)

var _ repository.FileRepository = (*DB)(nil)

const fileColumns = `id, user_id, filename, mimetype, storage_key, size, uploaded_at`

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanFile(s scanner) (*model.File, error) {
	var f model.File
	err := s.Scan(&f.ID, &f.UserID, &f.Filename, &f.MimeType, &f.StorageKey, &f.Size, &f.UploadedAt)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (db *DB) CreateFile(ctx context.Context, f *model.File) error {
	f.UploadedAt = utc(f.UploadedAt)

	err := db.conn.QueryRowContext(ctx, db.rebind(`
		INSERT INTO files (user_id, filename, mimetype, storage_key, size, uploaded_at)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id`),
		f.UserID, f.Filename, f.MimeType, f.StorageKey, f.Size, f.UploadedAt,
	).Scan(&f.ID)
	if err != nil {
		if _, dup := uniqueViolation(err); dup {
			return apperror.Conflict("storage_key", "File already stored under this key")
		}
		return fmt.Errorf("sqldb: inserting file %q: %w", f.Filename, err)
	}
	return nil
}

func (db *DB) GetFileForOwner(ctx context.Context, id, ownerID int64) (*model.File, error) {
	row := db.conn.QueryRowContext(ctx, db.rebind(`
		SELECT `+fileColumns+` FROM files WHERE id = ? AND user_id = ?`),
		id, ownerID,
	)
	f, err := scanFile(row)
	if err != nil {
		if isNoRows(err) {
			return nil, apperror.NotFound("file", strconv.FormatInt(id, 10))
		}
		return nil, fmt.Errorf("sqldb: getting file %d: %w", id, err)
	}
	return f, nil
}

// GetFileByID ignores ownership. Only QR redemption uses it, after the token
// itself has been checked.
func (db *DB) GetFileByID(ctx context.Context, id int64) (*model.File, error) {
	row := db.conn.QueryRowContext(ctx, db.rebind(`SELECT `+fileColumns+` FROM files WHERE id = ?`), id)
	f, err := scanFile(row)
	if err != nil {
		if isNoRows(err) {
			return nil, apperror.NotFound("file", strconv.FormatInt(id, 10))
		}
		return nil, fmt.Errorf("sqldb: getting file %d: %w", id, err)
	}
	return f, nil
}

// ListFilesByOwner returns the owner's files, newest first. The id tiebreak
// keeps the order stable for uploads within the same instant.
func (db *DB) ListFilesByOwner(ctx context.Context, ownerID int64) ([]model.File, error) {
	rows, err := db.conn.QueryContext(ctx, db.rebind(`
		SELECT `+fileColumns+` FROM files
		WHERE user_id = ?
		ORDER BY uploaded_at DESC, id DESC`),
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqldb: listing files for user %d: %w", ownerID, err)
	}
	defer rows.Close()

	// Non-nil so the JSON response is [] rather than null.
	files := []model.File{}
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("sqldb: scanning file row: %w", err)
		}
		files = append(files, *f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqldb: iterating file rows: %w", err)
	}
	return files, nil
}

// DeleteFileForOwner removes the row in one statement and hands back what
// was deleted, so the caller knows which blob to remove. QR tokens pointing
// at the file go with it (ON DELETE CASCADE).
func (db *DB) DeleteFileForOwner(ctx context.Context, id, ownerID int64) (*model.File, error) {
	row := db.conn.QueryRowContext(ctx, db.rebind(`
		DELETE FROM files WHERE id = ? AND user_id = ?
		RETURNING `+fileColumns),
		id, ownerID,
	)
	f, err := scanFile(row)
	if err != nil {
		if isNoRows(err) {
			return nil, apperror.NotFound("file", strconv.FormatInt(id, 10))
		}
		return nil, fmt.Errorf("sqldb: deleting file %d: %w", id, err)
	}
	return f, nil
}
