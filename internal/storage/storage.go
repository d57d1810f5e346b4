// Package storage holds uploaded file bytes. Metadata lives in the database;
// a BlobStore only knows opaque keys.
//
// Two backends are available:
//
//	local  files under a root directory (default, for development)
//	s3     any S3-compatible bucket (AWS, MinIO, R2)
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sakif/bioqr/internal/config"
)

// ErrNotFound is returned by Open when no blob exists under the key.
var ErrNotFound = errors.New("storage: blob not found")

// BlobStore is the contract both backends implement.
//
// Delete is idempotent: deleting a missing key is not an error.
type BlobStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// New builds the backend selected by cfg.Type.
func New(ctx context.Context, cfg config.StorageConfig) (BlobStore, error) {
	switch cfg.Type {
	case "local":
		return NewLocal(cfg.Local.Root)
	case "s3":
		return NewS3(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("storage: unknown type %q", cfg.Type)
	}
}

// NewKey generates a collision-free key for an upload by userID:
//
//	users/<userID>/<unixMillis>-<uuid><ext>
//
// The original filename only contributes its extension, so nothing the
// client sends can steer where the bytes land.
func NewKey(userID int64, now time.Time, filename string) string {
	ext := strings.ToLower(path.Ext(path.Base(strings.ReplaceAll(filename, `\`, "/"))))
	if len(ext) > 16 || strings.ContainsAny(ext, " /") {
		ext = ""
	}
	return fmt.Sprintf("users/%d/%d-%s%s", userID, now.UnixMilli(), uuid.NewString(), ext)
}
