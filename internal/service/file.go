package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/sakif/bioqr/internal/apperror"
	"github.com/sakif/bioqr/internal/model"
	"github.com/sakif/bioqr/internal/repository"
	"github.com/sakif/bioqr/internal/storage"
)

const (
	DefaultMaxUploadBytes = 10 << 20
	defaultStorageTimeout = 30 * time.Second
)

// FileService is the access gate for uploaded files. Every read or delete
// goes through an ownership predicate; the only other way to a file's bytes
// is a valid QR token (QRService).
type FileService struct {
	files    repository.FileRepository
	blobs    storage.BlobStore
	logger   *slog.Logger
	maxBytes int64
	timeout  time.Duration
	now      func() time.Time
}

// NewFileService wires the gate. maxBytes caps uploads; timeout bounds
// every call into blob storage.
func NewFileService(files repository.FileRepository, blobs storage.BlobStore, maxBytes int64, timeout time.Duration, logger *slog.Logger) *FileService {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	if timeout <= 0 {
		timeout = defaultStorageTimeout
	}
	return &FileService{
		files:    files,
		blobs:    blobs,
		logger:   logger,
		maxBytes: maxBytes,
		timeout:  timeout,
		now:      time.Now,
	}
}

// MaxBytes is the upload limit.
func (s *FileService) MaxBytes() int64 { return s.maxBytes }

// Upload is one incoming file.
type Upload struct {
	Filename    string
	ContentType string
	Body        io.Reader
}

// Upload stores the bytes under a generated key and records ownership.
//
// The body is read fully (at most maxBytes+1) before anything is written,
// so an empty or oversized upload never reaches storage.
func (s *FileService) Upload(ctx context.Context, userID int64, up Upload) (*model.File, error) {
	name := cleanFilename(up.Filename)
	if name == "" {
		return nil, apperror.ValidationFailed("file", "No file uploaded")
	}
	if up.Body == nil {
		return nil, apperror.ValidationFailed("file", "No file uploaded")
	}

	data, err := io.ReadAll(io.LimitReader(up.Body, s.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("service/file: reading upload: %w", err)
	}
	switch {
	case len(data) == 0:
		return nil, apperror.ValidationFailed("file", "File is empty")
	case int64(len(data)) > s.maxBytes:
		return nil, apperror.PayloadTooLarge(s.maxBytes)
	}

	now := s.now()
	f := &model.File{
		UserID:     userID,
		Filename:   name,
		MimeType:   detectMimeType(up.ContentType, data),
		StorageKey: storage.NewKey(userID, now, name),
		Size:       int64(len(data)),
		UploadedAt: now,
	}

	putCtx, cancel := context.WithTimeout(ctx, s.timeout)
	err = s.blobs.Put(putCtx, f.StorageKey, bytes.NewReader(data), f.Size, f.MimeType)
	cancel()
	if err != nil {
		return nil, s.storageError("storing upload", err)
	}

	if err := s.files.CreateFile(ctx, f); err != nil {
		// The row is the record of ownership; without it the blob is
		// unreachable, so remove it.
		s.removeBlob(f.StorageKey)
		return nil, fmt.Errorf("service/file: recording upload: %w", err)
	}

	s.logger.Info("file uploaded",
		slog.Int64("userID", userID),
		slog.Int64("fileID", f.ID),
		slog.Int64("size", f.Size),
		slog.String("mimetype", f.MimeType),
	)
	return f, nil
}

// List returns targetUserID's files, newest first. Callers may only list
// their own files.
func (s *FileService) List(ctx context.Context, callerID, targetUserID int64) ([]model.File, error) {
	if callerID != targetUserID {
		return nil, apperror.Forbidden("You can only list your own files")
	}
	files, err := s.files.ListFilesByOwner(ctx, targetUserID)
	if err != nil {
		return nil, fmt.Errorf("service/file: listing files for user %d: %w", targetUserID, err)
	}
	return files, nil
}

// Open returns the caller's file and a reader over its bytes. Another
// user's file is reported as NotFound, exactly like a missing one. The
// caller must close the reader.
func (s *FileService) Open(ctx context.Context, callerID, fileID int64) (*model.File, io.ReadCloser, error) {
	f, err := s.files.GetFileForOwner(ctx, fileID, callerID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("service/file: getting file %d: %w", fileID, err)
	}

	body, err := s.openBlob(ctx, f)
	if err != nil {
		return nil, nil, err
	}
	return f, body, nil
}

// Delete removes the caller's file. The row goes first and decides the
// outcome; blob removal afterwards is best effort and only logged on
// failure.
func (s *FileService) Delete(ctx context.Context, callerID, fileID int64) error {
	f, err := s.files.DeleteFileForOwner(ctx, fileID, callerID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return err
		}
		return fmt.Errorf("service/file: deleting file %d: %w", fileID, err)
	}

	s.removeBlob(f.StorageKey)
	s.logger.Info("file deleted", slog.Int64("userID", callerID), slog.Int64("fileID", fileID))
	return nil
}

// openBlob opens f's bytes under the storage timeout. The timeout keeps
// running while the body is read and is released by Close.
func (s *FileService) openBlob(ctx context.Context, f *model.File) (io.ReadCloser, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)

	// Checked first so a missing object is reported before any response
	// headers go out; Open can still race a concurrent delete.
	ok, err := s.blobs.Exists(ctx, f.StorageKey)
	if err != nil {
		cancel()
		return nil, s.storageError("checking file", err)
	}
	if !ok {
		cancel()
		return nil, s.missingBlob(f)
	}

	body, err := s.blobs.Open(ctx, f.StorageKey)
	if err != nil {
		cancel()
		if errors.Is(err, storage.ErrNotFound) {
			return nil, s.missingBlob(f)
		}
		return nil, s.storageError("opening file", err)
	}
	return &cancelOnClose{ReadCloser: body, cancel: cancel}, nil
}

func (s *FileService) missingBlob(f *model.File) error {
	s.logger.Error("file row without blob",
		slog.Int64("fileID", f.ID),
		slog.String("storageKey", f.StorageKey),
	)
	return apperror.NotFound("file", strconv.FormatInt(f.ID, 10))
}

// removeBlob runs detached from the request: the row is already gone, so
// the client disconnecting must not abandon the cleanup.
func (s *FileService) removeBlob(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.blobs.Delete(ctx, key); err != nil {
		s.logger.Warn("orphaned blob left in storage",
			slog.String("storageKey", key),
			slog.String("error", err.Error()),
		)
	}
}

func (s *FileService) storageError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperror.UpstreamTimeout("storage", err)
	}
	return fmt.Errorf("service/file: %s: %w", op, err)
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

// cleanFilename keeps only the last path element of a client-supplied
// name; browsers on Windows may send a full path.
func cleanFilename(name string) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, `\`, "/"))
	if name == "" {
		return ""
	}
	name = path.Base(name)
	if name == "." || name == "/" || name == ".." {
		return ""
	}
	return name
}

// detectMimeType trusts the client's Content-Type unless it is missing or
// the generic octet-stream, in which case the content is sniffed.
func detectMimeType(declared string, data []byte) string {
	declared = strings.TrimSpace(declared)
	if declared != "" && !strings.EqualFold(declared, "application/octet-stream") {
		return declared
	}
	return mimetype.Detect(data).String()
}
