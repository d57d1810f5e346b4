package handler

import (
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/samber/lo"

	"github.com/sakif/bioqr/internal/apperror"
	"github.com/sakif/bioqr/internal/auth"
	"github.com/sakif/bioqr/internal/model"
	"github.com/sakif/bioqr/internal/service"
)

// multipartOverhead is room for boundaries and part headers on top of the
// file itself.
const multipartOverhead = 1 << 20

// FileHandler exposes the file access gate.
//
// ROUTES (all bearer-authenticated):
//   - POST   /api/files                   → upload (multipart field "file")
//   - GET    /api/users/{userID}/files    → list, newest first
//   - GET    /api/files/{fileID}/download → stream the bytes
//   - DELETE /api/files/{fileID}          → delete row and blob
type FileHandler struct {
	files  *service.FileService
	logger *slog.Logger
}

func NewFileHandler(files *service.FileService, logger *slog.Logger) *FileHandler {
	return &FileHandler{files: files, logger: logger}
}

// fileResponse is a file as the frontend sees it.
type fileResponse struct {
	ID          int64     `json:"id"`
	Filename    string    `json:"filename"`
	MimeType    string    `json:"mimetype"`
	Size        int64     `json:"size"`
	UploadedAt  time.Time `json:"uploadedAt"`
	DownloadURL string    `json:"downloadUrl"`
}

func toFileResponse(f model.File) fileResponse {
	return fileResponse{
		ID:          f.ID,
		Filename:    f.Filename,
		MimeType:    f.MimeType,
		Size:        f.Size,
		UploadedAt:  f.UploadedAt,
		DownloadURL: "/api/files/" + strconv.FormatInt(f.ID, 10) + "/download",
	}
}

type fileUploadedResponse struct {
	Success bool         `json:"success"`
	Message string       `json:"message"`
	File    fileResponse `json:"file"`
}

type fileListResponse struct {
	Success bool           `json:"success"`
	Files   []fileResponse `json:"files"`
}

// HandleUpload stores one file for the caller.
//
// HTTP: POST /api/files
// BODY: multipart/form-data with the file in field "file"
func (h *FileHandler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r, h.logger)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.files.MaxBytes()+multipartOverhead)
	if err := r.ParseMultipartForm(h.files.MaxBytes()); err != nil {
		writeError(w, r, h.logger, multipartError(err, h.files.MaxBytes()))
		return
	}
	defer func() {
		if err := r.MultipartForm.RemoveAll(); err != nil {
			h.logger.Warn("removing multipart temp files", slog.String("error", err.Error()))
		}
	}()

	part, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, h.logger, apperror.ValidationFailed("file", "No file uploaded"))
		return
	}
	defer part.Close()

	f, err := h.files.Upload(r.Context(), userID, service.Upload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Body:        part,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, fileUploadedResponse{
		Success: true,
		Message: "File uploaded successfully",
		File:    toFileResponse(*f),
	})
}

func multipartError(err error, limit int64) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return apperror.PayloadTooLarge(limit)
	}
	return apperror.ValidationFailed("file", "Invalid multipart body")
}

// HandleList returns the files of {userID}, which must be the caller.
//
// HTTP: GET /api/users/{userID}/files
func (h *FileHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r, h.logger)
	if !ok {
		return
	}
	target, err := idParam(r, "userID")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	files, err := h.files.List(r.Context(), userID, target)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, fileListResponse{
		Success: true,
		Files:   lo.Map(files, func(f model.File, _ int) fileResponse { return toFileResponse(f) }),
	})
}

// HandleDownload streams a file the caller owns.
//
// HTTP: GET /api/files/{fileID}/download
func (h *FileHandler) HandleDownload(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r, h.logger)
	if !ok {
		return
	}
	fileID, err := idParam(r, "fileID")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	f, body, err := h.files.Open(r.Context(), userID, fileID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	serveFile(w, r, h.logger, f, body)
}

// HandleDelete removes a file the caller owns.
//
// HTTP: DELETE /api/files/{fileID}
func (h *FileHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r, h.logger)
	if !ok {
		return
	}
	fileID, err := idParam(r, "fileID")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	if err := h.files.Delete(r.Context(), userID, fileID); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Success: true, Message: "File deleted successfully"})
}

// serveFile writes body as an attachment named after the original upload.
// It closes body.
func serveFile(w http.ResponseWriter, r *http.Request, logger *slog.Logger, f *model.File, body io.ReadCloser) {
	defer body.Close()

	disposition := mime.FormatMediaType("attachment", map[string]string{"filename": f.Filename})
	if disposition == "" {
		disposition = "attachment"
	}
	w.Header().Set("Content-Type", f.MimeType)
	w.Header().Set("Content-Length", strconv.FormatInt(f.Size, 10))
	w.Header().Set("Content-Disposition", disposition)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)

	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(w, body); err != nil {
		// The status line is out; the client sees a short body.
		logger.Warn("streaming file failed",
			slog.Int64("fileID", f.ID),
			slog.String("error", err.Error()),
		)
	}
}

// requireUser reads the id RequireAuth stored in the context.
func requireUser(w http.ResponseWriter, r *http.Request, logger *slog.Logger) (int64, bool) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, r, logger, apperror.Unauthorized("Authentication required"))
		return 0, false
	}
	return userID, true
}
