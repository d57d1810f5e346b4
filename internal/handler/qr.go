package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/bioqr/internal/service"
)

// QRHandler issues QR links for the caller's files and serves redemptions,
// which need no login.
type QRHandler struct {
	qr     *service.QRService
	logger *slog.Logger
}

func NewQRHandler(qr *service.QRService, logger *slog.Logger) *QRHandler {
	return &QRHandler{qr: qr, logger: logger}
}

type issueQRRequest struct {
	FileID int64 `json:"file_id"`
	// Duration is in minutes and may be fractional; zero or absent
	// selects the default.
	Duration float64 `json:"duration"`
}

type issueQRResponse struct {
	Success bool `json:"success"`
	*service.IssuedQR
}

// HandleIssue mints a token for one of the caller's files.
//
// HTTP: POST /api/qr
// BODY: {"file_id": 7, "duration": 15}
// Auth: Required
func (h *QRHandler) HandleIssue(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r, h.logger)
	if !ok {
		return
	}

	var req issueQRRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	issued, err := h.qr.Issue(r.Context(), userID, req.FileID, req.Duration)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, issueQRResponse{Success: true, IssuedQR: issued})
}

// HandleRedeem streams the file a token is bound to. Anyone holding an
// unexpired token may call it, any number of times.
//
// HTTP: GET /access-file/{token}
func (h *QRHandler) HandleRedeem(w http.ResponseWriter, r *http.Request) {
	f, body, err := h.qr.Redeem(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	serveFile(w, r, h.logger, f, body)
}
