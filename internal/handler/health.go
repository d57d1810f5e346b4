package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

const healthPingTimeout = 2 * time.Second

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler answers load balancer and uptime checks.
type HealthHandler struct {
	db      Pinger
	started time.Time
	logger  *slog.Logger
}

func NewHealthHandler(db Pinger, started time.Time, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{db: db, started: started, logger: logger}
}

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	// Uptime is in seconds.
	Uptime   float64 `json:"uptime"`
	Database string  `json:"database"`
}

// HandleHealth reports process uptime and database reachability. An
// unreachable database turns the answer into 503.
//
// HTTP: GET /health
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	resp := healthResponse{
		Status:    "healthy",
		Timestamp: now.UTC(),
		Uptime:    now.Sub(h.started).Seconds(),
		Database:  "up",
	}

	ctx, cancel := context.WithTimeout(r.Context(), healthPingTimeout)
	defer cancel()
	if err := h.db.Ping(ctx); err != nil {
		h.logger.Warn("health check: database unreachable", slog.String("error", err.Error()))
		resp.Status = "unhealthy"
		resp.Database = "down"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
