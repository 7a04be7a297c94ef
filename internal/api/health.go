package api

import (
	"context"
	"net/http"
	"time"

	"github.com/snarg/transcript-sync/internal/session"
	"github.com/snarg/transcript-sync/internal/storage"
)

// HealthChecker is implemented by the database.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ConnChecker is implemented by the MQTT client.
type ConnChecker interface {
	IsConnected() bool
}

// WatcherStatusSource is implemented by the transcript watcher.
type WatcherStatusSource interface {
	Status() *WatcherStatusData
}

type HealthResponse struct {
	Status        string             `json:"status"`
	Version       string             `json:"version"`
	UptimeSeconds int64              `json:"uptime_seconds"`
	Checks        map[string]string  `json:"checks"`
	Sessions      int                `json:"sessions"`
	DocumentStore string             `json:"document_store,omitempty"`
	Watcher       *WatcherStatusData `json:"transcript_watcher,omitempty"`
}

type HealthHandler struct {
	db        HealthChecker
	mqtt      ConnChecker
	watcher   WatcherStatusSource
	sessions  *session.Manager
	docs      storage.DocumentStore
	version   string
	startTime time.Time
}

func NewHealthHandler(opts ServerOptions) *HealthHandler {
	return &HealthHandler{
		db:        opts.DB,
		mqtt:      opts.MQTT,
		watcher:   opts.Watcher,
		sessions:  opts.Sessions,
		docs:      opts.Documents,
		version:   opts.Version,
		startTime: opts.StartTime,
	}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	status := "healthy"
	httpStatus := http.StatusOK

	// Database check
	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		err := h.db.HealthCheck(ctx)
		cancel()
		if err != nil {
			checks["database"] = "error"
			status = "unhealthy"
			httpStatus = http.StatusServiceUnavailable
		} else {
			checks["database"] = "ok"
		}
	} else {
		checks["database"] = "not_configured"
	}

	// MQTT check
	if h.mqtt != nil {
		if h.mqtt.IsConnected() {
			checks["mqtt"] = "ok"
		} else {
			checks["mqtt"] = "disconnected"
			if status == "healthy" {
				status = "degraded"
			}
		}
	} else {
		checks["mqtt"] = "not_configured"
	}

	resp := HealthResponse{
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Checks:        checks,
	}

	// Transcript watcher check
	if h.watcher != nil {
		ws := h.watcher.Status()
		checks["transcript_watcher"] = ws.Status
		resp.Watcher = ws
	} else {
		checks["transcript_watcher"] = "not_configured"
	}

	if h.sessions != nil {
		resp.Sessions = h.sessions.Count()
	}
	if h.docs != nil {
		resp.DocumentStore = h.docs.Type()
	}
	resp.Status = status

	WriteJSON(w, httpStatus, resp)
}
