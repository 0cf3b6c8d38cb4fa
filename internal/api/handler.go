package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/rewired-gh/airwatch/internal/feed"
	"github.com/rewired-gh/airwatch/internal/models"
)

const maxBodyBytes = 1 << 20

// MonitorService is the monitor lifecycle used by the handlers.
type MonitorService interface {
	Start(ctx context.Context, ownerID, locationName string, coords models.Coordinates, initial *models.Reading) (*models.Monitor, bool, error)
	Stop(ctx context.Context, monitorID, ownerID string) (*models.Monitor, error)
	List(ctx context.Context, ownerID string) ([]*models.Monitor, error)
	MarkRead(ctx context.Context, monitorID, ownerID, notificationID string) error
	MarkAllRead(ctx context.Context, ownerID string) error
}

// NotificationFeed is the read side for notifications.
type NotificationFeed interface {
	UnreadCount(ctx context.Context, ownerID string) (int, error)
	List(ctx context.Context, ownerID string, page feed.Page) ([]models.FlatNotification, int, error)
}

// HealthChecker reports whether the backing store is reachable.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Handler holds shared dependencies for all endpoint handlers.
type Handler struct {
	monitors MonitorService
	feed     NotificationFeed
	health   HealthChecker
}

func NewHandler(monitors MonitorService, f NotificationFeed, health HealthChecker) *Handler {
	return &Handler{monitors: monitors, feed: f, health: health}
}

type startRequest struct {
	LocationName string          `json:"locationName"`
	Latitude     *float64        `json:"latitude"`
	Longitude    *float64        `json:"longitude"`
	CurrentData  *models.Reading `json:"currentData"`
}

// StartMonitoring creates a monitor or returns the existing active one.
func (h *Handler) StartMonitoring(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Latitude == nil || req.Longitude == nil {
		writeError(w, http.StatusBadRequest, "latitude and longitude are required")
		return
	}

	coords := models.Coordinates{Latitude: *req.Latitude, Longitude: *req.Longitude}
	m, created, err := h.monitors.Start(r.Context(), ownerFrom(r.Context()), req.LocationName, coords, req.CurrentData)
	if err != nil {
		writeServiceError(w, r, err, "Monitor not found", "Failed to start monitoring")
		return
	}

	message := "Monitoring started successfully"
	if !created {
		message = "Monitoring already active for this location"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": message,
		"created": created,
		"monitor": m,
	})
}

func (h *Handler) StopMonitoring(w http.ResponseWriter, r *http.Request) {
	m, err := h.monitors.Stop(r.Context(), chi.URLParam(r, "monitorID"), ownerFrom(r.Context()))
	if err != nil {
		writeServiceError(w, r, err, "Monitor not found", "Failed to stop monitoring")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Monitoring stopped successfully",
		"monitor": m,
	})
}

func (h *Handler) ListMonitors(w http.ResponseWriter, r *http.Request) {
	monitors, err := h.monitors.List(r.Context(), ownerFrom(r.Context()))
	if err != nil {
		writeServiceError(w, r, err, "Monitor not found", "Failed to fetch monitors")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"monitors": monitors})
}

func (h *Handler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	n, err := h.feed.UnreadCount(r.Context(), ownerFrom(r.Context()))
	if err != nil {
		writeServiceError(w, r, err, "Monitor not found", "Failed to get unread count")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"unreadCount": n})
}

// ListNotifications serves the newest-first feed. limit and offset are
// optional non-negative integers.
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(r, "limit")
	if !ok {
		writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}
	offset, ok := queryInt(r, "offset")
	if !ok {
		writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
		return
	}

	items, total, err := h.feed.List(r.Context(), ownerFrom(r.Context()), feed.Page{Limit: limit, Offset: offset})
	if err != nil {
		writeServiceError(w, r, err, "Monitor not found", "Failed to fetch notifications")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"notifications": items,
		"total":         total,
	})
}

func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	err := h.monitors.MarkRead(r.Context(),
		chi.URLParam(r, "monitorID"), ownerFrom(r.Context()), chi.URLParam(r, "notificationID"))
	if err != nil {
		writeServiceError(w, r, err, "Notification not found", "Failed to mark notification as read")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Notification marked as read"})
}

func (h *Handler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	if err := h.monitors.MarkAllRead(r.Context(), ownerFrom(r.Context())); err != nil {
		writeServiceError(w, r, err, "Monitor not found", "Failed to mark all notifications as read")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "All notifications marked as read"})
}

// HealthCheck verifies store connectivity.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if h.health != nil {
		if err := h.health.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status":    "unhealthy",
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// queryInt parses an optional non-negative integer query parameter.
func queryInt(r *http.Request, name string) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}
