package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	alerts "powerstation-cloud/internal/alerts/domain"
	"powerstation-cloud/internal/auth"
)

const (
	defaultListWindow = 7 * 24 * time.Hour
	defaultListLimit  = 200
)

// LogReader serves notification history queries.
type LogReader interface {
	ListByUser(ctx context.Context, userID string, from, to time.Time, limit int) ([]alerts.LogEntry, error)
}

// Handler handles notification history APIs.
type Handler struct {
	logs LogReader
}

// NewHandler constructs a handler.
func NewHandler(logs LogReader) (*Handler, error) {
	if logs == nil {
		return nil, errors.New("alert handler: nil log reader")
	}
	return &Handler{logs: logs}, nil
}

// ServeHTTP handles GET /api/v1/notifications.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/api/v1/notifications" || r.Method != http.MethodGet {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	userID := auth.UserIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	to := time.Now().UTC()
	from := to.Add(-defaultListWindow)
	var err error
	if raw := r.URL.Query().Get("from"); raw != "" {
		from, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, "invalid from timestamp", http.StatusBadRequest)
			return
		}
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		to, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, "invalid to timestamp", http.StatusBadRequest)
			return
		}
	}
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
	}

	entries, err := h.logs.ListByUser(r.Context(), userID, from, to, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	resp := make([]map[string]any, 0, len(entries))
	for _, entry := range entries {
		item := map[string]any{
			"id":        entry.ID,
			"device_id": entry.DeviceID,
			"kind":      entry.Kind,
			"status":    entry.Status,
			"sent_at":   entry.SentAt.UTC().Format(time.RFC3339),
		}
		if entry.Error != "" {
			item["error"] = entry.Error
		}
		resp = append(resp, item)
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
