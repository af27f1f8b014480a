package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"powerstation-cloud/internal/auth"
	settings "powerstation-cloud/internal/settings/domain"
)

// Store is the preference surface the handler needs.
type Store interface {
	GetOrCreateCollection(ctx context.Context, userID string) (*settings.CollectionSetting, error)
	UpdateCollection(ctx context.Context, setting *settings.CollectionSetting) error
	GetOrCreateNotification(ctx context.Context, userID string) (*settings.NotificationSetting, error)
	UpdateNotification(ctx context.Context, setting *settings.NotificationSetting) error
}

// Handler handles per-user preference APIs under /api/v1/settings.
type Handler struct {
	store Store
}

// NewHandler constructs a handler.
func NewHandler(store Store) (*Handler, error) {
	if store == nil {
		return nil, errors.New("settings handler: nil store")
	}
	return &Handler{store: store}, nil
}

// ServeHTTP handles settings routes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	switch r.URL.Path {
	case "/api/v1/settings/collection":
		switch r.Method {
		case http.MethodGet:
			h.handleGetCollection(w, r, userID)
		case http.MethodPut:
			h.handleUpdateCollection(w, r, userID)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	case "/api/v1/settings/notifications":
		switch r.Method {
		case http.MethodGet:
			h.handleGetNotification(w, r, userID)
		case http.MethodPut:
			h.handleUpdateNotification(w, r, userID)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleGetCollection(w http.ResponseWriter, r *http.Request, userID string) {
	setting, err := h.store.GetOrCreateCollection(r.Context(), userID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(collectionResponse(setting))
}

func (h *Handler) handleUpdateCollection(w http.ResponseWriter, r *http.Request, userID string) {
	var req struct {
		RetentionPeriodDays       *int  `json:"retention_period_days"`
		AutoCleanupEnabled        *bool `json:"auto_cleanup_enabled"`
		CollectionIntervalMinutes *int  `json:"collection_interval_minutes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	setting, err := h.store.GetOrCreateCollection(r.Context(), userID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if req.RetentionPeriodDays != nil {
		setting.RetentionPeriodDays = *req.RetentionPeriodDays
	}
	if req.AutoCleanupEnabled != nil {
		setting.AutoCleanupEnabled = *req.AutoCleanupEnabled
	}
	if req.CollectionIntervalMinutes != nil {
		setting.CollectionIntervalMinutes = *req.CollectionIntervalMinutes
	}
	if err := setting.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.store.UpdateCollection(r.Context(), setting); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(collectionResponse(setting))
}

func (h *Handler) handleGetNotification(w http.ResponseWriter, r *http.Request, userID string) {
	setting, err := h.store.GetOrCreateNotification(r.Context(), userID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(notificationResponse(setting))
}

func (h *Handler) handleUpdateNotification(w http.ResponseWriter, r *http.Request, userID string) {
	var req struct {
		LowBatteryEnabled      *bool    `json:"low_battery_enabled"`
		LowBatteryThresholdPct *float64 `json:"low_battery_threshold_pct"`
		PowerOverloadEnabled   *bool    `json:"power_overload_enabled"`
		PowerThresholdWatts    *float64 `json:"power_threshold_watts"`
		DeviceOfflineEnabled   *bool    `json:"device_offline_enabled"`
		EmailEnabled           *bool    `json:"email_enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	setting, err := h.store.GetOrCreateNotification(r.Context(), userID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if req.LowBatteryEnabled != nil {
		setting.LowBatteryEnabled = *req.LowBatteryEnabled
	}
	if req.LowBatteryThresholdPct != nil {
		setting.LowBatteryThresholdPct = *req.LowBatteryThresholdPct
	}
	if req.PowerOverloadEnabled != nil {
		setting.PowerOverloadEnabled = *req.PowerOverloadEnabled
	}
	if req.PowerThresholdWatts != nil {
		setting.PowerThresholdWatts = *req.PowerThresholdWatts
	}
	if req.DeviceOfflineEnabled != nil {
		setting.DeviceOfflineEnabled = *req.DeviceOfflineEnabled
	}
	if req.EmailEnabled != nil {
		setting.EmailEnabled = *req.EmailEnabled
	}
	if err := setting.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.store.UpdateNotification(r.Context(), setting); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(notificationResponse(setting))
}

func collectionResponse(setting *settings.CollectionSetting) map[string]any {
	resp := map[string]any{
		"retention_period_days":       setting.RetentionPeriodDays,
		"auto_cleanup_enabled":        setting.AutoCleanupEnabled,
		"collection_interval_minutes": setting.CollectionIntervalMinutes,
	}
	if !setting.LastCollectionAt.IsZero() {
		resp["last_collection_at"] = setting.LastCollectionAt.UTC().Format(time.RFC3339)
	}
	if !setting.LastCleanupAt.IsZero() {
		resp["last_cleanup_at"] = setting.LastCleanupAt.UTC().Format(time.RFC3339)
	}
	return resp
}

func notificationResponse(setting *settings.NotificationSetting) map[string]any {
	return map[string]any{
		"low_battery_enabled":       setting.LowBatteryEnabled,
		"low_battery_threshold_pct": setting.LowBatteryThresholdPct,
		"power_overload_enabled":    setting.PowerOverloadEnabled,
		"power_threshold_watts":     setting.PowerThresholdWatts,
		"device_offline_enabled":    setting.DeviceOfflineEnabled,
		"email_enabled":             setting.EmailEnabled,
	}
}
