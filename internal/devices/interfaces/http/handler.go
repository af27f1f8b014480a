package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"powerstation-cloud/internal/audit"
	"powerstation-cloud/internal/auth"
	devices "powerstation-cloud/internal/devices/domain"
	readings "powerstation-cloud/internal/readings/domain"
	readingsexport "powerstation-cloud/internal/readings/interfaces"
)

const (
	defaultExportWindow = 24 * time.Hour
	defaultExportLimit  = 1000
)

// DeviceStore is the device registry surface the handler needs.
type DeviceStore interface {
	Register(ctx context.Context, device *devices.Device) error
	ListActiveByUser(ctx context.Context, userID string) ([]devices.Device, error)
	GetByID(ctx context.Context, userID, deviceID string) (*devices.Device, error)
	Deactivate(ctx context.Context, userID, serialNumber string) error
	Unregister(ctx context.Context, userID, serialNumber string) error
}

// ReadingStore serves telemetry history queries.
type ReadingStore interface {
	ListByDeviceRange(ctx context.Context, deviceID string, from, to time.Time, limit int) ([]readings.Reading, error)
}

// Handler handles device registry APIs under /api/v1/devices.
type Handler struct {
	deviceStore  DeviceStore
	readingStore ReadingStore
	auditLogger  audit.Logger
}

// NewHandler constructs a handler.
func NewHandler(deviceStore DeviceStore, readingStore ReadingStore, auditLogger audit.Logger) (*Handler, error) {
	if deviceStore == nil {
		return nil, errors.New("device handler: nil device store")
	}
	if readingStore == nil {
		return nil, errors.New("device handler: nil reading store")
	}
	return &Handler{deviceStore: deviceStore, readingStore: readingStore, auditLogger: auditLogger}, nil
}

// ServeHTTP handles device routes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	if path == "/api/v1/devices" {
		switch r.Method {
		case http.MethodGet:
			h.handleList(w, r)
		case http.MethodPost:
			h.handleRegister(w, r)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	}
	if strings.HasPrefix(path, "/api/v1/devices/") {
		rest := strings.TrimPrefix(path, "/api/v1/devices/")
		h.handleByID(w, r, rest)
		return
	}
	w.WriteHeader(http.StatusNotFound)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	list, err := h.deviceStore.ListActiveByUser(r.Context(), userID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	resp := make([]map[string]any, 0, len(list))
	for _, device := range list {
		resp = append(resp, deviceResponse(&device))
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req struct {
		SerialNumber string `json:"serial_number"`
		Name         string `json:"name"`
		Type         string `json:"type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	device := &devices.Device{
		ID:           devices.NewID(),
		UserID:       userID,
		SerialNumber: req.SerialNumber,
		Name:         req.Name,
		Type:         req.Type,
		IsActive:     true,
	}
	if err := h.deviceStore.Register(r.Context(), device); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(deviceResponse(device))
	h.logAudit(r, device.ID, "device.register", map[string]any{
		"serial_number": device.SerialNumber,
		"name":          device.Name,
	})
}

func (h *Handler) handleByID(w http.ResponseWriter, r *http.Request, rest string) {
	if rest == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	parts := strings.Split(rest, "/")
	id := parts[0]
	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			h.handleGet(w, r, id)
		case http.MethodDelete:
			h.handleUnregister(w, r, id)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	}
	if len(parts) == 2 {
		switch parts[1] {
		case "deactivate":
			if r.Method == http.MethodPost {
				h.handleDeactivate(w, r, id)
				return
			}
		case "readings":
			if r.Method == http.MethodGet {
				h.handleReadings(w, r, id)
				return
			}
		case "export.xlsx":
			if r.Method == http.MethodGet {
				h.handleExport(w, r, id, "xlsx")
				return
			}
		case "export.pdf":
			if r.Method == http.MethodGet {
				h.handleExport(w, r, id, "pdf")
				return
			}
		}
	}
	w.WriteHeader(http.StatusNotFound)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request, id string) {
	device, ok := h.resolve(w, r, id)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(deviceResponse(device))
}

func (h *Handler) handleDeactivate(w http.ResponseWriter, r *http.Request, id string) {
	device, ok := h.resolve(w, r, id)
	if !ok {
		return
	}
	if err := h.deviceStore.Deactivate(r.Context(), device.UserID, device.SerialNumber); err != nil {
		respondStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
	h.logAudit(r, device.ID, "device.deactivate", nil)
}

func (h *Handler) handleUnregister(w http.ResponseWriter, r *http.Request, id string) {
	device, ok := h.resolve(w, r, id)
	if !ok {
		return
	}
	if err := h.deviceStore.Unregister(r.Context(), device.UserID, device.SerialNumber); err != nil {
		respondStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
	h.logAudit(r, device.ID, "device.unregister", map[string]any{
		"serial_number": device.SerialNumber,
	})
}

func (h *Handler) handleReadings(w http.ResponseWriter, r *http.Request, id string) {
	device, ok := h.resolve(w, r, id)
	if !ok {
		return
	}
	from, to, limit, err := parseRange(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	history, err := h.readingStore.ListByDeviceRange(r.Context(), device.ID, from, to, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	resp := make([]map[string]any, 0, len(history))
	for i := range history {
		resp = append(resp, readingResponse(&history[i]))
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request, id, format string) {
	device, ok := h.resolve(w, r, id)
	if !ok {
		return
	}
	from, to, limit, err := parseRange(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	history, err := h.readingStore.ListByDeviceRange(r.Context(), device.ID, from, to, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var data []byte
	var contentType string
	switch format {
	case "pdf":
		data, err = readingsexport.BuildReadingsPDF(device, history, from, to)
		contentType = "application/pdf"
	default:
		data, err = readingsexport.BuildReadingsXLSX(device, history, from, to)
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	if err != nil {
		http.Error(w, "export error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
	h.logAudit(r, device.ID, "device.export", map[string]any{"format": format})
}

// resolve loads the device and enforces per-user ownership.
func (h *Handler) resolve(w http.ResponseWriter, r *http.Request, id string) (*devices.Device, bool) {
	userID := auth.UserIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return nil, false
	}
	device, err := h.deviceStore.GetByID(r.Context(), userID, id)
	if err != nil {
		respondStoreError(w, err)
		return nil, false
	}
	return device, true
}

func (h *Handler) logAudit(r *http.Request, deviceID, action string, meta map[string]any) {
	if h.auditLogger == nil {
		return
	}
	userID := auth.UserIDFromContext(r.Context())
	if userID == "" {
		return
	}
	payload, _ := json.Marshal(meta)
	_ = h.auditLogger.Log(r.Context(), audit.Entry{
		UserID:       userID,
		Actor:        auth.SubjectFromContext(r.Context()),
		Role:         string(auth.RoleFromContext(r.Context())),
		Action:       action,
		ResourceType: "device",
		ResourceID:   deviceID,
		DeviceID:     deviceID,
		Metadata:     payload,
		IP:           audit.ClientIP(r),
		UserAgent:    r.UserAgent(),
	})
}

func parseRange(r *http.Request) (from, to time.Time, limit int, err error) {
	to = time.Now().UTC()
	from = to.Add(-defaultExportWindow)
	if raw := r.URL.Query().Get("from"); raw != "" {
		from, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			return from, to, 0, errors.New("invalid from timestamp")
		}
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		to, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			return from, to, 0, errors.New("invalid to timestamp")
		}
	}
	if !to.After(from) {
		return from, to, 0, errors.New("empty time range")
	}
	limit = defaultExportLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return from, to, 0, errors.New("invalid limit")
		}
	}
	return from, to, limit, nil
}

func respondStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, devices.ErrNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func deviceResponse(device *devices.Device) map[string]any {
	return map[string]any{
		"id":            device.ID,
		"serial_number": device.SerialNumber,
		"name":          device.Name,
		"type":          device.Type,
		"is_active":     device.IsActive,
		"created_at":    device.CreatedAt.UTC().Format(time.RFC3339),
		"updated_at":    device.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func readingResponse(reading *readings.Reading) map[string]any {
	resp := map[string]any{
		"recorded_at":       reading.RecordedAt.UTC().Format(time.RFC3339),
		"battery_level_pct": reading.BatteryLevelPct,
		"input_watts":       reading.InputWatts,
		"ac_input_watts":    reading.ACInputWatts,
		"dc_input_watts":    reading.DCInputWatts,
		"output_watts":      reading.OutputWatts,
		"ac_output_watts":   reading.ACOutputWatts,
		"dc_output_watts":   reading.DCOutputWatts,
		"usb_output_watts":  reading.USBOutputWatts,
		"temperature_c":     reading.TemperatureC,
		"status":            reading.Status,
	}
	if reading.ChargingType != nil {
		resp["charging_type"] = *reading.ChargingType
	}
	if reading.RemainingTimeMin != nil {
		resp["remaining_time_min"] = *reading.RemainingTimeMin
	}
	return resp
}
