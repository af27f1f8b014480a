package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"powerstation-cloud/internal/audit"
	"powerstation-cloud/internal/auth"
	retention "powerstation-cloud/internal/retention/application"
	settings "powerstation-cloud/internal/settings/domain"
)

// Runner triggers retention sweeps.
type Runner interface {
	SweepUser(ctx context.Context, setting settings.CollectionSetting) (retention.SweepResult, error)
	SweepAll(ctx context.Context) ([]retention.SweepResult, error)
}

// PolicyReader loads a user's collection preferences for a manual sweep.
type PolicyReader interface {
	GetOrCreateCollection(ctx context.Context, userID string) (*settings.CollectionSetting, error)
}

// Handler handles retention trigger APIs.
type Handler struct {
	runner      Runner
	policies    PolicyReader
	auditLogger audit.Logger
}

// NewHandler constructs a handler.
func NewHandler(runner Runner, policies PolicyReader, auditLogger audit.Logger) (*Handler, error) {
	if runner == nil {
		return nil, errors.New("retention handler: nil runner")
	}
	if policies == nil {
		return nil, errors.New("retention handler: nil policy reader")
	}
	return &Handler{runner: runner, policies: policies, auditLogger: auditLogger}, nil
}

// ServeHTTP handles POST /api/v1/retention/run.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/api/v1/retention/run" || r.Method != http.MethodPost {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	var req struct {
		UserID string `json:"user_id"`
		All    bool   `json:"all"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	callerID := auth.UserIDFromContext(r.Context())
	role := auth.RoleFromContext(r.Context())
	if req.All || (req.UserID != "" && req.UserID != callerID) {
		if !auth.RoleAtLeast(role, auth.RoleAdmin) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
	}

	if req.All {
		results, err := h.runner.SweepAll(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"sweeps": resultsResponse(results)})
		h.logAudit(r, "retention.run_all", map[string]any{"sweeps": len(results)})
		return
	}

	userID := req.UserID
	if userID == "" {
		userID = callerID
	}
	if userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	setting, err := h.policies.GetOrCreateCollection(r.Context(), userID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	result, err := h.runner.SweepUser(r.Context(), *setting)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resultResponse(result))
	h.logAudit(r, "retention.run", map[string]any{
		"user_id":          userID,
		"readings_deleted": result.ReadingsDeleted,
	})
}

func (h *Handler) logAudit(r *http.Request, action string, meta map[string]any) {
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
		ResourceType: "retention",
		Metadata:     payload,
		IP:           audit.ClientIP(r),
		UserAgent:    r.UserAgent(),
	})
}

func resultsResponse(results []retention.SweepResult) []map[string]any {
	resp := make([]map[string]any, 0, len(results))
	for _, result := range results {
		resp = append(resp, resultResponse(result))
	}
	return resp
}

func resultResponse(result retention.SweepResult) map[string]any {
	return map[string]any{
		"user_id":               result.UserID,
		"cutoff":                result.Cutoff.UTC().Format(time.RFC3339),
		"readings_deleted":      result.ReadingsDeleted,
		"notifications_deleted": result.NotificationsDeleted,
	}
}
