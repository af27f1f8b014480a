package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"powerstation-cloud/internal/audit"
	"powerstation-cloud/internal/auth"
	collection "powerstation-cloud/internal/collection/application"
)

// Runner triggers collection rounds.
type Runner interface {
	RunRound(ctx context.Context, userID string, force bool) (collection.RoundSummary, error)
	RunAllRounds(ctx context.Context, force bool) ([]collection.RoundSummary, error)
}

// Handler handles collection trigger APIs.
type Handler struct {
	runner      Runner
	auditLogger audit.Logger
}

// NewHandler constructs a handler.
func NewHandler(runner Runner, auditLogger audit.Logger) (*Handler, error) {
	if runner == nil {
		return nil, errors.New("collection handler: nil runner")
	}
	return &Handler{runner: runner, auditLogger: auditLogger}, nil
}

// ServeHTTP handles POST /api/v1/collection/run.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/api/v1/collection/run" || r.Method != http.MethodPost {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	var req struct {
		UserID string `json:"user_id"`
		Force  bool   `json:"force"`
		All    bool   `json:"all"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	callerID := auth.UserIDFromContext(r.Context())
	role := auth.RoleFromContext(r.Context())

	// Running outside the caller's own scope needs admin.
	if req.All || (req.UserID != "" && req.UserID != callerID) {
		if !auth.RoleAtLeast(role, auth.RoleAdmin) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
	}

	if req.All {
		summaries, err := h.runner.RunAllRounds(r.Context(), req.Force)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"rounds": summariesResponse(summaries)})
		h.logAudit(r, "collection.run_all", map[string]any{"force": req.Force, "rounds": len(summaries)})
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
	summary, err := h.runner.RunRound(r.Context(), userID, req.Force)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(summaryResponse(summary))
	h.logAudit(r, "collection.run", map[string]any{
		"user_id": userID,
		"force":   req.Force,
		"skipped": summary.Skipped,
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
		ResourceType: "collection",
		Metadata:     payload,
		IP:           audit.ClientIP(r),
		UserAgent:    r.UserAgent(),
	})
}

func summariesResponse(summaries []collection.RoundSummary) []map[string]any {
	resp := make([]map[string]any, 0, len(summaries))
	for _, summary := range summaries {
		resp = append(resp, summaryResponse(summary))
	}
	return resp
}

func summaryResponse(summary collection.RoundSummary) map[string]any {
	resp := map[string]any{
		"user_id":    summary.UserID,
		"skipped":    summary.Skipped,
		"started_at": summary.StartedAt.UTC().Format(time.RFC3339),
		"attempted":  summary.Attempted,
		"succeeded":  summary.Succeeded,
		"failed":     summary.Failed,
		"gaps":       summary.Gaps,
	}
	if summary.Skipped {
		resp["retry_after_seconds"] = int(summary.RetryAfter.Seconds())
	}
	results := make([]map[string]any, 0, len(summary.Results))
	for _, result := range summary.Results {
		item := map[string]any{
			"device_id":     result.DeviceID,
			"serial_number": result.SerialNumber,
			"outcome":       result.Outcome,
		}
		if result.Err != "" {
			item["error"] = result.Err
		}
		results = append(results, item)
	}
	resp["results"] = results
	return resp
}
