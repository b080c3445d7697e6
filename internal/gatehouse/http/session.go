package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/confreg/gatehouse/internal/gatehouse/domain"
	"github.com/confreg/gatehouse/internal/gatehouse/store"
	"github.com/confreg/gatehouse/pkg/httpx"
)

// SessionHandler exposes the active-session table to clients: heartbeats
// keep a session row warm, logout removes it. These are the only
// session-adjacent endpoints the core owns; login itself belongs to the
// portal's CRUD side.
type SessionHandler struct {
	Sessions store.Sessions
	Logger   *slog.Logger
}

type heartbeatRequest struct {
	SessionID string `json:"session_id"`
	UserType  string `json:"user_type"`
}

// HandleHeartbeat upserts the caller's active-session row, extending its
// expiry by the rolling session TTL.
func (h *SessionHandler) HandleHeartbeat(w http.ResponseWriter, r *http.Request) {
	identity, ok := RequireIdentity(w, r)
	if !ok {
		return
	}

	var req heartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request",
			"heartbeat requires a session_id")
		return
	}

	userType := req.UserType
	if userType == "" {
		userType = identity.Role
	}

	now := time.Now().UTC()
	err := h.Sessions.Touch(r.Context(), domain.ActiveSession{
		SessionID:    req.SessionID,
		UserType:     userType,
		LastActivity: now,
		ExpiresAt:    now.Add(2 * time.Hour),
	})
	if err != nil {
		h.Logger.Error("heartbeat touch failed", "session_id", req.SessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error",
			"could not record heartbeat")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type logoutRequest struct {
	SessionID string `json:"session_id"`
}

// HandleLogout removes the caller's active-session row.
func (h *SessionHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if _, ok := RequireIdentity(w, r); !ok {
		return
	}

	var req logoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request",
			"logout requires a session_id")
		return
	}

	if err := h.Sessions.Delete(r.Context(), req.SessionID); err != nil {
		h.Logger.Error("session delete failed", "session_id", req.SessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error",
			"could not remove session")
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}
