package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

type grantPermissionRequest struct {
	UserID    string     `json:"user_id"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// handleGrantPermission grants another user edit access to the caller's
// task.
func (s *Server) handleGrantPermission(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())

	var req grantPermissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "request body is not valid JSON")
		return
	}
	if req.UserID == "" {
		writeErrorMessage(w, http.StatusBadRequest, "user_id is required")
		return
	}

	perm, err := s.deps.Permissions.Grant(r.Context(), chi.URLParam(r, "id"), req.UserID, identity.UserID, req.ExpiresAt)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeCreated(w, perm)
}

type revokePermissionRequest struct {
	Reason string `json:"reason,omitempty"`
}

// handleRevokePermission deactivates a grant. Only the task owner may
// revoke.
func (s *Server) handleRevokePermission(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())

	var req revokePermissionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErrorMessage(w, http.StatusBadRequest, "request body is not valid JSON")
			return
		}
	}

	if err := s.deps.Permissions.Revoke(r.Context(), chi.URLParam(r, "id"), identity.UserID, req.Reason); err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, map[string]any{"revoked": true})
}

// handleListPermissions lists the grants on a task. Owner only.
func (s *Server) handleListPermissions(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())

	perms, err := s.deps.Permissions.List(r.Context(), chi.URLParam(r, "id"), identity.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, perms)
}
