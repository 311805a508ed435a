package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/benfrankstein/untxt-sub002/pkg/version"
)

type saveVersionRequest struct {
	SessionID string `json:"session_id"`
	HTML      string `json:"html"`
	Reason    string `json:"reason,omitempty"`
}

// handleSaveVersion runs one save through the snapshot-or-overwrite
// algorithm and returns what it did.
func (s *Server) handleSaveVersion(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())

	var req saveVersionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "request body is not valid JSON")
		return
	}
	if req.SessionID == "" {
		writeErrorMessage(w, http.StatusBadRequest, "session_id is required")
		return
	}

	reason := req.Reason
	switch reason {
	case "":
		reason = version.ReasonManual
	case version.ReasonAutoSave, version.ReasonManual:
	default:
		writeErrorMessage(w, http.StatusBadRequest, "reason must be auto_save or manual_save")
		return
	}

	result, err := s.deps.Versions.Save(r.Context(), identity.UserID, req.SessionID, []byte(req.HTML), reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, result)
}

// handleLatestVersion streams the latest document content as HTML.
//
// X-Version-Number carries the served version and X-Content-Source reports
// where the bytes came from (inline, object_store, or original_fallback
// after corruption).
func (s *Server) handleLatestVersion(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())

	latest, err := s.deps.Versions.Latest(r.Context(), identity.UserID, chi.URLParam(r, "task_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(latest.Content)))
	w.Header().Set("X-Version-Number", strconv.Itoa(latest.VersionNumber))
	w.Header().Set("X-Content-Source", string(latest.Source))
	_, _ = w.Write(latest.Content)
}

// handleListVersions returns the task's version history, original first.
func (s *Server) handleListVersions(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())

	versions, err := s.deps.Versions.List(r.Context(), identity.UserID, chi.URLParam(r, "task_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, versions)
}

type revertVersionRequest struct {
	VersionNumber int `json:"version_number"`
}

// handleRevertVersion restores an old version's content as a new latest
// version. History is append-only; nothing is rewritten.
func (s *Server) handleRevertVersion(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())

	var req revertVersionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "request body is not valid JSON")
		return
	}

	result, err := s.deps.Versions.Revert(r.Context(), identity.UserID, chi.URLParam(r, "task_id"), req.VersionNumber)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, result)
}
