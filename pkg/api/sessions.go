package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/benfrankstein/untxt-sub002/pkg/models"
)

type startSessionRequest struct {
	ViewType models.ViewType `json:"view_type"`
}

// handleStartSession opens an edit session over a completed task. An active
// session for the same (user, task) is superseded.
func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())

	var req startSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "request body is not valid JSON")
		return
	}
	if req.ViewType == "" {
		req.ViewType = models.ViewEdit
	}
	if !req.ViewType.IsValid() {
		writeErrorMessage(w, http.StatusBadRequest, "unknown view_type")
		return
	}

	session, err := s.deps.Versions.StartSession(r.Context(), identity.UserID, chi.URLParam(r, "task_id"), req.ViewType)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeCreated(w, session)
}

type endSessionRequest struct {
	SessionID string `json:"session_id"`
	FinalHTML string `json:"final_html,omitempty"`
}

// handleEndSession closes a session, running one last save when the body
// carries final content.
//
// The endpoint is sendBeacon-tolerant: browsers fire it during page unload
// and never read the answer, so ending an already-ended session still
// returns success and a decode failure is the only hard error.
func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())

	var req endSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "request body is not valid JSON")
		return
	}
	if req.SessionID == "" {
		writeErrorMessage(w, http.StatusBadRequest, "session_id is required")
		return
	}

	err := s.deps.Versions.EndSession(r.Context(), identity.UserID, req.SessionID,
		[]byte(req.FinalHTML), models.OutcomeClosed)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, map[string]any{"ended": true})
}

type downloadPDFRequest struct {
	HTML string `json:"html,omitempty"`
}

// handleDownloadPDF renders the current (or posted) content to PDF and
// streams it. The render records a download version unless the content is
// unchanged; the served version number rides the X-Version-Number header.
func (s *Server) handleDownloadPDF(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())
	taskID := chi.URLParam(r, "task_id")

	var req downloadPDFRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErrorMessage(w, http.StatusBadRequest, "request body is not valid JSON")
			return
		}
	}

	pdf, result, err := s.deps.Versions.DownloadPDF(r.Context(), identity.UserID, taskID, []byte(req.HTML))
	if err != nil {
		writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="result.pdf"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(pdf)))
	if result != nil {
		w.Header().Set("X-Version-Number", strconv.Itoa(result.VersionNumber))
	}
	_, _ = w.Write(pdf)
}
