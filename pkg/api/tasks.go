package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/benfrankstein/untxt-sub002/pkg/ingest"
	"github.com/benfrankstein/untxt-sub002/pkg/models"
)

// handleUpload accepts one multipart upload and queues it for processing.
//
// Form fields:
//   - file: the document (required)
//   - processing_config: JSON ProcessingConfig (required)
//   - folder_id: target folder (optional)
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())

	// The limit leaves headroom for the form framing around the file; the
	// ingest service enforces the exact byte cap.
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes+1024*1024)

	file, header, err := r.FormFile("file")
	if err != nil {
		s.rejectUpload(w, "missing_file", http.StatusBadRequest, "multipart field 'file' is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		s.rejectUpload(w, "payload_too_large", http.StatusRequestEntityTooLarge, "upload exceeds the size limit")
		return
	}

	var processingConfig models.ProcessingConfig
	rawConfig := r.FormValue("processing_config")
	if rawConfig == "" {
		s.rejectUpload(w, "missing_config", http.StatusBadRequest, "form field 'processing_config' is required")
		return
	}
	if err := json.Unmarshal([]byte(rawConfig), &processingConfig); err != nil {
		s.rejectUpload(w, "invalid_config", http.StatusBadRequest, "processing_config is not valid JSON")
		return
	}

	var folderID *string
	if v := r.FormValue("folder_id"); v != "" {
		folderID = &v
	}

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}

	task, err := s.deps.Ingest.Upload(r.Context(), &ingest.UploadRequest{
		OwnerID:          identity.UserID,
		Filename:         header.Filename,
		MimeType:         mimeType,
		Data:             data,
		ProcessingConfig: processingConfig,
		FolderID:         folderID,
	})
	if err != nil {
		if s.deps.Metrics != nil {
			s.deps.Metrics.UploadRejected(rejectReason(err))
		}
		writeError(w, r, err)
		return
	}

	if s.deps.Metrics != nil {
		s.deps.Metrics.UploadAccepted()
	}
	writeCreated(w, task)
}

func (s *Server) rejectUpload(w http.ResponseWriter, reason string, status int, detail string) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.UploadRejected(reason)
	}
	writeErrorMessage(w, status, detail)
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ingest.ErrUnsupportedMediaType):
		return "unsupported_media_type"
	case errors.Is(err, ingest.ErrPayloadTooLarge):
		return "payload_too_large"
	case errors.Is(err, ingest.ErrServiceOverloaded):
		return "overloaded"
	case errors.Is(err, ingest.ErrCreditExhausted):
		return "credit_exhausted"
	case errors.Is(err, ingest.ErrStorage):
		return "storage"
	default:
		return "other"
	}
}

// handleListTasks returns the caller's tasks newest first with the per-status
// summary. folder_id narrows to one folder.
func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())

	var folderID *string
	if v := r.URL.Query().Get("folder_id"); v != "" {
		folderID = &v
	}

	tasks, summary, err := s.deps.Store.ListTasks(r.Context(), identity.UserID, folderID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeData(w, map[string]any{
		"tasks":   tasks,
		"summary": summary,
	})
}

// handleGetTask returns one task with its file and result. Visible to the
// owner and to active grantees.
func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())

	task, err := s.deps.Permissions.Authorize(r.Context(), identity.UserID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, task)
}

// handleDeleteTask soft-deletes the task: metadata rows go away and the
// stored objects are tagged for lifecycle expiry. Owner only.
func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())

	if err := s.deps.Lifecycle.DeleteTask(r.Context(), identity.UserID, chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, map[string]any{"deleted": true})
}

// handleDownloadOriginal redirects to a pre-signed URL for the uploaded
// original.
func (s *Server) handleDownloadOriginal(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())

	url, err := s.deps.Download.OriginalURL(r.Context(), identity.UserID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	http.Redirect(w, r, url, http.StatusFound)
}

// handleDownloadResult redirects to a pre-signed URL for the OCR result.
func (s *Server) handleDownloadResult(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())

	url, err := s.deps.Download.ResultURL(r.Context(), identity.UserID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	http.Redirect(w, r, url, http.StatusFound)
}

// handlePreview streams the result HTML inline.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())

	content, contentType, err := s.deps.Download.Preview(r.Context(), identity.UserID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(content)))
	_, _ = w.Write(content)
}

// handlePageImage streams one rendered page image. Pages are 1-based.
func (s *Server) handlePageImage(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())

	page, err := strconv.Atoi(chi.URLParam(r, "n"))
	if err != nil || page < 1 {
		writeErrorMessage(w, http.StatusBadRequest, "page number must be a positive integer")
		return
	}

	content, contentType, err := s.deps.Download.PageImage(r.Context(), identity.UserID, chi.URLParam(r, "id"), page)
	if err != nil {
		writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(content)))
	_, _ = w.Write(content)
}

// handleAuditTrail returns the task's audit trail, newest first. Owner only.
func (s *Server) handleAuditTrail(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	records, err := s.deps.Permissions.Trail(r.Context(), chi.URLParam(r, "id"), identity.UserID, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, records)
}
