package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/benfrankstein/untxt-sub002/pkg/models"
)

type folderRequest struct {
	Name        string `json:"name"`
	Color       string `json:"color,omitempty"`
	Description string `json:"description,omitempty"`
}

// handleCreateFolder creates a folder owned by the caller.
func (s *Server) handleCreateFolder(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())

	var req folderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "request body is not valid JSON")
		return
	}
	if req.Name == "" {
		writeErrorMessage(w, http.StatusBadRequest, "name is required")
		return
	}

	folder := &models.Folder{
		OwnerID:     identity.UserID,
		Name:        req.Name,
		Color:       req.Color,
		Description: req.Description,
	}
	if _, err := s.deps.Store.CreateFolder(r.Context(), folder); err != nil {
		writeError(w, r, err)
		return
	}
	writeCreated(w, folder)
}

// handleListFolders returns the caller's folders with task counts.
func (s *Server) handleListFolders(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())

	folders, err := s.deps.Store.ListFolders(r.Context(), identity.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, folders)
}

// handleGetFolder returns one folder. Ownership is enforced by the store
// lookup keying on (owner, id).
func (s *Server) handleGetFolder(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())

	folder, err := s.deps.Store.GetFolder(r.Context(), identity.UserID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, folder)
}

// handleUpdateFolder renames or recolors a folder.
func (s *Server) handleUpdateFolder(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())

	folder, err := s.deps.Store.GetFolder(r.Context(), identity.UserID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req folderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "request body is not valid JSON")
		return
	}
	if req.Name != "" {
		folder.Name = req.Name
	}
	if req.Color != "" {
		folder.Color = req.Color
	}
	if req.Description != "" {
		folder.Description = req.Description
	}

	if err := s.deps.Store.UpdateFolder(r.Context(), folder); err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, folder)
}

// handleDeleteFolder removes the folder. Tasks inside it survive with their
// folder reference cleared by the store.
func (s *Server) handleDeleteFolder(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())

	if err := s.deps.Store.DeleteFolder(r.Context(), identity.UserID, chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, map[string]any{"deleted": true})
}
