package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/nomanoma121/minecraft-discord-bot/internal/services"
)

// BackupHandler handles HTTP requests related to backups.
type BackupHandler struct {
	service services.BackupServiceProvider
}

// NewBackupHandler creates a new BackupHandler.
func NewBackupHandler(service services.BackupServiceProvider) *BackupHandler {
	return &BackupHandler{service: service}
}

// GetAllForServer lists a server's backups, newest first.
func (h *BackupHandler) GetAllForServer(w http.ResponseWriter, r *http.Request) {
	backups, err := h.service.ListBackups(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err, "Failed to list backups")
		return
	}
	writeJSON(w, http.StatusOK, backups)
}

// Create backs up a running server. It answers once the archive is on disk.
func (h *BackupHandler) Create(w http.ResponseWriter, r *http.Request) {
	backup, err := h.service.CreateBackup(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err, "Failed to create backup")
		return
	}
	writeJSON(w, http.StatusCreated, backup)
}

// Restore extracts a backup into a stopped server. The stamp "latest" picks the newest backup.
func (h *BackupHandler) Restore(w http.ResponseWriter, r *http.Request) {
	backup, err := h.service.RestoreBackup(r.Context(), callerID(r), chi.URLParam(r, "id"), chi.URLParam(r, "stamp"))
	if err != nil {
		writeError(w, r, err, "Failed to restore backup")
		return
	}
	writeJSON(w, http.StatusOK, backup)
}

func (h *BackupHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteBackup(r.Context(), callerID(r), chi.URLParam(r, "id"), chi.URLParam(r, "stamp")); err != nil {
		writeError(w, r, err, "Failed to delete backup")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
