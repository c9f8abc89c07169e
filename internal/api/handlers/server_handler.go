package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/nomanoma121/minecraft-discord-bot/internal/icons"
	"github.com/nomanoma121/minecraft-discord-bot/internal/models"
	"github.com/nomanoma121/minecraft-discord-bot/internal/services"
)

// ServerHandler handles HTTP requests related to servers.
type ServerHandler struct {
	service services.ServerServiceProvider
}

// NewServerHandler creates a new ServerHandler.
func NewServerHandler(service services.ServerServiceProvider) *ServerHandler {
	return &ServerHandler{service: service}
}

// GetAll lists every server, or looks one up when a name query parameter is given.
func (h *ServerHandler) GetAll(w http.ResponseWriter, r *http.Request) {
	if name := r.URL.Query().Get("name"); name != "" {
		status, err := h.service.FindByName(r.Context(), name)
		if err != nil {
			writeError(w, r, err, "Failed to find server")
			return
		}
		writeJSON(w, http.StatusOK, status)
		return
	}

	servers, err := h.service.ListAll(r.Context())
	if err != nil {
		writeError(w, r, err, "Failed to list servers")
		return
	}
	writeJSON(w, http.StatusOK, servers)
}

// Get returns the status of a single server.
func (h *ServerHandler) Get(w http.ResponseWriter, r *http.Request) {
	status, err := h.service.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err, "Failed to get server status")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// Create creates a server owned by the caller.
func (h *ServerHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req models.CreateServerRequest
	if !decodeBody(w, r, &req) {
		return
	}

	server, err := h.service.Create(r.Context(), callerID(r), req)
	if err != nil {
		writeError(w, r, err, "Failed to create server")
		return
	}
	writeJSON(w, http.StatusCreated, server)
}

// Update applies a partial edit to a stopped server.
func (h *ServerHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req models.EditServerRequest
	if !decodeBody(w, r, &req) {
		return
	}

	server, err := h.service.Edit(r.Context(), callerID(r), chi.URLParam(r, "id"), req)
	if err != nil {
		writeError(w, r, err, "Failed to edit server")
		return
	}
	writeJSON(w, http.StatusOK, server)
}

func (h *ServerHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), callerID(r), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err, "Failed to delete server")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Start starts a server and answers once it is healthy.
func (h *ServerHandler) Start(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Start, "Failed to start server")
}

func (h *ServerHandler) Stop(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Stop, "Failed to stop server")
}

func (h *ServerHandler) transition(w http.ResponseWriter, r *http.Request, action func(ctx context.Context, id string) error, failMsg string) {
	id := chi.URLParam(r, "id")
	if err := action(r.Context(), id); err != nil {
		writeError(w, r, err, failMsg)
		return
	}
	status, err := h.service.Status(r.Context(), id)
	if err != nil {
		writeError(w, r, err, "Failed to get server status")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// SetIcon replaces the server icon with the uploaded PNG, JPEG or GIF image.
func (h *ServerHandler) SetIcon(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, icons.MaxUploadBytes)
	server, err := h.service.SetIcon(r.Context(), callerID(r), chi.URLParam(r, "id"), body)
	if err != nil {
		writeError(w, r, err, "Failed to set server icon")
		return
	}
	writeJSON(w, http.StatusOK, server)
}
