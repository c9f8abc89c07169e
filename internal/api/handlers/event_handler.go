package handlers

import (
	"net/http"
	"strconv"

	"github.com/nomanoma121/minecraft-discord-bot/internal/models"
	"github.com/nomanoma121/minecraft-discord-bot/internal/services"
	"github.com/rs/zerolog/log"
)

const (
	defaultEventLimit = 20
	maxEventLimit     = 500
)

// EventHandler handles HTTP requests related to system events.
type EventHandler struct {
	service services.EventServiceProvider
}

// NewEventHandler creates a new EventHandler.
func NewEventHandler(service services.EventServiceProvider) *EventHandler {
	return &EventHandler{service: service}
}

// GetRecent returns the latest audit events, optionally only those of one server.
func (h *EventHandler) GetRecent(w http.ResponseWriter, r *http.Request) {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		limit = defaultEventLimit
	}
	limit = min(limit, maxEventLimit)

	var events []models.Event
	if serverID := r.URL.Query().Get("server"); serverID != "" {
		events, err = h.service.GetEventsForServer(serverID, limit)
	} else {
		events, err = h.service.GetRecentEvents(limit)
	}
	if err != nil {
		log.Error().Err(err).Msg("Failed to retrieve events")
		writeMessage(w, http.StatusInternalServerError, "Failed to retrieve events")
		return
	}
	writeJSON(w, http.StatusOK, events)
}
