package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/nomanoma121/minecraft-discord-bot/internal/services"
)

// PlayerHandler manages operators and the whitelist of running servers.
type PlayerHandler struct {
	service services.ServerServiceProvider
}

func NewPlayerHandler(service services.ServerServiceProvider) *PlayerHandler {
	return &PlayerHandler{service: service}
}

type playerPayload struct {
	Player string `json:"player"`
}

type whitelistEnabledPayload struct {
	Enabled *bool `json:"enabled"`
}

func (h *PlayerHandler) ListOperators(w http.ResponseWriter, r *http.Request) {
	ops, err := h.service.ListOperators(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err, "Failed to list operators")
		return
	}
	writeJSON(w, http.StatusOK, ops)
}

func (h *PlayerHandler) AddOperator(w http.ResponseWriter, r *http.Request) {
	h.addPlayer(w, r, h.service.AddOperator, "Failed to add operator")
}

func (h *PlayerHandler) RemoveOperator(w http.ResponseWriter, r *http.Request) {
	h.removePlayer(w, r, h.service.RemoveOperator, "Failed to remove operator")
}

func (h *PlayerHandler) ListWhitelist(w http.ResponseWriter, r *http.Request) {
	entries, err := h.service.ListWhitelist(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err, "Failed to list whitelist")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *PlayerHandler) AddToWhitelist(w http.ResponseWriter, r *http.Request) {
	h.addPlayer(w, r, h.service.AddToWhitelist, "Failed to add player to whitelist")
}

func (h *PlayerHandler) RemoveFromWhitelist(w http.ResponseWriter, r *http.Request) {
	h.removePlayer(w, r, h.service.RemoveFromWhitelist, "Failed to remove player from whitelist")
}

// SetWhitelistEnabled turns whitelist enforcement on or off.
func (h *PlayerHandler) SetWhitelistEnabled(w http.ResponseWriter, r *http.Request) {
	var payload whitelistEnabledPayload
	if !decodeBody(w, r, &payload) {
		return
	}
	if payload.Enabled == nil {
		writeMessage(w, http.StatusBadRequest, "enabled is required")
		return
	}
	if err := h.service.SetWhitelistEnabled(r.Context(), callerID(r), chi.URLParam(r, "id"), *payload.Enabled); err != nil {
		writeError(w, r, err, "Failed to change whitelist enforcement")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type playerAction func(ctx context.Context, callerID, id, player string) error

func (h *PlayerHandler) addPlayer(w http.ResponseWriter, r *http.Request, action playerAction, failMsg string) {
	var payload playerPayload
	if !decodeBody(w, r, &payload) {
		return
	}
	if err := action(r.Context(), callerID(r), chi.URLParam(r, "id"), payload.Player); err != nil {
		writeError(w, r, err, failMsg)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *PlayerHandler) removePlayer(w http.ResponseWriter, r *http.Request, action playerAction, failMsg string) {
	if err := action(r.Context(), callerID(r), chi.URLParam(r, "id"), chi.URLParam(r, "player")); err != nil {
		writeError(w, r, err, failMsg)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
