package handlers

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	ws "github.com/nomanoma121/minecraft-discord-bot/internal/websocket"
	"github.com/rs/zerolog/log"
)

// WebSocketHandler upgrades connections and registers them with the hub.
type WebSocketHandler struct {
	hub      *ws.Hub
	upgrader websocket.Upgrader
}

// NewWebSocketHandler creates a new WebSocketHandler. allowedOrigins lists acceptable Origin
// headers; "*" accepts any.
func NewWebSocketHandler(hub *ws.Hub, allowedOrigins []string) *WebSocketHandler {
	return &WebSocketHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if o == "*" || o == origin {
				return true
			}
		}
		return false
	}
}

// Serve handles the WebSocket connection request. The server query parameter subscribes the
// client to one server; without it the client receives everything.
func (h *WebSocketHandler) Serve(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to upgrade websocket connection")
		return
	}

	topic := r.URL.Query().Get("server")
	if topic == "" {
		topic = ws.GlobalTopic
	}

	client := ws.NewClient(h.hub, conn, topic)
	if !h.hub.Attach(client) {
		_ = conn.Close()
		return
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		client.WritePump()
	}()
	go func() {
		defer wg.Done()
		client.ReadPump(logIncoming)
	}()

	go func() {
		wg.Wait()
		h.hub.Detach(client)
	}()
}

// logIncoming notes client messages; the feed is one-way and commands go through the REST API.
func logIncoming(client *ws.Client, message []byte) {
	var msg ws.Message
	if err := json.Unmarshal(message, &msg); err != nil {
		log.Debug().Err(err).Str("topic", client.ServerID).Msg("Ignoring malformed websocket message")
		return
	}
	log.Debug().Str("topic", client.ServerID).Str("action", msg.Action).Msg("Ignoring websocket message")
}
