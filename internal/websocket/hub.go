package websocket

import (
	"encoding/json"

	"github.com/rs/zerolog/log"
)

// GlobalTopic is the subscription of clients that want events for every server.
const GlobalTopic = "global"

const broadcastBuffer = 256

type targeted struct {
	serverID string
	message  []byte
}

// Hub maintains the set of active clients and broadcasts messages to them.
type Hub struct {
	// Registered clients.
	clients map[*Client]bool

	// Messages for every client.
	Broadcast chan []byte

	// Messages for clients subscribed to one server.
	direct chan targeted

	// Register requests from the clients.
	Register chan *Client

	// Unregister requests from clients.
	Unregister chan *Client

	// A map of server IDs to a set of clients subscribed to it.
	subscriptions map[string]map[*Client]bool

	done chan struct{}
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		Broadcast:     make(chan []byte, broadcastBuffer),
		direct:        make(chan targeted, broadcastBuffer),
		Register:      make(chan *Client),
		Unregister:    make(chan *Client),
		clients:       make(map[*Client]bool),
		subscriptions: make(map[string]map[*Client]bool),
		done:          make(chan struct{}),
	}
}

// Run starts the Hub's message processing loop. It returns after Stop.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.Register:
			h.clients[client] = true
			log.Info().Int("total_clients", len(h.clients)).Msg("Client connected")
			if client.ServerID != "" {
				h.addSubscription(client, client.ServerID)
			}
		case client := <-h.Unregister:
			if _, ok := h.clients[client]; ok {
				h.drop(client)
				log.Info().Int("total_clients", len(h.clients)).Msg("Client disconnected")
			}
		case message := <-h.Broadcast:
			for client := range h.clients {
				h.send(client, message)
			}
		case t := <-h.direct:
			for client := range h.subscriptions[t.serverID] {
				h.send(client, t.message)
			}
			for client := range h.subscriptions[GlobalTopic] {
				h.send(client, t.message)
			}
		case <-h.done:
			for client := range h.clients {
				h.drop(client)
			}
			return
		}
	}
}

// Stop ends Run and disconnects every client.
func (h *Hub) Stop() {
	close(h.done)
}

// Attach registers a client. It reports false once the hub has stopped.
func (h *Hub) Attach(client *Client) bool {
	select {
	case h.Register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Detach unregisters a client. After Stop it returns at once.
func (h *Hub) Detach(client *Client) {
	select {
	case h.Unregister <- client:
	case <-h.done:
	}
}

// Publish marshals an action and payload and queues it for clients. A non-empty serverID limits
// delivery to that server's subscribers and global subscribers. When the queue is full the
// message is dropped.
func (h *Hub) Publish(action, serverID string, payload any) {
	msg, err := json.Marshal(Message{Action: action, ServerID: serverID, Payload: payload})
	if err != nil {
		log.Error().Err(err).Str("action", action).Msg("Error marshalling websocket message")
		return
	}

	if serverID == "" {
		select {
		case h.Broadcast <- msg:
		default:
			log.Warn().Str("action", action).Msg("Websocket broadcast queue full, dropping message")
		}
		return
	}
	select {
	case h.direct <- targeted{serverID: serverID, message: msg}:
	default:
		log.Warn().Str("action", action).Str("server_id", serverID).Msg("Websocket broadcast queue full, dropping message")
	}
}

// send delivers to a client, dropping clients whose buffers are full.
func (h *Hub) send(client *Client, message []byte) {
	select {
	case client.Send <- message:
	default:
		h.drop(client)
	}
}

func (h *Hub) drop(client *Client) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	close(client.Send)
	h.removeSubscription(client)
}

func (h *Hub) addSubscription(client *Client, serverID string) {
	if h.subscriptions[serverID] == nil {
		h.subscriptions[serverID] = make(map[*Client]bool)
	}
	h.subscriptions[serverID][client] = true
}

func (h *Hub) removeSubscription(client *Client) {
	for serverID, subs := range h.subscriptions {
		if _, ok := subs[client]; ok {
			delete(subs, client)
			if len(subs) == 0 {
				delete(h.subscriptions, serverID)
			}
		}
	}
}
