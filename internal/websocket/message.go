package websocket

import "encoding/json"

// Message defines the structure for websocket messages.
type Message struct {
	Action   string      `json:"action"`
	ServerID string      `json:"serverId,omitempty"`
	Payload  interface{} `json:"payload"`
}

// NewErrorMessage builds an "error" message for a single client.
func NewErrorMessage(msg string) []byte {
	b, _ := json.Marshal(Message{Action: "error", Payload: map[string]string{"error": msg}})
	return b
}
