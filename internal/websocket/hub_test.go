package websocket

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, c *Client) Message {
	t.Helper()
	select {
	case raw, ok := <-c.Send:
		require.True(t, ok, "send channel closed")
		var msg Message
		require.NoError(t, json.Unmarshal(raw, &msg))
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message received")
		return Message{}
	}
}

func assertNothing(t *testing.T, c *Client) {
	t.Helper()
	select {
	case raw := <-c.Send:
		t.Fatalf("unexpected message: %s", raw)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubRoutesByServer(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Stop()

	global := NewClient(hub, nil, GlobalTopic)
	alpha := NewClient(hub, nil, "alpha")
	beta := NewClient(hub, nil, "beta")
	hub.Register <- global
	hub.Register <- alpha
	hub.Register <- beta

	hub.Publish("server_update", "alpha", map[string]string{"state": "running"})

	assert.Equal(t, "server_update", receive(t, alpha).Action)
	msg := receive(t, global)
	assert.Equal(t, "alpha", msg.ServerID)
	assertNothing(t, beta)
}

func TestHubBroadcastReachesEveryone(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Stop()

	a := NewClient(hub, nil, "alpha")
	b := NewClient(hub, nil, GlobalTopic)
	hub.Register <- a
	hub.Register <- b

	hub.Publish("server_stats", "", []int{1, 2})

	assert.Equal(t, "server_stats", receive(t, a).Action)
	assert.Equal(t, "server_stats", receive(t, b).Action)
}

func TestHubUnregisterClosesSend(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Stop()

	c := NewClient(hub, nil, "alpha")
	hub.Register <- c
	hub.Unregister <- c

	select {
	case _, ok := <-c.Send:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("send channel not closed")
	}
}

func TestAttachAndDetachAfterStop(t *testing.T) {
	hub := NewHub()
	hub.Stop()

	done := make(chan bool)
	go func() {
		c := NewClient(hub, nil, "alpha")
		attached := hub.Attach(c)
		hub.Detach(c)
		done <- attached
	}()

	select {
	case attached := <-done:
		assert.False(t, attached)
	case <-time.After(time.Second):
		t.Fatal("attach or detach blocked after stop")
	}
}

func TestAttachRegistersClient(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Stop()

	c := NewClient(hub, nil, "alpha")
	require.True(t, hub.Attach(c))
	hub.Publish("server_update", "alpha", nil)
	assert.Equal(t, "server_update", receive(t, c).Action)
}

func TestNewErrorMessage(t *testing.T) {
	var msg Message
	require.NoError(t, json.Unmarshal(NewErrorMessage("nope"), &msg))
	assert.Equal(t, "error", msg.Action)
	assert.Equal(t, map[string]interface{}{"error": "nope"}, msg.Payload)
}
