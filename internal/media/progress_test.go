package media

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zerodha/logf"
)

// newTestClient builds a ProgressClient bypassing the websocket handshake,
// exercising only the hub's register/deliver/unregister plumbing.
func newTestClient(hub *ProgressHub, userID string) *ProgressClient {
	return &ProgressClient{hub: hub, send: make(chan []byte, 8), userID: userID, authenticated: true}
}

func TestProgressHub_EmitDeliversToEveryClientOfUser(t *testing.T) {
	hub := NewProgressHub(logf.New(logf.Opts{}))
	go hub.Run()

	c1 := newTestClient(hub, "alice")
	c2 := newTestClient(hub, "alice")
	other := newTestClient(hub, "bob")

	hub.register <- c1
	hub.register <- c2
	hub.register <- other

	hub.Emit("alice", ProgressEvent{MediaID: "m1", Status: "ready", Progress: 100})

	for _, c := range []*ProgressClient{c1, c2} {
		select {
		case data := <-c.send:
			var msg progressMessage
			require.NoError(t, json.Unmarshal(data, &msg))
			assert.Equal(t, "progress:m1", msg.Type)
		case <-time.After(time.Second):
			t.Fatal("expected alice's clients to receive the progress frame")
		}
	}

	select {
	case <-other.send:
		t.Fatal("bob's socket should not receive alice's progress event")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestProgressHub_EmitOnNilHubIsNoOp(t *testing.T) {
	var hub *ProgressHub
	assert.NotPanics(t, func() {
		hub.Emit("alice", ProgressEvent{MediaID: "m1"})
	})
}

func TestProgressHub_UnregisterClosesSendChannel(t *testing.T) {
	hub := NewProgressHub(logf.New(logf.Opts{}))
	go hub.Run()

	c := newTestClient(hub, "alice")
	hub.register <- c
	hub.unregister <- c

	select {
	case _, ok := <-c.send:
		assert.False(t, ok, "unregister must close the client's send channel")
	case <-time.After(time.Second):
		t.Fatal("expected send channel to be closed")
	}
}

func TestProgressHub_EmitWithNoListenersIsNoOp(t *testing.T) {
	hub := NewProgressHub(logf.New(logf.Opts{}))
	go hub.Run()
	assert.NotPanics(t, func() {
		hub.Emit("nobody-listening", ProgressEvent{MediaID: "m1"})
	})
}

func TestProgressClient_HandleAuthMessage(t *testing.T) {
	hub := NewProgressHub(logf.New(logf.Opts{}))
	go hub.Run()

	authFn := func(token string) (string, error) {
		if token != "good-token" {
			return "", assert.AnError
		}
		return "alice", nil
	}

	client := NewProgressClient(hub, nil, authFn)
	msg, err := json.Marshal(progressMessage{Type: progressTypeAuth, Payload: progressAuthPayload{Token: "good-token"}})
	require.NoError(t, err)

	ok := client.handleAuthMessage(msg)
	assert.True(t, ok)
	assert.True(t, client.authenticated)
	assert.Equal(t, "alice", client.userID)
}

func TestProgressClient_HandleAuthMessage_RejectsBadToken(t *testing.T) {
	hub := NewProgressHub(logf.New(logf.Opts{}))
	go hub.Run()

	authFn := func(token string) (string, error) { return "", assert.AnError }
	client := NewProgressClient(hub, nil, authFn)

	msg, err := json.Marshal(progressMessage{Type: progressTypeAuth, Payload: progressAuthPayload{Token: "bad-token"}})
	require.NoError(t, err)

	assert.False(t, client.handleAuthMessage(msg))
	assert.False(t, client.authenticated)
}

func TestProgressClient_HandleAuthMessage_RejectsWrongFrameType(t *testing.T) {
	hub := NewProgressHub(logf.New(logf.Opts{}))
	client := NewProgressClient(hub, nil, func(string) (string, error) { return "alice", nil })

	msg, err := json.Marshal(progressMessage{Type: "not-auth", Payload: progressAuthPayload{Token: "good-token"}})
	require.NoError(t, err)

	assert.False(t, client.handleAuthMessage(msg))
}
