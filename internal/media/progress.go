package media

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/zerodha/logf"
)

// Progress namespace timings, matching the signaling hub's socket-liveness
// budget (the teacher's own websocket.Client used the same figures).
const (
	progressWriteWait      = 10 * time.Second
	progressPongWait       = 60 * time.Second
	progressPingPeriod     = (progressPongWait * 9) / 10
	progressMaxMessageSize = 512
	progressAuthTimeout    = 5 * time.Second
)

// ProgressAuthFn validates a bearer token and returns the caller's user id
// (spec.md §4.4 "Progress namespace... Authentication: bearer access
// token in handshake").
type ProgressAuthFn func(token string) (string, error)

// ProgressEvent is the payload of one `progress:{mediaId}` frame
// (spec.md §4.4 "Progress namespace").
type ProgressEvent struct {
	MediaID        string `json:"mediaId"`
	Status         string `json:"status"`
	Progress       int    `json:"progress,omitempty"`
	ThumbnailURL   string `json:"thumbnailUrl,omitempty"`
	HLSPlaylistURL string `json:"hlsPlaylistUrl,omitempty"`
	CDNURL         string `json:"cdnUrl,omitempty"`
	Error          string `json:"error,omitempty"`
	MessageID      string `json:"messageId,omitempty"`
}

type progressMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type progressAuthPayload struct {
	Token string `json:"token"`
}

const progressTypeAuth = "auth"

// ProgressHub fans media-processing progress out to every socket a user
// has open on the progress namespace, adapted from the teacher's
// internal/websocket.Hub (register/unregister channels, per-user client
// sets) with the organization layer dropped — this namespace has exactly
// one room per user, `user:{id}` (spec.md §4.4).
type ProgressHub struct {
	mu      sync.RWMutex
	clients map[string]map[*ProgressClient]struct{}

	register   chan *ProgressClient
	unregister chan *ProgressClient
	broadcast  chan progressBroadcast

	log logf.Logger
}

type progressBroadcast struct {
	userID string
	data   []byte
}

// NewProgressHub creates a ProgressHub. Call Run in its own goroutine
// before accepting connections.
func NewProgressHub(log logf.Logger) *ProgressHub {
	return &ProgressHub{
		clients:    make(map[string]map[*ProgressClient]struct{}),
		register:   make(chan *ProgressClient),
		unregister: make(chan *ProgressClient),
		broadcast:  make(chan progressBroadcast, 256),
		log:        log,
	}
}

// Run is the hub's event loop.
func (h *ProgressHub) Run() {
	for {
		select {
		case c := <-h.register:
			h.addClient(c)
		case c := <-h.unregister:
			h.removeClient(c)
		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

func (h *ProgressHub) addClient(c *ProgressClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[c.userID]
	if !ok {
		set = make(map[*ProgressClient]struct{})
		h.clients[c.userID] = set
	}
	set[c] = struct{}{}
}

func (h *ProgressHub) removeClient(c *ProgressClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.clients[c.userID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.clients, c.userID)
		}
	}
	close(c.send)
}

func (h *ProgressHub) deliver(msg progressBroadcast) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients[msg.userID] {
		select {
		case c.send <- msg.data:
		default:
			h.log.Warn("media: progress client buffer full, dropping event", "user_id", msg.userID)
		}
	}
}

// Emit delivers event to every socket userID has open on the progress
// namespace. A no-op if the hub is nil or the user has no live socket —
// callers are not required to know whether anyone is listening.
func (h *ProgressHub) Emit(userID string, event ProgressEvent) {
	if h == nil {
		return
	}
	data, err := json.Marshal(progressMessage{Type: "progress:" + event.MediaID, Payload: event})
	if err != nil {
		h.log.Error("media: failed to encode progress event", "error", err, "media_id", event.MediaID)
		return
	}
	select {
	case h.broadcast <- progressBroadcast{userID: userID, data: data}:
	default:
		h.log.Warn("media: progress broadcast queue full, dropping event", "user_id", userID, "media_id", event.MediaID)
	}
}

// ProgressClient is one progress-namespace socket, joined automatically
// to room `user:{id}` on successful auth.
type ProgressClient struct {
	hub  *ProgressHub
	conn *websocket.Conn
	send chan []byte

	userID        string
	authenticated bool
	authFn        ProgressAuthFn
}

// NewProgressClient creates an unauthenticated ProgressClient that must
// complete the message-based auth handshake before joining its room.
func NewProgressClient(hub *ProgressHub, conn *websocket.Conn, authFn ProgressAuthFn) *ProgressClient {
	return &ProgressClient{hub: hub, conn: conn, send: make(chan []byte, 64), authFn: authFn}
}

// ReadPump pumps inbound frames; the progress namespace is outbound-only
// beyond the auth handshake, so anything after that is drained and
// discarded (keeps the pong handler and read deadline alive).
func (c *ProgressClient) ReadPump() {
	defer func() {
		if r := recover(); r != nil {
			c.hub.log.Error("media: recovered from panic in progress ReadPump", "error", r, "user_id", c.userID)
		}
		if c.authenticated {
			c.hub.unregister <- c
		} else {
			close(c.send)
		}
		if c.conn != nil {
			_ = c.conn.Close()
		}
	}()

	c.conn.SetReadLimit(progressMaxMessageSize)

	if !c.authenticated {
		_ = c.conn.SetReadDeadline(time.Now().Add(progressAuthTimeout))
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			c.hub.log.Warn("media: progress auth timeout or read error", "error", err)
			return
		}
		if !c.handleAuthMessage(message) {
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "authentication failed"))
			return
		}
	}

	_ = c.conn.SetReadDeadline(time.Now().Add(progressPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(progressPongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

// WritePump pumps progress events and keepalive pings to the socket.
func (c *ProgressClient) WritePump() {
	ticker := time.NewTicker(progressPingPeriod)
	defer func() {
		if r := recover(); r != nil {
			c.hub.log.Error("media: recovered from panic in progress WritePump", "error", r, "user_id", c.userID)
		}
		ticker.Stop()
		if c.conn != nil {
			_ = c.conn.Close()
		}
	}()

	for {
		select {
		case message, ok := <-c.send:
			if c.conn == nil {
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(progressWriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if !c.authenticated {
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			if c.conn == nil {
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(progressWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *ProgressClient) handleAuthMessage(data []byte) bool {
	var msg progressMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return false
	}
	if msg.Type != progressTypeAuth {
		return false
	}
	payloadBytes, err := json.Marshal(msg.Payload)
	if err != nil {
		return false
	}
	var auth progressAuthPayload
	if err := json.Unmarshal(payloadBytes, &auth); err != nil {
		return false
	}
	if auth.Token == "" || c.authFn == nil {
		return false
	}
	userID, err := c.authFn(auth.Token)
	if err != nil {
		c.hub.log.Warn("media: progress auth failed", "error", err)
		return false
	}
	c.userID = userID
	c.authenticated = true
	c.hub.register <- c
	return true
}
