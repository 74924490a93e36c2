package signaling

import (
	"encoding/json"
	"time"

	"github.com/fasthttp/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	authTimeout    = 5 * time.Second
)

// AuthenticateFn validates a bearer token and returns the caller's
// user id (spec.md §1 "authentication" is an external collaborator;
// the hub only consumes the result).
type AuthenticateFn func(token string) (string, error)

// Client is one signaling socket connection, adapted from the
// teacher's websocket.Client but scoped to a single call room instead
// of an org/user broadcast tree.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	userID        string
	authenticated bool
	authFn        AuthenticateFn

	callID string // room currently joined, "" if none
}

// NewClient creates an unauthenticated Client that must complete the
// message-based auth handshake before any call:* message is accepted.
func NewClient(hub *Hub, conn *websocket.Conn, authFn AuthenticateFn) *Client {
	return &Client{hub: hub, conn: conn, send: make(chan []byte, 64), authFn: authFn}
}

// ReadPump pumps inbound frames from the socket to the hub's handlers.
func (c *Client) ReadPump() {
	defer func() {
		if r := recover(); r != nil {
			c.hub.log.Error("signaling: recovered from panic in ReadPump", "error", r, "user_id", c.userID)
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

	c.conn.SetReadLimit(maxMessageSize)

	if !c.authenticated {
		_ = c.conn.SetReadDeadline(time.Now().Add(authTimeout))
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			c.hub.log.Warn("signaling: auth timeout or read error", "error", err)
			return
		}
		if !c.handleAuthMessage(message) {
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "authentication failed"))
			return
		}
	}

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Error("signaling: read error", "error", err, "user_id", c.userID)
			}
			break
		}
		c.hub.dispatch(c, message)
	}
}

// WritePump pumps outbound frames from the client's send channel to
// the socket, interleaved with keepalive pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		if r := recover(); r != nil {
			c.hub.log.Error("signaling: recovered from panic in WritePump", "error", r, "user_id", c.userID)
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
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
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
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleAuthMessage(data []byte) bool {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return false
	}
	if msg.Type != TypeAuth {
		return false
	}
	payloadBytes, err := json.Marshal(msg.Payload)
	if err != nil {
		return false
	}
	var auth AuthPayload
	if err := json.Unmarshal(payloadBytes, &auth); err != nil {
		return false
	}
	if auth.Token == "" || c.authFn == nil {
		return false
	}
	userID, err := c.authFn(auth.Token)
	if err != nil {
		c.hub.log.Warn("signaling: auth failed", "error", err)
		return false
	}

	c.userID = userID
	c.authenticated = true
	c.hub.register <- c
	return true
}

// enqueue queues a message for WritePump, dropping it if the client's buffer is full
// rather than blocking the hub's event loop.
func (c *Client) enqueue(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.hub.log.Error("signaling: failed to marshal outbound message", "error", err, "type", msg.Type)
		return
	}
	select {
	case c.send <- data:
	default:
		c.hub.log.Warn("signaling: client send buffer full, dropping message", "user_id", c.userID, "type", msg.Type)
	}
}

func (c *Client) sendError(err error) {
	code, message := errCode(err)
	c.enqueue(WSMessage{Type: TypeError, Payload: ErrorPayload{Code: code, Message: message}})
}
