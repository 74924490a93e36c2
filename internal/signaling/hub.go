// Package signaling implements the WebSocket gateway described in
// spec.md §4.3: per-call rooms, hub-owned timers (ringing, ack,
// disconnect grace, ICE batching), and the inbound/outbound call:*
// protocol. It is adapted from the teacher's internal/websocket
// Hub/Client (register/unregister channels, ping/pong, buffered
// per-client send channel, message-based auth handshake), generalized
// from an org/user broadcast model to a per-call room model.
package signaling

import (
	"context"
	"sync"

	"github.com/zerodha/logf"

	"github.com/nyife/rtcore/internal/apperr"
	"github.com/nyife/rtcore/internal/callhistory"
	"github.com/nyife/rtcore/internal/callstate"
	"github.com/nyife/rtcore/internal/clock"
	"github.com/nyife/rtcore/internal/config"
	"github.com/nyife/rtcore/internal/ice"
	"github.com/nyife/rtcore/internal/sfu"
)

// PolicyFn answers whether a caller may reach callee, the single
// privacy/block predicate this module consults but never evaluates
// (spec.md §1 "privacy/block policy evaluation... treated as a
// capability with a single predicate").
type PolicyFn func(callerID, calleeID string) bool

// Hub maintains every signaling socket, the call rooms they join, and
// the timers that drive ringing/ack/disconnect-grace/ICE-batch
// deadlines (spec.md §4.3).
type Hub struct {
	core *callhistory.Core
	ice  *ice.Service
	sfu  *sfu.Client
	cfg  config.SignalingConfig
	clk  clock.Clock
	log  logf.Logger

	policy PolicyFn
	push   PushFn

	register   chan *Client
	unregister chan *Client
	actions    chan func()

	mu    sync.RWMutex
	users map[string]map[*Client]struct{}  // userID -> live sockets, any call
	rooms map[string]map[*Client]struct{}  // callID -> sockets joined to that call's room

	timers *timerSet
}

// New creates a Hub. Call Run in its own goroutine before accepting
// connections.
func New(core *callhistory.Core, iceSvc *ice.Service, sfuClient *sfu.Client, cfg config.SignalingConfig, clk clock.Clock, policy PolicyFn, push PushFn, log logf.Logger) *Hub {
	h := &Hub{
		core:       core,
		ice:        iceSvc,
		sfu:        sfuClient,
		cfg:        cfg,
		clk:        clk,
		log:        log,
		policy:     policy,
		push:       push,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		actions:    make(chan func(), 256),
		users:      make(map[string]map[*Client]struct{}),
		rooms:      make(map[string]map[*Client]struct{}),
	}
	h.timers = newTimerSet(h)
	return h
}

// Run is the hub's single-threaded event loop (spec.md §5 "Signaling
// Hub and Event Bus run single-threaded cooperative on the socket-
// server event loop per process").
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)
		case client := <-h.unregister:
			h.unregisterClient(client)
		case fn := <-h.actions:
			fn()
		}
	}
}

// post schedules fn to run on the hub's single event-loop goroutine,
// the seam timers use to touch hub/call state without racing the
// register/unregister handlers (spec.md §5 "Signaling Hub... run
// single-threaded cooperative on the socket-server event loop").
func (h *Hub) post(fn func()) {
	select {
	case h.actions <- fn:
	default:
		h.log.Warn("signaling: action queue full, dropping scheduled action")
	}
}

func (h *Hub) registerClient(c *Client) {
	h.mu.Lock()
	sockets, ok := h.users[c.userID]
	if !ok {
		sockets = make(map[*Client]struct{})
		h.users[c.userID] = sockets
	}
	sockets[c] = struct{}{}
	h.mu.Unlock()

	h.log.Info("signaling: client registered", "user_id", c.userID)
	h.timers.cancelDisconnect(c.userID)
	h.rejoinActiveCall(c)
}

// rejoinActiveCall implements the reconnect half of spec.md §4.3
// "Disconnect grace": if userID has a session still tracked by the
// call-history core, rejoin its room and — if the session is still
// ringing and this socket belongs to the callee — re-emit
// call:incoming with fresh ICE config, since the original notification
// may have been missed while the socket was down.
func (h *Hub) rejoinActiveCall(c *Client) {
	session, err := h.core.GetActiveByUser(context.Background(), c.userID)
	if err != nil {
		return
	}

	h.joinRoom(session.CallID, c)

	if session.Status == callstate.StateReconnecting {
		_ = h.core.UpdateStatus(context.Background(), session.CallID, callstate.EventReconnect)
	}

	if session.Status != callstate.StateRinging || c.userID == session.HostID {
		return
	}
	c.enqueue(WSMessage{
		Type: TypeIncoming,
		Payload: IncomingCallPayload{
			CallID:         session.CallID,
			HostID:         session.HostID,
			CallType:       string(session.CallType),
			ConversationID: session.ConversationID,
			ICEConfig:      h.ice.ConfigFor(c.userID),
		},
	})
}

func (h *Hub) unregisterClient(c *Client) {
	h.mu.Lock()
	callID := c.callID
	if sockets, ok := h.users[c.userID]; ok {
		delete(sockets, c)
		if len(sockets) == 0 {
			delete(h.users, c.userID)
		}
	}
	if callID != "" {
		h.leaveRoomLocked(callID, c)
	}
	h.mu.Unlock()
	close(c.send)

	h.log.Info("signaling: client unregistered", "user_id", c.userID)
	h.onUserDisconnected(c.userID, callID)
}

// isOnline reports whether userID has at least one live socket,
// irrespective of call membership (spec.md §4.3 "if callee is offline,
// emit push-needed").
func (h *Hub) isOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID]) > 0
}

// joinRoom adds c to call room callID and tags it on the client.
func (h *Hub) joinRoom(callID string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[callID]
	if !ok {
		room = make(map[*Client]struct{})
		h.rooms[callID] = room
	}
	room[c] = struct{}{}
	c.callID = callID
}

// leaveRoom removes c from call room callID.
func (h *Hub) leaveRoom(callID string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveRoomLocked(callID, c)
}

func (h *Hub) leaveRoomLocked(callID string, c *Client) {
	if room, ok := h.rooms[callID]; ok {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, callID)
		}
	}
	if c.callID == callID {
		c.callID = ""
	}
}

// destroyRoom removes every socket's room tag for callID, used once a
// call is finalized.
func (h *Hub) destroyRoom(callID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.rooms[callID] {
		if client.callID == callID {
			client.callID = ""
		}
	}
	delete(h.rooms, callID)
}

// broadcastRoom sends msg to every socket in callID's room.
func (h *Hub) broadcastRoom(callID string, msg WSMessage) {
	h.mu.RLock()
	room := h.rooms[callID]
	clients := make([]*Client, 0, len(room))
	for c := range room {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.enqueue(msg)
	}
}

// broadcastRoomExcept sends msg to every socket in callID's room other
// than except (spec.md §4.3 "sender's room-mates receive the payload").
func (h *Hub) broadcastRoomExcept(callID string, except *Client, msg WSMessage) {
	h.mu.RLock()
	room := h.rooms[callID]
	clients := make([]*Client, 0, len(room))
	for c := range room {
		if c != except {
			clients = append(clients, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.enqueue(msg)
	}
}

// sendToUser delivers msg to every live socket of userID, wherever
// they're joined.
func (h *Hub) sendToUser(userID string, msg WSMessage) {
	h.mu.RLock()
	sockets := h.users[userID]
	clients := make([]*Client, 0, len(sockets))
	for c := range sockets {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.enqueue(msg)
	}
}

// notifyOrPush delivers msg to userID if online, otherwise raises a
// PushNotice (spec.md §4.3 "push-needed").
func (h *Hub) notifyOrPush(userID, callID string, msg WSMessage, pushReason string) {
	if h.isOnline(userID) {
		h.sendToUser(userID, msg)
		return
	}
	if h.push != nil {
		h.push(PushNotice{CallID: callID, UserID: userID, Reason: pushReason})
	}
}

func errCode(err error) (string, string) {
	return apperr.Code(err)
}
