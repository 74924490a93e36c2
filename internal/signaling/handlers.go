package signaling

import (
	"context"
	"encoding/json"

	"github.com/nyife/rtcore/internal/apperr"
	"github.com/nyife/rtcore/internal/callhistory"
	"github.com/nyife/rtcore/internal/callstate"
	"github.com/nyife/rtcore/internal/models"
	"github.com/nyife/rtcore/internal/sfu"
)

// Push/disconnect reasons carried on the wire and into PushNotice.
const (
	ReasonCalleeOffline = "CALLEE_OFFLINE"
	ReasonNetworkDrop   = "NETWORK_DROP"
)

func decodePayload(payload any, out any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

// dispatch routes one inbound frame to its handler. Called directly on
// the reading socket's own goroutine, same as the teacher's
// websocket.Client.handleMessage; the hub's internal state is guarded
// by its own mutex and the call-history core's distributed end-lock,
// so concurrent dispatch from many sockets is safe.
func (h *Hub) dispatch(c *Client, data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		h.log.Error("signaling: failed to unmarshal inbound message", "error", err, "user_id", c.userID)
		return
	}

	ctx := context.Background()
	var err error
	switch msg.Type {
	case TypeInitiate:
		err = h.handleInitiate(ctx, c, msg.Payload)
	case TypeAccept:
		err = h.handleAccept(ctx, c, msg.Payload)
	case TypeReject:
		err = h.handleReject(ctx, c, msg.Payload)
	case TypeHangup:
		err = h.handleHangup(ctx, c, msg.Payload)
	case TypeOffer:
		err = h.handleSDPRelay(c, msg.Payload, TypeOffer)
	case TypeAnswer:
		err = h.handleSDPRelay(c, msg.Payload, TypeAnswer)
	case TypeICECandidate:
		err = h.handleICECandidate(c, msg.Payload)
	case TypeICERestart:
		err = h.handleICERestart(ctx, c, msg.Payload)
	case TypeRingingAck:
		err = h.handleRingingAck(ctx, c, msg.Payload)
	case TypeSwitchToSFU:
		err = h.handleSwitchToSFU(ctx, c, msg.Payload)
	default:
		h.log.Warn("signaling: unknown message type", "type", msg.Type, "user_id", c.userID)
		return
	}

	if err != nil {
		c.sendError(err)
	}
}

// handleInitiate implements spec.md §4.3 "initiate".
func (h *Hub) handleInitiate(ctx context.Context, c *Client, payload any) error {
	var p InitiatePayload
	if err := decodePayload(payload, &p); err != nil {
		return apperr.Wrap(apperr.BadInput, "malformed initiate payload", err)
	}
	if p.CalleeID == "" || p.CalleeID == c.userID {
		return apperr.New(apperr.BadInput, "a call needs a receiver distinct from the caller")
	}

	receivers := append([]string{p.CalleeID}, p.ExtraReceivers...)
	if !p.IsGroupConv {
		for _, receiver := range receivers {
			if h.policy != nil && !h.policy(c.userID, receiver) {
				return apperr.New(apperr.Forbidden, "call blocked by recipient privacy settings")
			}
		}
	}

	callType := models.CallTypeVoice
	if p.CallType == string(models.CallTypeVideo) {
		callType = models.CallTypeVideo
	}

	session, err := h.core.StartCall(ctx, c.userID, p.CalleeID, p.ExtraReceivers, callType, p.ConversationID)
	if err != nil {
		return err
	}

	h.joinRoom(session.CallID, c)
	h.timers.startRinging(session.CallID)

	if !session.IsGroupCall() {
		h.timers.startAck(session.CallID)
		h.notifyOrPush(p.CalleeID, session.CallID, WSMessage{
			Type: TypeIncoming,
			Payload: IncomingCallPayload{
				CallID:         session.CallID,
				HostID:         c.userID,
				CallType:       string(callType),
				ConversationID: p.ConversationID,
				ICEConfig:      h.ice.ConfigFor(p.CalleeID),
			},
		}, ReasonCalleeOffline)
		return nil
	}

	return h.initiateGroupCall(ctx, c, session, p)
}

func (h *Hub) initiateGroupCall(ctx context.Context, c *Client, session *callhistory.ActiveCallSession, p InitiatePayload) error {
	room, err := h.sfu.CreateRoom(ctx, session.CallID, len(session.AllParticipants()), sfu.MeetingTokenTTL)
	if err != nil {
		return apperr.Wrap(apperr.External, "failed to create sfu room", err)
	}
	roomURL := h.sfu.RoomURL(room)

	if err := h.core.UpdateProvider(ctx, session.CallID, models.CallProviderSFU, room.Name); err != nil {
		return err
	}

	tokens := make(map[string]string, len(session.AllParticipants()))
	for _, userID := range session.AllParticipants() {
		token, err := h.sfu.CreateMeetingToken(ctx, room.Name, userID, userID, userID == c.userID)
		if err != nil {
			return apperr.Wrap(apperr.External, "failed to mint sfu meeting token", err)
		}
		tokens[userID] = token
	}

	for _, receiver := range session.ParticipantIDs {
		h.notifyOrPush(receiver, session.CallID, WSMessage{
			Type: TypeIncoming,
			Payload: IncomingCallPayload{
				CallID:         session.CallID,
				HostID:         c.userID,
				CallType:       string(session.CallType),
				ConversationID: p.ConversationID,
				ICEConfig:      h.ice.ConfigFor(receiver),
			},
		}, ReasonCalleeOffline)
	}

	c.enqueue(WSMessage{Type: TypeSFURoom, Payload: SFURoomPayload{CallID: session.CallID, RoomURL: roomURL, Tokens: tokens}})
	return nil
}

// handleAccept implements spec.md §4.3 "accept".
func (h *Hub) handleAccept(ctx context.Context, c *Client, payload any) error {
	var p CallIDPayload
	if err := decodePayload(payload, &p); err != nil {
		return apperr.Wrap(apperr.BadInput, "malformed accept payload", err)
	}

	session, err := h.core.GetActiveByCallID(ctx, p.CallID)
	if err != nil {
		return err
	}
	if session.Status != callstate.StateRinging {
		return apperr.New(apperr.BadInput, "call is not ringing")
	}

	if err := h.core.UpdateStatus(ctx, p.CallID, callstate.EventAccept); err != nil {
		return err
	}

	h.joinRoom(p.CallID, c)

	if !session.IsGroupCall() {
		h.timers.cancelCall(p.CallID)
		h.sendToUser(session.HostID, WSMessage{
			Type:    TypeAccepted,
			Payload: AcceptedPayload{CallID: p.CallID, ICEConfig: h.ice.ConfigFor(session.HostID)},
		})
		return nil
	}

	h.broadcastRoomExcept(p.CallID, c, WSMessage{Type: TypeParticipantJoined, Payload: ParticipantPayload{CallID: p.CallID, UserID: c.userID}})
	return nil
}

// handleReject implements spec.md §4.3 "reject".
func (h *Hub) handleReject(ctx context.Context, c *Client, payload any) error {
	var p CallIDPayload
	if err := decodePayload(payload, &p); err != nil {
		return apperr.Wrap(apperr.BadInput, "malformed reject payload", err)
	}

	session, err := h.core.GetActiveByCallID(ctx, p.CallID)
	if err != nil {
		return err
	}
	if !contains(session.ParticipantIDs, c.userID) {
		return apperr.New(apperr.Forbidden, "only a receiver may reject a call")
	}

	if !session.IsGroupCall() {
		h.timers.cancelCall(p.CallID)
		_, err := h.core.EndCall(ctx, p.CallID, models.CallHistoryRejected, callhistory.EndReasonRejected)
		if err != nil {
			return err
		}
		h.broadcastRoom(p.CallID, WSMessage{Type: TypeEnded, Payload: EndedPayload{CallID: p.CallID, Reason: callhistory.EndReasonRejected}})
		h.teardownRoom(session, p.CallID)
		return nil
	}

	h.leaveRoom(p.CallID, c)
	h.broadcastRoomExcept(p.CallID, c, WSMessage{Type: TypeParticipantLeft, Payload: ParticipantPayload{CallID: p.CallID, UserID: c.userID}})
	return nil
}

// handleHangup implements spec.md §4.3 "hangup".
func (h *Hub) handleHangup(ctx context.Context, c *Client, payload any) error {
	var p CallIDPayload
	if err := decodePayload(payload, &p); err != nil {
		return apperr.Wrap(apperr.BadInput, "malformed hangup payload", err)
	}

	session, err := h.core.GetActiveByCallID(ctx, p.CallID)
	if err != nil {
		return err
	}

	if c.userID == session.HostID && session.Status == callstate.StateRinging {
		h.timers.cancelCall(p.CallID)
		_, err := h.core.EndCall(ctx, p.CallID, models.CallHistoryCancelled, callhistory.EndReasonCancelled)
		if err != nil {
			return err
		}
		h.broadcastRoom(p.CallID, WSMessage{Type: TypeEnded, Payload: EndedPayload{CallID: p.CallID, Reason: callhistory.EndReasonCancelled}})
		h.teardownRoom(session, p.CallID)
		return nil
	}

	if session.IsGroupCall() && c.userID != session.HostID {
		h.leaveRoom(p.CallID, c)
		h.broadcastRoomExcept(p.CallID, c, WSMessage{Type: TypeParticipantLeft, Payload: ParticipantPayload{CallID: p.CallID, UserID: c.userID}})
		return nil
	}

	h.timers.cancelCall(p.CallID)
	_, err = h.core.EndCall(ctx, p.CallID, models.CallHistoryCompleted, callhistory.EndReasonHangup)
	if err != nil {
		return err
	}
	h.broadcastRoom(p.CallID, WSMessage{Type: TypeEnded, Payload: EndedPayload{CallID: p.CallID, Reason: callhistory.EndReasonHangup}})
	h.teardownRoom(session, p.CallID)
	return nil
}

// handleSDPRelay forwards an opaque offer/answer to the sender's
// room-mates unchanged (spec.md §4.3 "offer/answer").
func (h *Hub) handleSDPRelay(c *Client, payload any, msgType string) error {
	var p SDPPayload
	if err := decodePayload(payload, &p); err != nil {
		return apperr.Wrap(apperr.BadInput, "malformed sdp payload", err)
	}
	if c.callID != p.CallID {
		return apperr.New(apperr.Forbidden, "not a participant of this call")
	}
	h.broadcastRoomExcept(p.CallID, c, WSMessage{Type: msgType, Payload: p})
	return nil
}

// handleICECandidate buffers a candidate for the 50 ms batch window
// (spec.md §4.3 "ice-candidate").
func (h *Hub) handleICECandidate(c *Client, payload any) error {
	var p ICECandidatePayload
	if err := decodePayload(payload, &p); err != nil {
		return apperr.Wrap(apperr.BadInput, "malformed ice-candidate payload", err)
	}
	if c.callID != p.CallID {
		return apperr.New(apperr.Forbidden, "not a participant of this call")
	}
	h.timers.bufferICECandidate(p.CallID, c.userID, json.RawMessage(p.Candidate))
	return nil
}

// handleICERestart implements spec.md §4.3 "ice-restart".
func (h *Hub) handleICERestart(ctx context.Context, c *Client, payload any) error {
	var p CallIDPayload
	if err := decodePayload(payload, &p); err != nil {
		return apperr.Wrap(apperr.BadInput, "malformed ice-restart payload", err)
	}
	if err := h.core.Heartbeat(ctx, p.CallID); err != nil {
		return err
	}

	cfg := h.ice.ConfigFor(c.userID)
	c.enqueue(WSMessage{Type: TypeICERestartOut, Payload: ICERestartPayload{CallID: p.CallID, ICEConfig: &cfg}})
	h.broadcastRoomExcept(p.CallID, c, WSMessage{Type: TypeICERestartOut, Payload: ICERestartPayload{CallID: p.CallID}})
	return nil
}

// handleRingingAck clears the 2 s ack timer (spec.md §4.3 "ringing-ack").
func (h *Hub) handleRingingAck(ctx context.Context, c *Client, payload any) error {
	var p CallIDPayload
	if err := decodePayload(payload, &p); err != nil {
		return apperr.Wrap(apperr.BadInput, "malformed ringing-ack payload", err)
	}
	h.timers.cancelAck(p.CallID)
	return h.core.Heartbeat(ctx, p.CallID)
}

// handleSwitchToSFU implements spec.md §4.3 "switch-to-daily".
func (h *Hub) handleSwitchToSFU(ctx context.Context, c *Client, payload any) error {
	var p CallIDPayload
	if err := decodePayload(payload, &p); err != nil {
		return apperr.Wrap(apperr.BadInput, "malformed switch-to-daily payload", err)
	}

	session, err := h.core.GetActiveByCallID(ctx, p.CallID)
	if err != nil {
		return err
	}
	if session.Status != callstate.StateActive && session.Status != callstate.StateReconnecting {
		return apperr.New(apperr.BadInput, "switch-to-daily requires an active or reconnecting call")
	}
	if session.Provider != models.CallProviderP2P {
		return apperr.New(apperr.BadInput, "call is already on the sfu")
	}

	room, err := h.sfu.CreateRoom(ctx, p.CallID, len(session.AllParticipants()), sfu.MeetingTokenTTL)
	if err != nil {
		return apperr.Wrap(apperr.External, "failed to create sfu room", err)
	}
	if err := h.core.UpdateProvider(ctx, p.CallID, models.CallProviderSFU, room.Name); err != nil {
		return err
	}

	tokens := make(map[string]string, len(session.AllParticipants()))
	for _, userID := range session.AllParticipants() {
		token, err := h.sfu.CreateMeetingToken(ctx, room.Name, userID, userID, userID == session.HostID)
		if err != nil {
			return apperr.Wrap(apperr.External, "failed to mint sfu meeting token", err)
		}
		tokens[userID] = token
	}

	h.broadcastRoom(p.CallID, WSMessage{Type: TypeSFURoom, Payload: SFURoomPayload{CallID: p.CallID, RoomURL: h.sfu.RoomURL(room), Tokens: tokens}})
	return nil
}

// teardownRoom destroys callID's room and, for SFU calls, asks the SFU
// client to delete the room fire-and-forget (spec.md §4.3 "On session
// teardown, if provider=SFU... 404s are benign").
func (h *Hub) teardownRoom(session *callhistory.ActiveCallSession, callID string) {
	h.timers.cancelCall(callID)
	h.destroyRoom(callID)
	if session.Provider == models.CallProviderSFU {
		go func() {
			if err := h.sfu.DeleteRoom(context.Background(), callID); err != nil {
				h.log.Warn("signaling: failed to delete sfu room on teardown", "error", err, "call_id", callID)
			}
		}()
	}
}

// onRingingTimeout fires exactly once per call, 30 s after initiate
// (spec.md §4.3 "Ringing timeout").
func (h *Hub) onRingingTimeout(callID string) {
	if _, err := h.core.EndGracefully(context.Background(), callID, "timeout"); err != nil {
		if !apperr.Is(err, apperr.NotFound) {
			h.log.Error("signaling: ringing timeout finalize failed", "error", err, "call_id", callID)
		}
		return
	}
	h.broadcastRoom(callID, WSMessage{Type: TypeEnded, Payload: EndedPayload{CallID: callID, Reason: "timeout"}})
	h.destroyRoom(callID)
}

// onAckTimeout fires the backup-push hook when a 1-to-1 callee hasn't
// acknowledged the incoming-call notification within 2 s (spec.md §4.3
// "Ringing ack timeout").
func (h *Hub) onAckTimeout(callID string) {
	session, err := h.core.GetActiveByCallID(context.Background(), callID)
	if err != nil {
		return
	}
	if h.push == nil || len(session.ParticipantIDs) == 0 {
		return
	}
	h.push(PushNotice{CallID: callID, UserID: session.ParticipantIDs[0], Reason: "ACK_TIMEOUT"})
}

// onDisconnectGraceExpired fires 3 s after a user's last socket drops
// while their call is ringing or active (spec.md §4.3 "Disconnect
// grace").
func (h *Hub) onDisconnectGraceExpired(userID, callID string) {
	if h.isOnline(userID) {
		return
	}
	if _, err := h.core.EndGracefully(context.Background(), callID, ReasonNetworkDrop); err != nil {
		if !apperr.Is(err, apperr.NotFound) {
			h.log.Error("signaling: disconnect-grace finalize failed", "error", err, "call_id", callID, "user_id", userID)
		}
		return
	}
	h.broadcastRoom(callID, WSMessage{Type: TypeCallerDisconnected, Payload: ParticipantPayload{CallID: callID, UserID: userID}})
	h.broadcastRoom(callID, WSMessage{Type: TypeEnded, Payload: EndedPayload{CallID: callID, Reason: ReasonNetworkDrop}})
	h.destroyRoom(callID)
}

// onUserDisconnected reacts to a socket unregistering: if it was the
// last socket of a user whose call is ringing or active, arm the
// disconnect-grace timer and transition active->reconnecting.
func (h *Hub) onUserDisconnected(userID, callID string) {
	if callID == "" || h.isOnline(userID) {
		return
	}
	ctx := context.Background()
	session, err := h.core.GetActiveByCallID(ctx, callID)
	if err != nil {
		return
	}
	if session.Status == callstate.StateActive {
		_ = h.core.UpdateStatus(ctx, callID, callstate.EventDisconnect)
	}
	h.timers.startDisconnect(userID, callID)
}

// flushICEBatch relays one merged candidate batch to every other
// socket in the room (spec.md §4.3 "ICE candidate batching").
func (h *Hub) flushICEBatch(callID, userID string) {
	candidates := h.timers.takeICEBatch(callID, userID)
	if len(candidates) == 0 {
		return
	}
	h.mu.RLock()
	room := h.rooms[callID]
	var sender *Client
	for client := range room {
		if client.userID == userID {
			sender = client
			break
		}
	}
	h.mu.RUnlock()
	if sender == nil {
		return
	}
	h.broadcastRoomExcept(callID, sender, WSMessage{Type: TypeICECandidateOut, Payload: ICEBatchPayload{CallID: callID, Candidates: candidates}})
}

func contains(haystack []string, needle string) bool {
	for _, v := range haystack {
		if v == needle {
			return true
		}
	}
	return false
}
