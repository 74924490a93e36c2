package signaling

import (
	"encoding/json"

	"github.com/nyife/rtcore/internal/ice"
)

// WSMessage is the envelope for every inbound/outbound signaling frame
// (spec.md §6 "WebSocket events").
type WSMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Inbound message types (client -> hub).
const (
	TypeAuth          = "auth"
	TypeInitiate      = "call:initiate"
	TypeAccept        = "call:accept"
	TypeReject        = "call:reject"
	TypeHangup        = "call:hangup"
	TypeOffer         = "call:offer"
	TypeAnswer        = "call:answer"
	TypeICECandidate  = "call:ice-candidate"
	TypeICERestart    = "call:ice-restart"
	TypeRingingAck    = "call:ringing-ack"
	TypeSwitchToSFU   = "call:switch-to-daily"
)

// Outbound message types (hub -> client).
const (
	TypeIncoming            = "call:incoming"
	TypeAccepted            = "call:accepted"
	TypeEnded               = "call:ended"
	TypeParticipantJoined   = "call:participant-joined"
	TypeParticipantLeft     = "call:participant-left"
	TypeCallerDisconnected  = "call:caller-disconnected"
	TypeSFURoom             = "call:daily-room"
	TypeICECandidateOut     = "call:ice-candidate"
	TypeICERestartOut       = "call:ice-restart"
	TypeError               = "error"
)

// AuthPayload authenticates the socket before any call:* message is
// accepted, matching the teacher's message-based auth handshake.
type AuthPayload struct {
	Token string `json:"token"`
}

// InitiatePayload starts a call (spec.md §4.3 "initiate").
type InitiatePayload struct {
	CalleeID       string   `json:"calleeId"`
	ExtraReceivers []string `json:"extraReceiverIds,omitempty"`
	CallType       string   `json:"callType"`
	ConversationID string   `json:"conversationId,omitempty"`
	IsGroupConv    bool     `json:"isGroupConversation,omitempty"`
}

// CallIDPayload carries only a callId, shared by accept/reject/hangup/
// ringing-ack and other handlers that need no further data.
type CallIDPayload struct {
	CallID string `json:"callId"`
}

// SDPPayload relays an opaque offer/answer payload (spec.md §6 "SDP is
// an opaque string").
type SDPPayload struct {
	CallID string `json:"callId"`
	SDP    string `json:"sdp"`
}

// ICECandidatePayload carries one pre-serialized ICE candidate fragment
// (spec.md §6 "ICE candidates are pre-serialized JSON fragments").
type ICECandidatePayload struct {
	CallID    string `json:"callId"`
	Candidate string `json:"candidate"`
}

// IncomingCallPayload notifies a receiver of a ringing call.
type IncomingCallPayload struct {
	CallID         string     `json:"callId"`
	HostID         string     `json:"hostId"`
	CallType       string     `json:"callType"`
	ConversationID string     `json:"conversationId,omitempty"`
	ICEConfig      ice.Config `json:"iceConfig"`
}

// AcceptedPayload is delivered to the caller only in a 1-to-1 call.
type AcceptedPayload struct {
	CallID    string     `json:"callId"`
	ICEConfig ice.Config `json:"iceConfig"`
}

// EndedPayload is broadcast to a call's room on any terminal transition.
type EndedPayload struct {
	CallID string `json:"callId"`
	Reason string `json:"reason"`
}

// ParticipantPayload announces a group-call membership change.
type ParticipantPayload struct {
	CallID string `json:"callId"`
	UserID string `json:"userId"`
}

// SFURoomPayload hands out the SFU room URL and every participant's
// meeting token (spec.md §4.3 "switch-to-daily", "group initiate").
type SFURoomPayload struct {
	CallID  string            `json:"callId"`
	RoomURL string            `json:"roomUrl"`
	Tokens  map[string]string `json:"tokens,omitempty"`
	Token   string            `json:"token,omitempty"`
}

// ICEBatchPayload relays one merged batch of candidates to the other
// sockets in a room (spec.md §6 "ICE candidates are pre-serialized
// JSON fragments that the server joins with commas inside brackets").
// Candidates holds each fragment unparsed so it relays byte-for-byte
// instead of being re-escaped as a JSON string.
type ICEBatchPayload struct {
	CallID     string            `json:"callId"`
	Candidates []json.RawMessage `json:"candidates"`
}

// ICERestartPayload is echoed to the requester with fresh ICE config
// and, as a bare notification, to the other peer.
type ICERestartPayload struct {
	CallID    string      `json:"callId"`
	ICEConfig *ice.Config `json:"iceConfig,omitempty"`
}

// ErrorPayload is the only shape an `error` event ever carries
// (spec.md §7 "without leaking stack traces").
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PushNotice describes a backup-push opportunity the hub could not
// deliver over a live socket (spec.md §4.3 "push-needed"). Delivery
// itself is out of scope (spec.md §1); PushFn is the seam a caller
// wires to their push-notification sender.
type PushNotice struct {
	CallID string
	UserID string
	Reason string
}

// PushFn delivers (or queues) a PushNotice. A nil PushFn is a no-op.
type PushFn func(PushNotice)
