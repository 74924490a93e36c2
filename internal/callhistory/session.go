// Package callhistory implements the active-call-session lifecycle, the
// distributed end-lock, and the call finalizer that writes a
// CallHistoryRecord + CallParticipant rows on call end (spec.md §2
// "Call-History Core", §4.2, §5, §6).
package callhistory

import (
	"encoding/json"
	"fmt"

	"github.com/nyife/rtcore/internal/callstate"
	"github.com/nyife/rtcore/internal/models"
)

// ActiveCallSession is the hot, cache-resident record of a call in
// progress (spec.md §3 "Active Call Session"). It is never written to
// the relational store directly; EndCall/EndGracefully translate it
// into a durable CallHistoryRecord on finalization.
type ActiveCallSession struct {
	CallID         string            `json:"callId"`
	HostID         string            `json:"hostId"`
	ParticipantIDs []string          `json:"participantIds"` // receivers, excludes host
	CallType       models.CallType   `json:"callType"`
	Provider       models.CallProvider `json:"provider"`
	ConversationID string            `json:"conversationId,omitempty"`
	SFURoomName    string            `json:"sfuRoomName,omitempty"`
	StartedAt      int64             `json:"startedAt"` // unix seconds
	Status         callstate.State   `json:"status"`
}

// IsGroupCall reports whether more than one receiver is party to the
// call, which forces an SFU-brokered room (spec.md §4.5 "any call with
// more than two total participants is an SFU room").
func (s ActiveCallSession) IsGroupCall() bool {
	return len(s.ParticipantIDs) > 1
}

// AllParticipants returns every user tied to the session, host first.
func (s ActiveCallSession) AllParticipants() []string {
	out := make([]string, 0, len(s.ParticipantIDs)+1)
	out = append(out, s.HostID)
	out = append(out, s.ParticipantIDs...)
	return out
}

func marshalSession(s ActiveCallSession) ([]byte, error) {
	return json.Marshal(s)
}

func unmarshalSession(raw []byte) (ActiveCallSession, error) {
	var s ActiveCallSession
	if err := json.Unmarshal(raw, &s); err != nil {
		return ActiveCallSession{}, err
	}
	return s, nil
}

// Cache key builders (spec.md §6 "Cache keys"). Centralized here so no
// other file hand-rolls a key format.
func sessionKey(callID string) string        { return fmt.Sprintf("call:session:%s", callID) }
func userIndexKey(userID string) string      { return fmt.Sprintf("call:user:%s:current", userID) }
func endLockKey(callID string) string        { return fmt.Sprintf("call:end_lock:%s", callID) }
func resultKey(callID string) string         { return fmt.Sprintf("call:result:%s", callID) }
func missedCountKey(userID string) string    { return fmt.Sprintf("call:missed:count:%s", userID) }
func missedViewedKey(userID string) string   { return fmt.Sprintf("call:missed:viewed_at:%s", userID) }
