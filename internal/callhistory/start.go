package callhistory

import (
	"context"
	"encoding/json"

	"github.com/nyife/rtcore/internal/apperr"
	"github.com/nyife/rtcore/internal/callstate"
	"github.com/nyife/rtcore/internal/events"
	"github.com/nyife/rtcore/internal/models"
)

// callInitiatedPayload is the call.initiated (v1) event payload.
type callInitiatedPayload struct {
	CallID         string              `json:"callId"`
	HostID         string              `json:"hostId"`
	ParticipantIDs []string            `json:"participantIds"`
	CallType       models.CallType     `json:"callType"`
	Provider       models.CallProvider `json:"provider"`
	ConversationID string              `json:"conversationId,omitempty"`
}

// StartCall opens a new ActiveCallSession between hostID and one or more
// receivers, rejecting the attempt if any party already has a call in
// progress (spec.md §4.2 "Start call"). Groups of more than one receiver
// always provider-pin to SFU (spec.md §4.5).
func (c *Core) StartCall(ctx context.Context, hostID, primaryReceiverID string, extraReceiverIDs []string, callType models.CallType, conversationID string) (*ActiveCallSession, error) {
	receivers := dedupeReceivers(hostID, primaryReceiverID, extraReceiverIDs)
	if len(receivers) == 0 {
		return nil, apperr.New(apperr.BadInput, "a call needs at least one receiver distinct from the host")
	}

	provider := models.CallProviderP2P
	if len(receivers) > 1 {
		provider = models.CallProviderSFU
	}

	all := append([]string{hostID}, receivers...)
	for _, userID := range all {
		busy, err := c.GetActiveByUser(ctx, userID)
		if err != nil && !apperr.Is(err, apperr.NotFound) {
			return nil, err
		}
		if busy != nil {
			return nil, wrapConflict("user " + userID + " already has a call in progress")
		}
	}

	session := ActiveCallSession{
		CallID:         newCallID(),
		HostID:         hostID,
		ParticipantIDs: receivers,
		CallType:       callType,
		Provider:       provider,
		ConversationID: conversationID,
		StartedAt:      c.clock.Now().Unix(),
		Status:         callstate.StateIdle,
	}

	next, err := callstate.Transition(session.Status, callstate.EventInitiate)
	if err != nil {
		return nil, err
	}
	session.Status = next

	if err := c.writeSession(ctx, session); err != nil {
		return nil, err
	}

	c.publishCallInitiated(session)
	return &session, nil
}

func (c *Core) writeSession(ctx context.Context, session ActiveCallSession) error {
	raw, err := marshalSession(session)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "failed to encode call session", err)
	}
	if err := c.cache.Set(ctx, sessionKey(session.CallID), raw, c.cfg.SessionTTL); err != nil {
		return apperr.Wrap(apperr.Internal, "failed to store call session", err)
	}
	for _, userID := range session.AllParticipants() {
		if err := c.cache.Set(ctx, userIndexKey(userID), []byte(session.CallID), c.cfg.SessionTTL); err != nil {
			return apperr.Wrap(apperr.Internal, "failed to index call session", err)
		}
	}
	return nil
}

func (c *Core) publishCallInitiated(session ActiveCallSession) {
	payload := callInitiatedPayload{
		CallID:         session.CallID,
		HostID:         session.HostID,
		ParticipantIDs: session.ParticipantIDs,
		CallType:       session.CallType,
		Provider:       session.Provider,
		ConversationID: session.ConversationID,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		c.log.Error("callhistory: failed to encode call.initiated payload", "error", err, "call_id", session.CallID)
		return
	}
	c.bus.Publish(TopicCallInitiated, c.envelope(session.CallID, "call.initiated", 1, raw))
}

func (c *Core) envelope(aggregateID, eventType string, version int, payload json.RawMessage) events.Envelope {
	return events.Envelope{Base: c.newBase(aggregateID, eventType, version), Payload: payload}
}

// dedupeReceivers merges primary and extra receivers, drops the host and
// duplicates, preserving first-seen order.
func dedupeReceivers(hostID, primary string, extra []string) []string {
	seen := map[string]bool{hostID: true}
	out := make([]string, 0, len(extra)+1)
	for _, id := range append([]string{primary}, extra...) {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
